package asr

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rbright/recital/internal/recognition"
)

type wsRecognizer struct {
	mu       sync.Mutex
	query    url.Values
	auth     string
	audio    []byte
	replies  []string
	errorMsg string
}

func (r *wsRecognizer) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.query = req.URL.Query()
		r.auth = req.Header.Get("Authorization")
		r.mu.Unlock()

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		if r.errorMsg != "" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(r.errorMsg))
			return
		}

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				r.mu.Lock()
				r.audio = append(r.audio, data...)
				r.mu.Unlock()
				continue
			}
			if strings.Contains(string(data), "CloseStream") {
				break
			}
		}

		for _, reply := range r.replies {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

func startWSRecognizer(t *testing.T, r *wsRecognizer) string {
	t.Helper()
	server := httptest.NewServer(r.handler(t))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/listen"
}

func TestWebSocketEngineStreamsAudioAndReadsResults(t *testing.T) {
	r := &wsRecognizer{replies: []string{
		`{"type":"Results","channel":{"alternatives":[{"transcript":"brown"}]},"is_final":false}`,
		`{"type":"Results","channel":{"alternatives":[{"transcript":"brown fox","confidence":0.9}]},"is_final":true}`,
		`{"type":"Metadata"}`,
		`not json`,
		`{"type":"UtteranceEnd"}`,
	}}
	target := startWSRecognizer(t, r)

	capture := newFakeCapture([]byte{9, 8, 7})
	engine := NewWebSocketEngine(WebSocketConfig{URL: target, APIKey: "k1", LanguageCode: "fr-FR"}, sourceOf(capture), nil)

	stream, err := engine.Open(context.Background(), recognition.Options{Mode: recognition.Continuous, Interim: true})
	require.NoError(t, err)
	stream.Stop()

	segments := collect(t, stream)
	require.NoError(t, stream.Err())
	require.Equal(t, []recognition.Segment{
		{Text: "brown"},
		{Text: "brown fox", Final: true},
		{UtteranceEnd: true},
	}, segments)

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Equal(t, []byte{9, 8, 7}, r.audio)
	require.Equal(t, "Token k1", r.auth)
	require.Equal(t, "linear16", r.query.Get("encoding"))
	require.Equal(t, "16000", r.query.Get("sample_rate"))
	require.Equal(t, "fr-FR", r.query.Get("language"))
	require.Equal(t, "true", r.query.Get("interim_results"))
	require.Equal(t, "1000", r.query.Get("utterance_end_ms"))
}

func TestWebSocketEngineSingleShotOmitsUtteranceEnd(t *testing.T) {
	engine := NewWebSocketEngine(WebSocketConfig{URL: "wss://example.test/v1/listen"}, nil, nil)
	target, err := engine.streamURL(recognition.Options{Mode: recognition.SingleShot})
	require.NoError(t, err)

	u, err := url.Parse(target)
	require.NoError(t, err)
	require.Equal(t, "false", u.Query().Get("interim_results"))
	require.Empty(t, u.Query().Get("utterance_end_ms"))
}

func TestWebSocketEngineErrorMessageIsClassified(t *testing.T) {
	r := &wsRecognizer{errorMsg: `{"type":"Error","code":"UNAUTHORIZED","description":"bad key"}`}
	target := startWSRecognizer(t, r)

	engine := NewWebSocketEngine(WebSocketConfig{URL: target}, sourceOf(newFakeCapture()), nil)
	stream, err := engine.Open(context.Background(), recognition.Options{Mode: recognition.SingleShot})
	require.NoError(t, err)

	collect(t, stream)
	var recErr *recognition.Error
	require.ErrorAs(t, stream.Err(), &recErr)
	require.Equal(t, recognition.ErrorPermissionDenied, recErr.Kind)
}

func TestWebSocketEngineRejectedHandshake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	engine := NewWebSocketEngine(WebSocketConfig{URL: "ws" + strings.TrimPrefix(server.URL, "http")}, sourceOf(newFakeCapture()), nil)
	_, err := engine.Open(context.Background(), recognition.Options{Mode: recognition.SingleShot})
	var recErr *recognition.Error
	require.ErrorAs(t, err, &recErr)
	require.Equal(t, recognition.ErrorPermissionDenied, recErr.Kind)
}

func TestWebSocketEngineAbort(t *testing.T) {
	r := &wsRecognizer{}
	target := startWSRecognizer(t, r)

	engine := NewWebSocketEngine(WebSocketConfig{URL: target}, sourceOf(newFakeCapture()), nil)
	stream, err := engine.Open(context.Background(), recognition.Options{Mode: recognition.Continuous})
	require.NoError(t, err)
	stream.Abort()

	collect(t, stream)
	var recErr *recognition.Error
	require.ErrorAs(t, stream.Err(), &recErr)
	require.Equal(t, recognition.ErrorAborted, recErr.Kind)
}

func TestWebSocketEngineReady(t *testing.T) {
	target := startWSRecognizer(t, &wsRecognizer{})
	engine := NewWebSocketEngine(WebSocketConfig{URL: target}, nil, nil)
	require.NoError(t, engine.Ready(context.Background()))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()
	rejected := NewWebSocketEngine(WebSocketConfig{URL: "ws" + strings.TrimPrefix(server.URL, "http")}, nil, nil)
	var recErr *recognition.Error
	require.ErrorAs(t, rejected.Ready(context.Background()), &recErr)
	require.Equal(t, recognition.ErrorPermissionDenied, recErr.Kind)
}

func TestWebSocketEngineCaptureFailureIsDenied(t *testing.T) {
	target := startWSRecognizer(t, &wsRecognizer{})
	source := SourceFunc(func(context.Context) (Capture, error) {
		return nil, errors.New("device busy")
	})
	engine := NewWebSocketEngine(WebSocketConfig{URL: target}, source, nil)

	_, err := engine.Open(context.Background(), recognition.Options{Mode: recognition.SingleShot})
	var recErr *recognition.Error
	require.ErrorAs(t, err, &recErr)
	require.Equal(t, recognition.ErrorPermissionDenied, recErr.Kind)
}
