package asr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/recital/internal/recognition"
)

// WebSocketConfig controls the streaming websocket recognizer.
type WebSocketConfig struct {
	URL            string
	APIKey         string
	LanguageCode   string
	SampleRate     int
	UtteranceEndMs int
	DialTimeout    time.Duration
}

// WebSocketEngine streams binary PCM frames and reads JSON Results/UtteranceEnd messages.
type WebSocketEngine struct {
	cfg    WebSocketConfig
	source Source
	logger *slog.Logger
	dialer websocket.Dialer
}

type wsMessageType struct {
	Type string `json:"type"`
}

type wsResults struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

type wsError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// NewWebSocketEngine constructs a websocket engine that captures audio from source.
func NewWebSocketEngine(cfg WebSocketConfig, source Source, logger *slog.Logger) *WebSocketEngine {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.UtteranceEndMs <= 0 {
		cfg.UtteranceEndMs = 1000
	}
	if strings.TrimSpace(cfg.LanguageCode) == "" {
		cfg.LanguageCode = "en-US"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WebSocketEngine{
		cfg:    cfg,
		source: source,
		logger: logger,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
	}
}

// Ready completes one websocket handshake and closes the connection.
func (e *WebSocketEngine) Ready(ctx context.Context) error {
	conn, err := e.connect(ctx, recognition.Options{Mode: recognition.SingleShot})
	if err != nil {
		return err
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	return conn.Close()
}

// connect performs the authenticated handshake.
func (e *WebSocketEngine) connect(ctx context.Context, opts recognition.Options) (*websocket.Conn, error) {
	target, err := e.streamURL(opts)
	if err != nil {
		return nil, recognition.NewError(recognition.ErrorServiceUnavailable, err)
	}

	header := http.Header{}
	if key := strings.TrimSpace(e.cfg.APIKey); key != "" {
		header.Set("Authorization", "Token "+key)
	}

	conn, resp, err := e.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, recognition.NewError(recognition.ErrorPermissionDenied, fmt.Errorf("recognizer rejected credentials: %s", resp.Status))
		}
		return nil, recognition.NewError(recognition.ErrorNetwork, fmt.Errorf("recognizer websocket connection failed: %w", err))
	}
	return conn, nil
}

// Open dials the recognizer and starts streaming capture.
func (e *WebSocketEngine) Open(ctx context.Context, opts recognition.Options) (recognition.Stream, error) {
	conn, err := e.connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	capture, err := e.source.Start(streamCtx)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, captureError(err)
	}

	s := &wsStream{
		pipe:   newPipe(capture, cancel),
		conn:   conn,
		logger: e.logger,
	}
	go s.sendLoop()
	go s.recvLoop()
	go func() {
		<-streamCtx.Done()
		_ = conn.Close()
	}()
	return s, nil
}

func (e *WebSocketEngine) streamURL(opts recognition.Options) (string, error) {
	raw := strings.TrimSpace(e.cfg.URL)
	if raw == "" {
		return "", errors.New("recognizer url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse recognizer url: %w", err)
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(e.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("language", e.cfg.LanguageCode)
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(opts.Interim))
	if opts.Mode == recognition.Continuous {
		q.Set("utterance_end_ms", strconv.Itoa(e.cfg.UtteranceEndMs))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsStream struct {
	*pipe

	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
}

func (s *wsStream) sendLoop() {
	for chunk := range s.capture.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		if err := s.write(websocket.BinaryMessage, chunk); err != nil {
			_ = s.capture.Stop()
			return
		}
	}
	_ = s.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
}

func (s *wsStream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func (s *wsStream) recvLoop() {
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.finish(nil)
				return
			}
			s.finish(recognition.NewError(recognition.ErrorNetwork, err))
			return
		}

		var msgType wsMessageType
		if err := json.Unmarshal(message, &msgType); err != nil {
			s.logger.Debug("skip unparseable recognizer message", "error", err.Error())
			continue
		}

		switch msgType.Type {
		case "Results":
			var res wsResults
			if err := json.Unmarshal(message, &res); err != nil {
				continue
			}
			if len(res.Channel.Alternatives) == 0 {
				continue
			}
			s.emit(recognition.Segment{
				Text:  res.Channel.Alternatives[0].Transcript,
				Final: res.IsFinal,
			})
		case "UtteranceEnd":
			s.emit(recognition.Segment{UtteranceEnd: true})
		case "Error":
			var res wsError
			_ = json.Unmarshal(message, &res)
			s.finish(wsErrorKind(res))
			return
		}
	}
}

func wsErrorKind(res wsError) error {
	err := fmt.Errorf("recognizer error %s: %s", res.Code, res.Description)
	switch strings.ToLower(res.Code) {
	case "unauthorized", "forbidden", "permission_denied":
		return recognition.NewError(recognition.ErrorPermissionDenied, err)
	case "unsupported", "service_unavailable":
		return recognition.NewError(recognition.ErrorServiceUnavailable, err)
	case "no_speech":
		return recognition.NewError(recognition.ErrorNoSpeech, err)
	default:
		return recognition.NewError(recognition.ErrorNetwork, err)
	}
}
