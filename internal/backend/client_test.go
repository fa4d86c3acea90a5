package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetJSONSendsAccountQuery(t *testing.T) {
	var gotPath, gotEmail, gotSession string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotEmail = r.URL.Query().Get("email")
		gotSession = r.URL.Query().Get("session_id")
		_, _ = w.Write([]byte(`{"success":true,"value":7}`))
	}))
	defer server.Close()

	c := New(server.URL+"/", Account{Email: "ana@example.com", SessionID: "s-1"}, time.Second)
	var out struct {
		Success bool `json:"success"`
		Value   int  `json:"value"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "/api/moduleA/sentence", &out))
	require.True(t, out.Success)
	require.Equal(t, 7, out.Value)
	require.Equal(t, "/api/moduleA/sentence", gotPath)
	require.Equal(t, "ana@example.com", gotEmail)
	require.Equal(t, "s-1", gotSession)
}

func TestPostJSONMergesAccountFields(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(server.URL, Account{Email: "e", SessionID: "s"}, 0)
	require.NoError(t, c.PostJSON(context.Background(), "/api/moduleA", map[string]any{"duration": 3}, nil))
	require.Equal(t, "e", got["email"])
	require.Equal(t, "s", got["session_id"])
	require.Equal(t, float64(3), got["duration"])
}

func TestUnauthorizedIsSessionInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := New(server.URL, Account{}, time.Second)
	err := c.GetJSON(context.Background(), "/x", nil)
	require.ErrorIs(t, err, ErrSessionInvalid)
}

func TestServerErrorIsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "database down", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(server.URL, Account{}, time.Second)
	err := c.PostJSON(context.Background(), "/x", nil, nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.Code)
	require.Contains(t, err.Error(), "database down")
}

func TestMalformedResponseIsDecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":`))
	}))
	defer server.Close()

	c := New(server.URL, Account{}, time.Second)
	var out map[string]any
	err := c.GetJSON(context.Background(), "/x", &out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestEmptyBaseURL(t *testing.T) {
	c := New("  ", Account{}, time.Second)
	err := c.GetJSON(context.Background(), "/x", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "base_url is empty")
}

func TestUserAgentHeader(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(server.URL, Account{}, time.Second)
	c.UserAgent = "recital/test"
	require.NoError(t, c.GetJSON(context.Background(), "/", nil))
	require.Equal(t, "recital/test", got)
}
