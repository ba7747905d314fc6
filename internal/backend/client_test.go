package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL + "/v1/")
	require.NoError(t, err)
	return c
}

func TestNew_EmptyAddress(t *testing.T) {
	_, err := New("   ")
	assert.ErrorIs(t, err, ErrEmptyAddress)
}

func TestHTTPClient_Address(t *testing.T) {
	c, err := New("http://localhost:1234/v1/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1234/v1", c.Address())
}

func TestHTTPClient_Chat(t *testing.T) {
	var got ChatRequest
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"**hi** there"}}]}`))
	})

	req := ChatRequest{
		Model: "test-model",
		Messages: []Message{
			Text(RoleUser, "hello"),
			{Role: RoleUser, Content: []Part{TextPart("look"), ImagePart("data:image/png;base64,AAAA")}},
		},
		MaxTokens: 500,
	}

	out, err := c.Chat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "**hi** there", out)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 500, got.MaxTokens)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	require.Len(t, got.Messages[1].Content, 2)
	assert.Equal(t, PartImageURL, got.Messages[1].Content[1].Type)
	assert.Equal(t, "data:image/png;base64,AAAA", got.Messages[1].Content[1].ImageURL.URL)
}

func TestHTTPClient_ChatNoChoices(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := c.Chat(context.Background(), ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestHTTPClient_ChatNullContent(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":null}}]}`))
	})

	out, err := c.Chat(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestHTTPClient_StatusError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	})

	_, err := c.Chat(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestHTTPClient_ListModels(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"llava-1.5"},{"id":"  "},{"id":"qwen2-vl","owned_by":"me"}]}`))
	})

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llava-1.5", models[0].ID)
	assert.Equal(t, "qwen2-vl", models[1].ID)
	assert.Equal(t, "me", models[1].OwnedBy)
}

func TestHTTPClient_Ping(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	assert.NoError(t, c.Ping(context.Background()))
}

func TestHTTPClient_PingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := New(addr, WithTimeout(time.Second))
	require.NoError(t, err)

	err = c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection")
}

func TestHTTPClient_Timeout(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	WithTimeout(50 * time.Millisecond)(c)

	_, err := c.Chat(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Timeout")
}
