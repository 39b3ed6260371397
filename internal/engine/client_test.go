package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zudduz/cscratch-dg/internal/config"
	"github.com/zudduz/cscratch-dg/internal/types"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.EngineConfig{
		URL:         baseURL,
		InternalKey: types.SecretString("internal-secret"),
		Timeout:     5 * time.Second,
		UserAgent:   "cscratch-gateway/1.0",
	}, types.NopLogger{})
}

func TestPost(t *testing.T) {
	var gotPath, gotAuth, gotAgent, gotContentType string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("X-Internal-Auth")
		gotAgent = r.Header.Get("User-Agent")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"accepted"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.Post(context.Background(), "message", map[string]string{"content": "hi"})
	require.NoError(t, err)

	assert.True(t, res.Accepted())
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, `{"status":"accepted"}`, res.Body)

	assert.Equal(t, "/ingress/message", gotPath)
	assert.Equal(t, "internal-secret", gotAuth)
	assert.Equal(t, "cscratch-gateway/1.0", gotAgent)
	assert.Equal(t, "application/json", gotContentType)

	var body map[string]string
	require.NoError(t, json.Unmarshal(gotBody, &body))
	assert.Equal(t, map[string]string{"content": "hi"}, body)
}

func TestPost_Rejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"unknown event type"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.Post(context.Background(), "bogus", map[string]string{})
	require.NoError(t, err)

	// A rejection is still a response: the caller gets the status and body.
	assert.False(t, res.Accepted())
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, `{"detail":"unknown event type"}`, res.Body)
}

func TestPost_ServerErrorIsStillAResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.Post(context.Background(), "message", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.False(t, res.Accepted())
}

func TestPost_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	c := newTestClient(srv.URL)
	res, err := c.Post(context.Background(), "message", map[string]string{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, types.ErrCodeTransport, types.CodeOf(err))
}

func TestPost_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	// Five consecutive 5xx responses trip the breaker. Each still comes back
	// as a Result: the worker treats it as a terminal rejection.
	for i := 0; i < 5; i++ {
		res, err := c.Post(context.Background(), "message", map[string]string{})
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	}

	res, err := c.Post(context.Background(), "message", map[string]string{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, types.ErrCodeEngineUnavailable, types.CodeOf(err))

	// The open breaker never reached the server.
	assert.Equal(t, int32(5), hits.Load())
}
