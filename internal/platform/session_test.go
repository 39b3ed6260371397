package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zudduz/cscratch-dg/internal/types"
)

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecodeFrame_Plain(t *testing.T) {
	f, err := decodeFrame([]byte(`{"op":10,"d":{"heartbeat_interval":41250},"s":0,"t":null}`))
	require.NoError(t, err)

	assert.Equal(t, opHello, f.Op)
	assert.JSONEq(t, `{"heartbeat_interval":41250}`, string(f.D))
}

func TestDecodeFrame_Compressed(t *testing.T) {
	raw := []byte(`{"op":0,"d":{"session_id":"S1"},"s":7,"t":"READY"}`)

	f, err := decodeFrame(deflate(t, raw))
	require.NoError(t, err)

	assert.Equal(t, opDispatch, f.Op)
	assert.Equal(t, int64(7), f.S)
	assert.Equal(t, "READY", f.T)
	assert.JSONEq(t, `{"session_id":"S1"}`, string(f.D))
}

func TestDecodeFrame_Garbage(t *testing.T) {
	_, err := decodeFrame([]byte("not json at all"))
	assert.Error(t, err)

	// Zlib magic byte but a corrupt stream.
	_, err = decodeFrame([]byte{0x78, 0x9c, 0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestIsZlib(t *testing.T) {
	assert.True(t, isZlib(deflate(t, []byte(`{}`))))
	assert.False(t, isZlib([]byte(`{"op":11}`)))
	assert.False(t, isZlib([]byte{0x78})) // too short to be a stream
}

func TestIsFatalClose(t *testing.T) {
	authFailed := &websocket.CloseError{Code: closeAuthenticationFailed, Text: "Authentication failed."}

	assert.True(t, isFatalClose(authFailed))
	// Wrapped the way the read loop reports it.
	assert.True(t, isFatalClose(fmt.Errorf("gateway read: %w", authFailed)))
	assert.True(t, isFatalClose(&websocket.CloseError{Code: closeDisallowedIntents}))

	assert.False(t, isFatalClose(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}))
	assert.False(t, isFatalClose(errors.New("connection reset by peer")))
	assert.False(t, isFatalClose(nil))
}

func TestRunStopsOnFatalClose(t *testing.T) {
	// Gateway endpoint that rejects the session the way Discord rejects a bad
	// token: accept the upgrade, then close with 4004.
	upgrader := websocket.Upgrader{}
	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeAuthenticationFailed, "Authentication failed."),
			time.Now().Add(time.Second))
	}))
	defer wsSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(wsSrv.URL, "http")

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"url":%q}`, wsURL)
	}))
	defer apiSrv.Close()

	rest := NewREST(types.SecretString("bad-token"), types.NopLogger{}, WithBaseURL(apiSrv.URL))
	s := NewSession(rest, types.SecretString("bad-token"), types.NopLogger{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Run must give up instead of reconnect-looping on a credential failure.
	err := s.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeGatewayClosed, types.CodeOf(err))
}

func dispatchFrame(t *testing.T, event string, payload any) frame {
	t.Helper()
	d, err := json.Marshal(payload)
	require.NoError(t, err)
	return frame{Op: opDispatch, T: event, D: d}
}

func TestOnDispatch_Ready(t *testing.T) {
	s := NewSession(nil, types.SecretString("tok"), types.NopLogger{})

	establishing := s.onDispatch(dispatchFrame(t, "READY", map[string]string{
		"session_id":         "S1",
		"resume_gateway_url": "wss://resume.example",
	}))

	assert.True(t, establishing)
	assert.True(t, s.Connected())
	assert.Equal(t, "S1", s.sessionID)
	assert.Equal(t, "wss://resume.example", s.resumeURL)
}

func TestOnDispatch_MessageCreate(t *testing.T) {
	s := NewSession(nil, types.SecretString("tok"), types.NopLogger{})

	var got *MessageCreate
	s.OnMessageCreate = func(m *MessageCreate) { got = m }

	establishing := s.onDispatch(dispatchFrame(t, "MESSAGE_CREATE", map[string]any{
		"id":         "M1",
		"channel_id": "C1",
		"content":    "hello",
		"author":     map[string]any{"id": "U1", "username": "ada"},
	}))

	assert.False(t, establishing)
	require.NotNil(t, got)
	assert.Equal(t, "M1", got.ID)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "ada", got.Author.Username)
}

func TestOnDispatch_InteractionCreate(t *testing.T) {
	s := NewSession(nil, types.SecretString("tok"), types.NopLogger{})

	var got *InteractionCreate
	s.OnInteractionCreate = func(ic *InteractionCreate) { got = ic }

	s.onDispatch(dispatchFrame(t, "INTERACTION_CREATE", map[string]any{
		"id":    "I1",
		"type":  InteractionTypeApplicationCommand,
		"token": "tok-1",
		"data":  map[string]any{"name": "cscratch"},
	}))

	require.NotNil(t, got)
	assert.Equal(t, "I1", got.ID)
	assert.Equal(t, InteractionTypeApplicationCommand, got.Type)
	assert.Equal(t, "cscratch", got.Data.Name)
}

func TestOnDispatch_NilHandlersTolerated(t *testing.T) {
	s := NewSession(nil, types.SecretString("tok"), types.NopLogger{})

	assert.NotPanics(t, func() {
		s.onDispatch(dispatchFrame(t, "MESSAGE_CREATE", map[string]any{"id": "M1"}))
		s.onDispatch(dispatchFrame(t, "INTERACTION_CREATE", map[string]any{"id": "I1"}))
	})
}
