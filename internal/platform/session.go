// Package platform implements the slice of the chat platform the relay
// depends on: a persistent gateway websocket session delivering inbound
// events, and the REST calls that acknowledge and withdraw interaction
// responses.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"

	"github.com/zudduz/cscratch-dg/internal/types"
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// Gateway intents: the relay forwards messages and needs member payloads for
// reliable user names, so it subscribes to guilds, members, guild and DM
// messages, and message content.
const (
	intentGuilds         = 1 << 0
	intentGuildMembers   = 1 << 1
	intentGuildMessages  = 1 << 9
	intentDirectMessages = 1 << 12
	intentMessageContent = 1 << 15

	defaultIntents = intentGuilds | intentGuildMembers | intentGuildMessages |
		intentDirectMessages | intentMessageContent
)

// maxReconnectBackoff caps the delay between gateway reconnect attempts.
const maxReconnectBackoff = 60 * time.Second

// Close codes the gateway sends when reconnecting cannot succeed: the token,
// shard configuration, or intents are wrong and will stay wrong.
const (
	closeAuthenticationFailed = 4004
	closeInvalidShard         = 4010
	closeShardingRequired     = 4011
	closeInvalidAPIVersion    = 4012
	closeInvalidIntents       = 4013
	closeDisallowedIntents    = 4014
)

// errReconnect signals that the platform asked us to drop and resume.
var errReconnect = errors.New("platform: gateway requested reconnect")

// frame is the gateway envelope: {op, d, s, t}.
type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  int64           `json:"s"`
	T  string          `json:"t"`
}

// outFrame is the envelope for frames we send.
type outFrame struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

// Session owns the persistent gateway connection: handshake, heartbeating,
// resume, and dispatch of inbound events to the registered handlers.
//
// Handlers run on the single read-loop goroutine, so events are handled one
// at a time in arrival order; handlers must never block on downstream I/O.
type Session struct {
	rest    *REST
	token   types.SecretString
	intents int
	dialer  *websocket.Dialer
	logger  types.Logger

	// Dispatch callbacks; set before Run.
	OnMessageCreate     func(*MessageCreate)
	OnInteractionCreate func(*InteractionCreate)

	connected atomic.Bool
	seq       atomic.Int64
	beatAckd  atomic.Bool

	writeMu   sync.Mutex
	conn      *websocket.Conn
	sessionID string
	resumeURL string
}

// NewSession creates a gateway session. Run must be called to connect.
func NewSession(rest *REST, token types.SecretString, logger types.Logger) *Session {
	return &Session{
		rest:    rest,
		token:   token,
		intents: defaultIntents,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}
}

// Connected reports whether the gateway socket currently has a live, ready
// session. This feeds the /ping liveness surface.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Run connects to the gateway and serves events until ctx is cancelled.
// Dropped connections are re-established with exponential backoff, resuming
// the previous session when the platform allows it.
func (s *Session) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		ready, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isFatalClose(err) {
			return types.NewAppError(types.ErrCodeGatewayClosed,
				"gateway closed the session terminally", err)
		}

		if ready {
			backoff = time.Second
		}
		s.logger.Warn("gateway connection lost, reconnecting",
			"error", errString(err),
			"backoff", backoff.String(),
			"resumable", s.sessionID != "",
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxReconnectBackoff)
	}
}

// runOnce serves a single gateway connection to completion. It returns
// whether the session reached Ready (or Resumed) before dropping.
func (s *Session) runOnce(ctx context.Context) (ready bool, err error) {
	url := s.resumeURL
	if s.sessionID == "" || url == "" {
		url, err = s.rest.GatewayURL(ctx)
		if err != nil {
			return false, fmt.Errorf("resolve gateway url: %w", err)
		}
	}

	conn, _, err := s.dialer.DialContext(ctx, url+"?v=10&encoding=json", nil)
	if err != nil {
		return false, fmt.Errorf("dial gateway: %w", err)
	}

	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()

	defer func() {
		s.connected.Store(false)
		conn.Close()
	}()

	// Close the socket when ctx is cancelled so the blocking read returns.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return ready, fmt.Errorf("gateway read: %w", err)
		}

		f, err := decodeFrame(raw)
		if err != nil {
			s.logger.Warn("undecodable gateway frame", "error", err.Error())
			continue
		}

		switch f.Op {
		case opHello:
			if err := s.onHello(connCtx, f); err != nil {
				return ready, err
			}

		case opDispatch:
			s.seq.Store(f.S)
			if s.onDispatch(f) {
				ready = true
			}

		case opHeartbeat:
			// The platform may request an immediate beat.
			if err := s.sendHeartbeat(); err != nil {
				return ready, err
			}

		case opHeartbeatACK:
			s.beatAckd.Store(true)

		case opReconnect:
			return ready, errReconnect

		case opInvalidSession:
			var resumable bool
			_ = json.Unmarshal(f.D, &resumable)
			if !resumable {
				s.sessionID = ""
				s.resumeURL = ""
				s.seq.Store(0)
			}
			return ready, fmt.Errorf("platform: session invalidated (resumable=%t)", resumable)
		}
	}
}

// onHello starts the heartbeat loop and sends Identify (or Resume when a
// previous session can be continued).
func (s *Session) onHello(ctx context.Context, f frame) error {
	var hello struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(f.D, &hello); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		return errors.New("platform: hello carried no heartbeat interval")
	}

	s.beatAckd.Store(true)
	go s.heartbeatLoop(ctx, interval)

	if s.sessionID != "" {
		return s.sendResume()
	}
	return s.sendIdentify()
}

// onDispatch routes a dispatch frame to the relay handlers. Returns true for
// the session-establishing events (READY / RESUMED).
func (s *Session) onDispatch(f frame) bool {
	switch f.T {
	case "READY":
		var ready struct {
			SessionID        string `json:"session_id"`
			ResumeGatewayURL string `json:"resume_gateway_url"`
		}
		if err := json.Unmarshal(f.D, &ready); err != nil {
			s.logger.Error("undecodable READY payload", "error", err.Error())
			return false
		}
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
		s.connected.Store(true)
		s.logger.Info("gateway session ready", "session_id", ready.SessionID)
		return true

	case "RESUMED":
		s.connected.Store(true)
		s.logger.Info("gateway session resumed", "session_id", s.sessionID)
		return true

	case "MESSAGE_CREATE":
		if s.OnMessageCreate == nil {
			return false
		}
		var m MessageCreate
		if err := json.Unmarshal(f.D, &m); err != nil {
			s.logger.Warn("undecodable MESSAGE_CREATE payload", "error", err.Error())
			return false
		}
		s.OnMessageCreate(&m)

	case "INTERACTION_CREATE":
		if s.OnInteractionCreate == nil {
			return false
		}
		var ic InteractionCreate
		if err := json.Unmarshal(f.D, &ic); err != nil {
			s.logger.Warn("undecodable INTERACTION_CREATE payload", "error", err.Error())
			return false
		}
		s.OnInteractionCreate(&ic)
	}
	return false
}

// heartbeatLoop sends a beat every interval, the first after a jittered
// fraction of the interval as the gateway protocol requires. A beat that is
// never acknowledged means the connection is dead on the far side, so the
// socket is closed to force a reconnect.
func (s *Session) heartbeatLoop(ctx context.Context, interval time.Duration) {
	first := time.Duration(rand.Float64() * float64(interval))
	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !s.beatAckd.Swap(false) {
			s.logger.Warn("heartbeat not acknowledged, dropping connection")
			s.closeConn()
			return
		}
		if err := s.sendHeartbeat(); err != nil {
			return
		}
		timer.Reset(interval)
	}
}

func (s *Session) sendHeartbeat() error {
	var seq any
	if v := s.seq.Load(); v > 0 {
		seq = v
	}
	return s.writeFrame(outFrame{Op: opHeartbeat, D: seq})
}

func (s *Session) sendIdentify() error {
	identify := map[string]any{
		"token":    s.token.Unmask(),
		"intents":  s.intents,
		"compress": true,
		"properties": map[string]string{
			"os":      runtime.GOOS,
			"browser": "cscratch-dg",
			"device":  "cscratch-dg",
		},
	}
	return s.writeFrame(outFrame{Op: opIdentify, D: identify})
}

func (s *Session) sendResume() error {
	resume := map[string]any{
		"token":      s.token.Unmask(),
		"session_id": s.sessionID,
		"seq":        s.seq.Load(),
	}
	return s.writeFrame(outFrame{Op: opResume, D: resume})
}

// writeFrame serializes and sends a frame. Gorilla websocket connections
// support one concurrent writer, hence the mutex: the read loop and the
// heartbeat goroutine both send.
func (s *Session) writeFrame(f outFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return errors.New("platform: gateway not connected")
	}
	return s.conn.WriteJSON(f)
}

func (s *Session) closeConn() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

// decodeFrame parses a gateway frame, inflating zlib-compressed payloads.
// With compress=true in Identify, large dispatches (READY in particular)
// arrive as complete zlib streams in binary messages.
func decodeFrame(raw []byte) (frame, error) {
	var f frame

	data := raw
	if isZlib(raw) {
		inflated, err := inflate(raw)
		if err != nil {
			return f, fmt.Errorf("inflate frame: %w", err)
		}
		data = inflated
	}

	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// isFatalClose reports whether err carries a close code that makes
// reconnecting pointless.
func isFatalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case closeAuthenticationFailed, closeInvalidShard, closeShardingRequired,
		closeInvalidAPIVersion, closeInvalidIntents, closeDisallowedIntents:
		return true
	}
	return false
}

// isZlib checks for the zlib magic byte with a common compression level flag.
func isZlib(b []byte) bool {
	return len(b) > 2 && b[0] == 0x78
}

// inflate decompresses a complete zlib stream.
func inflate(b []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
