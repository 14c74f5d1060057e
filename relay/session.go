package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errNotObject = errors.New("frame is not a JSON object")

type SessionState int

const (
	SessionStateAwaitingSetup SessionState = iota
	SessionStateActive
	SessionStateClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateAwaitingSetup:
		return "awaiting_setup"
	case SessionStateActive:
		return "active"
	case SessionStateClosed:
		return "closed"
	}
	return "unknown"
}

// Session pairs one client channel with at most one upstream channel.
// Frames are dropped until an upstream is open; after that, every client
// frame is forwarded verbatim with its message type. A later setup
// replaces the upstream.
type Session struct {
	id           string
	logger       shared.LoggerAdapter
	client       *websocket.Conn
	connector    *Connector
	apiKey       string
	writeTimeout time.Duration

	clientMu sync.Mutex

	mu         sync.Mutex
	state      SessionState
	upstream   *Upstream
	dialGen    uint64
	dialCancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(id string, logger shared.LoggerAdapter, client *websocket.Conn, connector *Connector, apiKey string, writeTimeout time.Duration) *Session {
	return &Session{
		id:           id,
		logger:       logger.With(zap.String("session_id", id)),
		client:       client,
		connector:    connector,
		apiKey:       apiKey,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Done() <-chan struct{} { return s.done }

// Run reads client frames until the client channel fails or the session
// is closed.
func (s *Session) Run(ctx context.Context) {
	defer s.Close(reasonClientClosed)
	for {
		mt, data, err := s.client.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) || s.State() == SessionStateClosed {
				s.logger.Info("client channel closed")
			} else {
				s.logger.Error("reading client channel", err)
			}
			return
		}
		if !s.handleClientFrame(ctx, mt, data) {
			return
		}
	}
}

// handleClientFrame returns false when the session must end.
func (s *Session) handleClientFrame(ctx context.Context, mt int, data []byte) bool {
	setup, isSetup, err := extractSetup(data)
	if err != nil {
		framesDropped.WithLabelValues(dropMalformed).Inc()
		s.logger.Error("parsing client frame", err, zap.Int("bytes", len(data)))
		return true
	}
	if isSetup {
		return s.openUpstream(ctx, setup)
	}

	s.mu.Lock()
	up := s.upstream
	s.mu.Unlock()
	if up == nil {
		framesDropped.WithLabelValues(dropNotOpen).Inc()
		s.logger.Debug("dropping frame, upstream channel not open")
		return true
	}
	if err := up.Send(mt, data); err != nil {
		s.logger.Error("forwarding frame upstream", err)
		s.Close(reasonWriteFailed)
		return false
	}
	framesForwarded.WithLabelValues(directionClientToUpstream).Inc()
	return true
}

// extractSetup reports whether data is an object with a non-null "setup"
// member and returns that member's raw bytes.
func extractSetup(data []byte) ([]byte, bool, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false, errNotObject
	}
	var env struct {
		Setup json.RawMessage `json:"setup"`
	}
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, false, err
	}
	if len(env.Setup) == 0 || string(env.Setup) == "null" {
		return nil, false, nil
	}
	return env.Setup, true, nil
}

// openUpstream starts dialing the provider for setup. The client read loop
// keeps running meanwhile; frames that arrive before the new channel is
// published are dropped. It returns false when the session must end.
func (s *Session) openUpstream(ctx context.Context, setup []byte) bool {
	if s.apiKey == "" {
		s.logger.Error("provider credential is not configured", shared.ErrNoAPIKey)
		s.closeWith(reasonMissingKey, websocket.CloseInternalServerErr, "server misconfigured")
		return false
	}

	s.mu.Lock()
	if s.state == SessionStateClosed {
		s.mu.Unlock()
		return false
	}
	old := s.upstream
	s.upstream = nil
	if s.dialCancel != nil {
		s.dialCancel()
	}
	s.dialGen++
	gen := s.dialGen
	dialCtx, cancel := context.WithCancel(ctx)
	s.dialCancel = cancel
	s.mu.Unlock()

	if old != nil {
		s.logger.Info("replacing upstream channel")
		_ = old.Close()
	}
	go s.dialUpstream(dialCtx, cancel, gen, setup)
	return true
}

func (s *Session) dialUpstream(ctx context.Context, cancel context.CancelFunc, gen uint64, setup []byte) {
	up, err := s.connector.Open(ctx, s.apiKey, setup, func(up *Upstream) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == SessionStateClosed || s.dialGen != gen {
			return false
		}
		s.upstream = up
		s.state = SessionStateActive
		return true
	})
	cancel()
	if err != nil {
		if errors.Is(err, errDetached) || !s.dialing(gen) {
			s.logger.Debug("discarding superseded upstream dial", zap.Error(err))
			return
		}
		s.logger.Error("opening upstream channel", err)
		s.closeWith(reasonDialFailed, websocket.CloseTryAgainLater, "upstream unavailable")
		return
	}
	s.logger.Info("upstream channel open")
	s.pumpUpstream(up)
}

// dialing reports whether dial gen is still the one the session waits on.
func (s *Session) dialing(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialGen == gen && s.state != SessionStateClosed
}

func (s *Session) current(up *Upstream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream == up
}

// pumpUpstream forwards provider frames to the client until up fails or
// is replaced.
func (s *Session) pumpUpstream(up *Upstream) {
	for {
		mt, data, err := up.Read()
		if err != nil {
			if !s.current(up) {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("upstream channel closed")
			} else {
				s.logger.Error("reading upstream channel", err)
			}
			s.Close(reasonUpstreamClosed)
			return
		}
		if !s.current(up) {
			return
		}
		if err := s.writeClient(mt, data); err != nil {
			s.logger.Error("forwarding frame to client", err)
			s.Close(reasonWriteFailed)
			return
		}
		framesForwarded.WithLabelValues(directionUpstreamToClient).Inc()
	}
}

func (s *Session) writeClient(mt int, data []byte) error {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.client.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.client.WriteMessage(mt, data)
}

// Close ends the session: the upstream channel (if any) and the client
// channel are both closed. It is idempotent.
func (s *Session) Close(reason string) {
	s.closeWith(reason, websocket.CloseNormalClosure, "")
}

func (s *Session) closeWith(reason string, code int, text string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = SessionStateClosed
		up := s.upstream
		s.upstream = nil
		if s.dialCancel != nil {
			s.dialCancel()
		}
		s.mu.Unlock()

		if up != nil {
			_ = up.Close()
		}
		_ = s.client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(time.Second))
		_ = s.client.Close()

		sessionsClosed.WithLabelValues(reason).Inc()
		s.logger.Info("session closed", zap.String("reason", reason))
		close(s.done)
	})
}
