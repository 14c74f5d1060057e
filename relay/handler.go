package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bt-bridge/gemini-live/shared"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades client requests on the relay path and runs one Session
// per connection.
type Handler struct {
	logger          shared.LoggerAdapter
	connector       *Connector
	registry        *Registry
	apiKey          string
	writeTimeout    time.Duration
	maxMessageBytes int64
	allowedOrigins  map[string]struct{}
	upgrader        websocket.Upgrader
	draining        atomic.Bool
}

// NewHandler builds a relay handler. An empty apiKey is accepted: the
// handler still upgrades clients but closes each one on its first setup.
func NewHandler(logger shared.LoggerAdapter, cfg shared.RelayConfig, apiKey string, registry *Registry) (*Handler, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if registry == nil {
		registry = NewRegistry()
	}
	connector, err := NewConnector(logger, cfg.UpstreamURL, cfg.HandshakeTimeout, cfg.WriteTimeout)
	if err != nil {
		return nil, err
	}
	h := &Handler{
		logger:          logger.With(zap.String("component", "relay")),
		connector:       connector,
		registry:        registry,
		apiKey:          apiKey,
		writeTimeout:    cfg.WriteTimeout,
		maxMessageBytes: cfg.MaxMessageBytes,
	}
	if len(cfg.AllowedOrigins) > 0 {
		h.allowedOrigins = make(map[string]struct{}, len(cfg.AllowedOrigins))
		for _, o := range cfg.AllowedOrigins {
			h.allowedOrigins[strings.TrimSpace(o)] = struct{}{}
		}
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.originAllowed}
	if apiKey == "" {
		h.logger.Warn("GEMINI_API_KEY is not set, relay sessions will be refused at setup")
	}
	return h, nil
}

func (h *Handler) Registry() *Registry { return h.registry }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.draining.Load() {
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	id := uuid.NewString()
	sess := newSession(id, h.logger, conn, h.connector, h.apiKey, h.writeTimeout)
	unregister := h.registry.Register(id, sess.Close)
	defer unregister()

	sess.logger.Info("client connected", zap.String("remote", r.RemoteAddr))
	sess.Run(r.Context())
}

// Shutdown stops accepting clients, closes every live session and waits
// for them to finish or for ctx to end.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.draining.Store(true)
	n := h.registry.CloseAll(reasonShutdown)
	h.logger.Info("closing relay sessions", zap.Int("sessions", n))
	if !h.registry.Wait(ctx) {
		return errors.Join(shared.ErrClosed, ctx.Err())
	}
	return nil
}

func (h *Handler) originAllowed(r *http.Request) bool {
	if h.allowedOrigins == nil {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	_, ok := h.allowedOrigins[origin]
	return ok
}
