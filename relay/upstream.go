package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bt-bridge/gemini-live/shared"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connector opens upstream channels to the provider on behalf of a relay
// session.
type Connector struct {
	logger       shared.LoggerAdapter
	endpoint     *url.URL
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

func NewConnector(logger shared.LoggerAdapter, endpoint string, handshakeTimeout, writeTimeout time.Duration) (*Connector, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("upstream URL must use ws or wss, got %q", u.Scheme)
	}
	return &Connector{
		logger:   logger.With(zap.String("component", "upstream")),
		endpoint: u,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		writeTimeout: writeTimeout,
	}, nil
}

// errDetached reports that the session no longer wanted the channel once
// it was open.
var errDetached = errors.New("upstream channel no longer wanted")

// Open dials the provider with apiKey and sends setup wrapped as
// {"setup": <setup>}. setup is forwarded byte for byte. publish is called
// with the open channel before setup is written and while sends are held,
// so nothing published can overtake setup; if it returns false the
// channel is closed and errDetached returned.
func (c *Connector) Open(ctx context.Context, apiKey string, setup []byte, publish func(*Upstream) bool) (*Upstream, error) {
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	u := *c.endpoint
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()

	start := time.Now()
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		upstreamDials.WithLabelValues("error").Inc()
		if resp != nil {
			return nil, fmt.Errorf("dialing %s (status %d): %w", RedactURL(&u), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing %s: %w", RedactURL(&u), err)
	}
	up := &Upstream{conn: conn, writeTimeout: c.writeTimeout}

	payload := make([]byte, 0, len(setup)+10)
	payload = append(payload, `{"setup":`...)
	payload = append(payload, setup...)
	payload = append(payload, '}')

	up.writeMu.Lock()
	if publish != nil && !publish(up) {
		up.writeMu.Unlock()
		_ = up.Close()
		upstreamDials.WithLabelValues("detached").Inc()
		return nil, errDetached
	}
	err = up.writeLocked(websocket.TextMessage, payload)
	up.writeMu.Unlock()
	if err != nil {
		_ = up.Close()
		upstreamDials.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("sending setup upstream: %w", err)
	}
	upstreamDials.WithLabelValues("ok").Inc()
	upstreamDialSeconds.Observe(time.Since(start).Seconds())
	c.logger.Debug("upstream open", zap.String("url", RedactURL(&u)))
	return up, nil
}

// Upstream is one open provider channel. Sends are serialized.
type Upstream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

func (u *Upstream) Send(messageType int, data []byte) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	return u.writeLocked(messageType, data)
}

func (u *Upstream) writeLocked(messageType int, data []byte) error {
	if u.writeTimeout > 0 {
		_ = u.conn.SetWriteDeadline(time.Now().Add(u.writeTimeout))
	}
	return u.conn.WriteMessage(messageType, data)
}

func (u *Upstream) Read() (int, []byte, error) {
	return u.conn.ReadMessage()
}

// Close sends a normal close frame and closes the connection.
func (u *Upstream) Close() error {
	u.closeOnce.Do(func() {
		_ = u.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		u.closeErr = u.conn.Close()
	})
	return u.closeErr
}

// RedactURL hides credential query parameters.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	q := c.Query()
	for _, k := range []string{"key", "access_token"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	c.RawQuery = q.Encode()
	return c.String()
}
