package live

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/valyala/fasthttp"
)

// Conn is a message-oriented realtime channel. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens the realtime channel for one session. tools is the catalog
// that will be advertised in setup, for dialers that need to pre-authorize
// it.
type Dialer interface {
	Dial(ctx context.Context, tools []ToolSpec) (Conn, error)
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultTokenTimeout     = 30 * time.Second
)

func defaultWSDialer() *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultHandshakeTimeout,
	}
}

// RelayDialer connects to the Duplex Relay. The relay holds the provider
// credential, so nothing secret travels from here.
type RelayDialer struct {
	URL    string
	Header http.Header
	WS     *websocket.Dialer
}

func NewRelayDialer(relayURL string) (*RelayDialer, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("relay URL must use ws or wss, got %q", u.Scheme)
	}
	return &RelayDialer{URL: u.String(), WS: defaultWSDialer()}, nil
}

func (d *RelayDialer) Dial(ctx context.Context, _ []ToolSpec) (Conn, error) {
	ws := d.WS
	if ws == nil {
		ws = defaultWSDialer()
	}
	conn, resp, err := ws.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing relay (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing relay: %w", err)
	}
	return conn, nil
}

// TokenDialer asks the token endpoint for a single-use credential scoped
// to the session's tools, then connects straight to the provider's
// constrained endpoint with it.
type TokenDialer struct {
	TokenURL    string
	ProviderURL string
	HTTP        *fasthttp.Client
	WS          *websocket.Dialer
	// Timeout bounds the token request when ctx has no deadline.
	Timeout time.Duration
}

func NewTokenDialer(tokenURL, providerURL string) *TokenDialer {
	if providerURL == "" {
		providerURL = shared.DefaultConstrainedURL
	}
	return &TokenDialer{
		TokenURL:    tokenURL,
		ProviderURL: providerURL,
		HTTP:        &fasthttp.Client{Name: "gemini-live/" + shared.Version},
		WS:          defaultWSDialer(),
		Timeout:     defaultTokenTimeout,
	}
}

type tokenRequest struct {
	Tools []Tool `json:"tools,omitempty"`
}

type tokenResponse struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type httpResult struct {
	status int
	body   []byte
	err    error
}

func (d *TokenDialer) FetchToken(ctx context.Context, tools []ToolSpec) (string, error) {
	var body tokenRequest
	if decls := FunctionDeclarations(tools); len(decls) > 0 {
		body.Tools = []Tool{{FunctionDeclarations: decls}}
	}
	payload, err := sonic.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling token request: %w", err)
	}

	client := d.HTTP
	if client == nil {
		client = &fasthttp.Client{}
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		timeout := d.Timeout
		if timeout <= 0 {
			timeout = defaultTokenTimeout
		}
		deadline = time.Now().Add(timeout)
	}
	resC := make(chan httpResult, 1)
	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(d.TokenURL)
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
		err := client.DoDeadline(req, resp, deadline)
		resC <- httpResult{
			status: resp.StatusCode(),
			body:   append([]byte(nil), resp.Body()...),
			err:    err,
		}
	}()

	var res httpResult
	select {
	case <-ctx.Done():
		return "", context.Cause(ctx)
	case res = <-resC:
	}
	if res.err != nil {
		return "", fmt.Errorf("performing token request: %w", res.err)
	}

	var tr tokenResponse
	if err := sonic.Unmarshal(res.body, &tr); err != nil && res.status == fasthttp.StatusOK {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if res.status != fasthttp.StatusOK {
		if tr.Error != "" {
			return "", fmt.Errorf("%w: %s", shared.ErrTokenUnavailable, tr.Error)
		}
		return "", fmt.Errorf("%w: unexpected status code: %d, body: %s", shared.ErrTokenUnavailable, res.status, string(res.body))
	}
	if tr.Name == "" {
		return "", fmt.Errorf("%w: empty token name", shared.ErrTokenUnavailable)
	}
	return tr.Name, nil
}

func (d *TokenDialer) Dial(ctx context.Context, tools []ToolSpec) (Conn, error) {
	name, err := d.FetchToken(ctx, tools)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(d.ProviderURL)
	if err != nil {
		return nil, fmt.Errorf("parsing provider URL: %w", err)
	}
	q := u.Query()
	q.Set("access_token", name)
	u.RawQuery = q.Encode()

	ws := d.WS
	if ws == nil {
		ws = defaultWSDialer()
	}
	conn, resp, err := ws.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing provider (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing provider: %w", err)
	}
	return conn, nil
}
