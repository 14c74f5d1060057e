// Package mcptools exposes the tools of a Model Context Protocol server as
// a tool catalog for the Live client.
package mcptools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bytedance/sonic"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const clientName = "gemini-live"

// Catalog is one MCP client session. Tools lists the server's tools and
// Call invokes one of them.
type Catalog struct {
	logger  shared.LoggerAdapter
	session *mcp.ClientSession
	timeout time.Duration
}

// Connect opens a streamable HTTP session to the MCP server at
// cfg.Endpoint.
func Connect(ctx context.Context, logger shared.LoggerAdapter, cfg shared.MCPConfig) (*Catalog, error) {
	if cfg.Endpoint == "" {
		return nil, shared.ErrEmptyToolCatalog
	}
	transport := &mcp.StreamableClientTransport{
		Endpoint:   cfg.Endpoint,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	c, err := ConnectTransport(ctx, logger, transport, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server %s: %w", cfg.Endpoint, err)
	}
	return c, nil
}

// ConnectTransport opens a session over an arbitrary MCP transport.
func ConnectTransport(ctx context.Context, logger shared.LoggerAdapter, transport mcp.Transport, timeout time.Duration) (*Catalog, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	client := mcp.NewClient(&mcp.Implementation{
		Name:    clientName,
		Version: shared.Version,
	}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	return &Catalog{
		logger:  logger.With(zap.String("component", "mcp")),
		session: session,
		timeout: timeout,
	}, nil
}

// Tools lists every tool the server offers, following pagination.
func (c *Catalog) Tools(ctx context.Context) ([]live.ToolSpec, error) {
	var specs []live.ToolSpec
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing MCP tools: %w", err)
		}
		schema, err := normalizeSchema(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tool.Name, err)
		}
		specs = append(specs, live.ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	c.logger.Info("tools listed", zap.Int("count", len(specs)))
	return specs, nil
}

// Call invokes name with args. Structured content is returned as is when
// the server provides it; otherwise the text parts are joined with
// newlines, and an empty result is nil. A result flagged as an error
// becomes a Go error.
func (c *Catalog) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("calling MCP tool %s: %w", name, err)
	}
	text := joinText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return nil, errors.New(text)
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	if text == "" {
		return nil, nil
	}
	return text, nil
}

// Handler adapts Call to the client's tool handler signature.
func (c *Catalog) Handler() live.ToolHandler {
	return c.Call
}

func (c *Catalog) Close() error {
	return c.session.Close()
}

func joinText(content []mcp.Content) string {
	var sb strings.Builder
	for _, part := range content {
		tc, ok := part.(*mcp.TextContent)
		if !ok || tc.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(tc.Text)
	}
	return sb.String()
}

// normalizeSchema turns whatever the SDK decoded into a plain JSON object
// tree.
func normalizeSchema(schema any) (any, error) {
	if schema == nil {
		return nil, nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m, nil
	}
	data, err := sonic.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encoding input schema: %w", err)
	}
	var m map[string]any
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding input schema: %w", err)
	}
	return m, nil
}
