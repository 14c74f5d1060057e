package live

import (
	"context"
	"fmt"
	"time"

	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// ToolHandler executes one function call. A nil result is reported as
// "ok"; an error is reported to the model as an error string.
type ToolHandler func(ctx context.Context, name string, args map[string]any) (any, error)

const defaultToolResult = "ok"

// ToolBridge answers a ToolCall with exactly one FunctionResponse per
// FunctionCall, in order.
type ToolBridge struct {
	logger  shared.LoggerAdapter
	handler ToolHandler
	timeout time.Duration
}

func NewToolBridge(logger shared.LoggerAdapter, handler ToolHandler, timeout time.Duration) *ToolBridge {
	return &ToolBridge{logger: logger, handler: handler, timeout: timeout}
}

// Respond runs every call sequentially and never fails: handler errors and
// panics become error-string results.
func (b *ToolBridge) Respond(ctx context.Context, call ToolCall) ToolResponse {
	resp := ToolResponse{FunctionResponses: make([]FunctionResponse, 0, len(call.FunctionCalls))}
	for _, fc := range call.FunctionCalls {
		result := b.invoke(ctx, fc)
		resp.FunctionResponses = append(resp.FunctionResponses, FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: map[string]any{"result": result},
		})
	}
	return resp
}

func (b *ToolBridge) invoke(ctx context.Context, fc FunctionCall) (result any) {
	if b.handler == nil {
		return defaultToolResult
	}
	logger := b.logger.With(zap.String("tool", fc.Name), zap.String("call_id", fc.ID))
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("tool %s panicked: %v", fc.Name, r)
			logger.Error("tool call panicked", err)
			result = errorResult(err)
		}
	}()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := b.handler(ctx, fc.Name, cloneArgs(fc.Args))
	if err != nil {
		logger.Error("tool call failed", err, zap.Duration("elapsed", time.Since(start)))
		return errorResult(err)
	}
	if out == nil {
		out = defaultToolResult
	}
	// The response is marshaled as one frame, so a value that cannot be
	// encoded must not poison the rest of the batch.
	if _, err := sonic.Marshal(out); err != nil {
		logger.Error("tool result is not serializable", err)
		return errorResult(err)
	}
	logger.Debug("tool call finished", zap.Duration("elapsed", time.Since(start)))
	return out
}

func errorResult(err error) string {
	return "Error: " + err.Error()
}
