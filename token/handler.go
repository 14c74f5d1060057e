package token

import (
	"io"
	"net/http"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const maxRequestBytes = 1 << 20

const missingKeyMessage = "GEMINI_API_KEY is not set on the server."

type issueRequest struct {
	Tools []live.Tool `json:"tools"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves POST {"tools":[...]} and answers with the issued
// credential, {"name":"auth_tokens/..."}. A nil issuer means the server
// has no provider key; every request then fails with 500.
type Handler struct {
	logger shared.LoggerAdapter
	issuer Issuer
}

func NewHandler(logger shared.LoggerAdapter, issuer Issuer) (*Handler, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &Handler{
		logger: logger.With(zap.String("component", "token")),
		issuer: issuer,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	if h.issuer == nil {
		h.logger.Error("cannot issue token", shared.ErrNoAPIKey)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: missingKeyMessage})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "reading request body: " + err.Error()})
		return
	}
	var req issueRequest
	if len(body) > 0 {
		if err := sonic.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
	}

	tools := GenAITools(req.Tools)
	tok, err := h.issuer.Issue(r.Context(), tools)
	if err != nil {
		h.logger.Error("creating ephemeral token", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	h.logger.Info("ephemeral token issued", zap.Int("tools", len(tools)))
	writeJSON(w, http.StatusOK, tok)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"error":"encoding response"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
