package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeIssuer struct {
	tools []*genai.Tool
	err   error
}

func (f *fakeIssuer) Issue(_ context.Context, tools []*genai.Tool) (*genai.AuthToken, error) {
	f.tools = tools
	if f.err != nil {
		return nil, f.err
	}
	return &genai.AuthToken{Name: "auth_tokens/test"}, nil
}

func serve(t *testing.T, issuer Issuer, method, body string) *httptest.ResponseRecorder {
	t.Helper()
	h, err := NewHandler(shared.NewNopLogger(), issuer)
	require.NoError(t, err)
	req := httptest.NewRequest(method, "/api/gemini-token", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerIssuesToken(t *testing.T) {
	issuer := &fakeIssuer{}
	body := `{"tools":[{"functionDeclarations":[{"name":"move","description":"Move the arm","parameters":{"type":"object","properties":{"x":{"type":"number"}}}}]}]}`
	rec := serve(t, issuer, http.MethodPost, body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"auth_tokens/test"}`, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	require.Len(t, issuer.tools, 1)
	require.Len(t, issuer.tools[0].FunctionDeclarations, 1)
	decl := issuer.tools[0].FunctionDeclarations[0]
	assert.Equal(t, "move", decl.Name)
	assert.Equal(t, "Move the arm", decl.Description)
	assert.Equal(t, map[string]any{
		"type":       "object",
		"properties": map[string]any{"x": map[string]any{"type": "number"}},
	}, decl.ParametersJsonSchema)
}

func TestHandlerErrors(t *testing.T) {
	tests := []struct {
		name     string
		issuer   Issuer
		method   string
		body     string
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing key",
			method:   http.MethodPost,
			body:     `{"tools":[]}`,
			wantCode: http.StatusInternalServerError,
			wantErr:  "GEMINI_API_KEY is not set on the server.",
		},
		{
			name:     "wrong method",
			issuer:   &fakeIssuer{},
			method:   http.MethodGet,
			wantCode: http.StatusMethodNotAllowed,
			wantErr:  "method not allowed",
		},
		{
			name:     "bad body",
			issuer:   &fakeIssuer{},
			method:   http.MethodPost,
			body:     `{"tools":`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid request body",
		},
		{
			name:     "provider failure",
			issuer:   &fakeIssuer{err: errors.New("quota exceeded")},
			method:   http.MethodPost,
			body:     `{}`,
			wantCode: http.StatusInternalServerError,
			wantErr:  "quota exceeded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.issuer, tt.method, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			var resp errorResponse
			require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error, tt.wantErr)
		})
	}
}

func TestHandlerEmptyBody(t *testing.T) {
	issuer := &fakeIssuer{}
	rec := serve(t, issuer, http.MethodPost, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, issuer.tools)
}

func TestAuthTokenConfig(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cfg := shared.DefaultConfig().Token
	tools := []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{{Name: "noop"}}}}

	got := authTokenConfig(cfg, tools, now)
	assert.Equal(t, now.Add(30*time.Minute), got.ExpireTime)
	require.NotNil(t, got.Uses)
	assert.Equal(t, int32(1), *got.Uses)
	require.NotNil(t, got.LiveConnectConstraints)
	assert.Equal(t, shared.DefaultModel, got.LiveConnectConstraints.Model)

	connect := got.LiveConnectConstraints.Config
	require.NotNil(t, connect)
	assert.Equal(t, []genai.Modality{genai.ModalityAudio}, connect.ResponseModalities)
	assert.Equal(t, "Charon", connect.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.NotNil(t, connect.SystemInstruction)
	assert.Equal(t, shared.DefaultInstruction, connect.SystemInstruction.Parts[0].Text)
	assert.Equal(t, tools, connect.Tools)
	assert.Equal(t, "v1alpha", got.HTTPOptions.APIVersion)
}

func TestAuthTokenConfigOptionalFields(t *testing.T) {
	cfg := shared.TokenConfig{Model: "m", TTL: time.Minute, Uses: 3}
	got := authTokenConfig(cfg, nil, time.Unix(0, 0))
	assert.Nil(t, got.LiveConnectConstraints.Config.SpeechConfig)
	assert.Nil(t, got.LiveConnectConstraints.Config.SystemInstruction)
	assert.Equal(t, int32(3), *got.Uses)
}

func TestGenAIToolsSkipsEmpty(t *testing.T) {
	out := GenAITools([]live.Tool{{}, {FunctionDeclarations: []live.FunctionDeclaration{{Name: "a"}, {Name: "b"}}}})
	require.Len(t, out, 1)
	assert.Len(t, out[0].FunctionDeclarations, 2)
	assert.Nil(t, GenAITools(nil))
}

func TestNewGenAIIssuerRequiresKey(t *testing.T) {
	_, err := NewGenAIIssuer(context.Background(), "", shared.DefaultConfig().Token)
	assert.ErrorIs(t, err, shared.ErrNoAPIKey)
}
