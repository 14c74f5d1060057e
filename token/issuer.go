// Package token issues short-lived provider credentials so that clients
// can open a Live session directly without ever holding the server's API
// key.
package token

import (
	"context"
	"fmt"
	"time"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/shared"
	"google.golang.org/genai"
)

// Issuer creates one ephemeral credential locked to the given tools.
type Issuer interface {
	Issue(ctx context.Context, tools []*genai.Tool) (*genai.AuthToken, error)
}

// GenAIIssuer issues credentials through the provider SDK's auth token
// endpoint.
type GenAIIssuer struct {
	client *genai.Client
	cfg    shared.TokenConfig
	now    func() time.Time
}

var _ Issuer = (*GenAIIssuer)(nil)

func NewGenAIIssuer(ctx context.Context, apiKey string, cfg shared.TokenConfig) (*GenAIIssuer, error) {
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1alpha"},
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GenAIIssuer{client: client, cfg: cfg, now: time.Now}, nil
}

func (i *GenAIIssuer) Issue(ctx context.Context, tools []*genai.Tool) (*genai.AuthToken, error) {
	tok, err := i.client.AuthTokens.Create(ctx, authTokenConfig(i.cfg, tools, i.now()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrTokenUnavailable, err)
	}
	return tok, nil
}

// authTokenConfig locks the session parameters into the credential: the
// model, audio responses, the voice, the instruction and the tools.
func authTokenConfig(cfg shared.TokenConfig, tools []*genai.Tool, now time.Time) *genai.CreateAuthTokenConfig {
	connect := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		Tools:              tools,
	}
	if cfg.Voice != "" {
		connect.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		connect.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	return &genai.CreateAuthTokenConfig{
		ExpireTime: now.Add(cfg.TTL),
		Uses:       genai.Ptr(int32(cfg.Uses)),
		LiveConnectConstraints: &genai.LiveConnectConstraints{
			Model:  cfg.Model,
			Config: connect,
		},
		HTTPOptions: &genai.HTTPOptions{APIVersion: "v1alpha"},
	}
}

// GenAITools maps client tool declarations onto the SDK shape. Parameter
// schemas are passed through as raw JSON Schema.
func GenAITools(tools []live.Tool) []*genai.Tool {
	var out []*genai.Tool
	for _, t := range tools {
		if len(t.FunctionDeclarations) == 0 {
			continue
		}
		gt := &genai.Tool{FunctionDeclarations: make([]*genai.FunctionDeclaration, 0, len(t.FunctionDeclarations))}
		for _, d := range t.FunctionDeclarations {
			gt.FunctionDeclarations = append(gt.FunctionDeclarations, &genai.FunctionDeclaration{
				Name:                 d.Name,
				Description:          d.Description,
				ParametersJsonSchema: d.Parameters,
			})
		}
		out = append(out, gt)
	}
	return out
}
