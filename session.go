package live

import (
	"fmt"
	"maps"
	"strings"

	"github.com/bt-bridge/gemini-live/shared"
)

// Variant selects how the Controller reaches the provider.
type Variant int

const (
	// VariantRelay connects through the Duplex Relay and captures at 24kHz.
	VariantRelay Variant = iota
	// VariantToken fetches an ephemeral credential and connects to the
	// provider directly, capturing at 16kHz.
	VariantToken
)

func (v Variant) String() string {
	switch v {
	case VariantRelay:
		return "relay"
	case VariantToken:
		return "token"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "relay":
		return VariantRelay, nil
	case "token":
		return VariantToken, nil
	}
	return 0, fmt.Errorf("unknown session variant %q", s)
}

func (v Variant) InputSampleRate() int {
	if v == VariantToken {
		return 16000
	}
	return 24000
}

// SessionConfig describes the setup payload sent when a session opens.
type SessionConfig struct {
	Variant             Variant
	Model               string
	Voice               string
	SystemInstruction   string
	InputTranscription  bool
	OutputTranscription bool
}

func NewSessionConfig(cfg shared.ClientConfig) (SessionConfig, error) {
	variant, err := ParseVariant(cfg.Variant)
	if err != nil {
		return SessionConfig{}, err
	}
	sc := SessionConfig{
		Variant:           variant,
		Model:             cfg.Model,
		Voice:             cfg.Voice,
		SystemInstruction: cfg.SystemInstruction,

		InputTranscription:  cfg.InputTranscription,
		OutputTranscription: cfg.OutputTranscription,
	}
	if sc.Model == "" {
		sc.Model = "models/" + shared.DefaultModel
	}
	if sc.Voice == "" {
		sc.Voice = shared.DefaultVoice
	}
	return sc, nil
}

// Setup builds the first frame of a session. Tools are advertised as a
// single group of function declarations.
func (c SessionConfig) Setup(tools []ToolSpec) Setup {
	setup := Setup{
		Model: c.Model,
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if c.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: &VoiceConfig{
				PrebuiltVoiceConfig: &PrebuiltVoiceConfig{VoiceName: c.Voice},
			},
		}
	}
	if c.SystemInstruction != "" {
		setup.SystemInstruction = &Content{Parts: []Part{{Text: c.SystemInstruction}}}
	}
	if decls := FunctionDeclarations(tools); len(decls) > 0 {
		setup.Tools = []Tool{{FunctionDeclarations: decls}}
	}
	if c.InputTranscription {
		setup.InputAudioTranscription = &struct{}{}
	}
	if c.OutputTranscription {
		setup.OutputAudioTranscription = &struct{}{}
	}
	return setup
}

// ToolSpec is a tool as listed by the catalog collaborator.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema any
}

func FunctionDeclarations(tools []ToolSpec) []FunctionDeclaration {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  StripSchemaMeta(t.InputSchema),
		})
	}
	return decls
}

// StripSchemaMeta returns a copy of a JSON schema with every key that
// starts with "$" removed at any depth. The provider rejects $schema, $id
// and friends.
func StripSchemaMeta(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			if strings.HasPrefix(k, "$") {
				continue
			}
			out[k] = StripSchemaMeta(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = StripSchemaMeta(child)
		}
		return out
	}
	return v
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return maps.Clone(args)
}
