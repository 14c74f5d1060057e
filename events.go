package live

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

type FrameType string

type ClientFrameType FrameType

type ServerFrameType FrameType

// Client frame types
const (
	ClientFrameTypeSetup         ClientFrameType = "setup"
	ClientFrameTypeRealtimeInput ClientFrameType = "realtimeInput"
	ClientFrameTypeToolResponse  ClientFrameType = "toolResponse"
)

// Server frame types
const (
	ServerFrameTypeSetupComplete ServerFrameType = "setupComplete"
	ServerFrameTypeServerContent ServerFrameType = "serverContent"
	ServerFrameTypeToolCall      ServerFrameType = "toolCall"
	ServerFrameTypeUserQuery     ServerFrameType = "userQuery"
	ServerFrameTypeGoAway        ServerFrameType = "goAway"
	ServerFrameTypeUnrecognized  ServerFrameType = "unrecognized"
)

// Frame is one JSON object on the realtime channel. Exactly one top-level
// key identifies the variant.
type Frame interface {
	FrameType() FrameType
	IsServerFrame() bool
	IsClientFrame() bool
	MarshalJSON() ([]byte, error)
	MarshalYAML() ([]byte, error)
}

type Setup struct {
	Model                    string            `json:"model"`
	GenerationConfig         *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *Content          `json:"systemInstruction,omitempty"`
	Tools                    []Tool            `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}         `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}         `json:"outputAudioTranscription,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part holds either text or inline media.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type FunctionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type RealtimeInput struct {
	MediaChunks []Blob `json:"mediaChunks"`
}

type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type ServerContent struct {
	Interrupted         bool           `json:"interrupted,omitempty"`
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
}

type Transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type UserQuery struct {
	Parts   []Part `json:"parts"`
	IsFinal bool   `json:"isFinal"`
}

// Text joins the text parts of the query.
func (q UserQuery) Text() string {
	var s string
	for _, p := range q.Parts {
		s += p.Text
	}
	return s
}

type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type SetupFrame struct{ Setup Setup }

type RealtimeInputFrame struct{ RealtimeInput RealtimeInput }

type ToolResponseFrame struct{ ToolResponse ToolResponse }

type SetupCompleteFrame struct{}

type ServerContentFrame struct{ ServerContent ServerContent }

type ToolCallFrame struct{ ToolCall ToolCall }

type UserQueryFrame struct{ UserQuery UserQuery }

type GoAwayFrame struct{ GoAway GoAway }

// UnrecognizedFrame is a well-formed object with no known top-level key.
type UnrecognizedFrame struct {
	Raw  []byte
	Keys []string
}

var (
	_ Frame = (*SetupFrame)(nil)
	_ Frame = (*RealtimeInputFrame)(nil)
	_ Frame = (*ToolResponseFrame)(nil)
	_ Frame = (*SetupCompleteFrame)(nil)
	_ Frame = (*ServerContentFrame)(nil)
	_ Frame = (*ToolCallFrame)(nil)
	_ Frame = (*UserQueryFrame)(nil)
	_ Frame = (*GoAwayFrame)(nil)
	_ Frame = (*UnrecognizedFrame)(nil)
)

func (f *SetupFrame) FrameType() FrameType { return FrameType(ClientFrameTypeSetup) }
func (f *SetupFrame) IsServerFrame() bool  { return false }
func (f *SetupFrame) IsClientFrame() bool  { return true }
func (f *SetupFrame) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(envelope{Setup: &f.Setup})
}
func (f *SetupFrame) MarshalYAML() ([]byte, error) { return frameYAML(f) }

func (f *RealtimeInputFrame) FrameType() FrameType { return FrameType(ClientFrameTypeRealtimeInput) }
func (f *RealtimeInputFrame) IsServerFrame() bool  { return false }
func (f *RealtimeInputFrame) IsClientFrame() bool  { return true }
func (f *RealtimeInputFrame) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(envelope{RealtimeInput: &f.RealtimeInput})
}
func (f *RealtimeInputFrame) MarshalYAML() ([]byte, error) { return frameYAML(f) }

func (f *ToolResponseFrame) FrameType() FrameType { return FrameType(ClientFrameTypeToolResponse) }
func (f *ToolResponseFrame) IsServerFrame() bool  { return false }
func (f *ToolResponseFrame) IsClientFrame() bool  { return true }
func (f *ToolResponseFrame) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(envelope{ToolResponse: &f.ToolResponse})
}
func (f *ToolResponseFrame) MarshalYAML() ([]byte, error) { return frameYAML(f) }

func (f *SetupCompleteFrame) FrameType() FrameType { return FrameType(ServerFrameTypeSetupComplete) }
func (f *SetupCompleteFrame) IsServerFrame() bool  { return true }
func (f *SetupCompleteFrame) IsClientFrame() bool  { return false }
func (f *SetupCompleteFrame) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(envelope{SetupComplete: &struct{}{}})
}
func (f *SetupCompleteFrame) MarshalYAML() ([]byte, error) { return frameYAML(f) }

func (f *ServerContentFrame) FrameType() FrameType { return FrameType(ServerFrameTypeServerContent) }
func (f *ServerContentFrame) IsServerFrame() bool  { return true }
func (f *ServerContentFrame) IsClientFrame() bool  { return false }
func (f *ServerContentFrame) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(envelope{ServerContent: &f.ServerContent})
}
func (f *ServerContentFrame) MarshalYAML() ([]byte, error) { return frameYAML(f) }

func (f *ToolCallFrame) FrameType() FrameType { return FrameType(ServerFrameTypeToolCall) }
func (f *ToolCallFrame) IsServerFrame() bool  { return true }
func (f *ToolCallFrame) IsClientFrame() bool  { return false }
func (f *ToolCallFrame) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(envelope{ToolCall: &f.ToolCall})
}
func (f *ToolCallFrame) MarshalYAML() ([]byte, error) { return frameYAML(f) }

func (f *UserQueryFrame) FrameType() FrameType { return FrameType(ServerFrameTypeUserQuery) }
func (f *UserQueryFrame) IsServerFrame() bool  { return true }
func (f *UserQueryFrame) IsClientFrame() bool  { return false }
func (f *UserQueryFrame) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(envelope{UserQuery: &f.UserQuery})
}
func (f *UserQueryFrame) MarshalYAML() ([]byte, error) { return frameYAML(f) }

func (f *GoAwayFrame) FrameType() FrameType { return FrameType(ServerFrameTypeGoAway) }
func (f *GoAwayFrame) IsServerFrame() bool  { return true }
func (f *GoAwayFrame) IsClientFrame() bool  { return false }
func (f *GoAwayFrame) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(envelope{GoAway: &f.GoAway})
}
func (f *GoAwayFrame) MarshalYAML() ([]byte, error) { return frameYAML(f) }

func (f *UnrecognizedFrame) FrameType() FrameType         { return FrameType(ServerFrameTypeUnrecognized) }
func (f *UnrecognizedFrame) IsServerFrame() bool          { return true }
func (f *UnrecognizedFrame) IsClientFrame() bool          { return false }
func (f *UnrecognizedFrame) MarshalJSON() ([]byte, error) { return f.Raw, nil }
func (f *UnrecognizedFrame) MarshalYAML() ([]byte, error) { return frameYAML(f) }

type envelope struct {
	Setup         *Setup         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *ToolResponse  `json:"toolResponse,omitempty"`
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	ToolCall      *ToolCall      `json:"toolCall,omitempty"`
	UserQuery     *UserQuery     `json:"userQuery,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

// DecodeError reports a frame that is not a JSON object of the expected
// shape.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	if e == nil || e.Err == nil {
		return "decoding frame"
	}
	return "decoding frame: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DecodeFrame parses one inbound or outbound frame.
func DecodeFrame(data []byte) (Frame, error) {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	switch {
	case env.SetupComplete != nil:
		return &SetupCompleteFrame{}, nil
	case env.ServerContent != nil:
		return &ServerContentFrame{ServerContent: *env.ServerContent}, nil
	case env.ToolCall != nil:
		return &ToolCallFrame{ToolCall: *env.ToolCall}, nil
	case env.UserQuery != nil:
		return &UserQueryFrame{UserQuery: *env.UserQuery}, nil
	case env.GoAway != nil:
		return &GoAwayFrame{GoAway: *env.GoAway}, nil
	case env.Setup != nil:
		return &SetupFrame{Setup: *env.Setup}, nil
	case env.RealtimeInput != nil:
		return &RealtimeInputFrame{RealtimeInput: *env.RealtimeInput}, nil
	case env.ToolResponse != nil:
		return &ToolResponseFrame{ToolResponse: *env.ToolResponse}, nil
	}
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if raw == nil {
		return nil, &DecodeError{Err: errors.New("frame is not a JSON object")}
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &UnrecognizedFrame{Raw: append([]byte(nil), data...), Keys: keys}, nil
}

func EncodeFrame(f Frame) ([]byte, error) {
	data, err := f.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.FrameType(), err)
	}
	return data, nil
}

type jsonMarshalerFunc func() ([]byte, error)

func (m jsonMarshalerFunc) MarshalJSON() ([]byte, error) { return m() }

func frameYAML(f Frame) ([]byte, error) {
	return yaml.MarshalWithOptions(jsonMarshalerFunc(f.MarshalJSON), yaml.UseJSONMarshaler())
}
