package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// ToolCatalog lists tools once per connect and executes calls.
type ToolCatalog interface {
	Tools(ctx context.Context) ([]live.ToolSpec, error)
	Call(ctx context.Context, name string, args map[string]any) (any, error)
}

const meterWidth = 10

type CLIState struct {
	// partial is the user's utterance so far.
	partial   strings.Builder
	meterOn   bool
	lastMeter string
}

func NewCLIState() *CLIState {
	return &CLIState{}
}

// CLIAgent runs one voice session in the terminal: it prints the setup,
// transcripts, model text, tool calls and a live volume meter.
type CLIAgent struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
	client  *live.Client
	catalog ToolCatalog
	state   *CLIState
	done    chan struct{}

	doneOnce sync.Once
	mu       sync.Mutex
}

// Spawn connects a session with opts and returns a channel closed when
// the session ends. catalog may be nil, in which case no tools are
// declared.
func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	opts live.Options,
	catalog ToolCatalog,
	printer *shared.Printer,
) (<-chan struct{}, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if printer == nil {
		return nil, errors.New("no printer provided")
	}
	a.logger = logger.With(zap.String("component", "cli-agent"))
	a.printer = printer
	a.catalog = catalog
	a.state = NewCLIState()
	a.done = make(chan struct{})
	a.logger.Info("spawning CLI agent")
	a.println("🤖 Spawning CLI agent...\n", 0)

	var tools []live.ToolSpec
	if catalog != nil {
		var err error
		tools, err = catalog.Tools(ctx)
		if err != nil {
			a.logger.Error("listing tools", err)
			a.println("❌ Unable to list tools: "+err.Error()+"\n", 0)
			return nil, err
		}
		a.println(fmt.Sprintf("🧰 %d tools available", len(tools)), 0)
		for _, t := range tools {
			a.println("- "+t.Name, 1)
		}
		a.println("", 0)
	}

	cb := live.Callbacks{
		OnConnect:       a.onConnect,
		OnDisconnect:    a.onDisconnect,
		OnError:         a.onError,
		OnTranscript:    a.onTranscript,
		OnModelResponse: a.onModelResponse,
		OnVolume:        a.onVolume,
	}
	if catalog != nil {
		cb.OnToolCall = a.callTool
	}
	client, err := live.NewClient(ctx, a.logger, opts, cb)
	if err != nil {
		a.logger.Error("creating client", err)
		return nil, err
	}
	a.client = client

	a.println("📋 Session Setup\n", 0)
	setup := &live.SetupFrame{Setup: opts.Session.Setup(tools)}
	yamlBytes, err := setup.MarshalYAML()
	if err != nil {
		a.logger.Error("marshaling setup to yaml", err)
		return nil, err
	}
	a.println(strings.TrimRight(string(yamlBytes), "\n")+"\n", 1)

	a.println("🎤 Opening microphone and connecting...", 0)
	if err := client.Connect(ctx, tools); err != nil {
		if errors.Is(err, shared.ErrMicrophoneDenied) {
			a.println("❌ Unable to access microphone. Please ensure that your microphone is connected and that you have granted permission to access it.\n", 0)
		}
		a.finish()
		return nil, err
	}
	return a.done, nil
}

// Close ends the session.
func (a *CLIAgent) Close() error {
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.finish()
	return err
}

func (a *CLIAgent) finish() {
	a.doneOnce.Do(func() { close(a.done) })
}

func (a *CLIAgent) onConnect() {
	a.println("✅ Connected. Start talking.\n", 0)
}

func (a *CLIAgent) onDisconnect() {
	a.println("🔌 Session ended.", 0)
	a.finish()
}

func (a *CLIAgent) onError(err error) {
	a.println("❌ "+err.Error(), 0)
}

func (a *CLIAgent) onTranscript(text string, final bool) {
	a.mu.Lock()
	a.state.partial.WriteString(text)
	if !final {
		a.mu.Unlock()
		return
	}
	line := strings.TrimSpace(a.state.partial.String())
	a.state.partial.Reset()
	a.mu.Unlock()
	if line != "" {
		a.println("🗣  You: "+line, 0)
	}
}

func (a *CLIAgent) onModelResponse(text string) {
	a.println("💬 "+text, 0)
}

func (a *CLIAgent) onVolume(input, output float64) {
	m := fmt.Sprintf("🎤 %s  🔈 %s", meter(input, meterWidth), meter(output, meterWidth))
	a.mu.Lock()
	defer a.mu.Unlock()
	if m == a.state.lastMeter {
		return
	}
	a.state.lastMeter = m
	a.state.meterOn = true
	if err := a.printer.Overwrite(m); err != nil {
		a.logger.Error("printing volume meter", err)
	}
}

func (a *CLIAgent) callTool(ctx context.Context, name string, args map[string]any) (any, error) {
	argBytes, err := sonic.Marshal(args)
	if err != nil {
		argBytes = []byte("?")
	}
	a.println(fmt.Sprintf("🛠  %s %s", name, argBytes), 0)
	out, err := a.catalog.Call(ctx, name, args)
	if err != nil {
		a.println("⚠️  "+name+" failed: "+err.Error(), 1)
		return nil, err
	}
	return out, nil
}

// println writes one line, first clearing the volume meter if it is on
// screen.
func (a *CLIAgent) println(s string, ind int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != nil && a.state.meterOn {
		if err := a.printer.Overwrite(""); err != nil {
			a.logger.Error("clearing volume meter", err)
		}
		a.state.meterOn = false
		a.state.lastMeter = ""
	}
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing", err, zap.String("line", s))
	}
}

// meter renders a level in [0,1] as a fixed-width bar.
func meter(level float64, width int) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level*float64(width) + 0.5)
	return strings.Repeat("▮", filled) + strings.Repeat("▯", width-filled)
}
