package agents

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/audio"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncHook struct {
	mu sync.Mutex
	sb strings.Builder
}

func (h *syncHook) WriteString(s string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sb.WriteString(s)
}

func (h *syncHook) Close() error { return nil }

func (h *syncHook) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sb.String()
}

type pipeConn struct {
	in        chan []byte
	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan []byte, 8), out: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *pipeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.in:
		return websocket.BinaryMessage, m, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (c *pipeConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	if mt == websocket.TextMessage {
		c.out <- data
	}
	return nil
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type pipeDialer struct{ conn *pipeConn }

func (d pipeDialer) Dial(context.Context, []live.ToolSpec) (live.Conn, error) { return d.conn, nil }

type silentMic struct{ closed chan struct{} }

func (m *silentMic) Read([]float32) (int, error) {
	<-m.closed
	return 0, io.EOF
}

func (m *silentMic) Close() error {
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
	return nil
}

type testDevices struct{ micErr error }

func (d testDevices) OpenOutput(rate int) (audio.Output, error) { return audio.NewMixer(rate), nil }

func (d testDevices) OpenInput(int) (audio.Source, error) {
	if d.micErr != nil {
		return nil, d.micErr
	}
	return &silentMic{closed: make(chan struct{})}, nil
}

type stubCatalog struct{}

func (stubCatalog) Tools(context.Context) ([]live.ToolSpec, error) {
	return []live.ToolSpec{{Name: "wave", InputSchema: map[string]any{"type": "object"}}}, nil
}

func (stubCatalog) Call(_ context.Context, name string, _ map[string]any) (any, error) {
	if name == "wave" {
		return "waved", nil
	}
	return nil, errors.New("no such tool")
}

func newTestOptions(t *testing.T, conn *pipeConn, devices live.Devices) live.Options {
	t.Helper()
	session, err := live.NewSessionConfig(shared.DefaultConfig().Client)
	require.NoError(t, err)
	return live.Options{
		Session:        session,
		Dialer:         pipeDialer{conn: conn},
		Devices:        devices,
		VolumeInterval: time.Hour,
	}
}

func nextFrame(t *testing.T, conn *pipeConn) live.Frame {
	t.Helper()
	select {
	case data := <-conn.out:
		f, err := live.DecodeFrame(data)
		require.NoError(t, err)
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame written")
		return nil
	}
}

func TestCLIAgentSession(t *testing.T) {
	hook := &syncHook{}
	printer, err := shared.NewPrinter("  ", hook)
	require.NoError(t, err)
	conn := newPipeConn()

	agent := new(CLIAgent)
	done, err := agent.Spawn(context.Background(), shared.NewNopLogger(), newTestOptions(t, conn, testDevices{}), stubCatalog{}, printer)
	require.NoError(t, err)

	setup, ok := nextFrame(t, conn).(*live.SetupFrame)
	require.True(t, ok)
	require.Len(t, setup.Setup.Tools, 1)
	assert.Equal(t, "wave", setup.Setup.Tools[0].FunctionDeclarations[0].Name)

	conn.in <- []byte(`{"serverContent":{"inputTranscription":{"text":"wave "}}}`)
	conn.in <- []byte(`{"serverContent":{"inputTranscription":{"text":"please","finished":true}}}`)
	conn.in <- []byte(`{"serverContent":{"modelTurn":{"parts":[{"text":"Sure."}]}}}`)
	conn.in <- []byte(`{"toolCall":{"functionCalls":[{"id":"c1","name":"wave","args":{"hand":"left"}}]}}`)

	resp, ok := nextFrame(t, conn).(*live.ToolResponseFrame)
	require.True(t, ok)
	require.Len(t, resp.ToolResponse.FunctionResponses, 1)
	assert.Equal(t, "waved", resp.ToolResponse.FunctionResponses[0].Response["result"])

	require.NoError(t, conn.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not finish after the channel closed")
	}

	out := hook.String()
	assert.Contains(t, out, "1 tools available")
	assert.Contains(t, out, "Session Setup")
	assert.Contains(t, out, "AUDIO")
	assert.Contains(t, out, "You: wave please")
	assert.Contains(t, out, "Sure.")
	assert.Contains(t, out, `wave {"hand":"left"}`)
	assert.Contains(t, out, "Session ended.")
	require.NoError(t, agent.Close())
}

func TestCLIAgentMicrophoneDenied(t *testing.T) {
	hook := &syncHook{}
	printer, err := shared.NewPrinter("  ", hook)
	require.NoError(t, err)

	agent := new(CLIAgent)
	_, err = agent.Spawn(context.Background(), shared.NewNopLogger(),
		newTestOptions(t, newPipeConn(), testDevices{micErr: shared.ErrMicrophoneDenied}), nil, printer)
	require.ErrorIs(t, err, shared.ErrMicrophoneDenied)
	assert.Contains(t, hook.String(), "Unable to access microphone")
	assert.NotContains(t, hook.String(), "tools available")
}

func TestCLIAgentVolumeMeter(t *testing.T) {
	hook := &syncHook{}
	printer, err := shared.NewPrinter("", hook)
	require.NoError(t, err)
	a := &CLIAgent{logger: shared.NewNopLogger(), printer: printer, state: NewCLIState()}

	a.onVolume(0.5, 0)
	a.onVolume(0.5, 0)
	a.onModelResponse("hi")

	out := hook.String()
	assert.Equal(t, 1, strings.Count(out, "🎤 ▮▮▮▮▮▯▯▯▯▯"))
	assert.True(t, strings.HasSuffix(out, "\r\033[K💬 hi\n"))
}

func TestMeter(t *testing.T) {
	tests := []struct {
		level float64
		want  string
	}{
		{level: -1, want: "▯▯▯▯"},
		{level: 0, want: "▯▯▯▯"},
		{level: 0.5, want: "▮▮▯▯"},
		{level: 1, want: "▮▮▮▮"},
		{level: 3, want: "▮▮▮▮"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, meter(tt.level, 4), "level %v", tt.level)
	}
}
