package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/gemini-live/audio"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ClientState int

const (
	ClientStateDisconnected ClientState = iota
	ClientStateConnecting
	ClientStateActive
	ClientStateClosing
)

func (s ClientState) String() string {
	switch s {
	case ClientStateDisconnected:
		return "disconnected"
	case ClientStateConnecting:
		return "connecting"
	case ClientStateActive:
		return "active"
	case ClientStateClosing:
		return "closing"
	}
	return fmt.Sprintf("ClientState(%d)", int(s))
}

// Callbacks are invoked from the client's goroutines. Any of them may be
// nil.
type Callbacks struct {
	OnConnect       func()
	OnDisconnect    func()
	OnError         func(err error)
	OnTranscript    func(text string, final bool)
	OnModelResponse func(text string)
	// OnVolume receives input and output levels in [0,1].
	OnVolume   func(input, output float64)
	OnToolCall ToolHandler
}

// Devices opens the audio endpoints for a session.
type Devices interface {
	OpenOutput(sampleRate int) (audio.Output, error)
	OpenInput(sampleRate int) (audio.Source, error)
}

type Options struct {
	Session        SessionConfig
	Dialer         Dialer
	Devices        Devices
	VolumeInterval time.Duration
	ToolTimeout    time.Duration
	// CaptureBuffer is the number of encoded frames that may wait for the
	// channel before new ones are dropped.
	CaptureBuffer int
}

const defaultVolumeInterval = 50 * time.Millisecond

type Client struct {
	logger shared.LoggerAdapter
	opts   Options
	cb     Callbacks
	bridge *ToolBridge

	mu        sync.Mutex
	state     ClientState
	gen       uint64
	connected bool
	conn      Conn
	output    audio.Output
	input     audio.Source
	capture   *audio.Capture
	player    *audio.Scheduler
	cancel    context.CancelCauseFunc

	writeMu sync.Mutex

	ctx  context.Context
	stop context.CancelCauseFunc
}

func NewClient(ctx context.Context, logger shared.LoggerAdapter, opts Options, cb Callbacks) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if opts.Dialer == nil {
		return nil, shared.ErrNoDialer
	}
	if opts.Devices == nil {
		return nil, shared.ErrNoDevices
	}
	if opts.VolumeInterval <= 0 {
		opts.VolumeInterval = defaultVolumeInterval
	}
	logger = logger.With(zap.String("component", "client"), zap.String("variant", opts.Session.Variant.String()))
	ctx, stop := context.WithCancelCause(ctx)
	return &Client{
		logger: logger,
		opts:   opts,
		cb:     cb,
		bridge: NewToolBridge(logger, cb.OnToolCall, opts.ToolTimeout),
		ctx:    ctx,
		stop:   stop,
	}, nil
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close disconnects and makes the client unusable.
func (c *Client) Close() error {
	err := c.Disconnect()
	c.stop(errors.New("client closed"))
	return err
}

func (c *Client) respectCtx() error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}
	return nil
}

// Connect opens the audio devices and the realtime channel, sends setup
// and starts streaming. It is a no-op unless the client is disconnected.
// On failure the error is also reported through OnError and everything
// opened so far is released.
func (c *Client) Connect(ctx context.Context, tools []ToolSpec) error {
	c.mu.Lock()
	if err := c.respectCtx(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("respecting client context: %w", err)
	}
	if c.state != ClientStateDisconnected {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("connect ignored", zap.Stringer("state", state))
		return nil
	}
	c.state = ClientStateConnecting
	c.gen++
	gen := c.gen
	sessCtx, cancel := context.WithCancelCause(c.ctx)
	c.cancel = cancel
	c.mu.Unlock()

	out, err := c.opts.Devices.OpenOutput(audio.OutputSampleRate)
	if err != nil {
		return c.abort(gen, fmt.Errorf("opening audio output: %w", err))
	}
	player := audio.NewScheduler(c.logger, out, audio.OutputSampleRate)
	if !c.attach(gen, func() { c.output, c.player = out, player }) {
		_ = out.Close()
		return shared.ErrClosed
	}

	rate := c.opts.Session.Variant.InputSampleRate()
	in, err := c.opts.Devices.OpenInput(rate)
	if err != nil {
		return c.abort(gen, fmt.Errorf("opening microphone: %w", err))
	}
	if !c.attach(gen, func() { c.input = in }) {
		_ = in.Close()
		return shared.ErrClosed
	}

	conn, err := c.opts.Dialer.Dial(ctx, tools)
	if err != nil {
		return c.abort(gen, fmt.Errorf("opening realtime channel: %w", err))
	}
	if !c.attach(gen, func() {
		c.conn = conn
		c.state = ClientStateActive
		c.connected = true
	}) {
		_ = conn.Close()
		return shared.ErrClosed
	}
	c.logger.Info("realtime channel open", zap.Int("tools", len(tools)))
	if c.cb.OnConnect != nil {
		c.cb.OnConnect()
	}

	setup := &SetupFrame{Setup: c.opts.Session.Setup(tools)}
	if err := c.Send(setup); err != nil {
		return c.abort(gen, fmt.Errorf("sending setup: %w", err))
	}

	capture := audio.NewCapture(c.logger, in, rate, c.opts.CaptureBuffer)
	if !c.attach(gen, func() { c.capture = capture }) {
		return shared.ErrClosed
	}
	capture.Start(sessCtx)
	go c.pumpCapture(capture)
	go c.readLoop(sessCtx, gen, conn)
	if c.cb.OnVolume != nil {
		go c.reportVolume(sessCtx, capture, out)
	}
	return nil
}

// attach runs f under the lock if the connect attempt gen is still in
// progress.
func (c *Client) attach(gen uint64, f func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || (c.state != ClientStateConnecting && c.state != ClientStateActive) {
		return false
	}
	f()
	return true
}

func (c *Client) abort(gen uint64, err error) error {
	c.logger.Error("connect failed", err)
	c.notifyError(err)
	c.shutdown(gen)
	return err
}

// Disconnect stops playback, releases the microphone, closes the output
// and then the channel. It is safe to call in any state and more than
// once; OnDisconnect fires once per session that reached OnConnect.
func (c *Client) Disconnect() error {
	c.shutdown(0)
	return nil
}

// shutdown tears down session gen, or whatever session is current when
// gen is zero.
func (c *Client) shutdown(gen uint64) {
	c.mu.Lock()
	if c.state == ClientStateDisconnected || c.state == ClientStateClosing || (gen != 0 && gen != c.gen) {
		c.mu.Unlock()
		return
	}
	c.state = ClientStateClosing
	var (
		cancel    = c.cancel
		conn      = c.conn
		in        = c.input
		out       = c.output
		capture   = c.capture
		player    = c.player
		connected = c.connected
	)
	c.cancel, c.conn, c.input, c.output, c.capture, c.player = nil, nil, nil, nil, nil, nil
	c.connected = false
	c.mu.Unlock()

	if cancel != nil {
		cancel(shared.ErrClosed)
	}
	if player != nil {
		player.Interrupt()
	}
	if capture != nil {
		if err := capture.Stop(); err != nil {
			c.logger.Debug("stopping capture", zap.Error(err))
		}
	} else if in != nil {
		if err := in.Close(); err != nil {
			c.logger.Debug("releasing microphone", zap.Error(err))
		}
	}
	if out != nil {
		if err := out.Close(); err != nil {
			c.logger.Debug("closing audio output", zap.Error(err))
		}
	}
	if conn != nil {
		if c.writeMu.TryLock() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.writeMu.Unlock()
		}
		if err := conn.Close(); err != nil {
			c.logger.Debug("closing realtime channel", zap.Error(err))
		}
	}

	c.mu.Lock()
	c.state = ClientStateDisconnected
	c.mu.Unlock()
	c.logger.Info("session disconnected")
	if connected && c.cb.OnDisconnect != nil {
		c.cb.OnDisconnect()
	}
}

// Send writes one frame to the channel. Writes are serialized so frames
// are never interleaved.
func (c *Client) Send(f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if conn == nil || state != ClientStateActive {
		return shared.ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s frame: %w", f.FrameType(), err)
	}
	return nil
}

func (c *Client) pumpCapture(capture *audio.Capture) {
	for chunk := range capture.Chunks() {
		err := c.Send(&RealtimeInputFrame{RealtimeInput: RealtimeInput{
			MediaChunks: []Blob{{MimeType: chunk.MimeType, Data: chunk.Data}},
		}})
		if err != nil && !errors.Is(err, shared.ErrNotConnected) {
			c.logger.Debug("dropping audio chunk", zap.Error(err))
		}
	}
}

func (c *Client) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("realtime channel closed by peer")
			} else {
				err = fmt.Errorf("reading realtime channel: %w", err)
				c.logger.Error("realtime channel failed", err)
				c.notifyError(err)
			}
			c.shutdown(gen)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		c.HandleMessage(ctx, data)
	}
}

// HandleMessage decodes and dispatches one inbound frame. Malformed frames
// are logged and dropped.
func (c *Client) HandleMessage(ctx context.Context, data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		c.logger.Error("can not decode frame", err, zap.Int("bytes", len(data)))
		return
	}
	switch f := frame.(type) {
	case *ServerContentFrame:
		c.handleServerContent(f.ServerContent)
	case *ToolCallFrame:
		go c.handleToolCall(ctx, f.ToolCall)
	case *UserQueryFrame:
		if text := f.UserQuery.Text(); text != "" {
			c.notifyTranscript(text, f.UserQuery.IsFinal)
		}
	case *SetupCompleteFrame:
		c.logger.Info("setup complete")
	case *GoAwayFrame:
		c.logger.Warn("provider will close the session", zap.String("timeLeft", f.GoAway.TimeLeft))
	case *UnrecognizedFrame:
		c.logger.Debug("ignoring unrecognized frame", zap.Strings("keys", f.Keys))
	default:
		c.logger.Debug("ignoring frame", zap.String("type", string(frame.FrameType())))
	}
}

func (c *Client) handleServerContent(sc ServerContent) {
	c.mu.Lock()
	player := c.player
	c.mu.Unlock()

	if sc.Interrupted && player != nil {
		n := player.Interrupt()
		c.logger.Debug("model interrupted", zap.Int("stopped", n))
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.Text != "" {
				c.notifyModelResponse(part.Text)
			}
			if part.InlineData == nil || player == nil {
				continue
			}
			if !audio.IsPCM(part.InlineData.MimeType) {
				c.logger.Debug("skipping non-audio inline data", zap.String("mimeType", part.InlineData.MimeType))
				continue
			}
			if rate, ok := audio.ParseRate(part.InlineData.MimeType); ok && rate != audio.OutputSampleRate {
				c.logger.Warn("skipping model audio at unexpected rate", zap.Int("sampleRate", rate))
				continue
			}
			if _, err := player.Enqueue(part.InlineData.Data); err != nil {
				c.logger.Error("can not schedule model audio", err)
			}
		}
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		c.notifyTranscript(t.Text, t.Finished)
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		c.notifyModelResponse(t.Text)
	}
	if sc.TurnComplete {
		c.logger.Trace("turn complete")
	}
}

func (c *Client) handleToolCall(ctx context.Context, call ToolCall) {
	resp := c.bridge.Respond(ctx, call)
	if err := c.Send(&ToolResponseFrame{ToolResponse: resp}); err != nil {
		c.logger.Error("sending tool response", err, zap.Int("responses", len(resp.FunctionResponses)))
	}
}

func (c *Client) reportVolume(ctx context.Context, capture *audio.Capture, out audio.Output) {
	t := time.NewTicker(c.opts.VolumeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.cb.OnVolume(audio.Level(capture.RMS()), audio.Level(out.RMS()))
		}
	}
}

func (c *Client) notifyError(err error) {
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}

func (c *Client) notifyTranscript(text string, final bool) {
	if c.cb.OnTranscript != nil {
		c.cb.OnTranscript(text, final)
	}
}

func (c *Client) notifyModelResponse(text string) {
	if c.cb.OnModelResponse != nil {
		c.cb.OnModelResponse(text)
	}
}
