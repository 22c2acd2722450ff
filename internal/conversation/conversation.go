package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/botany-labs/voice-agent-service/internal/assistant"
	"github.com/botany-labs/voice-agent-service/internal/audio"
	"github.com/botany-labs/voice-agent-service/internal/call"
	"github.com/botany-labs/voice-agent-service/internal/metrics"
)

// Call log events.
const (
	LogInit         = "INIT"
	LogReady        = "READY"
	LogTranscript   = "TRANSCRIPT"
	LogToolSelected = "TOOL_SELECTED"
	LogCallEnded    = "CALL_ENDED"
)

// Status lines pushed to the peer's display.
const (
	interruptedMarker = "[Interrupted your last message]"
	hungUpBanner      = "---- Assistant Hung Up ----"
)

// LogEntry is one append-only call log record.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Event     string            `json:"event"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Config contains conversation configuration.
type Config struct {
	// SampleRate of synthesized audio pushed to the call, in Hz.
	SampleRate int

	// FrameSize is the number of samples per frame pushed to the call.
	FrameSize int

	// MinBuffer is the smallest playable unit of synthesized audio.
	// Synthesis output is held back until this much audio is available so
	// playback does not stutter on slow providers.
	MinBuffer time.Duration

	// Encoding of the synthesis byte stream, audio.EncodingPCM16 when empty.
	// Telephony providers deliver audio.EncodingMulaw bodies.
	Encoding string

	// TurnTimeout bounds one generate-synthesize-stream cycle.
	TurnTimeout time.Duration

	// Metrics receives turn-level observations when set.
	Metrics *metrics.Metrics
}

func (c *Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}

	if c.FrameSize <= 0 {
		c.FrameSize = audio.DefaultFrameSize
	}

	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 60 * time.Second
	}

	return nil
}

// Conversation drives one call from greeting to hang-up. All state is owned
// by the event loop goroutine; the call log is guarded separately because
// the onEnd callback hands it to another goroutine.
type Conversation struct {
	assistant *assistant.Assistant
	call      call.Call
	config    Config
	logger    *slog.Logger
	onEnd     func([]LogEntry)

	history []assistant.Message

	logMu   sync.Mutex
	callLog []LogEntry

	endOnce sync.Once
	done    chan struct{}
}

// New creates a conversation over an established call. The dialogue history
// is seeded from the assistant's prompt.
func New(a *assistant.Assistant, c call.Call, config Config, onEnd func([]LogEntry), logger *slog.Logger) (*Conversation, error) {
	if a == nil {
		return nil, fmt.Errorf("assistant cannot be nil")
	}

	if c == nil {
		return nil, fmt.Errorf("call cannot be nil")
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid conversation config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	conv := &Conversation{
		assistant: a,
		call:      c,
		config:    config,
		logger:    logger,
		onEnd:     onEnd,
		history:   a.Prompt(),
		done:      make(chan struct{}),
	}

	conv.addToCallLog(LogInit, map[string]string{"assistant": a.Describe()})

	return conv, nil
}

// Begin starts the event loop. The optional delay lets the call start tone
// finish before the assistant greets; if the assistant speaks first, its
// opening message plays before the first user turn. Begin returns once the
// loop is running.
func (c *Conversation) Begin(ctx context.Context, delay time.Duration) {
	go c.run(ctx, delay)
}

// Done is closed when the conversation has fully ended.
func (c *Conversation) Done() <-chan struct{} {
	return c.done
}

// CallLog returns a snapshot of the call log.
func (c *Conversation) CallLog() []LogEntry {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	snapshot := make([]LogEntry, len(c.callLog))
	copy(snapshot, c.callLog)
	return snapshot
}

func (c *Conversation) run(ctx context.Context, delay time.Duration) {
	defer close(c.done)

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	c.addToCallLog(LogReady, nil)
	if err := c.call.IndicateReady(); err != nil {
		c.logger.Debug("Failed to indicate readiness", "error", err)
	}

	if c.assistant.SpeakFirst() {
		c.speakOpening(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			c.endCall()
			c.drainUntilEnded()
			return
		case event, ok := <-c.call.Events():
			if !ok {
				c.finish()
				return
			}

			switch event.Kind {
			case call.EventUserMessage:
				if c.handleUserMessage(ctx, event.Text) {
					c.drainUntilEnded()
					return
				}
			case call.EventInterrupt:
				if c.config.Metrics != nil {
					c.config.Metrics.RecordInterrupt()
				}
				c.noteWhatWasSaid(assistant.RoleUser, interruptedMarker)
			case call.EventCallEnded:
				c.finish()
				return
			}
		}
	}
}

// speakOpening plays the assistant's configured opening message, generating
// one from the seed prompt when none is configured.
func (c *Conversation) speakOpening(ctx context.Context) {
	opening := c.assistant.OpeningMessage()
	if opening == "" {
		response, err := c.assistant.CreateResponse(ctx, c.history)
		if err != nil {
			c.logger.Error("Failed to generate opening message", "error", err)
			return
		}
		opening = response.Content
	}

	if opening == "" {
		return
	}

	c.noteWhatWasSaid(assistant.RoleAssistant, opening)
	if err := c.speak(ctx, opening); err != nil {
		c.logger.Error("Failed to play opening message", "error", err)
	}
}

// handleUserMessage runs one full turn. It reports true when the
// conversation reached a terminal state.
func (c *Conversation) handleUserMessage(ctx context.Context, message string) bool {
	turnStart := time.Now()
	c.noteWhatWasSaid(assistant.RoleUser, message)
	if c.config.Metrics != nil {
		c.config.Metrics.RecordUserUtterance()
	}

	turnCtx, cancel := context.WithTimeout(ctx, c.config.TurnTimeout)
	defer cancel()

	response, err := c.profiled("generate", func() (assistant.Response, error) {
		return c.assistant.CreateResponse(turnCtx, c.history)
	})
	if err != nil {
		c.logger.Error("Failed to generate response", "error", err)
		return false
	}

	if response.Content != "" {
		c.noteWhatWasSaid(assistant.RoleAssistant, response.Content)
		if err := c.speak(turnCtx, response.Content); err != nil {
			c.logger.Error("Failed to speak response", "error", err)
		}
		if c.config.Metrics != nil {
			c.config.Metrics.RecordAssistantTurn(time.Since(turnStart).Seconds())
		}
	}

	if response.SelectedTool == "" {
		return false
	}

	c.addToCallLog(LogToolSelected, map[string]string{"tool": response.SelectedTool})
	if c.config.Metrics != nil {
		c.config.Metrics.RecordToolSelection(response.SelectedTool)
	}

	if response.SelectedTool == assistant.ToolEndCall {
		if err := c.call.PushMeta(hungUpBanner); err != nil {
			c.logger.Debug("Failed to push hang-up banner", "error", err)
		}
		c.endCall()
		return true
	}

	c.logger.Warn("Unhandled tool selection", "tool", response.SelectedTool)
	return false
}

// speak synthesizes text and streams it to the call in playback-ready
// frames.
func (c *Conversation) speak(ctx context.Context, text string) error {
	start := time.Now()

	stream, err := c.assistant.TextToSpeech(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}
	defer stream.Close()

	frames, err := audio.StreamFrames(ctx, stream, c.call, audio.FrameWriterConfig{
		SampleRate: c.config.SampleRate,
		FrameSize:  c.config.FrameSize,
		MinBuffer:  c.config.MinBuffer,
		Encoding:   c.config.Encoding,
	})
	if err != nil {
		return fmt.Errorf("failed to stream frames: %w", err)
	}

	if c.config.Metrics != nil {
		c.config.Metrics.RecordFramesPushed(frames)
	}
	c.pushTiming("speak", time.Since(start))
	c.logger.Debug("Spoke response", "frames", frames, "characters", len(text))

	return nil
}

// noteWhatWasSaid records an utterance in the call log, the dialogue
// history, and the peer's display.
func (c *Conversation) noteWhatWasSaid(speaker, message string) {
	c.addToCallLog(LogTranscript, map[string]string{
		"speaker": speaker,
		"message": message,
	})

	c.history = append(c.history, assistant.Message{Role: speaker, Content: message})

	if err := c.call.PushMeta(fmt.Sprintf("%s: %s", speaker, message)); err != nil {
		c.logger.Debug("Failed to push transcript line", "error", err)
	}
}

func (c *Conversation) addToCallLog(event string, meta map[string]string) {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	c.callLog = append(c.callLog, LogEntry{
		Timestamp: time.Now(),
		Event:     event,
		Meta:      meta,
	})
}

func (c *Conversation) endCall() {
	c.endOnce.Do(func() {
		if err := c.call.End(); err != nil {
			c.logger.Debug("Call end failed", "error", err)
		}
	})
}

// drainUntilEnded consumes remaining events after End so the terminal
// event is observed and logged.
func (c *Conversation) drainUntilEnded() {
	for event := range c.call.Events() {
		if event.Kind == call.EventCallEnded {
			break
		}
	}
	c.finish()
}

// finish records call end and hands the log to the owner. Called exactly
// once, on the event loop goroutine.
func (c *Conversation) finish() {
	c.addToCallLog(LogCallEnded, nil)

	if c.onEnd != nil {
		c.onEnd(c.CallLog())
	}
}

// profiled runs one turn stage and pushes its duration to the peer's
// display.
func (c *Conversation) profiled(name string, fn func() (assistant.Response, error)) (assistant.Response, error) {
	start := time.Now()
	response, err := fn()
	if err == nil {
		c.pushTiming(name, time.Since(start))
	}
	return response, err
}

func (c *Conversation) pushTiming(name string, duration time.Duration) {
	if err := c.call.PushMeta(fmt.Sprintf("--- time.%s %d ms", name, duration.Milliseconds())); err != nil {
		c.logger.Debug("Failed to push timing line", "error", err)
	}
}
