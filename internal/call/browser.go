package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/botany-labs/voice-agent-service/internal/audio"
	"github.com/botany-labs/voice-agent-service/internal/speech"
)

// readyBanner is shown in the browser client's transcript pane.
const readyBanner = "--- Assistant Ready ---"

// BrowserCallConfig contains browser transport configuration.
type BrowserCallConfig struct {
	// SampleRate of audio in both directions, in Hz.
	SampleRate int

	// FrameSize is the number of samples per outbound binary frame.
	FrameSize int

	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration
}

func (c *BrowserCallConfig) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}

	if c.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameSize)
	}

	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}

	return nil
}

// BrowserCall is a Call over a websocket to a browser client that performs
// its own voice activity detection. The client streams binary float32
// little-endian audio and marks utterance boundaries with text tokens; the
// server transcribes each completed utterance in one shot.
type BrowserCall struct {
	conn        *websocket.Conn
	transcriber speech.Transcriber
	config      BrowserCallConfig
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes all writes to the websocket connection.
	writeMu sync.Mutex

	// pendingMu guards the current utterance accumulator.
	pendingMu sync.Mutex
	pending   []float32

	events    chan Event
	endOnce   sync.Once
	endedOnce sync.Once

	// wg tracks in-flight transcriptions so finish can close the event
	// stream after they drain.
	wg sync.WaitGroup
}

// NewBrowserCall wraps an accepted websocket connection. It plays the call
// start tone and begins reading client frames immediately.
func NewBrowserCall(ctx context.Context, conn *websocket.Conn, transcriber speech.Transcriber, config BrowserCallConfig, logger *slog.Logger) (*BrowserCall, error) {
	if conn == nil {
		return nil, fmt.Errorf("websocket connection cannot be nil")
	}

	if transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid browser call config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	callCtx, cancel := context.WithCancel(ctx)

	c := &BrowserCall{
		conn:        conn,
		transcriber: transcriber,
		config:      config,
		logger:      logger,
		ctx:         callCtx,
		cancel:      cancel,
		events:      make(chan Event, 16),
	}

	tone := audio.SynthesizeTone(audio.ToneStartHz, audio.ToneDuration, config.SampleRate)
	if err := c.writeBinary(tone); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to play start tone: %w", err)
	}

	go c.readLoop()

	return c, nil
}

// PushAudio sends assistant audio to the client in fixed-size binary frames.
func (c *BrowserCall) PushAudio(ctx context.Context, samples []float32) error {
	for offset := 0; offset < len(samples); offset += c.config.FrameSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := offset + c.config.FrameSize
		if end > len(samples) {
			end = len(samples)
		}

		if err := c.writeBinary(samples[offset:end]); err != nil {
			return fmt.Errorf("failed to push audio frame: %w", err)
		}
	}

	return nil
}

// PushMeta sends a display-only text line to the client.
func (c *BrowserCall) PushMeta(text string) error {
	return c.writeText(text)
}

// IndicateReady shows the ready banner and tells the client to start
// capturing.
func (c *BrowserCall) IndicateReady() error {
	if err := c.writeText(readyBanner); err != nil {
		return err
	}

	return c.writeText(TokenRDY)
}

// End plays the end tone and closes the connection. Idempotent.
func (c *BrowserCall) End() error {
	var err error
	c.endOnce.Do(func() {
		tone := audio.SynthesizeTone(audio.ToneEndHz, audio.ToneDuration, c.config.SampleRate)
		if toneErr := c.writeBinary(tone); toneErr != nil {
			c.logger.Debug("End tone not delivered", "error", toneErr)
		}

		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Events returns the call's event stream.
func (c *BrowserCall) Events() <-chan Event {
	return c.events
}

// readLoop consumes client frames until the connection closes. Binary
// frames extend the current utterance; text frames are control tokens.
func (c *BrowserCall) readLoop() {
	defer c.finish()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("Browser socket read ended", "error", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.appendPending(audio.BytesToFloat32(data))
		case websocket.TextMessage:
			c.handleToken(string(data))
		}
	}
}

func (c *BrowserCall) handleToken(token string) {
	switch token {
	case TokenEOS:
		c.handleUtteranceEnd()
	case TokenINT:
		c.emit(Event{Kind: EventInterrupt})
	default:
		c.logger.Warn("Unknown token from browser client", "token", token)
	}
}

// handleUtteranceEnd transcribes the accumulated utterance. The accumulator
// is cleared before transcription starts so audio arriving during the
// request belongs to the next utterance. Transcription runs off the read
// loop so interrupt tokens are handled while the request is in flight.
func (c *BrowserCall) handleUtteranceEnd() {
	samples := c.takePending()
	if len(samples) == 0 {
		c.logger.Warn("End of speech with no buffered audio")
		return
	}

	c.wg.Add(1)
	go c.transcribeUtterance(samples)
}

func (c *BrowserCall) transcribeUtterance(samples []float32) {
	defer c.wg.Done()

	start := time.Now()
	text, err := c.transcriber.Transcribe(c.ctx, samples)
	if err != nil {
		c.logger.Error("Transcription failed", "error", err, "samples", len(samples))
		if clrErr := c.writeText(TokenCLR); clrErr != nil {
			c.logger.Debug("Failed to reset client capture state", "error", clrErr)
		}
		return
	}

	if err := c.writeText(TokenCLR); err != nil {
		c.logger.Debug("Failed to reset client capture state", "error", err)
	}

	if err := c.writeText(fmt.Sprintf("--- time.transcribe %d ms", time.Since(start).Milliseconds())); err != nil {
		c.logger.Debug("Failed to push timing line", "error", err)
	}

	c.emit(Event{Kind: EventUserMessage, Text: text})
}

func (c *BrowserCall) appendPending(samples []float32) {
	c.pendingMu.Lock()
	c.pending = append(c.pending, samples...)
	c.pendingMu.Unlock()
}

func (c *BrowserCall) takePending() []float32 {
	c.pendingMu.Lock()
	samples := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	return samples
}

func (c *BrowserCall) writeBinary(samples []float32) error {
	data := audio.Float32ToBytes(samples)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *BrowserCall) writeText(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// finish emits the terminal event and closes the event stream exactly once.
// In-flight transcriptions are drained first so they cannot emit on a
// closed channel.
func (c *BrowserCall) finish() {
	c.endedOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
		c.events <- Event{Kind: EventCallEnded}
		close(c.events)
	})
}

func (c *BrowserCall) emit(event Event) {
	select {
	case c.events <- event:
	case <-c.ctx.Done():
	}
}
