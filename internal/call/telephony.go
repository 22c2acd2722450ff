package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/botany-labs/voice-agent-service/internal/audio"
	"github.com/botany-labs/voice-agent-service/internal/protocol"
	"github.com/botany-labs/voice-agent-service/internal/speech"
	"github.com/botany-labs/voice-agent-service/internal/vad"
)

// TelephonyCallConfig contains telephony transport configuration.
type TelephonyCallConfig struct {
	// SampleRate of the μ-law media stream, in Hz. Telephony providers
	// use 8000.
	SampleRate int

	// InterruptDelay is how long caller speech must be observed during
	// assistant playback before it counts as a barge-in.
	InterruptDelay time.Duration

	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration

	// Voice optionally gates inbound audio locally. When it reports
	// speech during assistant playback it arms the same barge-in path as
	// the transcriber's speech events, covering providers whose speech
	// detection lags or is disabled.
	Voice *vad.Detector
}

func (c *TelephonyCallConfig) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}

	if c.InterruptDelay <= 0 {
		c.InterruptDelay = time.Second
	}

	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}

	return nil
}

// TelephonyCall is a Call over a provider media-stream websocket. Inbound
// μ-law audio is forwarded to a streaming transcriber, which supplies both
// transcripts and the speech activity signals used for barge-in.
type TelephonyCall struct {
	conn        *websocket.Conn
	transcriber speech.LiveTranscriber
	config      TelephonyCallConfig
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes all writes to the websocket connection.
	writeMu sync.Mutex

	// mu guards the fields below.
	mu sync.Mutex
	// streamSID identifies the provider media stream, set by the start
	// message.
	streamSID string
	// transcriberOpen flips once the transcriber accepts audio; media
	// arriving before that is held in pendingMedia in arrival order.
	transcriberOpen bool
	pendingMedia    [][]byte
	// fragments are final transcript pieces awaiting an utterance end.
	fragments []string
	// speakingUntil is the estimated end of assistant playback.
	speakingUntil time.Time
	// interruptTimer is pending barge-in confirmation, nil when idle.
	interruptTimer *time.Timer
	// markCounter numbers outbound playback marks.
	markCounter int
	// voiceBuf accumulates inbound samples for the local voice gate.
	voiceBuf []int16

	events    chan Event
	endOnce   sync.Once
	endedOnce sync.Once

	// wg tracks the event pump goroutine.
	wg sync.WaitGroup
}

// NewTelephonyCall wraps an accepted media-stream websocket connection and
// begins reading provider messages and transcriber events immediately.
func NewTelephonyCall(ctx context.Context, conn *websocket.Conn, transcriber speech.LiveTranscriber, config TelephonyCallConfig, logger *slog.Logger) (*TelephonyCall, error) {
	if conn == nil {
		return nil, fmt.Errorf("websocket connection cannot be nil")
	}

	if transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid telephony call config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	callCtx, cancel := context.WithCancel(ctx)

	c := &TelephonyCall{
		conn:        conn,
		transcriber: transcriber,
		config:      config,
		logger:      logger,
		ctx:         callCtx,
		cancel:      cancel,
		events:      make(chan Event, 16),
	}

	c.wg.Add(1)
	go c.transcriberLoop()
	go c.readLoop()

	return c, nil
}

// PushAudio converts assistant audio to μ-law, sends it as a media message
// followed by a playback mark, and extends the speaking estimate by the
// audio's duration. The estimate is best effort: the provider buffers
// audio client-side, so playback position is inferred, not reported.
func (c *TelephonyCall) PushAudio(ctx context.Context, samples []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded := audio.MulawEncode(audio.ToPCM16(samples))

	c.mu.Lock()
	streamSID := c.streamSID
	c.markCounter++
	mark := c.markCounter
	c.mu.Unlock()

	if streamSID == "" {
		return fmt.Errorf("media stream not started")
	}

	media, err := protocol.NewMediaMessage(streamSID, encoded)
	if err != nil {
		return fmt.Errorf("failed to build media message: %w", err)
	}

	if err := c.writeMessage(media); err != nil {
		return fmt.Errorf("failed to push media: %w", err)
	}

	markMsg, err := protocol.NewMarkMessage(streamSID, fmt.Sprintf("chunk-%d", mark))
	if err != nil {
		return fmt.Errorf("failed to build mark message: %w", err)
	}

	if err := c.writeMessage(markMsg); err != nil {
		return fmt.Errorf("failed to push mark: %w", err)
	}

	c.extendSpeaking(time.Duration(len(encoded)) * time.Second / time.Duration(c.config.SampleRate))

	return nil
}

// PushMeta is a no-op: the phone has no display surface.
func (c *TelephonyCall) PushMeta(string) error {
	return nil
}

// IndicateReady is a no-op: the provider protocol has no readiness signal.
func (c *TelephonyCall) IndicateReady() error {
	return nil
}

// End tears the call down. Idempotent.
func (c *TelephonyCall) End() error {
	var err error
	c.endOnce.Do(func() {
		c.cancel()
		c.stopInterruptTimer()

		if closeErr := c.transcriber.Close(); closeErr != nil {
			c.logger.Debug("Transcriber close failed", "error", closeErr)
		}

		err = c.conn.Close()
	})
	return err
}

// Events returns the call's event stream.
func (c *TelephonyCall) Events() <-chan Event {
	return c.events
}

// readLoop consumes provider messages until the connection closes.
func (c *TelephonyCall) readLoop() {
	defer c.finish()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("Media stream read ended", "error", err)
			}
			return
		}

		envelope, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.logger.Warn("Unparseable media stream message", "error", err)
			continue
		}

		switch envelope.Event {
		case protocol.EventConnected:
			// Informational only.
		case protocol.EventStart:
			c.handleStart(envelope)
		case protocol.EventMedia:
			c.handleMedia(envelope)
		case protocol.EventDTMF:
			if envelope.DTMF != nil {
				c.logger.Info("DTMF received", "digit", envelope.DTMF.Digit)
			}
		case protocol.EventStop:
			c.logger.Info("Media stream stopped by provider")
			return
		case protocol.EventMark:
			// Playback acknowledgements are not tracked.
		default:
			c.logger.Warn("Unknown media stream event", "event", envelope.Event)
		}
	}
}

func (c *TelephonyCall) handleStart(envelope *protocol.Envelope) {
	c.mu.Lock()
	c.streamSID = envelope.StreamSID
	if c.streamSID == "" && envelope.Start != nil {
		c.streamSID = envelope.Start.StreamSID
	}
	c.mu.Unlock()

	c.logger.Info("Media stream started", "stream_sid", envelope.StreamSID)
}

// handleMedia forwards caller audio to the transcriber, buffering it until
// the transcriber reports open so no early audio is dropped.
func (c *TelephonyCall) handleMedia(envelope *protocol.Envelope) {
	if envelope.Media == nil {
		return
	}

	payload, err := envelope.Media.DecodeMedia()
	if err != nil {
		c.logger.Warn("Undecodable media payload", "error", err)
		return
	}

	c.mu.Lock()
	open := c.transcriberOpen
	if !open {
		c.pendingMedia = append(c.pendingMedia, payload)
	}
	c.mu.Unlock()

	if open {
		if err := c.transcriber.Send(payload); err != nil {
			c.logger.Debug("Failed to forward media to transcriber", "error", err)
		}
	}

	if c.config.Voice != nil {
		c.gateVoice(audio.MulawDecode(payload))
	}
}

// gateVoice feeds inbound samples through the local speech gate in fixed
// windows and treats a voiced window like a provider speech-started event.
func (c *TelephonyCall) gateVoice(samples []int16) {
	window := c.config.Voice.WindowSize()

	c.mu.Lock()
	c.voiceBuf = append(c.voiceBuf, samples...)
	var windows [][]int16
	for len(c.voiceBuf) >= window {
		windows = append(windows, c.voiceBuf[:window])
		c.voiceBuf = c.voiceBuf[window:]
	}
	c.mu.Unlock()

	for _, w := range windows {
		result, err := c.config.Voice.Process(w)
		if err != nil {
			c.logger.Debug("Voice gate rejected window", "error", err)
			return
		}
		if result.HasVoice {
			c.handleSpeechStarted()
		}
	}
}

// transcriberLoop consumes transcriber events until its channel closes.
func (c *TelephonyCall) transcriberLoop() {
	defer c.wg.Done()

	for event := range c.transcriber.Events() {
		switch event.Kind {
		case speech.LiveOpen:
			c.flushPendingMedia()
		case speech.LiveTranscript:
			if event.IsFinal && event.Text != "" {
				c.mu.Lock()
				c.fragments = append(c.fragments, event.Text)
				c.mu.Unlock()
			}
		case speech.LiveUtteranceEnd:
			c.handleUtteranceEnd()
		case speech.LiveSpeechStarted:
			c.handleSpeechStarted()
		case speech.LiveError:
			c.logger.Error("Live transcriber error", "error", event.Err)
		case speech.LiveClosed:
			return
		}
	}
}

// flushPendingMedia drains buffered media and marks the transcriber open
// under one critical section, so a payload arriving mid-flush cannot be
// forwarded ahead of the buffered ones.
func (c *TelephonyCall) flushPendingMedia() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, payload := range c.pendingMedia {
		if err := c.transcriber.Send(payload); err != nil {
			c.logger.Debug("Failed to flush buffered media", "error", err)
			break
		}
	}
	c.pendingMedia = nil
	c.transcriberOpen = true
}

// handleUtteranceEnd joins the collected fragments into one user message.
// Providers split long utterances across several final transcripts; the
// utterance end marker is the real turn boundary.
func (c *TelephonyCall) handleUtteranceEnd() {
	c.mu.Lock()
	fragments := c.fragments
	c.fragments = nil
	c.mu.Unlock()

	if len(fragments) == 0 {
		return
	}

	c.emit(Event{Kind: EventUserMessage, Text: strings.Join(fragments, " ")})
}

// handleSpeechStarted arms the barge-in timer when the caller starts
// speaking during assistant playback. The delay filters out coughs and
// short acknowledgements; if the assistant is still speaking when it
// fires, the interrupt stands.
func (c *TelephonyCall) handleSpeechStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().After(c.speakingUntil) || c.interruptTimer != nil {
		return
	}

	c.interruptTimer = time.AfterFunc(c.config.InterruptDelay, c.confirmInterrupt)
}

func (c *TelephonyCall) confirmInterrupt() {
	c.mu.Lock()
	c.interruptTimer = nil
	speaking := time.Now().Before(c.speakingUntil)
	c.speakingUntil = time.Time{}
	streamSID := c.streamSID
	c.mu.Unlock()

	if !speaking || c.ctx.Err() != nil {
		return
	}

	clearMsg, err := protocol.NewClearMessage(streamSID)
	if err == nil {
		if writeErr := c.writeMessage(clearMsg); writeErr != nil {
			c.logger.Debug("Failed to clear provider playback", "error", writeErr)
		}
	}

	c.emit(Event{Kind: EventInterrupt})
}

func (c *TelephonyCall) extendSpeaking(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.speakingUntil.Before(now) {
		c.speakingUntil = now
	}
	c.speakingUntil = c.speakingUntil.Add(duration)
}

func (c *TelephonyCall) stopInterruptTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interruptTimer != nil {
		c.interruptTimer.Stop()
		c.interruptTimer = nil
	}
}

func (c *TelephonyCall) writeMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// finish emits the terminal event and closes the event stream exactly once.
func (c *TelephonyCall) finish() {
	c.endedOnce.Do(func() {
		c.cancel()
		c.stopInterruptTimer()

		if err := c.transcriber.Close(); err != nil {
			c.logger.Debug("Transcriber close failed", "error", err)
		}
		c.wg.Wait()

		c.events <- Event{Kind: EventCallEnded}
		close(c.events)
	})
}

func (c *TelephonyCall) emit(event Event) {
	select {
	case c.events <- event:
	case <-c.ctx.Done():
	}
}
