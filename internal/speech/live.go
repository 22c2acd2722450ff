package speech

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LiveEventKind identifies a live transcription event.
type LiveEventKind int

const (
	// LiveOpen signals the provider connection is ready for audio.
	LiveOpen LiveEventKind = iota

	// LiveTranscript carries a transcript fragment.
	LiveTranscript

	// LiveSpeechStarted signals the provider detected the start of speech.
	LiveSpeechStarted

	// LiveUtteranceEnd signals the provider inferred an utterance boundary.
	LiveUtteranceEnd

	// LiveClosed signals the provider connection has closed.
	LiveClosed

	// LiveError carries a provider or transport error.
	LiveError
)

// LiveEvent is one event from a live transcription connection.
type LiveEvent struct {
	Kind        LiveEventKind
	Text        string
	IsFinal     bool
	SpeechFinal bool
	Err         error
}

// LiveTranscriber streams raw audio to a transcription provider and emits
// transcript and speech-boundary events as they are inferred server-side.
type LiveTranscriber interface {
	// Send forwards raw audio bytes in arrival order.
	Send(audio []byte) error

	// Events returns the event stream. The channel is closed when the
	// connection terminates.
	Events() <-chan LiveEvent

	// Close terminates the connection and stops all timers. Idempotent.
	Close() error
}

// LiveConfig contains live transcription connection configuration.
type LiveConfig struct {
	Endpoint          string // websocket URL, e.g. wss://api.deepgram.com/v1/listen
	APIKey            string
	Model             string
	Encoding          string // "mulaw" or "linear16"
	SampleRate        int
	UtteranceEndMS    int
	EndpointingMS     int
	KeepAliveInterval time.Duration
}

// DeepgramLive is a live transcriber over a Deepgram-style streaming
// websocket. Interim results, voice-activity events, and utterance-end
// events are enabled; a periodic keep-alive prevents idle disconnects.
type DeepgramLive struct {
	config LiveConfig
	logger *slog.Logger
	conn   *websocket.Conn
	events chan LiveEvent

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// liveMessage is the provider's JSON frame.
type liveMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// NewDeepgramLive validates the configuration and dials the provider in the
// background. The transcriber emits LiveOpen once the connection is
// confirmed; audio sent before that is rejected, so callers buffer until
// the open event arrives.
func NewDeepgramLive(config LiveConfig, logger *slog.Logger) (*DeepgramLive, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	if config.Encoding != "mulaw" && config.Encoding != "linear16" {
		return nil, fmt.Errorf("unsupported live encoding: %s", config.Encoding)
	}

	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.UtteranceEndMS <= 0 {
		config.UtteranceEndMS = 1000
	}

	if config.EndpointingMS <= 0 {
		config.EndpointingMS = 200
	}

	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = 5 * time.Second
	}

	endpoint, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	query := endpoint.Query()
	query.Set("model", config.Model)
	query.Set("encoding", config.Encoding)
	query.Set("sample_rate", strconv.Itoa(config.SampleRate))
	query.Set("interim_results", "true")
	query.Set("vad_events", "true")
	query.Set("smart_format", "false")
	query.Set("numerals", "true")
	query.Set("endpointing", strconv.Itoa(config.EndpointingMS))
	query.Set("utterance_end_ms", strconv.Itoa(config.UtteranceEndMS))
	endpoint.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+config.APIKey)

	t := &DeepgramLive{
		config: config,
		logger: logger,
		events: make(chan LiveEvent, 32),
		done:   make(chan struct{}),
	}

	go t.connect(endpoint.String(), header)

	return t, nil
}

// connect dials the provider and runs the connection loops. LiveOpen is
// emitted only after the websocket handshake succeeds.
func (t *DeepgramLive) connect(endpoint string, header http.Header) {
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, header)
	if err != nil {
		t.logger.Warn("Failed to dial live transcription endpoint",
			slog.String("error", err.Error()),
		)
		t.emit(LiveEvent{Kind: LiveError, Err: fmt.Errorf("failed to dial live transcription endpoint: %w", err)})
		t.emit(LiveEvent{Kind: LiveClosed})
		close(t.events)
		return
	}

	t.writeMu.Lock()
	select {
	case <-t.done:
		// Closed while the dial was in flight.
		t.writeMu.Unlock()
		_ = conn.Close()
		close(t.events)
		return
	default:
	}
	t.conn = conn
	t.writeMu.Unlock()

	t.emit(LiveEvent{Kind: LiveOpen})

	go t.keepAliveLoop()
	t.readLoop()
}

// Send forwards raw audio bytes to the provider. It fails until LiveOpen
// has been emitted.
func (t *DeepgramLive) Send(audio []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.conn == nil {
		return fmt.Errorf("live connection not established")
	}

	if err := t.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// Events returns the live event stream.
func (t *DeepgramLive) Events() <-chan LiveEvent {
	return t.events
}

// Close requests a clean stream shutdown and tears down the connection.
func (t *DeepgramLive) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		if t.conn != nil {
			_ = t.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
			_ = t.conn.Close()
		}
		t.writeMu.Unlock()
	})
	return nil
}

// readLoop parses provider frames into events until the connection closes.
func (t *DeepgramLive) readLoop() {
	defer close(t.events)

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				// Expected close.
			default:
				t.logger.Warn("Live transcription connection error",
					slog.String("error", err.Error()),
				)
				t.emit(LiveEvent{Kind: LiveError, Err: err})
			}
			t.emit(LiveEvent{Kind: LiveClosed})
			return
		}

		var msg liveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.logger.Warn("Failed to parse live transcription message",
				slog.String("error", err.Error()),
			)
			continue
		}

		switch msg.Type {
		case "Results":
			transcript := ""
			for _, alt := range msg.Channel.Alternatives {
				transcript += alt.Transcript
			}
			t.emit(LiveEvent{
				Kind:        LiveTranscript,
				Text:        transcript,
				IsFinal:     msg.IsFinal,
				SpeechFinal: msg.SpeechFinal,
			})

		case "SpeechStarted":
			t.emit(LiveEvent{Kind: LiveSpeechStarted})

		case "UtteranceEnd":
			t.emit(LiveEvent{Kind: LiveUtteranceEnd})

		case "Metadata":
			// Connection bookkeeping, nothing to surface.

		default:
			t.logger.Debug("Unknown live transcription message type",
				slog.String("type", msg.Type),
			)
		}
	}
}

// keepAliveLoop sends periodic keep-alive frames until close.
func (t *DeepgramLive) keepAliveLoop() {
	ticker := time.NewTicker(t.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// emit delivers an event without blocking a torn-down consumer.
func (t *DeepgramLive) emit(event LiveEvent) {
	select {
	case t.events <- event:
	case <-t.done:
	}
}
