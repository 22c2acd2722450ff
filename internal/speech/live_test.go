package speech

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeLiveServer upgrades connections and replays canned provider frames
// after receiving the first audio message.
func fakeLiveServer(t *testing.T, frames []string, received chan<- []byte) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token live-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		query := r.URL.Query()
		if query.Get("encoding") != "mulaw" || query.Get("sample_rate") != "8000" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// Wait for one binary audio message before replaying frames.
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.BinaryMessage && received != nil {
			received <- data
		}

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}

		// Drain until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testLiveConfig(endpoint string) LiveConfig {
	return LiveConfig{
		Endpoint:          endpoint,
		APIKey:            "live-key",
		Model:             "nova-2",
		Encoding:          "mulaw",
		SampleRate:        8000,
		KeepAliveInterval: time.Minute,
	}
}

func collectEvents(t *testing.T, transcriber LiveTranscriber, want int) []LiveEvent {
	t.Helper()

	var events []LiveEvent
	timeout := time.After(2 * time.Second)
	for len(events) < want {
		select {
		case event, ok := <-transcriber.Events():
			if !ok {
				return events
			}
			events = append(events, event)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d of %d", len(events), want)
		}
	}
	return events
}

func TestDeepgramLiveTranscriptFlow(t *testing.T) {
	frames := []string{
		`{"type":"SpeechStarted"}`,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello world"}]}}`,
		`{"type":"UtteranceEnd"}`,
	}

	received := make(chan []byte, 1)
	server := fakeLiveServer(t, frames, received)
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transcriber, err := NewDeepgramLive(testLiveConfig(wsURL(server)), logger)
	if err != nil {
		t.Fatalf("NewDeepgramLive failed: %v", err)
	}
	defer transcriber.Close()

	// The dial runs in the background; wait for the open confirmation
	// before sending audio.
	events := collectEvents(t, transcriber, 1)
	if events[0].Kind != LiveOpen {
		t.Fatalf("expected first event LiveOpen, got %v", events[0].Kind)
	}

	if err := transcriber.Send([]byte{0xFF, 0xFE}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case data := <-received:
		if len(data) != 2 {
			t.Errorf("expected 2 audio bytes at server, got %d", len(data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received audio")
	}

	// The 4 replayed frames.
	events = collectEvents(t, transcriber, 4)

	if events[0].Kind != LiveSpeechStarted {
		t.Errorf("expected LiveSpeechStarted, got %v", events[0].Kind)
	}

	if events[1].Kind != LiveTranscript || events[1].IsFinal {
		t.Errorf("expected interim transcript, got %+v", events[1])
	}

	if events[2].Kind != LiveTranscript || !events[2].IsFinal || events[2].Text != "hello world" {
		t.Errorf("expected final transcript 'hello world', got %+v", events[2])
	}

	if events[3].Kind != LiveUtteranceEnd {
		t.Errorf("expected LiveUtteranceEnd, got %v", events[3].Kind)
	}
}

func TestDeepgramLiveCloseIsIdempotent(t *testing.T) {
	server := fakeLiveServer(t, nil, nil)
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transcriber, err := NewDeepgramLive(testLiveConfig(wsURL(server)), logger)
	if err != nil {
		t.Fatalf("NewDeepgramLive failed: %v", err)
	}

	if err := transcriber.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}

	if err := transcriber.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestNewDeepgramLiveValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := testLiveConfig("ws://localhost:1")

	missing := base
	missing.APIKey = ""
	if _, err := NewDeepgramLive(missing, logger); err == nil {
		t.Error("expected error for missing API key")
	}

	missing = base
	missing.Model = ""
	if _, err := NewDeepgramLive(missing, logger); err == nil {
		t.Error("expected error for missing model")
	}

	missing = base
	missing.Encoding = "opus"
	if _, err := NewDeepgramLive(missing, logger); err == nil {
		t.Error("expected error for unsupported encoding")
	}
}

func TestDeepgramLiveSendBeforeOpenFails(t *testing.T) {
	// Hold the handshake open so the dial cannot complete yet.
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()
	defer close(release)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transcriber, err := NewDeepgramLive(testLiveConfig(wsURL(server)), logger)
	if err != nil {
		t.Fatalf("NewDeepgramLive failed: %v", err)
	}
	defer transcriber.Close()

	if err := transcriber.Send([]byte{0xFF}); err == nil {
		t.Error("expected Send before the connection opens to fail")
	}
}

func TestDeepgramLiveDialFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transcriber, err := NewDeepgramLive(testLiveConfig("ws://127.0.0.1:1"), logger)
	if err != nil {
		t.Fatalf("NewDeepgramLive failed: %v", err)
	}
	defer transcriber.Close()

	events := collectEvents(t, transcriber, 2)
	if events[0].Kind != LiveError || events[0].Err == nil {
		t.Errorf("expected LiveError with cause, got %+v", events[0])
	}
	if events[1].Kind != LiveClosed {
		t.Errorf("expected LiveClosed after dial failure, got %v", events[1].Kind)
	}

	select {
	case _, ok := <-transcriber.Events():
		if ok {
			t.Error("expected event channel to close after dial failure")
		}
	case <-time.After(2 * time.Second):
		t.Error("event channel never closed after dial failure")
	}
}
