package call

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/botany-labs/voice-agent-service/internal/audio"
	"github.com/botany-labs/voice-agent-service/internal/protocol"
	"github.com/botany-labs/voice-agent-service/internal/speech"
	"github.com/botany-labs/voice-agent-service/internal/vad"
)

type fakeLiveTranscriber struct {
	mu     sync.Mutex
	sent   [][]byte
	events chan speech.LiveEvent
	once   sync.Once
}

func newFakeLiveTranscriber() *fakeLiveTranscriber {
	return &fakeLiveTranscriber{events: make(chan speech.LiveEvent, 32)}
}

func (f *fakeLiveTranscriber) Send(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, audio)
	return nil
}

func (f *fakeLiveTranscriber) Events() <-chan speech.LiveEvent {
	return f.events
}

func (f *fakeLiveTranscriber) Close() error {
	f.once.Do(func() {
		f.events <- speech.LiveEvent{Kind: speech.LiveClosed}
		close(f.events)
	})
	return nil
}

func (f *fakeLiveTranscriber) emit(event speech.LiveEvent) {
	f.events <- event
}

func (f *fakeLiveTranscriber) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testTelephonyConfig() TelephonyCallConfig {
	return TelephonyCallConfig{
		SampleRate:     8000,
		InterruptDelay: 50 * time.Millisecond,
		WriteTimeout:   2 * time.Second,
	}
}

func newTelephonyCallForTest(t *testing.T) (*TelephonyCall, *websocket.Conn, *fakeLiveTranscriber) {
	t.Helper()

	server, client := wsPair(t)
	transcriber := newFakeLiveTranscriber()

	c, err := NewTelephonyCall(context.Background(), server, transcriber, testTelephonyConfig(), slog.Default())
	if err != nil {
		t.Fatalf("NewTelephonyCall failed: %v", err)
	}
	t.Cleanup(func() { c.End() })

	return c, client, transcriber
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, envelope protocol.Envelope) {
	t.Helper()

	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("client write failed: %v", err)
	}
}

func startStream(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	writeEnvelope(t, conn, protocol.Envelope{
		Event:     protocol.EventStart,
		StreamSID: "MZ-test-stream",
		Start:     &protocol.StartPayload{StreamSID: "MZ-test-stream"},
	})
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}

	envelope, err := protocol.ParseEnvelope(data)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	return envelope
}

func TestTelephonyCallBuffersMediaUntilTranscriberOpen(t *testing.T) {
	_, client, transcriber := newTelephonyCallForTest(t)

	startStream(t, client)

	first := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02})
	second := base64.StdEncoding.EncodeToString([]byte{0x03, 0x04})
	writeEnvelope(t, client, protocol.Envelope{Event: protocol.EventMedia, Media: &protocol.MediaPayload{Payload: first}})
	writeEnvelope(t, client, protocol.Envelope{Event: protocol.EventMedia, Media: &protocol.MediaPayload{Payload: second}})

	// Give the reader time to buffer before the transcriber opens.
	time.Sleep(50 * time.Millisecond)
	if transcriber.sentCount() != 0 {
		t.Fatal("media forwarded before transcriber opened")
	}

	transcriber.emit(speech.LiveEvent{Kind: speech.LiveOpen})

	deadline := time.Now().Add(time.Second)
	for transcriber.sentCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	transcriber.mu.Lock()
	defer transcriber.mu.Unlock()
	if len(transcriber.sent) != 2 {
		t.Fatalf("expected 2 buffered payloads forwarded, got %d", len(transcriber.sent))
	}
	if transcriber.sent[0][0] != 0x01 || transcriber.sent[1][0] != 0x03 {
		t.Error("buffered media forwarded out of order")
	}
}

func TestTelephonyCallJoinsTranscriptFragments(t *testing.T) {
	c, _, transcriber := newTelephonyCallForTest(t)

	transcriber.emit(speech.LiveEvent{Kind: speech.LiveTranscript, Text: "I would like", IsFinal: true})
	transcriber.emit(speech.LiveEvent{Kind: speech.LiveTranscript, Text: "ignored interim", IsFinal: false})
	transcriber.emit(speech.LiveEvent{Kind: speech.LiveTranscript, Text: "a large pizza", IsFinal: true})
	transcriber.emit(speech.LiveEvent{Kind: speech.LiveUtteranceEnd})

	event := waitEvent(t, c.Events())
	if event.Kind != EventUserMessage {
		t.Fatalf("expected user message event, got kind %d", event.Kind)
	}
	if event.Text != "I would like a large pizza" {
		t.Errorf("unexpected joined transcript: %q", event.Text)
	}
}

func TestTelephonyCallEmptyUtteranceEndIgnored(t *testing.T) {
	c, _, transcriber := newTelephonyCallForTest(t)

	transcriber.emit(speech.LiveEvent{Kind: speech.LiveUtteranceEnd})

	select {
	case event := <-c.Events():
		t.Fatalf("expected no event for empty utterance end, got kind %d", event.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTelephonyCallPushAudio(t *testing.T) {
	c, client, _ := newTelephonyCallForTest(t)

	startStream(t, client)

	// Wait until the start message registers the stream SID.
	samples := make([]float32, 800)
	deadline := time.Now().Add(time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = c.PushAudio(context.Background(), samples); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("PushAudio failed: %v", err)
	}

	media := readEnvelope(t, client)
	if media.Event != protocol.EventMedia {
		t.Fatalf("expected media message, got %q", media.Event)
	}
	if media.StreamSID != "MZ-test-stream" {
		t.Errorf("unexpected stream SID: %q", media.StreamSID)
	}

	payload, decodeErr := media.Media.DecodeMedia()
	if decodeErr != nil {
		t.Fatalf("decode media payload: %v", decodeErr)
	}
	if len(payload) != len(samples) {
		t.Errorf("expected %d μ-law bytes, got %d", len(samples), len(payload))
	}
	if payload[0] != 0xFF {
		t.Errorf("expected μ-law silence 0xFF, got 0x%02X", payload[0])
	}

	mark := readEnvelope(t, client)
	if mark.Event != protocol.EventMark {
		t.Fatalf("expected mark after media, got %q", mark.Event)
	}
	if mark.Mark == nil || mark.Mark.Name == "" {
		t.Error("expected named playback mark")
	}
}

func TestTelephonyCallPushAudioBeforeStart(t *testing.T) {
	c, _, _ := newTelephonyCallForTest(t)

	if err := c.PushAudio(context.Background(), make([]float32, 160)); err == nil {
		t.Error("expected error before stream start")
	}
}

func TestTelephonyCallBargeIn(t *testing.T) {
	c, client, transcriber := newTelephonyCallForTest(t)

	startStream(t, client)

	// Two seconds of audio keeps the speaking estimate alive well past
	// the interrupt delay.
	samples := make([]float32, 16000)
	deadline := time.Now().Add(time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = c.PushAudio(context.Background(), samples); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("PushAudio failed: %v", err)
	}

	readEnvelope(t, client) // media
	readEnvelope(t, client) // mark

	transcriber.emit(speech.LiveEvent{Kind: speech.LiveSpeechStarted})

	event := waitEvent(t, c.Events())
	if event.Kind != EventInterrupt {
		t.Fatalf("expected interrupt event, got kind %d", event.Kind)
	}

	cleared := readEnvelope(t, client)
	if cleared.Event != protocol.EventClear {
		t.Errorf("expected clear message on barge-in, got %q", cleared.Event)
	}
}

func TestTelephonyCallVoiceGateBargeIn(t *testing.T) {
	server, client := wsPair(t)
	transcriber := newFakeLiveTranscriber()

	gate, err := vad.NewDetector(0.1, 160, 8000)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	config := testTelephonyConfig()
	config.Voice = gate

	c, err := NewTelephonyCall(context.Background(), server, transcriber, config, slog.Default())
	if err != nil {
		t.Fatalf("NewTelephonyCall failed: %v", err)
	}
	t.Cleanup(func() { c.End() })

	startStream(t, client)

	samples := make([]float32, 16000)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if err = c.PushAudio(context.Background(), samples); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("PushAudio failed: %v", err)
	}

	readEnvelope(t, client) // media
	readEnvelope(t, client) // mark

	// Caller silence must not arm the gate.
	silence := base64.StdEncoding.EncodeToString(audio.MulawEncode(make([]int16, 160)))
	writeEnvelope(t, client, protocol.Envelope{Event: protocol.EventMedia, Media: &protocol.MediaPayload{Payload: silence}})

	select {
	case event := <-c.Events():
		t.Fatalf("expected no interrupt for silent caller audio, got kind %d", event.Kind)
	case <-time.After(100 * time.Millisecond):
	}

	// Two windows of loud caller audio trip the gate.
	loud := make([]int16, 320)
	for i := range loud {
		loud[i] = 8000
	}
	payload := base64.StdEncoding.EncodeToString(audio.MulawEncode(loud))
	writeEnvelope(t, client, protocol.Envelope{Event: protocol.EventMedia, Media: &protocol.MediaPayload{Payload: payload}})

	event := waitEvent(t, c.Events())
	if event.Kind != EventInterrupt {
		t.Fatalf("expected interrupt from voice gate, got kind %d", event.Kind)
	}

	cleared := readEnvelope(t, client)
	if cleared.Event != protocol.EventClear {
		t.Errorf("expected clear message on barge-in, got %q", cleared.Event)
	}
}

func TestTelephonyCallSpeechStartedWhileSilentIgnored(t *testing.T) {
	c, _, transcriber := newTelephonyCallForTest(t)

	transcriber.emit(speech.LiveEvent{Kind: speech.LiveSpeechStarted})

	select {
	case event := <-c.Events():
		t.Fatalf("expected no interrupt while assistant silent, got kind %d", event.Kind)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestTelephonyCallStopEndsCall(t *testing.T) {
	c, client, _ := newTelephonyCallForTest(t)

	startStream(t, client)
	writeEnvelope(t, client, protocol.Envelope{Event: protocol.EventStop})

	event := waitEvent(t, c.Events())
	if event.Kind != EventCallEnded {
		t.Fatalf("expected call ended event, got kind %d", event.Kind)
	}

	if _, ok := <-c.Events(); ok {
		t.Error("expected event channel closed after call ended")
	}
}

func TestTelephonyCallMetaAndReadyAreNoOps(t *testing.T) {
	c, _, _ := newTelephonyCallForTest(t)

	if err := c.PushMeta("not displayed"); err != nil {
		t.Errorf("PushMeta should be a no-op, got %v", err)
	}
	if err := c.IndicateReady(); err != nil {
		t.Errorf("IndicateReady should be a no-op, got %v", err)
	}
}

func TestTelephonyCallMediaRoundTripsSynthesis(t *testing.T) {
	// A μ-law synthesis body streamed through the frame pipeline must reach
	// the wire byte-for-byte: one media byte per source byte, same values.
	c, client, _ := newTelephonyCallForTest(t)

	startStream(t, client)

	samples := make([]int16, 2400)
	for i := range samples {
		samples[i] = int16((i%80)*100 - 2000)
	}
	body := audio.MulawEncode(samples)

	config := audio.FrameWriterConfig{
		SampleRate: 8000,
		FrameSize:  160,
		MinBuffer:  100 * time.Millisecond,
		Encoding:   audio.EncodingMulaw,
	}

	// Wait until the start message registers the stream SID.
	deadline := time.Now().Add(time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = c.PushAudio(context.Background(), nil); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("stream never started: %v", err)
	}
	for i := 0; i < 2; i++ {
		readEnvelope(t, client) // drain the empty media and its mark
	}

	if _, err := audio.StreamFrames(context.Background(), bytes.NewReader(body), c, config); err != nil {
		t.Fatalf("StreamFrames failed: %v", err)
	}

	var wire []byte
	for len(wire) < len(body) {
		envelope := readEnvelope(t, client)
		switch envelope.Event {
		case protocol.EventMedia:
			payload, err := envelope.Media.DecodeMedia()
			if err != nil {
				t.Fatalf("decode media payload: %v", err)
			}
			wire = append(wire, payload...)
		case protocol.EventMark:
		default:
			t.Fatalf("unexpected envelope %q", envelope.Event)
		}
	}

	if !bytes.Equal(wire, body) {
		t.Fatalf("wire audio differs from synthesized body: %d vs %d bytes", len(wire), len(body))
	}
}

// gatedLiveTranscriber stalls the first Send until released, holding the
// flush of buffered media open while more media arrives.
type gatedLiveTranscriber struct {
	fakeLiveTranscriber
	gate     chan struct{}
	released sync.Once
}

func (g *gatedLiveTranscriber) Send(audio []byte) error {
	<-g.gate
	return g.fakeLiveTranscriber.Send(audio)
}

func (g *gatedLiveTranscriber) release() {
	g.released.Do(func() { close(g.gate) })
}

func TestTelephonyCallMediaDuringFlushKeepsOrder(t *testing.T) {
	server, client := wsPair(t)
	transcriber := &gatedLiveTranscriber{
		fakeLiveTranscriber: fakeLiveTranscriber{events: make(chan speech.LiveEvent, 32)},
		gate:                make(chan struct{}),
	}

	c, err := NewTelephonyCall(context.Background(), server, transcriber, testTelephonyConfig(), slog.Default())
	if err != nil {
		t.Fatalf("NewTelephonyCall failed: %v", err)
	}
	t.Cleanup(func() {
		transcriber.release()
		c.End()
	})

	startStream(t, client)

	payloads := [][]byte{{0x01}, {0x02}, {0x03}}
	for _, p := range payloads[:2] {
		writeEnvelope(t, client, protocol.Envelope{
			Event: protocol.EventMedia,
			Media: &protocol.MediaPayload{Payload: base64.StdEncoding.EncodeToString(p)},
		})
	}

	// Let both payloads buffer, then open the transcriber so the flush
	// starts and stalls on the gated Send.
	time.Sleep(50 * time.Millisecond)
	transcriber.emit(speech.LiveEvent{Kind: speech.LiveOpen})
	time.Sleep(50 * time.Millisecond)

	// A payload arriving while the flush is in progress must not overtake
	// the buffered ones.
	writeEnvelope(t, client, protocol.Envelope{
		Event: protocol.EventMedia,
		Media: &protocol.MediaPayload{Payload: base64.StdEncoding.EncodeToString(payloads[2])},
	})
	time.Sleep(50 * time.Millisecond)

	if n := transcriber.sentCount(); n != 0 {
		t.Fatalf("expected no forwards while flush is stalled, got %d", n)
	}

	transcriber.release()

	deadline := time.Now().Add(time.Second)
	for transcriber.sentCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	transcriber.mu.Lock()
	defer transcriber.mu.Unlock()
	if len(transcriber.sent) != 3 {
		t.Fatalf("expected 3 payloads forwarded, got %d", len(transcriber.sent))
	}
	for i, p := range payloads {
		if transcriber.sent[i][0] != p[0] {
			t.Fatalf("payload %d forwarded out of order: got 0x%02X", i, transcriber.sent[i][0])
		}
	}
}
