package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseEnvelopeMedia(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x7F, 0x00})
	raw := `{"event":"media","streamSid":"MZ123","media":{"payload":"` + payload + `"}}`

	env, err := ParseEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}

	if env.Event != EventMedia {
		t.Errorf("expected event media, got %s", env.Event)
	}

	if env.StreamSID != "MZ123" {
		t.Errorf("expected streamSid MZ123, got %s", env.StreamSID)
	}

	audio, err := env.Media.DecodeMedia()
	if err != nil {
		t.Fatalf("DecodeMedia failed: %v", err)
	}

	if len(audio) != 3 || audio[0] != 0xFF {
		t.Errorf("unexpected decoded audio: %v", audio)
	}
}

func TestParseEnvelopeStart(t *testing.T) {
	raw := `{"event":"start","start":{"streamSid":"MZ9","mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`

	env, err := ParseEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}

	if env.Start == nil {
		t.Fatal("expected start payload")
	}

	if env.Start.MediaFormat.SampleRate != 8000 {
		t.Errorf("expected sample rate 8000, got %d", env.Start.MediaFormat.SampleRate)
	}
}

func TestParseEnvelopeRejectsMissingEvent(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"streamSid":"MZ1"}`)); err == nil {
		t.Error("expected error for missing event")
	}

	if _, err := ParseEnvelope([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestNewMediaMessageRoundTrip(t *testing.T) {
	audio := []byte{1, 2, 3, 4}

	raw, err := NewMediaMessage("MZ42", audio)
	if err != nil {
		t.Fatalf("NewMediaMessage failed: %v", err)
	}

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}

	decoded, err := env.Media.DecodeMedia()
	if err != nil {
		t.Fatalf("DecodeMedia failed: %v", err)
	}

	if string(decoded) != string(audio) {
		t.Errorf("expected %v, got %v", audio, decoded)
	}
}

func TestNewClearMessage(t *testing.T) {
	raw, err := NewClearMessage("MZ42")
	if err != nil {
		t.Fatalf("NewClearMessage failed: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if env.Event != EventClear || env.StreamSID != "MZ42" {
		t.Errorf("unexpected clear message: %+v", env)
	}
}

func TestNewMarkMessage(t *testing.T) {
	raw, err := NewMarkMessage("MZ42", "audio-1")
	if err != nil {
		t.Fatalf("NewMarkMessage failed: %v", err)
	}

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}

	if env.Mark == nil || env.Mark.Name != "audio-1" {
		t.Errorf("unexpected mark message: %+v", env)
	}
}

func TestTwiMLDocument(t *testing.T) {
	doc := TwiMLDocument("wss://example.com/stream")

	if !strings.Contains(doc, `<Stream url="wss://example.com/stream">`) {
		t.Errorf("TwiML missing stream URL: %s", doc)
	}

	if !strings.HasPrefix(doc, `<?xml version="1.0" encoding="UTF-8" ?>`) {
		t.Errorf("TwiML missing XML declaration: %s", doc)
	}
}
