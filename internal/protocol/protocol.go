package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Media stream event names used by the telephony provider.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventClear     = "clear"
	EventDTMF      = "dtmf"
)

// Envelope is one JSON message on the telephony media stream socket.
// Inbound messages carry provider events; outbound messages carry media,
// mark, and clear requests.
type Envelope struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`

	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
	Mark  *MarkPayload  `json:"mark,omitempty"`
	DTMF  *DTMFPayload  `json:"dtmf,omitempty"`
}

// StartPayload describes the stream announced by the provider.
type StartPayload struct {
	StreamSID   string      `json:"streamSid"`
	AccountSID  string      `json:"accountSid,omitempty"`
	CallSID     string      `json:"callSid,omitempty"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

// MediaFormat describes the audio encoding of the media stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64-encoded block of audio.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// MarkPayload names a playback mark.
type MarkPayload struct {
	Name string `json:"name"`
}

// DTMFPayload carries a pressed digit.
type DTMFPayload struct {
	Digit string `json:"digit"`
}

// ParseEnvelope decodes one media stream message.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse media stream message: %w", err)
	}

	if env.Event == "" {
		return nil, fmt.Errorf("media stream message missing event field")
	}

	return &env, nil
}

// DecodeMedia returns the raw audio bytes of a media payload.
func (m *MediaPayload) DecodeMedia() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode media payload: %w", err)
	}
	return data, nil
}

// NewMediaMessage builds an outbound media message carrying audio bytes.
func NewMediaMessage(streamSID string, audio []byte) ([]byte, error) {
	env := Envelope{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media: &MediaPayload{
			Payload: base64.StdEncoding.EncodeToString(audio),
		},
	}
	return json.Marshal(env)
}

// NewMarkMessage builds an outbound mark message.
func NewMarkMessage(streamSID, name string) ([]byte, error) {
	env := Envelope{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      &MarkPayload{Name: name},
	}
	return json.Marshal(env)
}

// NewClearMessage builds an outbound request to drop buffered playback audio.
func NewClearMessage(streamSID string) ([]byte, error) {
	env := Envelope{
		Event:     EventClear,
		StreamSID: streamSID,
	}
	return json.Marshal(env)
}

// TwiMLDocument returns the connect/stream TwiML that points a PSTN call at
// the given media stream websocket URL.
func TwiMLDocument(wssURL string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" ?>
<Response>
<Connect>
    <Stream url="%s">
    </Stream>
</Connect>
</Response>`, wssURL)
}
