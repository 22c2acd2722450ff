package call

import "context"

// Wire tokens exchanged with browser clients as websocket text messages.
// Everything else on the socket is binary audio.
const (
	// TokenEOS marks the end of a user utterance (client to server).
	TokenEOS = "EOS"

	// TokenINT signals the user interrupted assistant playback
	// (client to server).
	TokenINT = "INT"

	// TokenCLR acknowledges an utterance was consumed and tells the client
	// to reset its capture state (server to client).
	TokenCLR = "CLR"

	// TokenRDY tells the client the assistant is ready to listen
	// (server to client).
	TokenRDY = "RDY"
)

// EventKind discriminates call events.
type EventKind int

const (
	// EventUserMessage carries a completed, transcribed user utterance.
	EventUserMessage EventKind = iota

	// EventInterrupt signals the user started speaking over assistant
	// playback.
	EventInterrupt

	// EventCallEnded signals the transport is gone. It is the final event
	// on the channel.
	EventCallEnded
)

// Event is one occurrence on a call. Text is set for EventUserMessage only.
type Event struct {
	Kind EventKind
	Text string
}

// Call is a single two-party voice session. Implementations own the
// transport and surface user activity through Events; the conversation
// engine owns everything above that.
//
// Events is closed after EventCallEnded, which is delivered exactly once
// regardless of whether the peer or End tore the call down.
type Call interface {
	// PushAudio sends assistant audio to the peer. Samples are mono
	// float32 in [-1, 1] at the call's outbound sample rate.
	PushAudio(ctx context.Context, samples []float32) error

	// PushMeta sends a display-only text line to the peer. Transports
	// without a display surface ignore it.
	PushMeta(text string) error

	// IndicateReady tells the peer the assistant is listening. No-op on
	// transports without a readiness signal.
	IndicateReady() error

	// End tears the call down. Safe to call more than once and after the
	// peer has disconnected.
	End() error

	// Events returns the call's event stream.
	Events() <-chan Event
}
