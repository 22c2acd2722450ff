// Package call defines the Call abstraction and its transports.
//
// A Call hides how audio and control signals reach the peer. BrowserCall
// speaks a small binary-plus-token websocket protocol to a browser client
// that runs its own voice activity detection; TelephonyCall speaks the
// μ-law media-stream protocol used by telephony providers and leans on a
// streaming transcriber for endpointing. Both surface the same three
// events: a completed user message, an interruption, and call end.
package call
