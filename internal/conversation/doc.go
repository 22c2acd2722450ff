// Package conversation implements the turn-taking engine.
//
// A Conversation pairs an assistant with a call: it consumes the call's
// event stream on a single goroutine, runs one transcribe-generate-speak
// turn per user message, and keeps an append-only call log alongside the
// dialogue history. It ends when either side hangs up or the assistant
// selects the end-call tool.
package conversation
