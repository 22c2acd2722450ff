// Package speech provides the speech-to-text and text-to-speech provider
// clients consumed by the call transports: a batch transcription client for
// containerized utterance audio, a live streaming transcriber over
// websocket, and streaming speech synthesis.
package speech
