// Package vad implements a lightweight energy-based speech gate.
//
// It exists as a fallback for transports whose transcription provider does
// not report speech activity: the detector watches inbound caller audio
// and flags windows whose smoothed RMS energy crosses a threshold, which
// the call layer can treat like a provider speech-started signal.
package vad
