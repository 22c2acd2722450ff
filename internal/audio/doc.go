// Package audio handles sample format conversion, WAV container encoding,
// G.711 mu-law companding, and the streaming frame pipeline that turns
// provider audio byte streams into fixed-size playable frames.
package audio
