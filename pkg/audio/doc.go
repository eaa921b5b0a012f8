// Package audio holds the PCM primitives shared by the capture pipeline, the
// playback timeline and the realtime transport: frame and buffer types, the
// base64 PCM codec and sample-rate conversion.
//
// Microphone audio travels as 16 kHz mono 16-bit little-endian PCM; model
// speech arrives as 24 kHz PCM of the same layout.
package audio
