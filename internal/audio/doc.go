// Package audio normalizes recordings to 16-bit PCM WAV and splits them into
// size-bounded, independently playable chunks.
package audio
