// Package encoder packs captured utterances for upload to speech-to-text
// services. Audio is always 16 kHz mono 16-bit PCM.
package encoder

import "time"

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// Duration is the playing time of n samples.
func Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}
