package encoder

import (
	"bytes"
	"fmt"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// EncodeFlac encodes a complete utterance as a FLAC stream, one frame per
// BlockSize samples. The sample count is known up front, so the stream
// header carries it even though the output is not seekable.
func EncodeFlac(samples []int16) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := flac.NewEncoder(&buf, &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
		NSamples:      uint64(len(samples)),
	})
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)

	for i := 0; i < len(samples); i += BlockSize {
		block := samples[i:min(i+BlockSize, len(samples))]
		if err := enc.WriteFrame(monoFrame(block)); err != nil {
			return nil, fmt.Errorf("writing flac frame at sample %d: %w", i, err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing flac stream: %w", err)
	}
	return buf.Bytes(), nil
}

// monoFrame wraps a block in a single verbatim subframe; the encoder's
// prediction analysis picks a tighter coding when one exists.
func monoFrame(block []int16) *frame.Frame {
	wide := make([]int32, len(block))
	for i, s := range block {
		wide[i] = int32(s)
	}
	return &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   wide,
			NSamples:  len(block),
		}},
	}
}
