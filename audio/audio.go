package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
)

const WAVHeaderSize = 44

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// Samples converts little-endian 16-bit PCM into samples. A trailing odd byte
// is dropped.
func Samples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// Amplify scales samples by gain with saturation and returns them as
// little-endian PCM bytes.
func Amplify(samples []int16, gain int32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := min(max(int32(s)*gain, math.MinInt16), math.MaxInt16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// RMS is the root mean square of samples normalized to [-1, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		normalized := float64(s) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}

// WAVData returns the PCM payload of a RIFF/WAVE file. Files without a
// "data" chunk fall back to skipping the canonical 44-byte header.
func WAVData(file []byte) []byte {
	if len(file) >= 12 && string(file[0:4]) == "RIFF" && string(file[8:12]) == "WAVE" {
		pos := 12
		for pos+8 <= len(file) {
			id := file[pos : pos+4]
			size := int(binary.LittleEndian.Uint32(file[pos+4 : pos+8]))
			pos += 8
			if bytes.Equal(id, []byte("data")) {
				end := min(pos+size, len(file))
				return file[pos:end]
			}
			pos += size + size%2
		}
	}
	if len(file) > WAVHeaderSize {
		return file[WAVHeaderSize:]
	}
	return nil
}
