package audio

import (
	"os"
	"sync"
	"time"

	"illustrator/encoder"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

type FakeContext struct {
	pcm      []byte
	realtime bool
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	return &FakeContext{pcm: WAVData(data), realtime: realtime}, nil
}

// NewFakeContextPCM replays raw 16-bit little-endian PCM.
func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) { return nil, nil }
func (f *FakeContext) Close()                         {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &FakeCapture{pcm: f.pcm, realtime: f.realtime, audioDone: make(chan struct{})}, nil
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	audioDone chan struct{}
	finished  bool

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone is closed once the whole recording has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioDone
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos int) int {
	end := min(pos+fakeFrameSize*fakeBytesPerFrame, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.finished {
		f.finished = true
		close(f.audioDone)
	}
}

// Start replays the recording. Without realtime pacing the whole file is
// delivered before Start returns; either way silence follows until Stop.
func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	pos := 0
	if !f.realtime {
		if cb := f.callback(); cb != nil {
			for pos < len(f.pcm) {
				pos = f.feedChunk(cb, pos)
			}
		}
		pos = len(f.pcm)
		f.finish()
	}
	go f.feed(pos)
	return nil
}

func (f *FakeCapture) feed(pos int) {
	defer close(f.feedDone)
	tick := time.Millisecond
	if f.realtime {
		tick = encoder.Duration(fakeFrameSize)
	}
	silence := make([]byte, fakeFrameSize*fakeBytesPerFrame)
	for {
		if cb := f.callback(); cb != nil {
			if pos < len(f.pcm) {
				pos = f.feedChunk(cb, pos)
			} else {
				f.finish()
				cb(silence, fakeFrameSize)
			}
		}
		select {
		case <-f.stopCh:
			return
		case <-time.After(tick):
		}
	}
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	if f.feedDone != nil {
		<-f.feedDone
	}
	// a later Start replays from the beginning
	f.mu.Lock()
	f.audioDone = make(chan struct{})
	f.finished = false
	f.mu.Unlock()
}

func (f *FakeCapture) Close() {}
