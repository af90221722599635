//go:build !linux

package chime

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type cueSet struct {
	shown, failed []byte
}

func toBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

var (
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	once   sync.Once
	set    cueSet

	// read by the device callback
	playing atomic.Pointer[[]byte]
	playPos atomic.Uint32
	playMu  sync.Mutex
)

func cues() cueSet {
	once.Do(initDevice)
	return set
}

func Init() { cues() }

func initDevice() {
	set = cueSet{shown: toBytes(shownCue()), failed: toBytes(failedCue())}

	var err error
	mctx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return
	}
	if err := openDevice(); err != nil {
		mctx.Uninit()
		mctx = nil
	}
}

func openDevice() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = sampleRate

	var err error
	device, err = malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: fill})
	return err
}

func fill(out, _ []byte, frames uint32) {
	want := frames * 2
	n := uint32(0)
	if p := playing.Load(); p != nil {
		pos := playPos.Load()
		n = min(want, uint32(len(*p))-pos)
		copy(out[:n], (*p)[pos:pos+n])
		playPos.Store(pos + n)
		if pos+n >= uint32(len(*p)) {
			playing.Store(nil)
		}
	}
	clear(out[n:want])
}

func play(samples []byte) {
	if mctx == nil || len(samples) == 0 {
		return
	}
	playMu.Lock()
	defer playMu.Unlock()

	device.Stop()
	playPos.Store(0)
	playing.Store(&samples)
	if err := device.Start(); err != nil {
		// devices can go stale across sleep/wake; reopen once
		device.Uninit()
		if openDevice() != nil || device.Start() != nil {
			playing.Store(nil)
		}
	}
}
