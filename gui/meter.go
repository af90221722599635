//go:build gui

package gui

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
)

const meterCells = 24

var (
	meterOff   = color.RGBA{48, 48, 48, 255}
	meterTones = []color.Color{
		color.RGBA{80, 200, 120, 255},
		color.RGBA{255, 175, 0, 255},
		color.RGBA{215, 0, 0, 255},
	}
)

// LevelMeter is a horizontal microphone level bar.
type LevelMeter struct {
	widget.BaseWidget
	mu     sync.Mutex
	level  float64
	stopCh chan struct{}
}

func NewLevelMeter() *LevelMeter {
	m := &LevelMeter{stopCh: make(chan struct{})}
	m.ExtendBaseWidget(m)
	go m.animate()
	return m
}

// SetLevel is safe to call from any goroutine.
func (m *LevelMeter) SetLevel(l float64) {
	m.mu.Lock()
	m.level = smoothLevel(m.level, l)
	m.mu.Unlock()
}

func (m *LevelMeter) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}

func (m *LevelMeter) animate() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			fyne.Do(func() {
				m.Refresh()
			})
		}
	}
}

func (m *LevelMeter) MinSize() fyne.Size {
	return fyne.NewSize(meterCells*6, 12)
}

func (m *LevelMeter) CreateRenderer() fyne.WidgetRenderer {
	r := &meterRenderer{meter: m}
	r.cells = make([]*canvas.Rectangle, meterCells)
	for i := range r.cells {
		r.cells[i] = canvas.NewRectangle(meterOff)
	}
	return r
}

type meterRenderer struct {
	meter *LevelMeter
	cells []*canvas.Rectangle
}

func (r *meterRenderer) Layout(size fyne.Size) {
	w := size.Width / meterCells
	for i, c := range r.cells {
		c.Move(fyne.NewPos(float32(i)*w, 0))
		c.Resize(fyne.NewSize(w-1, size.Height))
	}
}

func (r *meterRenderer) MinSize() fyne.Size {
	return r.meter.MinSize()
}

func (r *meterRenderer) Refresh() {
	r.meter.mu.Lock()
	lit := litCells(r.meter.level, meterCells)
	r.meter.mu.Unlock()

	for i, c := range r.cells {
		var fill color.Color = meterOff
		if i < lit {
			fill = meterTones[cellTone(i, meterCells)]
		}
		c.FillColor = fill
		c.Refresh()
	}
}

func (r *meterRenderer) Objects() []fyne.CanvasObject {
	objs := make([]fyne.CanvasObject, len(r.cells))
	for i, c := range r.cells {
		objs[i] = c
	}
	return objs
}

func (r *meterRenderer) Destroy() {
	r.meter.Stop()
}
