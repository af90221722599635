//go:build gui

// Package gui is the desktop display surface: a single window showing the
// latest illustration with the prompt that produced it.
package gui

import (
	"errors"
	"image"
	"image/color"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

var ErrWindowClosed = errors.New("window closed")

type App struct {
	fyneApp fyne.App
	window  fyne.Window
	image   *canvas.Image
	caption *widget.Label
	meter   *LevelMeter
	onReady func()
	quit    func()
	open    atomic.Bool
}

func NewApp(onReady func()) *App {
	return &App{onReady: onReady}
}

// Run owns the calling (main) thread until the app quits. onReady runs in
// its own goroutine once the window is up.
func Run(a *App) error {
	a.build(app.NewWithID("io.illustrator.gui"))

	if desk, ok := a.fyneApp.(desktop.App); ok {
		menu := fyne.NewMenu("illustrator",
			fyne.NewMenuItem("Quit", func() {
				a.fyneApp.Quit()
			}),
		)
		desk.SetSystemTrayMenu(menu)
		desk.SetSystemTrayIcon(theme.MediaPhotoIcon())
	}

	a.window.Show()
	go a.onReady()

	a.fyneApp.Run()
	a.open.Store(false)
	return nil
}

func (a *App) build(fa fyne.App) {
	a.fyneApp = fa
	a.fyneApp.Settings().SetTheme(newDarkTheme())
	a.window = a.fyneApp.NewWindow("illustrator")

	blank := image.NewUniform(color.RGBA{18, 18, 18, 255})
	a.image = canvas.NewImageFromImage(blank)
	a.image.FillMode = canvas.ImageFillContain
	a.image.ScaleMode = canvas.ImageScaleSmooth

	a.caption = widget.NewLabel("Listening...")
	a.caption.Wrapping = fyne.TextWrapWord
	a.meter = NewLevelMeter()

	footer := container.NewBorder(nil, nil, nil, container.NewCenter(a.meter), a.caption)
	a.window.SetContent(container.NewBorder(nil, footer, nil, nil, a.image))
	a.window.Resize(fyne.NewSize(768, 840))
	a.window.SetCloseIntercept(a.closeWindow)
	if a.quit == nil {
		a.quit = a.fyneApp.Quit
	}
	a.open.Store(true)
}

// closeWindow ends the app: Run returns and the caller shuts down. Open
// reports false from here on so a display already in flight is refused.
func (a *App) closeWindow() {
	a.open.Store(false)
	a.meter.Stop()
	a.window.Hide()
	a.quit()
}

func (a *App) Quit() {
	if a.fyneApp != nil {
		a.fyneApp.Quit()
	}
}

// Open reports whether the window is still up.
func (a *App) Open() bool {
	return a.open.Load()
}

func (a *App) Show(img image.Image) error {
	if !a.open.Load() {
		return ErrWindowClosed
	}
	fyne.Do(func() {
		a.image.Image = img
		a.image.Refresh()
	})
	return nil
}

func (a *App) Caption(text string) {
	fyne.Do(func() {
		if a.caption != nil {
			a.caption.SetText(text)
		}
	})
}

func (a *App) AudioLevel(level float64) {
	if a.meter != nil {
		a.meter.SetLevel(level)
	}
}
