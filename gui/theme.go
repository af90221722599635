//go:build gui

package gui

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"
)

var palette = map[fyne.ThemeColorName]color.Color{
	theme.ColorNameBackground:      color.RGBA{18, 18, 18, 255},
	theme.ColorNameForeground:      color.RGBA{200, 200, 200, 255},
	theme.ColorNamePrimary:         color.RGBA{255, 175, 0, 255},
	theme.ColorNameMenuBackground:  color.RGBA{28, 28, 28, 255},
	theme.ColorNameInputBackground: color.RGBA{28, 28, 28, 255},
}

// darkTheme keeps the frame out of the way of the picture. Fonts and icons
// come from the embedded default theme.
type darkTheme struct {
	fyne.Theme
}

func newDarkTheme() fyne.Theme {
	return darkTheme{theme.DefaultTheme()}
}

func (t darkTheme) Color(name fyne.ThemeColorName, _ fyne.ThemeVariant) color.Color {
	if c, ok := palette[name]; ok {
		return c
	}
	return t.Theme.Color(name, theme.VariantDark)
}

func (t darkTheme) Size(name fyne.ThemeSizeName) float32 {
	switch name {
	case theme.SizeNameText:
		return 15
	case theme.SizeNamePadding:
		return 6
	}
	return t.Theme.Size(name)
}
