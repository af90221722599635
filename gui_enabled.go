//go:build gui

package main

import (
	"fmt"
	"os"
	"runtime"

	"illustrator/audio"
	"illustrator/gui"
)

// Audio context initialized on main thread for macOS Core Audio compatibility
var guiAudioCtx audio.Context

func initGUI() {
	actx, err := audio.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	guiAudioCtx = actx
	runtime.LockOSThread()

	app := gui.NewApp(run)
	sink = app
	if err := gui.Run(app); err != nil {
		actx.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	// window and tray are gone; run may still be draining
	gracefulShutdown(0)
}
