//go:build !gui

package main

import (
	"fmt"
	"os"

	"illustrator/audio"
)

// Stub for non-GUI builds; openAudio checks it for nil.
var guiAudioCtx audio.Context

func initGUI() {
	fmt.Fprintln(os.Stderr, "illustrator: built without GUI support (rebuild with -tags gui)")
	os.Exit(1)
}
