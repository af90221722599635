//go:build !linux

package main

import "runtime"

// Core Audio and the GUI event loop both want the main thread.
func init() {
	runtime.LockOSThread()
}
