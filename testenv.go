package main

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"illustrator/audio"
	"illustrator/log"
)

// testLinger is how long test mode keeps running after the WAV ends when
// stdin gives no further commands, enough for one gating cycle and a render.
const testLinger = 45 * time.Second

// driveTestMode reads commands from in while a WAV file replays through the
// fake capture device:
//
//	WAIT_AUDIO_DONE  block until the WAV has been fully delivered
//	SLEEP <ms>       pause the script
//	QUIT             end the session
//
// End of input waits for the audio, lingers, then ends the session.
func driveTestMode(in io.Reader, capture *audio.FakeCapture, quit func()) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "":
		case cmd == "WAIT_AUDIO_DONE":
			<-capture.AudioDone()
		case cmd == "QUIT":
			quit()
			return
		case strings.HasPrefix(cmd, "SLEEP "):
			if ms, err := strconv.Atoi(cmd[6:]); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		default:
			log.Warnf("test mode: unknown command %q", cmd)
		}
	}
	<-capture.AudioDone()
	log.Info("test audio finished")
	time.Sleep(testLinger)
	quit()
}
