// Package checks terminates command line programs on unrecoverable errors.
package checks

import (
	"runtime/debug"
	"strings"

	"github.com/phuslu/log"
)

// Check exits the process through a fatal log entry when err is not nil. The entry carries
// the stack of the caller.
func Check(err error, message string) {
	if err == nil {
		return
	}
	// drop the debug.Stack and Check frames
	frames := strings.Split(string(debug.Stack()), "\n")
	if len(frames) > 5 {
		frames = frames[5:]
	}
	log.Fatal().Err(err).Str("stack", strings.Join(frames, "\n")).Msg(message)
}
