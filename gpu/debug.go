package gpu

import "log"

// Debug turns on tracing of adapter selection, buffer traffic and
// dispatches.
var Debug bool

// Log prints a trace line. Callers guard it with Debug.
func Log(format string, args ...any) {
	log.Printf("[gpu] "+format, args...)
}
