package ui

import (
	"os"
	"sync"
)

var initOnce sync.Once

// InitTerminal must run before the first lipgloss render. termenv otherwise
// sends an OSC 11 background query whose reply lands in stdout; a preset
// COLORFGBG skips the query.
func InitTerminal() {
	initOnce.Do(func() {
		if os.Getenv("COLORFGBG") == "" {
			_ = os.Setenv("COLORFGBG", "0;15")
		}
	})
}
