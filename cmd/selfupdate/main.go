package main

import "github.com/pushchain/selfupdate/internal/ui"

func main() {
	// Initialize terminal FIRST, before any charmbracelet imports are used.
	// This prevents OSC 11 background color queries from polluting the
	// output stream.
	ui.InitTerminal()

	Execute()
}
