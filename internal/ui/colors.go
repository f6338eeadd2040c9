package ui

import (
	"os"
	"strings"
)

// ANSI escapes used by the theme.
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"

	Cyan         = "\033[36m"
	BrightBlack  = "\033[90m"
	BrightRed    = "\033[91m"
	BrightGreen  = "\033[92m"
	BrightYellow = "\033[93m"
	BrightCyan   = "\033[96m"
)

// Theme maps output roles to escapes. An empty escape leaves text unstyled.
type Theme struct {
	Success, Warning, Error, Info string
	Header, Label, Value          string
	Description, Separator        string
	Progress, Complete            string
}

// DefaultTheme keeps labels in the terminal's default color so they read on
// light and dark backgrounds.
func DefaultTheme() *Theme {
	return &Theme{
		Success:     BrightGreen,
		Warning:     BrightYellow,
		Error:       BrightRed,
		Info:        BrightCyan,
		Header:      Bold + Cyan,
		Label:       Bold,
		Description: BrightBlack,
		Separator:   BrightBlack,
		Progress:    BrightYellow,
		Complete:    BrightGreen,
	}
}

// ColorConfig manages color output settings
type ColorConfig struct {
	Enabled      bool
	EmojiEnabled bool
	Theme        *Theme
}

// NewColorConfig creates a new color configuration with default settings
func NewColorConfig() *ColorConfig {
	noColor := os.Getenv("NO_COLOR") != ""
	term := os.Getenv("TERM")

	// Disable colors if NO_COLOR is set or TERM is dumb
	enabled := !noColor && term != "dumb" && term != ""

	return &ColorConfig{
		Enabled:      enabled,
		EmojiEnabled: true,
		Theme:        DefaultTheme(),
	}
}

// Apply applies a color to text if colors are enabled
func (c *ColorConfig) Apply(color, text string) string {
	if !c.Enabled || color == "" {
		return text
	}
	return color + text + Reset
}

func (c *ColorConfig) Success(text string) string     { return c.Apply(c.Theme.Success, text) }
func (c *ColorConfig) Warning(text string) string     { return c.Apply(c.Theme.Warning, text) }
func (c *ColorConfig) Error(text string) string       { return c.Apply(c.Theme.Error, text) }
func (c *ColorConfig) Info(text string) string        { return c.Apply(c.Theme.Info, text) }
func (c *ColorConfig) Header(text string) string      { return c.Apply(c.Theme.Header, text) }
func (c *ColorConfig) Label(text string) string       { return c.Apply(c.Theme.Label, text) }
func (c *ColorConfig) Value(text string) string       { return c.Apply(c.Theme.Value, text) }
func (c *ColorConfig) Description(text string) string { return c.Apply(c.Theme.Description, text) }

// Separator returns a colored separator line
func (c *ColorConfig) Separator(width int) string {
	return c.Apply(c.Theme.Separator, strings.Repeat("─", width))
}

// Bar renders a progress bar of width cells for percent.
func (c *ColorConfig) Bar(percent float64, width int) string {
	if width < 10 {
		width = 10
	}
	filled := int(float64(width) * percent / 100)
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	if percent >= 100 {
		return c.Apply(c.Theme.Complete, bar)
	}
	return c.Apply(c.Theme.Progress, bar)
}
