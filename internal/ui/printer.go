package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Printer centralizes output formatting for commands.
// - Respects --output (text|json|yaml)
// - Uses ColorConfig for styling when printing text
type Printer struct {
	format string
	out    io.Writer
	Colors *ColorConfig
}

// NewPrinter returns a Printer writing to stdout with global color settings.
func NewPrinter(format string) Printer {
	return NewPrinterTo(os.Stdout, format)
}

// NewPrinterTo returns a Printer writing to out.
func NewPrinterTo(out io.Writer, format string) Printer {
	if format == "" {
		format = FormatText
	}
	return Printer{format: format, out: out, Colors: NewColorConfigFromGlobal()}
}

// Structured reports whether output is machine-readable.
func (p Printer) Structured() bool { return p.format == FormatJSON || p.format == FormatYAML }

// Textf prints formatted text.
func (p Printer) Textf(format string, a ...any) { fmt.Fprintf(p.out, format, a...) }

// Emit writes v as JSON or YAML according to the format.
func (p Printer) Emit(v any) error {
	switch p.format {
	case FormatYAML:
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func (p Printer) line(icon, fallback string, color func(string) string, msg string) {
	mark := fallback
	if p.Colors.EmojiEnabled {
		mark = icon
	}
	fmt.Fprintln(p.out, color(mark), msg)
}

// Success prints a success line with themed prefix.
func (p Printer) Success(msg string) { p.line("✓", "[OK]", p.Colors.Success, msg) }

// Info prints an informational line.
func (p Printer) Info(msg string) { p.line("ℹ", "[INFO]", p.Colors.Info, msg) }

// Warn prints a warning line.
func (p Printer) Warn(msg string) { p.line("!", "[WARN]", p.Colors.Warning, msg) }

// Error prints an error line.
func (p Printer) Error(msg string) { p.line("✗", "[ERR]", p.Colors.Error, msg) }

// KeyValueLine prints a key-value pair with proper formatting
func (p Printer) KeyValueLine(key, value string) {
	fmt.Fprintf(p.out, "%s %s\n", p.Colors.Label(key+":"), p.Colors.Value(value))
}

// ReleaseNotes prints an update's title and description in a bordered box.
func (p Printer) ReleaseNotes(title, description string) {
	if title == "" && description == "" {
		return
	}
	body := title
	if description != "" {
		if body != "" {
			body += "\n\n"
		}
		body += description
	}
	if !p.Colors.Enabled {
		fmt.Fprintln(p.out, body)
		return
	}
	InitTerminal()
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1).
		MaxWidth(80)
	fmt.Fprintln(p.out, style.Render(body))
}
