package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// ProgressBar renders download progress. On a terminal it redraws one line
// at most ten times a second; elsewhere it prints a line per 10% step.
type ProgressBar struct {
	mu         sync.Mutex
	out        io.Writer
	total      int64
	current    int64
	startTime  time.Time
	lastUpdate time.Time
	isTTY      bool
	lastDecile int
	colors     *ColorConfig
	indent     string
}

// NewProgressBar creates a new progress bar for tracking download progress.
// If total is <= 0, only the byte count is shown.
func NewProgressBar(out io.Writer, total int64) *ProgressBar {
	if out == nil {
		out = os.Stdout
	}
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return &ProgressBar{
		out:        out,
		total:      total,
		startTime:  time.Now(),
		isTTY:      isTTY,
		lastDecile: -1,
		colors:     NewColorConfigFromGlobal(),
		indent:     "  ",
	}
}

// Update records the current byte count and redraws when due.
func (p *ProgressBar) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = current

	now := time.Now()
	if p.isTTY && now.Sub(p.lastUpdate) < 100*time.Millisecond {
		return
	}
	p.lastUpdate = now

	if p.total <= 0 {
		fmt.Fprintf(p.out, "\r%sDownloaded %s", p.indent, FormatBytes(current))
		return
	}
	pct := float64(current) / float64(p.total) * 100
	if pct > 100 {
		pct = 100
	}
	if p.isTTY {
		p.renderTTY(pct)
		return
	}
	decile := int(current * 10 / p.total)
	if decile > 10 {
		decile = 10
	}
	if decile > p.lastDecile {
		p.lastDecile = decile
		fmt.Fprintf(p.out, "%sDownloading... %d%%\n", p.indent, decile*10)
	}
}

func (p *ProgressBar) renderTTY(pct float64) {
	elapsed := time.Since(p.startTime).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(p.current) / elapsed
	}
	eta := "--"
	switch {
	case p.current >= p.total:
		eta = "0s"
	case speed > 0:
		eta = formatDuration(float64(p.total-p.current) / speed)
	}

	width := 80
	if f, ok := p.out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	barWidth := width - 56 - len(p.indent)
	if barWidth > 40 {
		barWidth = 40
	}

	// \033[K clears leftovers from a longer previous line.
	fmt.Fprintf(p.out, "\r%s[%s] %5.1f%%   %s/%s   %s   ETA %s\033[K",
		p.indent, p.colors.Bar(pct, barWidth), pct,
		FormatBytes(p.current), FormatBytes(p.total), FormatSpeed(speed), eta)
}

// Finish completes the progress bar and moves to the next line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.isTTY:
		if p.total > 0 && p.current >= p.total {
			p.renderTTY(100)
		}
		fmt.Fprintln(p.out)
	case p.total <= 0:
		fmt.Fprintln(p.out)
	case p.current >= p.total && p.lastDecile < 10:
		fmt.Fprintf(p.out, "%sDownloading... 100%%\n", p.indent)
	}
}
