package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/pushchain/selfupdate/internal/config"
	"github.com/pushchain/selfupdate/internal/exitcodes"
	"github.com/pushchain/selfupdate/internal/fetch"
	ui "github.com/pushchain/selfupdate/internal/ui"
	"github.com/pushchain/selfupdate/internal/update"
)

// Prompter abstracts interactive terminal I/O for testability.
type Prompter interface {
	// ReadLine displays the prompt and reads a line of input.
	ReadLine(prompt string) (string, error)
	// IsInteractive returns whether the terminal supports interactive input.
	IsInteractive() bool
}

// Deps holds all injectable dependencies for command handlers.
type Deps struct {
	Cfg      config.Config
	Printer  ui.Printer
	Prompter Prompter
	Output   io.Writer
	Log      logrus.FieldLogger
}

// ttyPrompter is the production implementation of Prompter.
// It uses /dev/tty when stdin is not a terminal (e.g., piped input).
type ttyPrompter struct{}

func (p *ttyPrompter) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)

	var reader *bufio.Reader
	if term.IsTerminal(int(os.Stdin.Fd())) {
		reader = bufio.NewReader(os.Stdin)
	} else {
		tty, err := os.OpenFile("/dev/tty", os.O_RDONLY, 0)
		if err != nil {
			return "", fmt.Errorf("no interactive terminal available: %w", err)
		}
		defer tty.Close()
		reader = bufio.NewReader(tty)
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *ttyPrompter) IsInteractive() bool {
	if flagNonInteractive {
		return false
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}
	// Check if /dev/tty is accessible
	tty, err := os.OpenFile("/dev/tty", os.O_RDONLY, 0)
	if err == nil {
		tty.Close()
		return true
	}
	return false
}

// newDeps creates production dependencies from the current flags and config.
func newDeps() (*Deps, error) {
	cfg, err := loadCfg()
	if err != nil {
		return nil, err
	}
	return &Deps{
		Cfg:      cfg,
		Printer:  getPrinter(),
		Prompter: &ttyPrompter{},
		Output:   os.Stdout,
		Log:      newLogger(cfg),
	}, nil
}

// currentVersion is the version this process reports to the manifest.
func currentVersion() string {
	if flagCurrentVersion != "" {
		return flagCurrentVersion
	}
	return Version
}

// newUpdater builds an updater for the running executable from d. hooks
// supplies progress and state callbacks; relaunch args are passed as given.
func newUpdater(d *Deps, hooks update.Options) (*update.Updater, error) {
	if d.Cfg.ManifestURL == "" {
		return nil, exitcodes.PreconditionError("no manifest URL configured (use --manifest-url or SELFUPDATE_MANIFEST_URL)")
	}
	opts := hooks
	opts.ManifestURL = d.Cfg.ManifestURL
	opts.CurrentVersion = currentVersion()
	opts.CacheDir = d.Cfg.CacheDir
	opts.Logger = d.Log
	opts.Fetcher = fetch.New(fetch.Options{
		QueryBody:    []byte(d.Cfg.QueryBody),
		QueryTimeout: d.Cfg.Timeout,
		Logger:       d.Log,
	})
	u, err := update.New(opts)
	if err != nil {
		return nil, exitcodes.PreconditionErrorf("cannot update this build: %v", err)
	}
	return u, nil
}
