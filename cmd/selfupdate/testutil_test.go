package main

import (
	"bytes"
	"context"
	"errors"

	"github.com/pushchain/selfupdate/internal/policy"
	ui "github.com/pushchain/selfupdate/internal/ui"
	"github.com/pushchain/selfupdate/internal/update"
)

// errMock is a generic error for test assertions.
var errMock = errors.New("mock error")

// mockUpdater implements CLIUpdater and CachedChecker for testing.
type mockUpdater struct {
	check    update.Result
	run      update.Result
	runCalls int

	entry     *update.CacheEntry
	fromCache bool
	cacheErr  error
	fresh     bool
}

func (m *mockUpdater) Check(ctx context.Context) update.Result { return m.check }

func (m *mockUpdater) Run(ctx context.Context) update.Result {
	m.runCalls++
	return m.run
}

func (m *mockUpdater) CheckCached(ctx context.Context, stateDir string, fresh bool) (*update.CacheEntry, bool, error) {
	m.fresh = fresh
	return m.entry, m.fromCache, m.cacheErr
}

// mockPrompter implements Prompter for testing.
type mockPrompter struct {
	responses   []string
	interactive bool
	prompts     []string
}

func (m *mockPrompter) ReadLine(prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if len(m.responses) == 0 {
		return "", errMock
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

func (m *mockPrompter) IsInteractive() bool { return m.interactive }

func newTestPrinter(format string) (ui.Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	return ui.NewPrinterTo(&buf, format), &buf
}

func available(mandatory bool) update.Result {
	return update.Result{
		State:   update.Resolving,
		Current: "1.0.0",
		Decision: policy.Decision{
			Available:   true,
			Version:     "2.0.0",
			Mandatory:   mandatory,
			Title:       "Client 2.0",
			Description: "Major release",
		},
	}
}

func upToDate() update.Result {
	return update.Result{State: update.NoUpdate, Current: "2.0.0", Decision: policy.NoUpdate}
}

func installed(mandatory bool) update.Result {
	r := available(mandatory)
	r.State = update.Relaunching
	return r
}
