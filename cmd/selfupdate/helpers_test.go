package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pushchain/selfupdate/internal/exitcodes"
	"github.com/pushchain/selfupdate/internal/launch"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"", true},
		{"y", true},
		{"Yes", true},
		{" y ", true},
		{"n", false},
		{"no", false},
		{"maybe", false},
	}
	for _, tt := range tests {
		pr := &mockPrompter{responses: []string{tt.input}}
		got, err := confirm(pr, "Continue?")
		if err != nil {
			t.Fatalf("confirm(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if pr.prompts[0] != "Continue? [Y/n]: " {
			t.Errorf("prompt = %q", pr.prompts[0])
		}
	}
}

func TestConfirm_ReadError(t *testing.T) {
	if _, err := confirm(&mockPrompter{}, "Continue?"); err == nil {
		t.Error("expected read error")
	}
}

func TestDisplayVersion(t *testing.T) {
	for in, want := range map[string]string{"1.0": "v1.0", "v2.0.1": "v2.0.1"} {
		if got := displayVersion(in); got != want {
			t.Errorf("displayVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReportFirstLaunch(t *testing.T) {
	tests := []struct {
		st   launch.State
		want string
	}{
		{launch.State{NewVersion: "2.0", ForceUpdated: true}, "upgraded to v2.0. Force updated: 1"},
		{launch.State{NewVersion: "2.0"}, "upgraded to v2.0. Force updated: 0"},
	}
	for _, tt := range tests {
		p, buf := newTestPrinter("")
		reportFirstLaunch(p, tt.st)
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("output = %q, want substring %q", buf.String(), tt.want)
		}
	}

	p, buf := newTestPrinter("json")
	reportFirstLaunch(p, launch.State{NewVersion: "2.0"})
	if buf.Len() != 0 {
		t.Errorf("structured output should not carry the banner: %q", buf.String())
	}
}

func TestPrintVersion(t *testing.T) {
	p, buf := newTestPrinter("")
	if err := printVersion(p); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "selfupdate "+currentVersion()) {
		t.Errorf("output = %q", buf.String())
	}

	p, buf = newTestPrinter("json")
	if err := printVersion(p); err != nil {
		t.Fatal(err)
	}
	var info versionInfo
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if info.Commit != Commit || info.BuildDate != BuildDate {
		t.Errorf("unexpected version info: %+v", info)
	}
}

func TestRootRelaunchFlagsHidden(t *testing.T) {
	for _, name := range []string{launch.FlagNewVersion, launch.FlagForceUpdated, launch.FlagParentPID} {
		f := rootCmd.PersistentFlags().Lookup(name)
		if f == nil {
			t.Fatalf("flag --%s not registered", name)
		}
		if !f.Hidden {
			t.Errorf("flag --%s should be hidden", name)
		}
	}
}

func TestRootCommandsRegistered(t *testing.T) {
	want := map[string]bool{"check": false, "update": false, "serve": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestErrorMessageFor(t *testing.T) {
	tests := []struct {
		err        error
		wantAction string
	}{
		{exitcodes.NetworkErr("query", errMock), "check --manifest-url"},
		{exitcodes.LockErr("busy", errMock), "wait for it to finish"},
		{exitcodes.SwapErr("install", errMock), "previous executable is unchanged"},
	}
	for _, tt := range tests {
		msg := errorMessageFor(tt.err)
		if msg.Problem != tt.err.Error() {
			t.Errorf("Problem = %q, want %q", msg.Problem, tt.err.Error())
		}
		if len(msg.Actions) == 0 || !strings.Contains(strings.Join(msg.Actions, "\n"), tt.wantAction) {
			t.Errorf("Actions = %v, want one containing %q", msg.Actions, tt.wantAction)
		}
	}

	if msg := errorMessageFor(errMock); len(msg.Causes) != 0 || len(msg.Actions) != 0 {
		t.Errorf("general errors carry no hints, got %+v", msg)
	}
}
