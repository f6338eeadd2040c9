// Package launch starts the replacement executable and tells it how it
// came to be running.
package launch

import (
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// Command-line flags passed to the relaunched process.
const (
	FlagNewVersion   = "new-version"
	FlagForceUpdated = "force-updated"
	FlagParentPID    = "parent-pid"

	// EnvForceUpdated mirrors --force-updated for processes that do not
	// parse flags.
	EnvForceUpdated = "SELFUPDATE_FORCE_UPDATED"
)

var relaunchFlags = map[string]bool{
	FlagNewVersion:   true,
	FlagForceUpdated: true,
	FlagParentPID:    true,
}

// State is what a relaunched process learns about the update that started it.
type State struct {
	NewVersion   string `json:"new_version,omitempty"`
	ForceUpdated bool   `json:"force_updated"`
	ParentPID    int    `json:"parent_pid,omitempty"`
}

// FirstLaunch reports whether this is the first run after an update.
func (s State) FirstLaunch() bool { return s.NewVersion != "" }

// Args builds the relaunch command line: base with any previous relaunch
// flags removed, followed by the flags for st. The flags go before a "--"
// terminator so they are still parsed as flags.
func Args(base []string, st State) []string {
	out := StripArgs(base)
	var rest []string
	if i := slices.Index(out, "--"); i >= 0 {
		out, rest = out[:i], slices.Clone(out[i:])
	}
	if st.NewVersion != "" {
		out = append(out, "--"+FlagNewVersion+"="+st.NewVersion)
	}
	out = append(out, "--"+FlagForceUpdated+"="+strconv.FormatBool(st.ForceUpdated))
	if st.ParentPID > 0 {
		out = append(out, "--"+FlagParentPID+"="+strconv.Itoa(st.ParentPID))
	}
	return append(out, rest...)
}

// FromArgs extracts relaunch state from a command line. Both "--flag=value"
// and "--flag value" forms are accepted; a bare "--force-updated" is true.
// Unknown flags are skipped; a malformed relaunch value stops parsing.
func FromArgs(args []string) State {
	st, _ := parseArgs(args)
	return st
}

// Current reads the state of this process from os.Args and the environment.
// The environment marker only applies when the flag is absent.
func Current() State {
	st, fs := parseArgs(os.Args[1:])
	if !fs.Changed(FlagForceUpdated) {
		if v, ok := os.LookupEnv(EnvForceUpdated); ok {
			st.ForceUpdated, _ = strconv.ParseBool(v)
		}
	}
	return st
}

func parseArgs(args []string) (State, *pflag.FlagSet) {
	var st State
	fs := pflag.NewFlagSet("relaunch", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	fs.StringVar(&st.NewVersion, FlagNewVersion, "", "")
	fs.BoolVar(&st.ForceUpdated, FlagForceUpdated, false, "")
	fs.IntVar(&st.ParentPID, FlagParentPID, 0, "")
	// Swallow help so it does not end parsing early.
	fs.BoolP("help", "h", false, "")
	_ = fs.Parse(args)
	return st, fs
}

// StripArgs returns args without any relaunch flags so they can be
// forwarded to the next process. pflag only reads flags out of an argv, so
// removal is done by hand.
func StripArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--" {
			return append(out, args[i:]...)
		}
		name, hasValue, ok := splitFlag(args[i])
		if !ok {
			out = append(out, args[i])
			continue
		}
		if !hasValue && name != FlagForceUpdated && i+1 < len(args) {
			i++
		}
	}
	return out
}

// splitFlag recognises one of the relaunch flags in "--flag" or
// "--flag=value" form.
func splitFlag(arg string) (name string, hasValue, ok bool) {
	trimmed, found := strings.CutPrefix(arg, "--")
	if !found {
		return "", false, false
	}
	name, _, hasValue = strings.Cut(trimmed, "=")
	if !relaunchFlags[name] {
		return "", false, false
	}
	return name, hasValue, true
}
