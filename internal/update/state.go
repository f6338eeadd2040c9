package update

import (
	"github.com/pushchain/selfupdate/internal/policy"
)

// State is a step of the update cycle.
type State int

const (
	Idle State = iota
	Querying
	Resolving
	NoUpdate
	Downloading
	Verifying
	Staging
	Swapping
	Relaunching
	Failed
)

var stateNames = [...]string{
	Idle:        "idle",
	Querying:    "querying",
	Resolving:   "resolving",
	NoUpdate:    "no-update",
	Downloading: "downloading",
	Verifying:   "verifying",
	Staging:     "staging",
	Swapping:    "swapping",
	Relaunching: "relaunching",
	Failed:      "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == NoUpdate || s == Relaunching || s == Failed
}

// Result is the outcome of one update cycle.
type Result struct {
	State    State           `json:"state" yaml:"state"`
	Current  string          `json:"current_version" yaml:"current_version"`
	Decision policy.Decision `json:"decision" yaml:"decision"`
	// PID of the relaunched process, 0 when relaunch was skipped.
	PID int   `json:"pid,omitempty" yaml:"pid,omitempty"`
	Err error `json:"-" yaml:"-"`
}

// UpdateAvailable reports whether the cycle found a version to move to.
func (r Result) UpdateAvailable() bool {
	return r.Decision.Available && r.State != NoUpdate
}
