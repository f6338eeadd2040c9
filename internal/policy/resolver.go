// Package policy decides which manifest version, if any, applies to a
// running client.
package policy

import (
	"fmt"

	"github.com/pushchain/selfupdate/internal/manifest"
	"github.com/pushchain/selfupdate/internal/version"
)

// Decision is the outcome of resolution. The zero value means no update.
type Decision struct {
	Available   bool                  `json:"available" yaml:"available"`
	Version     string                `json:"version,omitempty" yaml:"version,omitempty"`
	Mandatory   bool                  `json:"mandatory" yaml:"mandatory"`
	Entry       manifest.VersionEntry `json:"entry,omitempty" yaml:"entry,omitempty"`
	Title       string                `json:"title,omitempty" yaml:"title,omitempty"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	// Policy is the index of the matching policy, -1 when none matched.
	Policy int `json:"policy" yaml:"policy"`
}

// NoUpdate is returned when no policy covers the running version.
var NoUpdate = Decision{Policy: -1}

// Resolve walks m.Policies in declaration order and returns the target of
// the first policy with any range containing current. Later policies are
// never consulted. A target equal to current is still reported as
// available; callers decide whether that is a no-op.
func Resolve(m *manifest.Manifest, current string) (Decision, error) {
	cur, err := version.Parse(current)
	if err != nil {
		return NoUpdate, fmt.Errorf("current version: %w", err)
	}

	for i, p := range m.Policies {
		if !matches(p, cur) {
			continue
		}
		entry, key, ok := m.Version(p.Target)
		if !ok {
			// Parse rejects dangling targets; a hand-built manifest may not.
			return NoUpdate, fmt.Errorf("policy %d: %w: %s", i, manifest.ErrDanglingPolicyTarget, p.Target)
		}
		d := Decision{
			Available:   true,
			Version:     key,
			Mandatory:   p.Mandatory(),
			Entry:       entry,
			Title:       entry.Title,
			Description: entry.Description,
			Policy:      i,
		}
		if p.Title != nil {
			d.Title = *p.Title
		}
		if p.Description != nil {
			d.Description = *p.Description
		}
		return d, nil
	}
	return NoUpdate, nil
}

func matches(p manifest.Policy, cur version.Version) bool {
	ranges := p.Ranges()
	if len(ranges) == 0 {
		// Policy literal built in code: parse on the fly.
		for _, expr := range p.Matches {
			r, err := version.ParseRange(expr)
			if err != nil {
				continue
			}
			ranges = append(ranges, r)
		}
	}
	for _, r := range ranges {
		if r.Contains(cur) {
			return true
		}
	}
	return false
}
