package manifest

import (
	"github.com/pushchain/selfupdate/internal/integrity"
	"github.com/pushchain/selfupdate/internal/version"
)

// Supported package container formats.
const (
	FormatZip    = "zip"
	FormatTarLz4 = "tar.lz4"
)

// Manifest describes one package family: the versions that can be
// downloaded and the ordered policies that select among them.
type Manifest struct {
	Package  string                  `yaml:"package" json:"package"`
	Versions map[string]VersionEntry `yaml:"versions" json:"versions"`
	Policies []Policy                `yaml:"policies" json:"policies"`
}

// VersionEntry is the download metadata for a single version.
type VersionEntry struct {
	URL         string            `yaml:"url" json:"url"`
	Size        int64             `yaml:"size" json:"size"`
	Format      string            `yaml:"format" json:"format"`
	Hash        map[string]string `yaml:"hash" json:"hash"`
	Title       string            `yaml:"title,omitempty" json:"title,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
}

// Policy maps a set of version ranges to a target version. Policies are
// evaluated in declaration order and the first match wins.
type Policy struct {
	Matches     []string `yaml:"matches" json:"matches"`
	Target      string   `yaml:"target" json:"target"`
	Force       *bool    `yaml:"force,omitempty" json:"force,omitempty"`
	Title       *string  `yaml:"title,omitempty" json:"title,omitempty"`
	Description *string  `yaml:"description,omitempty" json:"description,omitempty"`

	ranges []version.Range
}

// Ranges returns the parsed form of Matches. Only populated on policies
// that came out of Parse.
func (p Policy) Ranges() []version.Range { return p.ranges }

// Mandatory reports whether adopting the target is required. A policy
// without an explicit force field is mandatory.
func (p Policy) Mandatory() bool {
	if p.Force == nil {
		return true
	}
	return *p.Force
}

// Version looks up the entry for v, matching keys by semantic equality
// so "2.0" finds an entry declared as "2.0.0".
func (m *Manifest) Version(v string) (VersionEntry, string, bool) {
	if e, ok := m.Versions[v]; ok {
		return e, v, true
	}
	for key, e := range m.Versions {
		if version.Same(key, v) {
			return e, key, true
		}
	}
	return VersionEntry{}, "", false
}

// PreferredHash returns the strongest digest in the entry that can be
// verified locally.
func (e VersionEntry) PreferredHash() (algorithm, expected string, err error) {
	return integrity.Preferred(e.Hash)
}
