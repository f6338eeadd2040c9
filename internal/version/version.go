package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a parsed semantic version. Versions with fewer than three
// numeric components are zero-extended, so "2.0" and "2.0.0" compare equal.
type Version struct {
	raw       string
	canonical string // "v"-prefixed form accepted by x/mod/semver
}

// Parse accepts "1", "1.2", "1.2.3", an optional leading "v", and
// pre-release/build suffixes on full three-part versions.
func Parse(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, fmt.Errorf("invalid version: empty string")
	}
	v := raw
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return Version{}, fmt.Errorf("invalid version %q", raw)
	}
	return Version{raw: raw, canonical: v}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as it was written.
func (v Version) String() string { return v.raw }

// Canonical returns the normalized "vMAJOR.MINOR.PATCH[-pre]" form.
func (v Version) Canonical() string { return semver.Canonical(v.canonical) }

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool { return v.canonical == "" }

// Compare returns -1, 0 or +1.
func (v Version) Compare(other Version) int {
	return semver.Compare(v.canonical, other.canonical)
}

// Equal reports whether both versions denote the same release.
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

// Compare parses both strings and compares them.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// Same reports whether a and b parse to the same release. Unparseable
// inputs fall back to string equality.
func Same(a, b string) bool {
	c, err := Compare(a, b)
	if err != nil {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	return c == 0
}
