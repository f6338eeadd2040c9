package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a required field is absent or a value
	// has the wrong shape.
	ErrMalformed = errors.New("malformed manifest")
	// ErrInvalidHash is returned when a hash value is not lowercase hex of
	// the digest length its algorithm requires.
	ErrInvalidHash = errors.New("invalid hash")
	// ErrDanglingPolicyTarget is returned when a policy targets a version
	// missing from the version table.
	ErrDanglingPolicyTarget = errors.New("policy target not in versions")
)

// ParseError locates a manifest defect.
type ParseError struct {
	Path string // e.g. versions["2.0"].hash.sha256
	Err  error
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Msg)
	}
	return fmt.Sprintf("%s: %v: %s", e.Path, e.Err, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

func malformed(path, format string, args ...any) *ParseError {
	return &ParseError{Path: path, Err: ErrMalformed, Msg: fmt.Sprintf(format, args...)}
}
