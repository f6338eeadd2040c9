package exitcodes

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for selfupdate
const (
	// Success indicates successful command completion
	Success = 0

	// GeneralError indicates a general/unknown error
	GeneralError = 1

	// InvalidArgs indicates invalid command-line arguments or flags
	InvalidArgs = 2

	// PreconditionFailed indicates a precondition was not met
	// (e.g., no manifest URL configured, executable path unknown)
	PreconditionFailed = 3

	// NetworkError indicates the update server could not be reached or
	// answered with an error status
	NetworkError = 4

	// ProcessError indicates the new executable could not be launched
	ProcessError = 5

	// ManifestError indicates a malformed or inconsistent manifest
	ManifestError = 6

	// IntegrityError indicates a package failed size or digest checks
	IntegrityError = 7

	// SwapError indicates staging or replacing the executable failed;
	// the original executable is intact
	SwapError = 8

	// LockContention indicates another process holds the swap lock
	LockContention = 9
)

// Exit terminates the program with the given code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError prints error message to stderr and exits with the given code
func ExitWithError(code int, msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(code)
}

// CodeForError returns the appropriate exit code for an error.
// Unwraps ErrorWithCode for explicit codes, otherwise returns GeneralError.
func CodeForError(err error) int {
	if err == nil {
		return Success
	}

	var ec *ErrorWithCode
	if errors.As(err, &ec) {
		return ec.Code
	}

	return GeneralError
}
