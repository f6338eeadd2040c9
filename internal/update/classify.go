package update

import (
	"context"
	"errors"

	"github.com/pushchain/selfupdate/internal/exitcodes"
	"github.com/pushchain/selfupdate/internal/fetch"
	"github.com/pushchain/selfupdate/internal/install"
	"github.com/pushchain/selfupdate/internal/integrity"
	"github.com/pushchain/selfupdate/internal/manifest"
)

// Classify wraps an update error with the exit code for its failure kind.
// A nil error stays nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ec *exitcodes.ErrorWithCode
	if errors.As(err, &ec) {
		return err
	}

	var (
		statusErr *fetch.StatusError
		parseErr  *manifest.ParseError
		swapErr   *install.SwapError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return exitcodes.WrapError(exitcodes.GeneralError, "update cancelled", err)
	case errors.Is(err, ErrRelaunch):
		return exitcodes.ProcessErr("could not start the updated executable", err)
	case errors.Is(err, install.ErrLocked):
		return exitcodes.LockErr("another update is in progress", err)
	case errors.Is(err, fetch.ErrUnreachable), errors.As(err, &statusErr):
		return exitcodes.NetworkErr("update server request failed", err)
	case errors.As(err, &parseErr),
		errors.Is(err, manifest.ErrMalformed),
		errors.Is(err, manifest.ErrInvalidHash),
		errors.Is(err, manifest.ErrDanglingPolicyTarget):
		return exitcodes.ManifestErr("invalid manifest", err)
	case errors.Is(err, fetch.ErrSizeMismatch),
		errors.Is(err, integrity.ErrMismatch),
		errors.Is(err, integrity.ErrTruncated),
		errors.Is(err, integrity.ErrUnsupportedAlgorithm):
		return exitcodes.IntegrityErr("package verification failed", err)
	case errors.As(err, &swapErr),
		errors.Is(err, install.ErrInsufficientSpace),
		errors.Is(err, install.ErrUnsafePath),
		errors.Is(err, install.ErrExecutableNotFound),
		errors.Is(err, install.ErrUnsupportedFormat):
		return exitcodes.SwapErr("could not install update", err)
	}
	return exitcodes.WrapError(exitcodes.GeneralError, "update failed", err)
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	return exitcodes.CodeForError(Classify(err))
}
