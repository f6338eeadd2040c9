// Package install stages a downloaded package next to the running
// executable and swaps it into place.
package install

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// ErrInsufficientSpace is returned by Preflight when dir's filesystem
// cannot hold need bytes.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// usage is swapped in tests.
var usage = disk.Usage

// Preflight checks that dir has at least need bytes free. A filesystem that
// cannot be queried is not treated as full.
func Preflight(dir string, need int64) error {
	if need <= 0 {
		return nil
	}
	stat, err := usage(dir)
	if err != nil || stat == nil {
		return nil
	}
	if stat.Free < uint64(need) {
		return fmt.Errorf("%w in %s: need %d bytes, %d free", ErrInsufficientSpace, dir, need, stat.Free)
	}
	return nil
}
