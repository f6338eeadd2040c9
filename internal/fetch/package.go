package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/pushchain/selfupdate/internal/integrity"
	"github.com/pushchain/selfupdate/internal/manifest"
)

// partialSuffix marks an in-progress download that can be resumed.
const partialSuffix = ".downloading"

// ProgressFunc is called after every chunk written to disk.
// current: bytes on disk so far (including any resumed prefix)
// total: expected package size
type ProgressFunc func(current, total int64)

// PackageRequest names the package version to download and where to put it.
type PackageRequest struct {
	Package string
	Version string
	Entry   manifest.VersionEntry
	Dir     string
}

// Artifact is a downloaded package file. The caller owns it.
type Artifact struct {
	Path    string
	Size    int64
	Package string
	Version string
	Entry   manifest.VersionEntry
	// Reused is set when a previously verified download was found in the cache.
	Reused bool
}

// Remove deletes the artifact and any partial download next to it.
func (a *Artifact) Remove() error {
	_ = os.Remove(a.Path + partialSuffix)
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CachePath returns the download location for a package version:
// <dir>/<package>-<version>-<xxhash64(url)>.<format>
func CachePath(dir, pkg, ver string, entry manifest.VersionEntry) string {
	name := fmt.Sprintf("%s-%s-%016x.%s", safeName(pkg), safeName(ver), xxhash.Sum64String(entry.URL), entry.Format)
	return filepath.Join(dir, name)
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, s)
}

// FetchPackage downloads req.Entry.URL into the cache directory. A cached
// file of the right size that already verifies is returned without any
// network transfer. A transfer interrupted by a network failure leaves a
// side-file that the next call resumes with a Range request; one stopped by
// ctx cancellation removes it.
func (c *Client) FetchPackage(ctx context.Context, req PackageRequest, progress ProgressFunc) (*Artifact, error) {
	if req.Dir == "" {
		return nil, fmt.Errorf("download dir required")
	}
	if progress == nil {
		progress = func(int64, int64) {}
	}
	entry := req.Entry
	dest := CachePath(req.Dir, req.Package, req.Version, entry)
	art := &Artifact{Path: dest, Size: entry.Size, Package: req.Package, Version: req.Version, Entry: entry}
	log := c.log.WithFields(logrus.Fields{"package": req.Package, "version": req.Version, "url": entry.URL})

	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	if c.cached(dest, entry) {
		log.Info("using cached package")
		art.Reused = true
		progress(entry.Size, entry.Size)
		return art, nil
	}

	advertised, err := c.Exists(ctx, entry.URL)
	if err != nil {
		return nil, err
	}
	if advertised >= 0 && advertised != entry.Size {
		return nil, fmt.Errorf("%w: server reports %d bytes, manifest says %d", ErrSizeMismatch, advertised, entry.Size)
	}

	partial := dest + partialSuffix
	offset := resumeOffset(partial, entry.Size)
	if offset > 0 {
		log.WithField("offset", offset).Info("resuming download")
	}

	written, err := c.download(ctx, entry.URL, partial, offset, entry.Size, progress)
	if err != nil {
		if ctx.Err() != nil {
			// A cancelled cycle leaves no partial state behind.
			if rmErr := os.Remove(partial); rmErr != nil && !os.IsNotExist(rmErr) {
				log.WithError(rmErr).Warn("remove partial download")
			}
		}
		return nil, err
	}
	if written != entry.Size {
		if written > entry.Size {
			_ = os.Remove(partial)
		}
		return nil, fmt.Errorf("%w: received %d bytes, manifest says %d", ErrSizeMismatch, written, entry.Size)
	}

	if err := os.Rename(partial, dest); err != nil {
		return nil, fmt.Errorf("finalize download: %w", err)
	}
	log.WithField("bytes", written).Info("package downloaded")
	return art, nil
}

// cached reports whether dest already holds a verified copy of entry.
// A stale or corrupt copy is removed.
func (c *Client) cached(dest string, entry manifest.VersionEntry) bool {
	info, err := os.Stat(dest)
	if err != nil {
		return false
	}
	if info.Size() == entry.Size && integrity.VerifyFile(dest, entry.Size, entry.Hash) == nil {
		return true
	}
	c.log.WithField("path", dest).Debug("discarding stale cached package")
	_ = os.Remove(dest)
	return false
}

func resumeOffset(partial string, size int64) int64 {
	info, err := os.Stat(partial)
	if err != nil {
		return 0
	}
	if info.Size() >= size {
		_ = os.Remove(partial)
		return 0
	}
	return info.Size()
}

// download writes url into partial starting at offset and returns the total
// number of bytes on disk afterwards. At most size+1 bytes are accepted so
// an oversized body is detected without reading it all.
func (c *Client) download(ctx context.Context, url, partial string, offset, size int64, progress ProgressFunc) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		flags |= os.O_APPEND
	case resp.StatusCode == http.StatusOK:
		// Server ignored the range: start over.
		offset = 0
		flags |= os.O_TRUNC
	default:
		return 0, checkStatusOrUnexpected(url, resp)
	}

	out, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open download file: %w", err)
	}

	reader := &progressReader{
		reader:   io.LimitReader(resp.Body, size-offset+1),
		current:  offset,
		total:    size,
		progress: progress,
	}
	n, copyErr := io.Copy(out, reader)
	closeErr := out.Close()
	if copyErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("%w: download interrupted after %d bytes: %v", ErrUnreachable, offset+n, copyErr)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("write download file: %w", closeErr)
	}
	return offset + n, nil
}

func checkStatusOrUnexpected(url string, resp *http.Response) error {
	if err := checkStatus(url, resp); err != nil {
		return err
	}
	return &StatusError{URL: url, Code: resp.StatusCode, Status: resp.Status}
}

// progressReader wraps a reader to report download progress.
type progressReader struct {
	reader   io.Reader
	total    int64
	current  int64
	progress ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	if n > 0 && pr.progress != nil {
		pr.progress(pr.current, pr.total)
	}
	return n, err
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}
