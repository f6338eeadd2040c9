package install

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4/v4"

	"github.com/pushchain/selfupdate/internal/fetch"
	"github.com/pushchain/selfupdate/internal/manifest"
)

var (
	// ErrUnsafePath is returned for archive entries that escape the staging dir.
	ErrUnsafePath = errors.New("unsafe path in archive")
	// ErrExecutableNotFound means the package holds no candidate executable.
	ErrExecutableNotFound = errors.New("executable not found in package")
	// ErrUnsupportedFormat is returned for unknown package formats.
	ErrUnsupportedFormat = errors.New("unsupported package format")
)

// Staged is an extracted package waiting to be swapped in.
type Staged struct {
	// Dir is the staging directory, a sibling of the executable.
	Dir string
	// Executable is the path of the new executable inside Dir.
	Executable string
}

// Discard removes the staging directory.
func (s *Staged) Discard() error {
	if s == nil || s.Dir == "" {
		return nil
	}
	return os.RemoveAll(s.Dir)
}

// Stage extracts art into a fresh directory beside exePath and locates the
// replacement executable: the entry whose base name matches exePath's, or
// the only regular file in the package.
func Stage(art *fetch.Artifact, exePath string) (*Staged, error) {
	dir, err := os.MkdirTemp(filepath.Dir(exePath), "."+filepath.Base(exePath)+".stage-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	staged := &Staged{Dir: dir}

	var files []string
	switch strings.ToLower(art.Entry.Format) {
	case manifest.FormatZip:
		files, err = extractZip(art.Path, dir)
	case manifest.FormatTarLz4:
		files, err = extractTarLz4(art.Path, dir)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, art.Entry.Format)
	}
	if err != nil {
		_ = staged.Discard()
		return nil, err
	}

	exe, err := pickExecutable(files, exePath)
	if err != nil {
		_ = staged.Discard()
		return nil, err
	}
	staged.Executable = exe
	return staged, nil
}

func pickExecutable(files []string, exePath string) (string, error) {
	want := filepath.Base(exePath)
	for _, f := range files {
		if filepath.Base(f) == want {
			return f, nil
		}
	}
	// Windows packages often ship "app.exe" for a running "app", and vice versa.
	trimmed := strings.TrimSuffix(want, ".exe")
	for _, f := range files {
		if strings.TrimSuffix(filepath.Base(f), ".exe") == trimmed {
			return f, nil
		}
	}
	if len(files) == 1 {
		return files[0], nil
	}
	return "", fmt.Errorf("%w: want %q among %d files", ErrExecutableNotFound, want, len(files))
}

// safeJoin resolves name inside destDir, rejecting absolute paths and any
// entry that would land outside destDir.
func safeJoin(destDir, name string) (string, error) {
	cleanName := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleanName) || cleanName == ".." || strings.HasPrefix(cleanName, ".."+string(os.PathSeparator)) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	targetPath := filepath.Join(destDir, cleanName)
	if !strings.HasPrefix(targetPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return targetPath, nil
}

func writeFile(targetPath string, r io.Reader, mode os.FileMode, size int64) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o600)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	written, copyErr := io.Copy(out, r)
	if copyErr != nil {
		out.Close()
		return fmt.Errorf("write file: %w", copyErr)
	}
	if size > 0 && written != size {
		out.Close()
		return fmt.Errorf("incomplete extraction: wrote %d of %d bytes (disk full?)", written, size)
	}
	return out.Close()
}

func extractZip(archivePath, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	var files []string
	for _, f := range zr.File {
		targetPath, err := safeJoin(destDir, f.Name)
		if err != nil {
			return nil, err
		}
		info := f.FileInfo()
		switch {
		case info.IsDir():
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return nil, fmt.Errorf("create dir %s: %w", f.Name, err)
			}
		case info.Mode().IsRegular():
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", f.Name, err)
			}
			err = writeFile(targetPath, rc, info.Mode().Perm(), int64(f.UncompressedSize64))
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("extract %s: %w", f.Name, err)
			}
			files = append(files, targetPath)
		default:
			// Symlinks and devices are never the executable.
			continue
		}
	}
	return files, nil
}

func extractTarLz4(archivePath, destDir string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	tarReader := tar.NewReader(lz4.NewReader(f))

	var files []string
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}

		targetPath, err := safeJoin(destDir, header.Name)
		if err != nil {
			return nil, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return nil, fmt.Errorf("create dir %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := writeFile(targetPath, tarReader, os.FileMode(header.Mode).Perm(), header.Size); err != nil {
				return nil, fmt.Errorf("extract %s: %w", header.Name, err)
			}
			files = append(files, targetPath)
		default:
			continue
		}
	}
	return files, nil
}
