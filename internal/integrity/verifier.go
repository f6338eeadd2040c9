// Package integrity verifies downloaded packages against manifest digests.
package integrity

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	_ "crypto/sha512" // registers sha384/sha512 for go-digest
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Digest algorithm names as they appear in manifests.
const (
	MD5    = "md5"
	SHA1   = "sha1"
	SHA224 = "sha224"
	SHA256 = "sha256"
	SHA384 = "sha384"
	SHA512 = "sha512"
)

// DefaultChunkSize is the read size used while hashing.
const DefaultChunkSize = 32 * 1024

var (
	ErrMismatch             = errors.New("digest mismatch")
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")
	ErrTruncated            = errors.New("stream shorter than declared size")
)

// strongest first
var preference = []string{SHA512, SHA384, SHA256, SHA224, SHA1, MD5}

var sizes = map[string]int{
	MD5:    md5.Size,
	SHA1:   sha1.Size,
	SHA224: sha256.Size224,
	SHA256: sha256.Size,
	SHA384: 48,
	SHA512: 64,
}

// Supported reports whether the verifier implements algorithm.
func Supported(algorithm string) bool {
	_, ok := sizes[strings.ToLower(algorithm)]
	return ok
}

// New returns a fresh hash for algorithm.
func New(algorithm string) (hash.Hash, error) {
	switch alg := strings.ToLower(algorithm); alg {
	case SHA256, SHA384, SHA512:
		a := digest.Algorithm(alg)
		if !a.Available() {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
		}
		return a.Hash(), nil
	case SHA224:
		return sha256.New224(), nil
	case SHA1:
		return sha1.New(), nil
	case MD5:
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// ValidateHex checks that value is lowercase hex of the digest length for
// algorithm. Algorithms the verifier does not implement only get the
// lowercase-hex check, so manifests can carry digests newer clients use.
func ValidateHex(algorithm, value string) error {
	alg := strings.ToLower(algorithm)
	switch alg {
	case SHA256, SHA384, SHA512:
		if err := digest.Algorithm(alg).Validate(value); err != nil {
			return fmt.Errorf("%s digest %q: %w", alg, value, err)
		}
		return nil
	}
	if value == "" || value != strings.ToLower(value) {
		return fmt.Errorf("%s digest %q: must be lowercase hex", alg, value)
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return fmt.Errorf("%s digest %q: must be lowercase hex", alg, value)
	}
	if want, ok := sizes[alg]; ok && len(raw) != want {
		return fmt.Errorf("%s digest %q: want %d hex chars, got %d", alg, value, want*2, len(value))
	}
	return nil
}

// Preferred picks the strongest algorithm in hashes that the verifier
// implements.
func Preferred(hashes map[string]string) (algorithm, expected string, err error) {
	for _, alg := range preference {
		for name, value := range hashes {
			if strings.EqualFold(name, alg) {
				return alg, value, nil
			}
		}
	}
	names := make([]string, 0, len(hashes))
	for name := range hashes {
		names = append(names, name)
	}
	return "", "", fmt.Errorf("%w: none of %v", ErrUnsupportedAlgorithm, names)
}

// Verifier hashes streams in fixed-size chunks.
type Verifier struct {
	ChunkSize int
}

// Verify reads exactly size bytes from r through the digest for algorithm
// and compares the result with expectedHex, ignoring case. A short stream
// fails with ErrTruncated before any digest comparison.
func (v Verifier) Verify(r io.Reader, size int64, expectedHex, algorithm string) error {
	h, err := New(algorithm)
	if err != nil {
		return err
	}
	chunk := v.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	buf := make([]byte, chunk)
	n, err := io.CopyBuffer(h, io.LimitReader(r, size), buf)
	if err != nil {
		return fmt.Errorf("read package: %w", err)
	}
	if n < size {
		return fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, n, size)
	}
	var extra [1]byte
	if m, _ := io.ReadFull(r, extra[:]); m > 0 {
		return fmt.Errorf("%w: stream longer than declared %d bytes", ErrMismatch, size)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, expectedHex) {
		return fmt.Errorf("%w: %s expected %s, got %s", ErrMismatch, algorithm, expectedHex, actual)
	}
	return nil
}

// Verify uses the default chunk size.
func Verify(r io.Reader, size int64, expectedHex, algorithm string) error {
	return Verifier{}.Verify(r, size, expectedHex, algorithm)
}

// VerifyFile checks the file at path against the strongest supported
// digest in hashes.
func VerifyFile(path string, size int64, hashes map[string]string) error {
	alg, expected, err := Preferred(hashes)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	return Verify(f, size, expected, alg)
}

// Sum returns the lowercase hex digest of r.
func Sum(r io.Reader, algorithm string) (string, error) {
	h, err := New(algorithm)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
