package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/selfupdate/internal/manifest"
)

func manifestDoc(url string) string {
	return `package: client
versions:
  "2.0":
    url: ` + url + `
    size: 4
    format: zip
    hash: {sha256: 5f70bf18a086007016e948b04aed3b82103a36bea41755b6cddfaf10ace3c6ef}
policies:
  - matches: ["[,2.0)"]
    target: "2.0"
`
}

func TestFetchManifest_GET(t *testing.T) {
	var gotMethod, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotUA = r.Method, r.UserAgent()
		io.WriteString(w, manifestDoc("https://example.com/c.zip"))
	}))
	defer srv.Close()

	m, err := New(Options{}).FetchManifest(context.Background(), srv.URL+"/client")
	require.NoError(t, err)
	assert.Equal(t, "client", m.Package)
	assert.Equal(t, http.MethodGet, gotMethod)
	assert.Equal(t, UserAgent, gotUA)
}

func TestFetchManifest_POSTWithQueryBody(t *testing.T) {
	var gotMethod string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, manifestDoc("https://example.com/c.zip"))
	}))
	defer srv.Close()

	c := New(Options{QueryBody: []byte(`{"channel":"beta"}`)})
	_, err := c.FetchManifest(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"channel":"beta"}`, string(gotBody))
}

func TestFetchManifest_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(Options{}).FetchManifest(context.Background(), srv.URL+"/nope")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.True(t, IsNotFound(err))
}

func TestFetchManifest_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Options{}).FetchManifest(context.Background(), url)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestFetchManifest_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := New(Options{QueryTimeout: 50 * time.Millisecond}).FetchManifest(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestFetchManifest_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := New(Options{}).FetchManifest(ctx, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchManifest_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "package: [")
	}))
	defer srv.Close()

	_, err := New(Options{}).FetchManifest(context.Background(), srv.URL)
	assert.ErrorIs(t, err, manifest.ErrMalformed)
}

// packageServer serves payload at /pkg with HEAD and Range support.
type packageServer struct {
	*httptest.Server
	payload  []byte
	gets     atomic.Int32
	ranges   atomic.Int32
	headSize string
}

func newPackageServer(t *testing.T, payload []byte) *packageServer {
	t.Helper()
	ps := &packageServer{payload: payload}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead && ps.headSize != "" {
			w.Header().Set("Content-Length", ps.headSize)
			return
		}
		if r.Method == http.MethodGet {
			ps.gets.Add(1)
			if r.Header.Get("Range") != "" {
				ps.ranges.Add(1)
			}
		}
		http.ServeContent(w, r, "pkg", time.Time{}, bytes.NewReader(ps.payload))
	}))
	t.Cleanup(ps.Close)
	return ps
}

func entryFor(url string, payload []byte) manifest.VersionEntry {
	sum := sha256.Sum256(payload)
	return manifest.VersionEntry{
		URL:    url,
		Size:   int64(len(payload)),
		Format: manifest.FormatZip,
		Hash:   map[string]string{"sha256": hex.EncodeToString(sum[:])},
	}
}

func TestFetchPackage(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 64)
	ps := newPackageServer(t, payload)
	dir := t.TempDir()

	var last, total int64
	art, err := New(Options{}).FetchPackage(context.Background(), PackageRequest{
		Package: "client", Version: "2.0", Entry: entryFor(ps.URL+"/pkg", payload), Dir: dir,
	}, func(cur, tot int64) { last, total = cur, tot })
	require.NoError(t, err)

	got, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(len(payload)), last)
	assert.Equal(t, int64(len(payload)), total)
	assert.False(t, art.Reused)
	assert.True(t, strings.HasPrefix(filepath.Base(art.Path), "client-2.0-"))
	assert.True(t, strings.HasSuffix(art.Path, ".zip"))
	assert.NoFileExists(t, art.Path+partialSuffix)
}

func TestFetchPackage_ReusesVerifiedCache(t *testing.T) {
	payload := []byte("cached package bytes")
	ps := newPackageServer(t, payload)
	dir := t.TempDir()
	c := New(Options{})
	req := PackageRequest{Package: "client", Version: "2.0", Entry: entryFor(ps.URL+"/pkg", payload), Dir: dir}

	_, err := c.FetchPackage(context.Background(), req, nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), ps.gets.Load())

	art, err := c.FetchPackage(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, art.Reused)
	assert.Equal(t, int32(1), ps.gets.Load())
}

func TestFetchPackage_CorruptCacheRedownloaded(t *testing.T) {
	payload := []byte("fresh package bytes!")
	ps := newPackageServer(t, payload)
	dir := t.TempDir()
	entry := entryFor(ps.URL+"/pkg", payload)
	dest := CachePath(dir, "client", "2.0", entry)
	require.NoError(t, os.WriteFile(dest, bytes.Repeat([]byte("x"), len(payload)), 0o644))

	art, err := New(Options{}).FetchPackage(context.Background(), PackageRequest{
		Package: "client", Version: "2.0", Entry: entry, Dir: dir,
	}, nil)
	require.NoError(t, err)
	assert.False(t, art.Reused)
	got, _ := os.ReadFile(art.Path)
	assert.Equal(t, payload, got)
}

func TestFetchPackage_ResumesPartialDownload(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 128)
	ps := newPackageServer(t, payload)
	dir := t.TempDir()
	entry := entryFor(ps.URL+"/pkg", payload)
	dest := CachePath(dir, "client", "2.0", entry)
	require.NoError(t, os.WriteFile(dest+partialSuffix, payload[:300], 0o644))

	var first int64 = -1
	art, err := New(Options{}).FetchPackage(context.Background(), PackageRequest{
		Package: "client", Version: "2.0", Entry: entry, Dir: dir,
	}, func(cur, _ int64) {
		if first < 0 {
			first = cur
		}
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), ps.ranges.Load())
	assert.Greater(t, first, int64(300))
	got, _ := os.ReadFile(art.Path)
	assert.Equal(t, payload, got)
}

func TestFetchPackage_HeadSizeMismatch(t *testing.T) {
	payload := []byte("twelve bytes")
	ps := newPackageServer(t, payload)
	ps.headSize = "99"

	_, err := New(Options{}).FetchPackage(context.Background(), PackageRequest{
		Package: "client", Version: "2.0", Entry: entryFor(ps.URL+"/pkg", payload), Dir: t.TempDir(),
	}, nil)
	assert.ErrorIs(t, err, ErrSizeMismatch)
	assert.Equal(t, int32(0), ps.gets.Load())
}

func TestFetchPackage_BodyShorterThanManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "6")
			return
		}
		w.Header().Set("Content-Length", "3")
		io.WriteString(w, "abc")
	}))
	defer srv.Close()

	entry := entryFor(srv.URL, []byte("abcdef"))
	_, err := New(Options{}).FetchPackage(context.Background(), PackageRequest{
		Package: "client", Version: "2.0", Entry: entry, Dir: t.TempDir(),
	}, nil)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestFetchPackage_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(Options{}).FetchPackage(context.Background(), PackageRequest{
		Package: "client", Version: "2.0", Entry: entryFor(srv.URL+"/missing", []byte("x")), Dir: t.TempDir(),
	}, nil)
	assert.True(t, IsNotFound(err))
}

func TestArtifactRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.zip")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path+partialSuffix, []byte("x"), 0o644))

	a := &Artifact{Path: path}
	require.NoError(t, a.Remove())
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+partialSuffix)
	assert.NoError(t, a.Remove())
}

func TestCachePathStable(t *testing.T) {
	e := manifest.VersionEntry{URL: "https://u/a.tar.lz4", Format: manifest.FormatTarLz4}
	a := CachePath("/tmp", "client", "2.0", e)
	b := CachePath("/tmp", "client", "2.0", e)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".tar.lz4"))

	e.URL = "https://u/b.tar.lz4"
	assert.NotEqual(t, a, CachePath("/tmp", "client", "2.0", e))
	assert.NotContains(t, filepath.Base(CachePath("/tmp", "a/b", "2.0", e)), "/")
}
