package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/selfupdate/internal/fetch"
	"github.com/pushchain/selfupdate/internal/integrity"
	"github.com/pushchain/selfupdate/internal/manifest"
)

var payload = bytes.Repeat([]byte("selfupdate"), 100)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// setup writes payload under a root dir and returns a server whose manifest
// points at it.
func setup(t *testing.T) (*httptest.Server, *manifest.Manifest) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "client"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "client", "client-2.0.zip"), payload, 0o644))

	sum, err := integrity.Sum(bytes.NewReader(payload), integrity.SHA256)
	require.NoError(t, err)

	h := &Handler{root: root, log: quietLogger(), manifests: map[string]*manifest.Manifest{}}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	doc := `package: client
versions:
  "2.0":
    url: ` + srv.URL + `/files/client/client-2.0.zip
    size: ` + strconv.Itoa(len(payload)) + `
    format: zip
    hash: {sha256: ` + sum + `}
    title: Client 2.0
policies:
  - matches: ["[,1.0)"]
    target: "2.0"
    force: false
    title: Please upgrade
  - matches: ["[1.0,2.0)"]
    target: "2.0"
`
	m, err := manifest.Parse([]byte(doc))
	require.NoError(t, err)
	h.manifests["client"] = m
	return srv, m
}

func TestManifestRoute(t *testing.T) {
	srv, m := setup(t)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			req, _ := http.NewRequest(method, srv.URL+"/client", strings.NewReader("ignored"))
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
			body, _ := io.ReadAll(resp.Body)
			got, err := manifest.Parse(body)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

func TestManifestRoute_Head(t *testing.T) {
	srv, _ := setup(t)

	resp, err := http.Head(srv.URL + "/client")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Greater(t, resp.ContentLength, int64(0))
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)
}

func TestResolutionRoute(t *testing.T) {
	srv, _ := setup(t)

	tests := []struct {
		client    string
		wantNew   bool
		wantForce bool
		wantTitle string
	}{
		{"0.9", true, false, "Please upgrade"},
		{"1.5", true, true, "Client 2.0"},
		{"2.0", false, false, ""},
		{"3.0", false, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.client, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/client/" + tt.client)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			var res Resolution
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
			assert.Equal(t, "client", res.PackageName)
			assert.Equal(t, tt.wantNew, res.HasNewVersion)
			if !tt.wantNew {
				assert.Nil(t, res.ForceUpdate)
				return
			}
			assert.Equal(t, "2.0", res.PackageVersion)
			require.NotNil(t, res.ForceUpdate)
			assert.Equal(t, tt.wantForce, *res.ForceUpdate)
			assert.Equal(t, int64(len(payload)), *res.PackageSize)
			assert.Equal(t, "zip", res.PackageFormat)
			assert.Contains(t, res.PackageHash, "sha256")
			assert.Equal(t, tt.wantTitle, res.UpdateTitle)
		})
	}
}

func TestResolutionRoute_Head(t *testing.T) {
	srv, _ := setup(t)

	get, err := http.Get(srv.URL + "/client/1.5")
	require.NoError(t, err)
	want, err := io.ReadAll(get.Body)
	get.Body.Close()
	require.NoError(t, err)

	resp, err := http.Head(srv.URL + "/client/1.5")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, int64(len(want)), resp.ContentLength)
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)
}

func TestResolutionRoute_BadVersion(t *testing.T) {
	srv, _ := setup(t)
	resp, err := http.Get(srv.URL + "/client/not-a-version")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFilesRoute(t *testing.T) {
	srv, _ := setup(t)

	resp, err := http.Get(srv.URL + "/files/client/client-2.0.zip")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, payload, body)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/files/client/client-2.0.zip", nil)
	req.Header.Set("Range", "bytes=10-")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, payload[10:], body)

	resp, err = http.Head(srv.URL + "/files/client/client-2.0.zip")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int64(len(payload)), resp.ContentLength)
}

func TestNotFound(t *testing.T) {
	srv, _ := setup(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/"},
		{http.MethodGet, "/unknown"},
		{http.MethodGet, "/client/2.0/extra"},
		{http.MethodGet, "/files/missing.zip"},
		{http.MethodGet, "/files/client"},
		{http.MethodGet, "/files/..%2f..%2fetc%2fpasswd"},
		{http.MethodDelete, "/client"},
		{http.MethodPut, "/client/1.0"},
		{http.MethodPost, "/files/client/client-2.0.zip"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	}
}

func TestHandlerWithFetchClient(t *testing.T) {
	srv, _ := setup(t)
	c := fetch.New(fetch.Options{Logger: quietLogger()})

	m, err := c.FetchManifest(context.Background(), srv.URL+"/client")
	require.NoError(t, err)
	entry, key, ok := m.Version("2.0")
	require.True(t, ok)

	art, err := c.FetchPackage(context.Background(), fetch.PackageRequest{
		Package: m.Package, Version: key, Entry: entry, Dir: t.TempDir(),
	}, nil)
	require.NoError(t, err)
	assert.NoError(t, integrity.VerifyFile(art.Path, entry.Size, entry.Hash))
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", NewHandler(nil, "", quietLogger()), quietLogger(), ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + addr + "/anything")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServe_UnixSocket(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets")
	}
	// Socket paths are length-limited; keep it short.
	dir, err := os.MkdirTemp("", "su")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")

	// A stale socket from a previous run is replaced.
	stale, err := net.Listen("unix", sock)
	require.NoError(t, err)
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())
	require.FileExists(t, sock)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, UnixPrefix+sock, NewHandler(nil, "", quietLogger()), quietLogger(), ready)
	}()

	select {
	case addr := <-ready:
		assert.Equal(t, UnixPrefix+sock, addr)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", sock)
		},
	}}
	resp, err := client.Get("http://selfupdate/anything")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoFileExists(t, sock)
}

func TestServe_UnixPathNotSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	err := Serve(context.Background(), UnixPrefix+path, NewHandler(nil, "", quietLogger()), quietLogger(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a socket")
	assert.FileExists(t, path)
}
