// Package server answers update queries: raw manifests, server-side
// resolutions and package downloads.
package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pushchain/selfupdate/internal/manifest"
	"github.com/pushchain/selfupdate/internal/policy"
	"github.com/pushchain/selfupdate/internal/version"
)

// FilesPrefix is the URL prefix under which package files are served.
const FilesPrefix = "/files/"

// Resolution is the JSON answer to GET or POST /<package>/<version>.
type Resolution struct {
	PackageName       string            `json:"package_name"`
	HasNewVersion     bool              `json:"has_new_version"`
	PackageVersion    string            `json:"package_version,omitempty"`
	ForceUpdate       *bool             `json:"force_update,omitempty"`
	PackageURL        string            `json:"package_url,omitempty"`
	PackageSize       *int64            `json:"package_size,omitempty"`
	PackageFormat     string            `json:"package_format,omitempty"`
	PackageHash       map[string]string `json:"package_hash,omitempty"`
	UpdateTitle       string            `json:"update_title,omitempty"`
	UpdateDescription string            `json:"update_description,omitempty"`
}

// NewResolution converts a policy decision for client into its wire form.
// A target equal to the client's version is reported as no new version.
func NewResolution(pkg, client string, d policy.Decision) Resolution {
	res := Resolution{PackageName: pkg}
	if !d.Available || version.Same(d.Version, client) {
		return res
	}
	force := d.Mandatory
	size := d.Entry.Size
	res.HasNewVersion = true
	res.PackageVersion = d.Version
	res.ForceUpdate = &force
	res.PackageURL = d.Entry.URL
	res.PackageSize = &size
	res.PackageFormat = d.Entry.Format
	res.PackageHash = d.Entry.Hash
	res.UpdateTitle = d.Title
	res.UpdateDescription = d.Description
	return res
}

// Handler serves manifests keyed by package name and files under root.
type Handler struct {
	manifests map[string]*manifest.Manifest
	root      string
	log       logrus.FieldLogger
}

// NewHandler creates a Handler. An empty root disables file serving.
func NewHandler(manifests map[string]*manifest.Manifest, root string, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{manifests: manifests, root: root, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path, "remote": r.RemoteAddr})

	if strings.HasPrefix(r.URL.Path, FilesPrefix) {
		h.serveFile(w, r, log)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	m, ok := h.manifests[parts[0]]
	if !ok || len(parts) > 2 {
		log.Debug("not found")
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet, http.MethodPost, http.MethodHead:
			h.serveManifest(w, r, m, log)
		default:
			http.NotFound(w, r)
		}
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodHead:
		h.serveResolution(w, r, m, parts[1], log)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveManifest(w http.ResponseWriter, r *http.Request, m *manifest.Manifest, log logrus.FieldLogger) {
	body, err := manifest.Marshal(m)
	if err != nil {
		log.WithError(err).Error("marshal manifest")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
	log.WithField("package", m.Package).Info("served manifest")
}

func (h *Handler) serveResolution(w http.ResponseWriter, r *http.Request, m *manifest.Manifest, client string, log logrus.FieldLogger) {
	log = log.WithFields(logrus.Fields{"package": m.Package, "client_version": client})
	d, err := policy.Resolve(m, client)
	if err != nil {
		log.WithError(err).Debug("bad client version")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res := NewResolution(m.Package, client, d)

	body, err := json.Marshal(res)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}

	if res.HasNewVersion {
		log.WithField("target", res.PackageVersion).Info("resolved update")
	} else {
		log.Info("resolved no update")
	}
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger) {
	if h.root == "" || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		http.NotFound(w, r)
		return
	}
	rel := strings.TrimPrefix(r.URL.Path, FilesPrefix)
	clean := filepath.Clean(filepath.FromSlash(rel))
	if rel == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(h.root, clean)

	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	log.WithField("bytes", info.Size()).Debug("served file")
}
