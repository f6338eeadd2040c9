package update

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const (
	cacheFileName = ".update-check"
	cacheDuration = 10 * time.Minute
)

// CacheEntry stores the last update check result
type CacheEntry struct {
	CheckedAt       time.Time `json:"checked_at" yaml:"checked_at"`
	ManifestURL     string    `json:"manifest_url" yaml:"manifest_url"`
	CurrentVersion  string    `json:"current_version" yaml:"current_version"`
	LatestVersion   string    `json:"latest_version,omitempty" yaml:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available" yaml:"update_available"`
	Mandatory       bool      `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
	Title           string    `json:"title,omitempty" yaml:"title,omitempty"`
	Description     string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// GetCachePath returns the path to the cache file
func GetCachePath(stateDir string) string {
	return filepath.Join(stateDir, cacheFileName)
}

// LoadCache loads the cached update check result
func LoadCache(stateDir string) (*CacheEntry, error) {
	path := GetCachePath(stateDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

// SaveCache writes entry to stateDir, creating the directory if needed.
// The file is replaced atomically so a concurrent LoadCache never sees a
// partial entry.
func SaveCache(stateDir string, entry *CacheEntry) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(stateDir, cacheFileName+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), GetCachePath(stateDir))
}

// IsCacheValid returns true if cache is fresh (< 10m old)
func IsCacheValid(entry *CacheEntry) bool {
	return time.Since(entry.CheckedAt) < cacheDuration
}

// applies reports whether entry was recorded for the same manifest and
// running version. A relaunch after an update invalidates the entry.
func (e *CacheEntry) applies(manifestURL, current string) bool {
	return e.ManifestURL == manifestURL && e.CurrentVersion == current
}

func cacheEntryFor(u *Updater, r Result) *CacheEntry {
	e := &CacheEntry{
		CheckedAt:       time.Now(),
		ManifestURL:     u.manifestURL,
		CurrentVersion:  u.CurrentVersion,
		UpdateAvailable: r.UpdateAvailable(),
	}
	if e.UpdateAvailable {
		e.LatestVersion = r.Decision.Version
		e.Mandatory = r.Decision.Mandatory
		e.Title = r.Decision.Title
		e.Description = r.Decision.Description
	}
	return e
}

// CheckCached answers from the check cache in stateDir when it is fresh and
// fresh is false; otherwise it runs Check and updates the cache. Failed
// checks are not cached. fromCache reports which path was taken.
func (u *Updater) CheckCached(ctx context.Context, stateDir string, fresh bool) (entry *CacheEntry, fromCache bool, err error) {
	if !fresh && stateDir != "" {
		if cached, err := LoadCache(stateDir); err == nil && IsCacheValid(cached) && cached.applies(u.manifestURL, u.CurrentVersion) {
			return cached, true, nil
		}
	}

	r := u.Check(ctx)
	if r.State == Failed {
		return nil, false, r.Err
	}
	entry = cacheEntryFor(u, r)
	if stateDir != "" {
		if err := SaveCache(stateDir, entry); err != nil {
			u.log.WithError(err).Debug("save update check cache")
		}
	}
	return entry, false, nil
}
