package manifest

import (
	"bytes"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/pushchain/selfupdate/internal/integrity"
	"github.com/pushchain/selfupdate/internal/version"
)

// rawManifest mirrors Manifest with pointer fields so absent keys can be
// told apart from zero values.
type rawManifest struct {
	Package  *string                     `yaml:"package"`
	Versions map[string]*rawVersionEntry `yaml:"versions"`
	Policies []*rawPolicy                `yaml:"policies"`
}

type rawVersionEntry struct {
	URL         *string           `yaml:"url"`
	Size        *int64            `yaml:"size"`
	Format      *string           `yaml:"format"`
	Hash        map[string]string `yaml:"hash"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
}

type rawPolicy struct {
	Matches     []string `yaml:"matches"`
	Target      *string  `yaml:"target"`
	Force       *bool    `yaml:"force"`
	Title       *string  `yaml:"title"`
	Description *string  `yaml:"description"`
}

// Parse decodes and validates a manifest document. Every defect found is
// reported; the returned error matches ErrMalformed, ErrInvalidHash and
// ErrDanglingPolicyTarget with errors.Is as applicable.
func Parse(data []byte) (*Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, malformed("", "empty document")
	}
	var raw rawManifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Err: ErrMalformed, Msg: err.Error()}
	}

	var errs *multierror.Error
	m := &Manifest{Versions: map[string]VersionEntry{}}

	if raw.Package == nil || strings.TrimSpace(*raw.Package) == "" {
		errs = multierror.Append(errs, malformed("package", "required"))
	} else {
		m.Package = strings.TrimSpace(*raw.Package)
	}

	if len(raw.Versions) == 0 {
		errs = multierror.Append(errs, malformed("versions", "at least one version is required"))
	}
	for _, key := range sortedKeys(raw.Versions) {
		entry, entryErrs := parseVersionEntry(key, raw.Versions[key])
		if entryErrs != nil {
			errs = multierror.Append(errs, entryErrs.Errors...)
			continue
		}
		m.Versions[key] = entry
	}

	for i, rp := range raw.Policies {
		p, policyErrs := parsePolicy(i, rp, raw.Versions)
		if policyErrs != nil {
			errs = multierror.Append(errs, policyErrs.Errors...)
			continue
		}
		m.Policies = append(m.Policies, p)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseVersionEntry(key string, raw *rawVersionEntry) (VersionEntry, *multierror.Error) {
	path := fmt.Sprintf("versions[%q]", key)
	var errs *multierror.Error

	if _, err := version.Parse(key); err != nil {
		errs = multierror.Append(errs, malformed(path, "version key: %v", err))
	}
	if raw == nil {
		return VersionEntry{}, multierror.Append(errs, malformed(path, "entry is empty"))
	}

	entry := VersionEntry{Title: raw.Title, Description: raw.Description, Hash: map[string]string{}}

	switch {
	case raw.URL == nil || *raw.URL == "":
		errs = multierror.Append(errs, malformed(path+".url", "required"))
	default:
		u, err := url.Parse(*raw.URL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			errs = multierror.Append(errs, malformed(path+".url", "must be an absolute URL, got %q", *raw.URL))
		}
		entry.URL = *raw.URL
	}

	switch {
	case raw.Size == nil:
		errs = multierror.Append(errs, malformed(path+".size", "required"))
	case *raw.Size < 0:
		errs = multierror.Append(errs, malformed(path+".size", "must be non-negative, got %d", *raw.Size))
	default:
		entry.Size = *raw.Size
	}

	if raw.Format == nil || *raw.Format == "" {
		errs = multierror.Append(errs, malformed(path+".format", "required"))
	} else {
		format := strings.ToLower(*raw.Format)
		if format != FormatZip && format != FormatTarLz4 {
			errs = multierror.Append(errs, malformed(path+".format", "unsupported package format %q", *raw.Format))
		}
		entry.Format = format
	}

	if len(raw.Hash) == 0 {
		errs = multierror.Append(errs, malformed(path+".hash", "required"))
	}
	declared := map[string]bool{}
	for algo, value := range raw.Hash {
		algo = strings.ToLower(strings.TrimSpace(algo))
		declared[algo] = true
		if err := integrity.ValidateHex(algo, value); err != nil {
			errs = multierror.Append(errs, &ParseError{Path: path + ".hash." + algo, Err: ErrInvalidHash, Msg: err.Error()})
			continue
		}
		entry.Hash[algo] = value
	}
	if len(raw.Hash) > 0 && !declared[integrity.SHA256] {
		errs = multierror.Append(errs, malformed(path+".hash", "sha256 is required"))
	}

	return entry, errs
}

func parsePolicy(i int, raw *rawPolicy, versions map[string]*rawVersionEntry) (Policy, *multierror.Error) {
	path := fmt.Sprintf("policies[%d]", i)
	var errs *multierror.Error
	if raw == nil {
		return Policy{}, multierror.Append(errs, malformed(path, "policy is empty"))
	}

	p := Policy{Force: raw.Force, Title: raw.Title, Description: raw.Description}

	if len(raw.Matches) == 0 {
		errs = multierror.Append(errs, malformed(path+".matches", "at least one range is required"))
	}
	for j, expr := range raw.Matches {
		r, err := version.ParseRange(expr)
		if err != nil {
			errs = multierror.Append(errs, malformed(fmt.Sprintf("%s.matches[%d]", path, j), "%v", err))
			continue
		}
		p.Matches = append(p.Matches, expr)
		p.ranges = append(p.ranges, r)
	}

	switch {
	case raw.Target == nil || strings.TrimSpace(*raw.Target) == "":
		errs = multierror.Append(errs, malformed(path+".target", "required"))
	default:
		p.Target = strings.TrimSpace(*raw.Target)
		if !hasVersion(versions, p.Target) {
			errs = multierror.Append(errs, &ParseError{
				Path: path + ".target",
				Err:  ErrDanglingPolicyTarget,
				Msg:  fmt.Sprintf("version %q is not declared", p.Target),
			})
		}
	}

	return p, errs
}

func hasVersion(versions map[string]*rawVersionEntry, target string) bool {
	if _, ok := versions[target]; ok {
		return true
	}
	for key := range versions {
		if version.Same(key, target) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]*rawVersionEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Marshal renders m back to the manifest YAML schema.
func Marshal(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ScanDir loads every *.yaml and *.yml file under dir, keyed by package name.
func ScanDir(dir string) (map[string]*Manifest, error) {
	manifests := map[string]*Manifest{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
			return nil
		}
		m, err := Load(path)
		if err != nil {
			return err
		}
		if _, dup := manifests[m.Package]; dup {
			return fmt.Errorf("%s: duplicate manifest for package %q", path, m.Package)
		}
		manifests[m.Package] = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return manifests, nil
}
