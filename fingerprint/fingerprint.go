// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fingerprint computes the deterministic content-addressed hash
// (§4.A of the spec) that identifies a manifest+lockfile+salt combination.
//
// It is the Go rewrite of the teacher's solver.HashInputs: sort the inputs,
// write them into a digest in a stable order, emit hex. Where HashInputs
// only ever saw a manifest, this version also folds in an optional lockfile
// and an operator-supplied salt, and takes care to make "lockfile absent"
// and "lockfile present but empty" distinguishable inputs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/depwarm/depwarm/manifest"
)

// Salt lets operators invalidate every cached bundle at once (e.g. after a
// breaking change to the bundling process itself) without touching any
// manifest. The zero value participates in the digest like any other salt.
type Salt struct {
	Value string
}

const (
	tagNoLockfile = 0
	tagLockfile   = 1
)

// Compute returns the hex-encoded SHA-256 fingerprint of the given manifest,
// optional lockfile, and salt. Identical inputs produce an identical string
// on any machine, in any process (Testable Property 1).
func Compute(m *manifest.Manifest, lock *manifest.Lockfile, salt Salt) (string, error) {
	if m == nil {
		return "", errNilManifest()
	}

	h := sha256.New()

	writeSortedMap(h, m.Runtime)
	h.Write([]byte{0}) // section separator between runtime and dev maps
	writeSortedMap(h, m.Development)

	if lock.Present() {
		h.Write([]byte{tagLockfile})
		h.Write(lock.Canonical())
	} else {
		h.Write([]byte{tagNoLockfile})
	}

	h.Write([]byte(salt.Value))

	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeSortedMap(h interface{ Write([]byte) (int, error) }, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(m[k]))
		h.Write([]byte{';'})
	}
}
