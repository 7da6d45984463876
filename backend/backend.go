// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backend defines the pluggable backend contract (§4.B of the spec)
// that the pull chain, history walker, and push fanout all drive. Concrete
// backends (backend/localdir, backend/gittag, ...) implement Backend; the
// engine never knows how a bundle is serialized on the wire.
package backend

import "context"

// Options is an opaque, backend-specific options record. Each backend type
// defines its own concrete struct and type-asserts it out of this interface
// inside ValidateOptions.
type Options interface{}

// Backend is the contract every storage backend satisfies. Implementations
// must be fingerprint-idempotent: pulling the same fingerprint twice must
// yield byte-identical trees.
type Backend interface {
	// Pull materializes the bundle for fingerprint into cacheDir, as a
	// subdirectory named "node_modules". Returns a *depwarm.Error of kind
	// KindBundleNotFound if this backend holds no such fingerprint, or
	// KindBackendError for any other failure.
	Pull(ctx context.Context, fingerprint string, opts Options, cacheDir string) error

	// Push uploads the dependency tree rooted at cacheDir/node_modules for
	// fingerprint. Returns KindBundleAlreadyExists if the target already
	// holds this fingerprint, or KindBackendError otherwise.
	Push(ctx context.Context, fingerprint string, opts Options, cacheDir string) error

	// ValidateOptions inspects and normalizes opts at startup, returning the
	// normalized value. Fails with KindInvalidOptions.
	ValidateOptions(opts Options) (Options, error)
}

// Descriptor binds a Backend implementation to its configuration and its
// place in the chain (§3 "Backend descriptor").
type Descriptor struct {
	// Alias is a human-readable, chain-unique name used in logs and in
	// MissedBackends reporting.
	Alias string

	// Impl is the backend implementation.
	Impl Backend

	// Options is the (already-validated, at startup) options record passed
	// to every Pull/Push call.
	Options Options

	// Push indicates this backend is a candidate for push-on-miss.
	Push bool

	// PushMayFail tolerates non-conflict push failures: the engine logs and
	// continues rather than propagating them (§4.G, §7).
	PushMayFail bool
}

// Chain is the user-ordered sequence of backend descriptors consulted by the
// pull chain and pushed to by the push fanout. Order is significant.
type Chain []Descriptor

// ValidateAll runs ValidateOptions on every descriptor in the chain,
// replacing each Options field with its normalized form. Meant to be called
// once at startup (§4.B: "at startup").
func (c Chain) ValidateAll() error {
	for i := range c {
		normalized, err := c[i].Impl.ValidateOptions(c[i].Options)
		if err != nil {
			return err
		}
		c[i].Options = normalized
	}
	return nil
}

// ByAlias returns the descriptor with the given alias, and whether it was
// found.
func (c Chain) ByAlias(alias string) (Descriptor, bool) {
	for _, d := range c {
		if d.Alias == alias {
			return d, true
		}
	}
	return Descriptor{}, false
}
