// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package delta implements the Delta Installer (§4.F): given the manifest a
// pulled history bundle was built against and the project's current
// manifest, compute the minimal set of native package-manager operations
// needed to reconcile the two, and drive them through a NativeInstaller.
package delta

import (
	"context"

	"github.com/depwarm/depwarm"
	"github.com/depwarm/depwarm/manifest"
)

// NativeInstaller is the native package manager's install/uninstall surface,
// abstracted behind the process runner per §6 ("the core never shells out
// directly"). npmrunner provides the real implementation.
type NativeInstaller interface {
	// Install adds/updates exactly the given name->specifier pairs.
	Install(ctx context.Context, pkgs map[string]string) error
	// Uninstall removes exactly the given package names.
	Uninstall(ctx context.Context, names []string) error
	// InstallAll performs a full install from the current manifest,
	// used by the orchestrator's NativeFallback state.
	InstallAll(ctx context.Context) error
}

// ErrEmptyDelta is the signal that Reconcile was invoked with nothing to
// do, preserving the teacher's "assert(false, Unreachable)" precondition
// explicitly instead of silently returning success (§9 Design Notes, Open
// Question). Callers that can legitimately hit this (e.g. a history
// fallback whose older manifest turns out identical to the current one)
// should check for it with errors.Is rather than treating it as a generic
// KindBackendError failure.
var ErrEmptyDelta = depwarm.NewError(depwarm.KindBackendError, "reconcile called with no difference between manifests")

// merge folds dev and runtime dependency maps into one, with runtime winning
// on key conflict, matching the native tool's own convention (§4.F).
func merge(m *manifest.Manifest) map[string]string {
	all := make(map[string]string, len(m.Development)+len(m.Runtime))
	for k, v := range m.Development {
		all[k] = v
	}
	for k, v := range m.Runtime {
		all[k] = v
	}
	return all
}

// Diff is the computed set-difference between two manifests' merged
// dependency maps.
type Diff struct {
	ToInstall   map[string]string
	ToUninstall []string
}

// Compute returns the installs and uninstalls needed to go from oldManifest
// to newManifest (§4.F).
func Compute(oldManifest, newManifest *manifest.Manifest) Diff {
	oldAll := merge(oldManifest)
	newAll := merge(newManifest)

	diff := Diff{ToInstall: map[string]string{}}
	for name, spec := range newAll {
		if oldSpec, ok := oldAll[name]; !ok || oldSpec != spec {
			diff.ToInstall[name] = spec
		}
	}
	for name := range oldAll {
		if _, ok := newAll[name]; !ok {
			diff.ToUninstall = append(diff.ToUninstall, name)
		}
	}
	return diff
}

// IsEmpty reports whether the diff has nothing to install or uninstall.
func (d Diff) IsEmpty() bool {
	return len(d.ToInstall) == 0 && len(d.ToUninstall) == 0
}

// Reconcile drives installer to bring the project from oldManifest to
// newManifest: installs first, then uninstalls (§4.F rationale: new
// versions may transitively replace old packages, shrinking the uninstall
// set). An empty diff performs no install or uninstall and returns
// ErrEmptyDelta; the history walker can deliver a bundle whose manifest
// matches the current one (for example when only the lockfile differs), and
// the orchestrator's HistoryFallback state treats that result as nothing to
// reconcile.
func Reconcile(ctx context.Context, installer NativeInstaller, oldManifest, newManifest *manifest.Manifest) error {
	diff := Compute(oldManifest, newManifest)
	if diff.IsEmpty() {
		return ErrEmptyDelta
	}

	if len(diff.ToInstall) > 0 {
		if err := installer.Install(ctx, diff.ToInstall); err != nil {
			return err
		}
	}
	if len(diff.ToUninstall) > 0 {
		if err := installer.Uninstall(ctx, diff.ToUninstall); err != nil {
			return err
		}
	}
	return nil
}
