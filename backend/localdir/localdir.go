// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package localdir implements a backend.Backend over a plain directory
// tree: one subdirectory per fingerprint, each holding a materialized
// node_modules. It is the simplest possible backend, useful as a shared-NFS
// or local-disk cache tier ahead of something slower (S3, a remote HTTP
// cache, etc).
package localdir

import (
	"context"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	shutil "github.com/termie/go-shutil"

	"github.com/depwarm/depwarm"
	"github.com/depwarm/depwarm/backend"
)

// Options configures the backend. Root is the directory under which every
// fingerprint gets its own subdirectory.
type Options struct {
	Root string
}

// Backend is a localdir backend.Backend.
type Backend struct{}

// New constructs a localdir Backend. The backend itself is stateless; all
// configuration lives in Options.
func New() *Backend { return &Backend{} }

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) ValidateOptions(opts backend.Options) (backend.Options, error) {
	o, ok := opts.(Options)
	if !ok {
		return nil, depwarm.NewError(depwarm.KindInvalidOptions, "localdir: options must be localdir.Options")
	}
	if o.Root == "" {
		return nil, depwarm.NewError(depwarm.KindInvalidOptions, "localdir: Root must be set")
	}
	abs, err := filepath.Abs(o.Root)
	if err != nil {
		return nil, depwarm.WrapError(depwarm.KindInvalidOptions, err, "localdir: resolve Root")
	}
	return Options{Root: abs}, nil
}

func bundleDir(o Options, fingerprint string) string {
	return filepath.Join(o.Root, fingerprint)
}

// Pull copies Root/<fingerprint>/node_modules into cacheDir/node_modules.
// Existence is confirmed with a directory walk (godirwalk) rather than a
// bare os.Stat, catching the case where the fingerprint directory exists
// but was left empty by a previous interrupted Push.
func (b *Backend) Pull(ctx context.Context, fingerprint string, opts backend.Options, cacheDir string) error {
	o := opts.(Options)
	src := filepath.Join(bundleDir(o, fingerprint), "node_modules")

	populated, err := hasEntries(src)
	if err != nil {
		if os.IsNotExist(err) {
			return depwarm.NewError(depwarm.KindBundleNotFound, fingerprint)
		}
		return depwarm.WrapError(depwarm.KindBackendError, err, "localdir pull: inspect "+src)
	}
	if !populated {
		return depwarm.NewError(depwarm.KindBundleNotFound, fingerprint)
	}

	dst := filepath.Join(cacheDir, "node_modules")
	if err := shutil.CopyTree(src, dst, nil); err != nil {
		return depwarm.WrapError(depwarm.KindBackendError, err, "localdir pull: copy "+src)
	}
	return nil
}

// Push copies cacheDir/node_modules into Root/<fingerprint>/node_modules,
// failing with KindBundleAlreadyExists if that fingerprint is already
// populated (another process won the race).
func (b *Backend) Push(ctx context.Context, fingerprint string, opts backend.Options, cacheDir string) error {
	o := opts.(Options)
	dst := filepath.Join(bundleDir(o, fingerprint), "node_modules")

	populated, err := hasEntries(dst)
	if err != nil && !os.IsNotExist(err) {
		return depwarm.WrapError(depwarm.KindBackendError, err, "localdir push: inspect "+dst)
	}
	if populated {
		return depwarm.NewError(depwarm.KindBundleAlreadyExists, fingerprint)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return depwarm.WrapError(depwarm.KindBackendError, err, "localdir push: mkdir")
	}

	src := filepath.Join(cacheDir, "node_modules")
	if err := shutil.CopyTree(src, dst, nil); err != nil {
		return depwarm.WrapError(depwarm.KindBackendError, err, "localdir push: copy into "+dst)
	}
	return nil
}

// hasEntries reports whether dir exists and contains at least one entry. A
// missing dir is reported via os.IsNotExist-compatible error, checked
// before handing off to godirwalk (whose own errors are pkg/errors-wrapped
// and not recognized by os.IsNotExist).
func hasEntries(dir string) (bool, error) {
	if _, err := os.Stat(dir); err != nil {
		return false, err
	}

	found := false
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path != dir {
				found = true
				return filepath.SkipDir
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return false, err
	}
	return found, nil
}
