// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gittag implements a backend.Backend that stores bundles as
// annotated commits in a local "mirror" git repository, one tag per
// fingerprint. It is grounded on the teacher's gitRepo wrapper (vcs_repo.go)
// around Masterminds/vcs: where the teacher drives git to fetch and check
// out project dependency sources, this backend drives the same plumbing to
// fetch and check out bundle trees. Tags, not branches, carry the bundle
// identity, since a fingerprint is content-addressed and never mutates once
// written.
package gittag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	shutil "github.com/termie/go-shutil"

	"github.com/depwarm/depwarm"
	"github.com/depwarm/depwarm/backend"
	"github.com/depwarm/depwarm/procrunner"
)

// Options configures the backend.
type Options struct {
	// MirrorDir is the local path of the mirror repository. It is created
	// (git init) on first use if it doesn't already exist.
	MirrorDir string
	// Remote is an optional upstream to fetch tags from / push tags to. A
	// remote-less mirror is usable as a single-machine cache.
	Remote string
}

// Backend is a gittag backend.Backend. One Backend may safely be shared
// across goroutines; repo initialization is guarded by a single mutex, and
// a per-MirrorDir ready flag makes it run once per mirror, matching the
// teacher's one-shot capability probes in spirit.
type Backend struct {
	runner *procrunner.Runner

	mu    sync.Mutex
	ready map[string]bool
}

// New constructs a gittag Backend driving git through runner.
func New(runner *procrunner.Runner) *Backend {
	return &Backend{runner: runner, ready: map[string]bool{}}
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) ValidateOptions(opts backend.Options) (backend.Options, error) {
	o, ok := opts.(Options)
	if !ok {
		return nil, depwarm.NewError(depwarm.KindInvalidOptions, "gittag: options must be gittag.Options")
	}
	if o.MirrorDir == "" {
		return nil, depwarm.NewError(depwarm.KindInvalidOptions, "gittag: MirrorDir must be set")
	}
	abs, err := filepath.Abs(o.MirrorDir)
	if err != nil {
		return nil, depwarm.WrapError(depwarm.KindInvalidOptions, err, "gittag: resolve MirrorDir")
	}
	o.MirrorDir = abs
	return o, nil
}

func tagName(fingerprint string) string {
	return "depwarm/" + fingerprint
}

// ensureMirror makes sure o.MirrorDir is a git working copy, initializing
// one the first time it's seen. An existing repo is recognized by its .git
// directory; a fresh directory is git-init'd directly, the same split the teacher's gitRepo.Get draws between "clone
// a remote" and "local repo already present".
func (b *Backend) ensureMirror(ctx context.Context, o Options) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready[o.MirrorDir] {
		return nil
	}

	if isRepo(o.MirrorDir) {
		b.ready[o.MirrorDir] = true
		return nil
	}

	if err := os.MkdirAll(o.MirrorDir, 0o755); err != nil {
		return depwarm.WrapError(depwarm.KindBackendError, err, "gittag: create mirror dir")
	}
	if err := b.git(ctx, o.MirrorDir, "init", "-q"); err != nil {
		return err
	}
	if err := b.git(ctx, o.MirrorDir, "config", "user.email", "depwarm@localhost"); err != nil {
		return err
	}
	if err := b.git(ctx, o.MirrorDir, "config", "user.name", "depwarm"); err != nil {
		return err
	}
	if o.Remote != "" {
		if err := b.git(ctx, o.MirrorDir, "remote", "add", "origin", o.Remote); err != nil {
			return err
		}
	}
	// git worktree add needs a valid HEAD to branch off; a freshly init'd
	// repo has none.
	if err := b.git(ctx, o.MirrorDir, "commit", "--allow-empty", "-q", "-m", "depwarm mirror root"); err != nil {
		return err
	}
	b.ready[o.MirrorDir] = true
	return nil
}

func isRepo(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && fi.IsDir()
}

func (b *Backend) git(ctx context.Context, dir string, args ...string) error {
	return b.runner.Run(ctx, procrunner.Invocation{Path: "git", Args: args, Dir: dir})
}

func (b *Backend) gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := b.runner.CombinedOutput(ctx, procrunner.Invocation{Path: "git", Args: args, Dir: dir})
	return string(out), err
}

// tagExists reports whether tag is present in the mirror, fetching from
// Remote first if one is configured.
func (b *Backend) tagExists(ctx context.Context, o Options, tag string) (bool, error) {
	if o.Remote != "" {
		if err := b.git(ctx, o.MirrorDir, "fetch", "--tags", "origin"); err != nil {
			return false, err
		}
	}
	out, err := b.gitOutput(ctx, o.MirrorDir, "tag", "--list", tag)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == tag, nil
}

// Pull checks out the tree recorded under fingerprint's tag into
// cacheDir/node_modules, via a throwaway worktree (so the mirror's own
// working copy is never disturbed by concurrent pulls).
func (b *Backend) Pull(ctx context.Context, fingerprint string, opts backend.Options, cacheDir string) error {
	o := opts.(Options)
	if err := b.ensureMirror(ctx, o); err != nil {
		return err
	}

	tag := tagName(fingerprint)
	exists, err := b.tagExists(ctx, o, tag)
	if err != nil {
		return depwarm.WrapError(depwarm.KindBackendError, err, "gittag pull: check tag")
	}
	if !exists {
		return depwarm.NewError(depwarm.KindBundleNotFound, fingerprint)
	}

	worktree := filepath.Join(cacheDir, ".gittag-worktree")
	if err := b.git(ctx, o.MirrorDir, "worktree", "add", "--detach", worktree, tag); err != nil {
		return depwarm.WrapError(depwarm.KindBackendError, err, "gittag pull: worktree add")
	}
	defer func() {
		_ = b.git(ctx, o.MirrorDir, "worktree", "remove", "--force", worktree)
	}()

	dst := filepath.Join(cacheDir, "node_modules")
	src := filepath.Join(worktree, "node_modules")
	if err := shutil.CopyTree(src, dst, nil); err != nil {
		return depwarm.WrapError(depwarm.KindBackendError, err, "gittag pull: copy worktree")
	}
	return nil
}

// Push copies cacheDir/node_modules into a fresh worktree, commits it, and
// tags the commit with fingerprint. KindBundleAlreadyExists if the tag is
// already taken — another writer got there first.
func (b *Backend) Push(ctx context.Context, fingerprint string, opts backend.Options, cacheDir string) error {
	o := opts.(Options)
	if err := b.ensureMirror(ctx, o); err != nil {
		return err
	}

	tag := tagName(fingerprint)
	exists, err := b.tagExists(ctx, o, tag)
	if err != nil {
		return depwarm.WrapError(depwarm.KindBackendError, err, "gittag push: check tag")
	}
	if exists {
		return depwarm.NewError(depwarm.KindBundleAlreadyExists, fingerprint)
	}

	worktree := filepath.Join(cacheDir, ".gittag-push-worktree")
	if err := b.git(ctx, o.MirrorDir, "worktree", "add", "--detach", worktree); err != nil {
		return depwarm.WrapError(depwarm.KindBackendError, err, "gittag push: worktree add")
	}
	defer func() {
		_ = b.git(ctx, o.MirrorDir, "worktree", "remove", "--force", worktree)
	}()

	if err := b.git(ctx, worktree, "rm", "-r", "-q", "--ignore-unmatch", "node_modules"); err != nil {
		return depwarm.WrapError(depwarm.KindBackendError, err, "gittag push: clear worktree")
	}
	dst := filepath.Join(worktree, "node_modules")
	src := filepath.Join(cacheDir, "node_modules")
	if err := shutil.CopyTree(src, dst, nil); err != nil {
		return depwarm.WrapError(depwarm.KindBackendError, err, "gittag push: copy into worktree")
	}

	if err := b.git(ctx, worktree, "add", "-A"); err != nil {
		return depwarm.WrapError(depwarm.KindBackendError, err, "gittag push: add")
	}
	if err := b.git(ctx, worktree, "commit", "-q", "-m", "bundle "+fingerprint); err != nil {
		return depwarm.WrapError(depwarm.KindBackendError, err, "gittag push: commit")
	}
	if err := b.git(ctx, worktree, "tag", tag); err != nil {
		// A tag created concurrently between our check and this point is a
		// genuine race, not a hard failure: report it the same way a
		// pre-existing tag would be.
		stillExists, checkErr := b.tagExists(ctx, o, tag)
		if checkErr == nil && stillExists {
			return depwarm.NewError(depwarm.KindBundleAlreadyExists, fingerprint)
		}
		return depwarm.WrapError(depwarm.KindBackendError, err, "gittag push: tag")
	}

	if o.Remote != "" {
		if err := b.git(ctx, o.MirrorDir, "push", "origin", tag); err != nil {
			return depwarm.WrapError(depwarm.KindBackendError, err, "gittag push: push tag")
		}
	}
	return nil
}
