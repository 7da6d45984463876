// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gitutil backs the History Walker's (§4.E) need to read the
// manifest (and lockfile) as they existed at an older revision, and to
// detect whether a project root is under version control at all.
//
// Repo-type detection is delegated to Masterminds/vcs, exactly as the
// teacher's context.go does for dep's own project root detection
// (vcs.NewRepo("", path)). Masterminds/vcs has no API for "the Nth
// historical revision that touched this one path", though, so that part
// goes straight through the process runner to git plumbing commands, the
// same way the teacher's gitRepo wrapper (vcs_repo.go) shells out for
// operations vcs.Repo doesn't cover.
package gitutil

import (
	"bytes"
	"context"
	"strings"

	"github.com/Masterminds/vcs"
	"github.com/pkg/errors"

	"github.com/depwarm/depwarm/procrunner"
)

// IsRepo reports whether path is inside a working copy of any VCS that
// Masterminds/vcs knows how to detect (git, hg, svn, bzr).
func IsRepo(path string) bool {
	repo, err := vcs.NewRepo("", path)
	if err != nil {
		return false
	}
	return repo.CheckLocal()
}

// History queries revision history for a single path, newest-first access
// by index: RevisionAt(0) is HEAD~1 on that path's own history (one
// commit older than the current one that touched it), RevisionAt(1) is two
// commits older, and so on — matching §4.E's "historyIndex + 1 commits
// older than HEAD on the manifest's path".
type History struct {
	runner *procrunner.Runner
	repoDir string
	relPath string
}

// Open prepares history access for relPath inside the git repository rooted
// at repoDir. Open itself does no I/O beyond what IsRepo already implies the
// caller checked.
func Open(runner *procrunner.Runner, repoDir, relPath string) *History {
	return &History{runner: runner, repoDir: repoDir, relPath: relPath}
}

// RevisionAt returns the commit hash of the (index+1)-th most recent commit
// that touched h.relPath, oldest direction (index 0 = one commit back).
// Returns ErrNoSuchRevision if the path's history doesn't go back that far.
func (h *History) RevisionAt(ctx context.Context, index int) (string, error) {
	out, err := h.runner.CombinedOutput(ctx, procrunner.Invocation{
		Path: "git",
		Args: []string{"log", "--format=%H", "--follow", "--", h.relPath},
		Dir:  h.repoDir,
	})
	if err != nil {
		return "", errors.Wrap(err, "git log")
	}

	revs := strings.Fields(strings.TrimSpace(string(out)))
	// revs[0] is HEAD's own revision for this path; the walker wants
	// revisions strictly older than HEAD, so the (index+1)-th entry.
	want := index + 1
	if want >= len(revs) {
		return "", ErrNoSuchRevision
	}
	return revs[want], nil
}

// ShowFile returns the content of relPath as it existed at revision rev.
func (h *History) ShowFile(ctx context.Context, rev, relPath string) ([]byte, error) {
	out, err := h.runner.CombinedOutput(ctx, procrunner.Invocation{
		Path: "git",
		Args: []string{"show", rev + ":" + relPath},
		Dir:  h.repoDir,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "git show %s:%s", rev, relPath)
	}
	return bytes.TrimRight(out, "\n"), nil
}

// ErrNoSuchRevision is returned by RevisionAt once the path's recorded
// history is exhausted.
var ErrNoSuchRevision = errors.New("no such revision in path history")
