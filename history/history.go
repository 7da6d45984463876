// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package history implements the History Walker (§4.E): when the chain
// misses on the current manifest, walk backwards through the project's git
// history looking for an older manifest the chain still recognizes, on the
// theory that most dependency changes are small and a near-miss bundle plus
// a delta install (§4.F) beats a full native install.
package history

import (
	"bytes"
	"context"

	"github.com/depwarm/depwarm"
	"github.com/depwarm/depwarm/backend"
	"github.com/depwarm/depwarm/fingerprint"
	"github.com/depwarm/depwarm/gitutil"
	"github.com/depwarm/depwarm/logging"
	"github.com/depwarm/depwarm/manifest"
	"github.com/depwarm/depwarm/metrics"
	"github.com/depwarm/depwarm/pull"
	"github.com/depwarm/depwarm/workspace"
)

// Result is a successful walk's outcome: the parsed manifest as it existed
// at the matched historical revision, plus the pull chain's own result for
// the tree that is now materialized at the project root.
type Result struct {
	OlderManifest *manifest.Manifest
	Pull          pull.Result
	HistoryIndex  int
}

// Walk implements the §4.E algorithm. manifestPath and lockPath are paths
// relative to repoDir (lockPath may be empty if the project carries no
// lockfile). currentFingerprint is the fingerprint that already missed the
// chain on HEAD.
func Walk(
	ctx context.Context,
	h *gitutil.History,
	ws *workspace.Manager,
	chain backend.Chain,
	manifestPath, lockPath string,
	currentFingerprint string,
	salt fingerprint.Salt,
	depth int,
	log logging.Logger,
	m *metrics.Metrics,
) (Result, error) {
	if log == nil {
		log = logging.Nop{}
	}

	lastFingerprint := currentFingerprint
	historyIndex := 0
	freeSteps := 0

	for historyIndex <= depth {
		rev, err := h.RevisionAt(ctx, historyIndex)
		if err != nil {
			if err == gitutil.ErrNoSuchRevision {
				break
			}
			return Result{}, depwarm.WrapError(depwarm.KindBackendError, err, "history walk")
		}

		olderManifest, olderLock, err := readAt(ctx, h, rev, manifestPath, lockPath)
		if err != nil {
			// Tie-break: an unparsable historical manifest is treated as a
			// chain failure at this index, not a walk failure.
			log.Debugw("history revision unparsable, skipping", "revision", rev, "index", historyIndex)
			historyIndex++
			continue
		}

		newFingerprint, err := fingerprint.Compute(olderManifest, olderLock, salt)
		if err != nil {
			historyIndex++
			continue
		}

		if newFingerprint == lastFingerprint {
			// This revision didn't change the dependency set versus the one
			// we already tried (or HEAD, on the first loop) — free depth.
			depth++
			freeSteps++
			historyIndex++
			continue
		}
		lastFingerprint = newFingerprint

		res, err := pull.Chain(ctx, ws, chain, newFingerprint, nil, log, m)
		if err == nil {
			m.HistoryDepthRecord(historyIndex - freeSteps)
			log.Infow("history fallback hit", "revision", rev, "index", historyIndex, "fingerprint", newFingerprint)
			return Result{OlderManifest: olderManifest, Pull: res, HistoryIndex: historyIndex}, nil
		}

		if depwarm.Kind(err) != depwarm.KindBundlesNotFound {
			return Result{}, err
		}
		historyIndex++
	}

	return Result{}, depwarm.NewError(depwarm.KindBundlesNotFound, "history depth exhausted without a chain hit")
}

func readAt(ctx context.Context, h *gitutil.History, rev, manifestPath, lockPath string) (*manifest.Manifest, *manifest.Lockfile, error) {
	manifestBytes, err := h.ShowFile(ctx, rev, manifestPath)
	if err != nil {
		return nil, nil, err
	}
	m, err := manifest.Read(bytes.NewReader(manifestBytes))
	if err != nil {
		return nil, nil, err
	}

	if lockPath == "" {
		return m, manifest.Absent, nil
	}
	lockBytes, err := h.ShowFile(ctx, rev, lockPath)
	if err != nil {
		// The lockfile may not have existed at this revision; treat as absent
		// rather than failing the whole revision.
		return m, manifest.Absent, nil
	}
	lock, err := manifest.ReadLockfile(bytes.NewReader(lockBytes))
	if err != nil {
		return nil, nil, err
	}
	return m, lock, nil
}
