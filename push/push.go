// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package push implements the Push Fanout (§4.G): upload a locally
// materialized bundle to every backend that missed it during the pull
// chain, concurrently (§5: "Push fanout MAY be issued concurrently across
// distinct backends"), using golang.org/x/sync/errgroup to bound the
// fanout under one shared cancellation context.
package push

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/depwarm/depwarm"
	"github.com/depwarm/depwarm/backend"
	"github.com/depwarm/depwarm/logging"
	"github.com/depwarm/depwarm/metrics"
)

// Fanout pushes fingerprint (materialized under cacheDir) to every
// push-capable descriptor in missed. rePull is true if this call is itself
// happening on the orchestrator's second ("rePull") pass. log and m may be
// logging.Nop{} and nil respectively; both are valid no-op defaults.
//
// On a push conflict (KindBundleAlreadyExists): if rePull is already true,
// the conflict is unexpected (we just re-pulled this exact fingerprint) and
// is surfaced as fatal; otherwise it is returned as a *depwarm.RePullError
// so the orchestrator can re-enter with force+rePull pinned to the same fingerprint. Pushes that
// already succeeded before the conflicting one is observed are treated as
// committed: Fanout never retries or rolls them back (§9 Open Question).
func Fanout(ctx context.Context, missed backend.Chain, fingerprint, cacheDir string, rePull bool, log logging.Logger, m *metrics.Metrics) error {
	if log == nil {
		log = logging.Nop{}
	}
	g, gctx := errgroup.WithContext(ctx)

	for _, d := range missed {
		if !d.Push {
			continue
		}
		d := d
		g.Go(func() error {
			err := d.Impl.Push(gctx, fingerprint, d.Options, cacheDir)
			if err == nil {
				m.PushSuccessRecord(d.Alias)
				log.Infow("pushed bundle", "backend", d.Alias, "fingerprint", fingerprint)
				return nil
			}

			if depwarm.Kind(err) == depwarm.KindBundleAlreadyExists {
				m.PushConflictRecord(d.Alias)
				if rePull {
					log.Errorw("unexpected push conflict after rePull", "backend", d.Alias, "fingerprint", fingerprint)
					return depwarm.WrapError(depwarm.KindBackendError, err,
						"push conflict on "+d.Alias+" after an already-performed rePull")
				}
				log.Warnw("push conflict, will rePull", "backend", d.Alias, "fingerprint", fingerprint)
				return depwarm.NewRePullError(fingerprint)
			}

			if d.PushMayFail {
				log.Warnw("push failed, tolerated", "backend", d.Alias, "error", err)
				return nil
			}
			return err
		})
	}

	return g.Wait()
}
