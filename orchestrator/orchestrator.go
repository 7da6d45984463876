// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package orchestrator implements the Install Orchestrator (§4.H): the
// top-level state machine that turns a manifest into a materialized
// node_modules by driving fingerprint, pull, history, delta, and push in
// sequence, with a bounded one-shot rePull loop on push conflicts.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/depwarm/depwarm"
	"github.com/depwarm/depwarm/backend"
	"github.com/depwarm/depwarm/delta"
	"github.com/depwarm/depwarm/fingerprint"
	"github.com/depwarm/depwarm/gitutil"
	"github.com/depwarm/depwarm/history"
	"github.com/depwarm/depwarm/logging"
	"github.com/depwarm/depwarm/manifest"
	"github.com/depwarm/depwarm/metrics"
	"github.com/depwarm/depwarm/procrunner"
	"github.com/depwarm/depwarm/pull"
	"github.com/depwarm/depwarm/push"
	"github.com/depwarm/depwarm/workspace"
)

// GitHistoryConfig activates the History Walker (§4.E) with a user-budgeted
// depth.
type GitHistoryConfig struct {
	Depth int
}

// Config is the core's external input (§6 "Configuration object").
type Config struct {
	// Backends is the ordered, validated chain consulted by Pull and Push.
	// Required, non-empty.
	Backends backend.Chain

	// UseGitHistory activates §4.E when non-nil.
	UseGitHistory *GitHistoryConfig

	// FallbackToNpm activates a full native install (§4.H NativeFallback)
	// when the chain and, if configured, history both miss.
	FallbackToNpm bool

	// PackageHash is the optional salt folded into every fingerprint.
	PackageHash fingerprint.Salt

	// Force skips the NodeModulesAlreadyExist guard, removing any existing
	// node_modules before proceeding.
	Force bool
}

// Installer binds a Config to the concrete collaborators (workspace,
// process runner, native package manager, logger, metrics) needed to run
// an install in ProjectRoot.
type Installer struct {
	Config      Config
	ProjectRoot string
	Runner      *procrunner.Runner
	Native      delta.NativeInstaller
	Log         logging.Logger
	Metrics     *metrics.Metrics
}

// New builds an Installer with sane ambient defaults (no-op logger, no
// metrics) for fields the caller leaves zero.
func New(cfg Config, projectRoot string, runner *procrunner.Runner, native delta.NativeInstaller) *Installer {
	return &Installer{
		Config:      cfg,
		ProjectRoot: projectRoot,
		Runner:      runner,
		Native:      native,
		Log:         logging.Nop{},
	}
}

// Install runs the full §4.H state machine once. It re-enters itself
// internally for the rePull pass, bounded to exactly one retry.
func (in *Installer) Install(ctx context.Context) error {
	if in.Log == nil {
		in.Log = logging.Nop{}
	}

	if err := in.Config.Backends.ValidateAll(); err != nil {
		return err
	}

	ws, err := workspace.New(in.ProjectRoot, in.Runner)
	if err != nil {
		return err
	}
	defer ws.ReleaseAll()
	if locked, err := ws.TryAcquireCollisionGuard(); err != nil {
		return err
	} else if !locked {
		in.Log.Warnw("another install appears to be running against this project root")
	}
	defer ws.ReleaseCollisionGuard()

	currentManifest, currentLock, err := in.readCurrentProject()
	if err != nil {
		return err
	}
	fp, err := fingerprint.Compute(currentManifest, currentLock, in.Config.PackageHash)
	if err != nil {
		return err
	}

	return in.attempt(ctx, ws, currentManifest, fp, attemptState{force: in.Config.Force})
}

// attemptState carries the two-pass rePull loop's flags (§4.H "Second-pass
// (rePull=true): skip §4.A and §4.C freshness checks; reuse the pinned
// fingerprint unchanged").
type attemptState struct {
	force  bool
	rePull bool
}

func (in *Installer) attempt(ctx context.Context, ws *workspace.Manager, currentManifest *manifest.Manifest, fp string, st attemptState) error {
	pending, err := ws.ScheduleNodeModulesRemoval(st.force)
	if err != nil {
		return err
	}

	chainRes, chainErr := pull.Chain(ctx, ws, in.Config.Backends, fp, pending, in.Log, in.Metrics)

	var missed backend.Chain
	switch {
	case chainErr == nil:
		missed = chainRes.MissedBackends

	case depwarm.Kind(chainErr) == depwarm.KindBundlesNotFound:
		fallbackMissed, fallbackErr := in.fallback(ctx, ws, currentManifest, fp, pending)
		if fallbackErr != nil {
			return fallbackErr
		}
		missed = fallbackMissed

	default:
		return chainErr
	}

	pushErr := push.Fanout(ctx, missed, fp, in.cacheDirForPush(ws), st.rePull, in.Log, in.Metrics)
	if pushErr == nil {
		return nil
	}

	if depwarm.Kind(pushErr) != depwarm.KindRePullNeeded {
		return pushErr
	}
	if st.rePull {
		return depwarm.WrapError(depwarm.KindBackendError, pushErr, "unexpected rePull request on second pass")
	}

	in.Metrics.RePullRecord()
	in.Log.Warnw("re-entering install after push conflict", "fingerprint", fp)
	return in.attempt(ctx, ws, currentManifest, fp, attemptState{force: true, rePull: true})
}

// cacheDirForPush locates the materialized node_modules's containing
// directory so Push can read it back from the project root rather than a
// scratch dir that may already have been cleaned up.
func (in *Installer) cacheDirForPush(ws *workspace.Manager) string {
	return ws.ProjectRoot
}

// fallback runs HistoryFallback (§4.E + §4.F) when configured, and
// NativeFallback (full native install) otherwise or on history failure,
// returning the set of backends that should be pushed to afterward (the
// full chain, since every backend missed the current fingerprint). Any
// pending node_modules removal is awaited first, so neither path writes
// into a tree that is still being removed.
func (in *Installer) fallback(ctx context.Context, ws *workspace.Manager, currentManifest *manifest.Manifest, fp string, pending *workspace.PendingRemoval) (backend.Chain, error) {
	if err := pending.Wait(); err != nil {
		return nil, err
	}
	if in.Config.UseGitHistory != nil && in.Config.UseGitHistory.Depth > 0 && gitutil.IsRepo(in.ProjectRoot) {
		missed, err := in.historyFallback(ctx, ws, currentManifest, fp)
		if err == nil {
			return missed, nil
		}
		if !in.Config.FallbackToNpm {
			return nil, err
		}
		in.Log.Warnw("history fallback failed, falling back to native install", "error", err)
	} else if !in.Config.FallbackToNpm {
		return nil, depwarm.NewError(depwarm.KindBundlesNotFound, "chain exhausted, no fallback configured")
	}

	if err := in.Native.InstallAll(ctx); err != nil {
		return nil, depwarm.WrapError(depwarm.KindBackendError, err, "native fallback install")
	}
	return in.Config.Backends, nil
}

func (in *Installer) historyFallback(ctx context.Context, ws *workspace.Manager, currentManifest *manifest.Manifest, fp string) (backend.Chain, error) {
	lockPath, err := in.findLockfile()
	if err != nil {
		return nil, err
	}
	lockRelPath := ""
	if lockPath != "" {
		lockRelPath = filepath.Base(lockPath)
	}

	h := gitutil.Open(in.Runner, in.ProjectRoot, manifest.ManifestName)

	res, err := history.Walk(ctx, h, ws, in.Config.Backends, manifest.ManifestName, lockRelPath, fp, in.Config.PackageHash, in.Config.UseGitHistory.Depth, in.Log, in.Metrics)
	if err != nil {
		return nil, err
	}

	if err := delta.Reconcile(ctx, in.Native, res.OlderManifest, currentManifest); err != nil && err != delta.ErrEmptyDelta {
		return nil, err
	}

	return in.Config.Backends, nil
}

func (in *Installer) readCurrentProject() (*manifest.Manifest, *manifest.Lockfile, error) {
	f, err := os.Open(filepath.Join(in.ProjectRoot, manifest.ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, depwarm.NewError(depwarm.KindManifestNotFound, manifest.ManifestName)
		}
		return nil, nil, depwarm.WrapError(depwarm.KindManifestNotFound, err, "open manifest")
	}
	defer f.Close()

	m, err := manifest.Read(f)
	if err != nil {
		return nil, nil, err
	}
	if err := m.ValidateSpecifiers(); err != nil {
		return nil, nil, err
	}

	lockPath, err := in.findLockfile()
	if err != nil {
		return nil, nil, err
	}
	if lockPath == "" {
		return m, manifest.Absent, nil
	}

	lf, err := os.Open(lockPath)
	if err != nil {
		return nil, nil, depwarm.WrapError(depwarm.KindManifestInvalid, err, "open lockfile")
	}
	defer lf.Close()
	lock, err := manifest.ReadLockfile(lf)
	if err != nil {
		return nil, nil, err
	}
	return m, lock, nil
}

func (in *Installer) findLockfile() (string, error) {
	for _, name := range manifest.LockNames {
		path := filepath.Join(in.ProjectRoot, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !os.IsNotExist(err) {
			return "", depwarm.WrapError(depwarm.KindManifestInvalid, err, "stat lockfile")
		}
	}
	return "", nil
}
