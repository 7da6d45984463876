// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command depwarm is the thin process entrypoint around the core engine
// (§6: "a configuration object ... and an invocation surface"). Flag
// parsing and backend wiring live here, deliberately outside the core, the
// way the teacher keeps dep's main.go limited to argument handling and
// leaves the real work to the gps package.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/depwarm/depwarm/backend"
	"github.com/depwarm/depwarm/backend/gittag"
	"github.com/depwarm/depwarm/backend/localdir"
	"github.com/depwarm/depwarm/fingerprint"
	"github.com/depwarm/depwarm/logging"
	"github.com/depwarm/depwarm/manifest"
	"github.com/depwarm/depwarm/metrics"
	"github.com/depwarm/depwarm/npmrunner"
	"github.com/depwarm/depwarm/orchestrator"
	"github.com/depwarm/depwarm/procrunner"
)

var (
	flagLocalDir     string
	flagGitMirror    string
	flagGitRemote    string
	flagHistoryDepth int
	flagNoHistory    bool
	flagFallbackNpm  bool
	flagSalt         string
	flagForce        bool
	flagVerbose      bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "depwarm",
		Short: "Warm dependency installs from a shared bundle cache",
	}
	root.PersistentFlags().StringVar(&flagLocalDir, "local-dir", "", "enable the local-directory backend, rooted at this path")
	root.PersistentFlags().StringVar(&flagGitMirror, "git-mirror", "", "enable the git-tag backend, mirrored at this path")
	root.PersistentFlags().StringVar(&flagGitRemote, "git-remote", "", "remote URL the git-tag mirror pushes/fetches tags against")
	root.PersistentFlags().IntVar(&flagHistoryDepth, "history-depth", 20, "number of ancestor manifest revisions to consult on a chain miss")
	root.PersistentFlags().BoolVar(&flagNoHistory, "no-history", false, "disable the git history fallback entirely")
	root.PersistentFlags().BoolVar(&flagFallbackNpm, "fallback-npm", true, "run a full native npm install when the chain and history both miss")
	root.PersistentFlags().StringVar(&flagSalt, "salt", "", "operator salt folded into every fingerprint")
	root.PersistentFlags().BoolVar(&flagVerbose, "v", false, "enable verbose (debug-level) logging")

	install := &cobra.Command{
		Use:   "install [project dir]",
		Short: "Materialize node_modules from the cache chain, falling back to npm",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInstall,
	}
	install.Flags().BoolVar(&flagForce, "force", false, "remove an existing node_modules before installing")

	fp := &cobra.Command{
		Use:   "fingerprint [project dir]",
		Short: "Print the fingerprint for the current manifest without installing anything",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runFingerprint,
	}

	root.AddCommand(install, fp)
	return root
}

func projectRoot(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return os.Getwd()
}

func newLogger() logging.Logger {
	cfg := zap.NewProductionConfig()
	if flagVerbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		return logging.Nop{}
	}
	return logging.FromZap(z.Sugar())
}

// buildChain wires the backend chain from flags. At least one of
// --local-dir/--git-mirror must be given; order is local-dir then git-tag,
// the cheap-to-slow ordering the spec's example configurations use (§3).
func buildChain(runner *procrunner.Runner) (backend.Chain, error) {
	var chain backend.Chain

	if flagLocalDir != "" {
		chain = append(chain, backend.Descriptor{
			Alias:   "local-dir",
			Impl:    localdir.New(),
			Options: localdir.Options{Root: flagLocalDir},
			Push:    true,
		})
	}
	if flagGitMirror != "" {
		chain = append(chain, backend.Descriptor{
			Alias:       "git-tag",
			Impl:        gittag.New(runner),
			Options:     gittag.Options{MirrorDir: flagGitMirror, Remote: flagGitRemote},
			Push:        true,
			PushMayFail: flagGitRemote != "",
		})
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no backend configured: pass --local-dir and/or --git-mirror")
	}
	return chain, nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	root, err := projectRoot(args)
	if err != nil {
		return err
	}
	runner := procrunner.New()

	chain, err := buildChain(runner)
	if err != nil {
		return err
	}

	cfg := orchestrator.Config{
		Backends:      chain,
		FallbackToNpm: flagFallbackNpm,
		PackageHash:   fingerprint.Salt{Value: flagSalt},
		Force:         flagForce,
	}
	if !flagNoHistory {
		cfg.UseGitHistory = &orchestrator.GitHistoryConfig{Depth: flagHistoryDepth}
	}

	in := orchestrator.New(cfg, root, runner, npmrunner.New(runner, root))
	in.Log = newLogger()
	in.Metrics = metrics.New()

	bar := newSpinner("installing")
	stopSpin := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				bar.Add(1)
			case <-stopSpin:
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	err = in.Install(ctx)
	close(stopSpin)
	bar.Finish()
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, color.GreenString("node_modules ready in %s", root))
	return nil
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	root, err := projectRoot(args)
	if err != nil {
		return err
	}

	f, err := os.Open(root + string(os.PathSeparator) + manifest.ManifestName)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := manifest.Read(f)
	if err != nil {
		return err
	}
	if err := m.ValidateSpecifiers(); err != nil {
		return err
	}

	fp, err := fingerprint.Compute(m, manifest.Absent, fingerprint.Salt{Value: flagSalt})
	if err != nil {
		return err
	}
	fmt.Println(fp)
	return nil
}

// newSpinner returns a no-op bar when stdout isn't a terminal, so piping
// depwarm's output doesn't fill a log file with carriage returns.
func newSpinner(label string) *progressbar.ProgressBar {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return progressbar.DefaultSilent(-1)
	}
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWriter(os.Stdout),
	)
}
