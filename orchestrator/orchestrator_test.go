package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/depwarm/depwarm"
	"github.com/depwarm/depwarm/backend"
	"github.com/depwarm/depwarm/backend/backendtest"
	"github.com/depwarm/depwarm/fingerprint"
	"github.com/depwarm/depwarm/manifest"
	"github.com/depwarm/depwarm/orchestrator"
	"github.com/depwarm/depwarm/procrunner"
)

// initGitRepoWithTwoRevisions commits oldContent, then overwrites
// package.json with headContent (left as the working tree's current
// content, uncommitted is fine, but here committed too so HEAD matches the
// on-disk manifest the orchestrator reads).
func initGitRepoWithTwoRevisions(t *testing.T, runner *procrunner.Runner, dir, oldContent, headContent string) {
	t.Helper()
	ctx := context.Background()
	run := func(args ...string) {
		t.Helper()
		require.NoError(t, runner.Run(ctx, procrunner.Invocation{Path: "git", Args: args, Dir: dir}))
	}

	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")

	manifestPath := filepath.Join(dir, "package.json")
	require.NoError(t, os.WriteFile(manifestPath, []byte(oldContent), 0o644))
	run("add", "package.json")
	run("commit", "-q", "-m", "old")

	require.NoError(t, os.WriteFile(manifestPath, []byte(headContent), 0o644))
	run("add", "package.json")
	run("commit", "-q", "-m", "head")
}

type fakeNative struct {
	mock.Mock
}

func (f *fakeNative) Install(ctx context.Context, pkgs map[string]string) error {
	return f.Called(ctx, pkgs).Error(0)
}

func (f *fakeNative) Uninstall(ctx context.Context, names []string) error {
	return f.Called(ctx, names).Error(0)
}

func (f *fakeNative) InstallAll(ctx context.Context) error {
	return f.Called(ctx).Error(0)
}

func writeManifest(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"),
		[]byte(`{"dependencies":{"left-pad":"1.0.0"}}`), 0o644))
}

func fakeMaterialize(args mock.Arguments) {
	cacheDir := args.String(3)
	_ = os.MkdirAll(filepath.Join(cacheDir, "node_modules"), 0o755)
}

// Start: node_modules already present and force=false is fatal.
func TestInstallFatalOnExistingNodeModules(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))

	b0 := &backendtest.Mock{}
	b0.On("ValidateOptions", mock.Anything).Return(nil, nil)
	chain := backend.Chain{{Alias: "b0", Impl: b0}}

	in := orchestrator.New(orchestrator.Config{Backends: chain}, root, procrunner.New(), &fakeNative{})
	err := in.Install(context.Background())
	require.Error(t, err)
	require.Equal(t, depwarm.KindNodeModulesAlreadyExist, depwarm.Kind(err))
	b0.AssertNotCalled(t, "Pull", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// Manifest missing is fatal before any backend is consulted.
func TestInstallFatalOnMissingManifest(t *testing.T) {
	root := t.TempDir()

	b0 := &backendtest.Mock{}
	b0.On("ValidateOptions", mock.Anything).Return(nil, nil)
	chain := backend.Chain{{Alias: "b0", Impl: b0}}

	in := orchestrator.New(orchestrator.Config{Backends: chain}, root, procrunner.New(), &fakeNative{})
	err := in.Install(context.Background())
	require.Error(t, err)
	require.Equal(t, depwarm.KindManifestNotFound, depwarm.Kind(err))
}

// A chain hit with nothing missed pushes to nobody and succeeds.
func TestInstallSucceedsOnChainHit(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root)

	b0 := &backendtest.Mock{}
	b0.On("ValidateOptions", mock.Anything).Return(nil, nil)
	b0.On("Pull", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(fakeMaterialize).
		Return(nil)

	chain := backend.Chain{{Alias: "b0", Impl: b0, Push: true}}

	in := orchestrator.New(orchestrator.Config{Backends: chain}, root, procrunner.New(), &fakeNative{})
	err := in.Install(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "node_modules"))
	require.NoError(t, err)
	b0.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// Chain miss, no history configured, FallbackToNpm=true runs a full native
// install and pushes the freshly-built tree to the whole chain.
func TestInstallFallsBackToNativeOnChainMiss(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root)

	b0 := &backendtest.Mock{}
	b0.On("ValidateOptions", mock.Anything).Return(nil, nil)
	b0.On("Pull", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(depwarm.NewError(depwarm.KindBundleNotFound, "miss"))
	b0.On("Push", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	chain := backend.Chain{{Alias: "b0", Impl: b0, Push: true}}

	native := &fakeNative{}
	native.On("InstallAll", mock.Anything).
		Run(func(mock.Arguments) {
			require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))
		}).
		Return(nil)

	in := orchestrator.New(orchestrator.Config{Backends: chain, FallbackToNpm: true}, root, procrunner.New(), native)
	err := in.Install(context.Background())
	require.NoError(t, err)
	native.AssertExpectations(t)
	b0.AssertExpectations(t)
}

// Chain miss, no history, FallbackToNpm=false is fatal.
func TestInstallFatalWhenNoFallbackConfigured(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root)

	b0 := &backendtest.Mock{}
	b0.On("ValidateOptions", mock.Anything).Return(nil, nil)
	b0.On("Pull", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(depwarm.NewError(depwarm.KindBundleNotFound, "miss"))

	chain := backend.Chain{{Alias: "b0", Impl: b0}}

	in := orchestrator.New(orchestrator.Config{Backends: chain}, root, procrunner.New(), &fakeNative{})
	err := in.Install(context.Background())
	require.Error(t, err)
}

// A push conflict on the first pass triggers exactly one rePull, which
// then succeeds; the backend whose push conflicted is dialed twice.
func TestInstallRePullsOnceAfterPushConflict(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root)

	missed := &backendtest.Mock{}
	missed.On("ValidateOptions", mock.Anything).Return(nil, nil)
	missed.On("Pull", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(depwarm.NewError(depwarm.KindBundleNotFound, "miss"))
	missed.On("Push", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(depwarm.NewError(depwarm.KindBundleAlreadyExists, "raced")).Once()
	missed.On("Push", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil).Once()

	served := &backendtest.Mock{}
	served.On("ValidateOptions", mock.Anything).Return(nil, nil)
	served.On("Pull", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(fakeMaterialize).
		Return(nil)

	chain := backend.Chain{
		{Alias: "missed", Impl: missed, Push: true},
		{Alias: "served", Impl: served},
	}

	in := orchestrator.New(orchestrator.Config{Backends: chain}, root, procrunner.New(), &fakeNative{})
	err := in.Install(context.Background())
	require.NoError(t, err)
	missed.AssertNumberOfCalls(t, "Push", 2)
	missed.AssertNumberOfCalls(t, "Pull", 2)
}

// UseGitHistory.Depth == 0 must disable the History Walker entirely (§4.E,
// §4.H: "engaged only when ... depth > 0"), not just cap it at one
// revision. The project root here is a real git repo whose immediate
// parent commit's manifest the chain *does* recognize, so if history were
// consulted at all (even at its historyIndex=0 floor) the install would
// succeed; asserting Fatal instead proves the walker was never entered.
func TestInstallSkipsHistoryFallbackWhenDepthIsZero(t *testing.T) {
	root := t.TempDir()
	runner := procrunner.New()

	oldContent := `{"dependencies":{"left-pad":"1.0.0"}}`
	headContent := `{"dependencies":{"left-pad":"1.0.0","lodash":"4.0.0"}}`
	initGitRepoWithTwoRevisions(t, runner, root, oldContent, headContent)

	oldM, err := manifest.Read(strings.NewReader(oldContent))
	require.NoError(t, err)
	oldFp, err := fingerprint.Compute(oldM, manifest.Absent, fingerprint.Salt{})
	require.NoError(t, err)

	b0 := &backendtest.Mock{}
	b0.On("ValidateOptions", mock.Anything).Return(nil, nil)
	b0.On("Pull", mock.Anything, oldFp, mock.Anything, mock.Anything).
		Run(fakeMaterialize).
		Return(nil)
	b0.On("Pull", mock.Anything, mock.MatchedBy(func(fp string) bool { return fp != oldFp }), mock.Anything, mock.Anything).
		Return(depwarm.NewError(depwarm.KindBundleNotFound, "miss"))

	chain := backend.Chain{{Alias: "b0", Impl: b0}}

	cfg := orchestrator.Config{
		Backends:      chain,
		UseGitHistory: &orchestrator.GitHistoryConfig{Depth: 0},
		FallbackToNpm: false,
	}
	in := orchestrator.New(cfg, root, runner, &fakeNative{})
	err = in.Install(context.Background())
	require.Error(t, err)
	require.Equal(t, depwarm.KindBundlesNotFound, depwarm.Kind(err))
}
