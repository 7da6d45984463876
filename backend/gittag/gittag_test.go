package gittag_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/depwarm/depwarm"
	"github.com/depwarm/depwarm/backend/gittag"
	"github.com/depwarm/depwarm/procrunner"
)

func validOpts(t *testing.T) gittag.Options {
	t.Helper()
	b := gittag.New(procrunner.New())
	opts, err := b.ValidateOptions(gittag.Options{MirrorDir: filepath.Join(t.TempDir(), "mirror")})
	require.NoError(t, err)
	return opts.(gittag.Options)
}

func TestValidateOptionsRejectsEmptyMirrorDir(t *testing.T) {
	b := gittag.New(procrunner.New())
	_, err := b.ValidateOptions(gittag.Options{})
	require.Error(t, err)
	require.Equal(t, depwarm.KindInvalidOptions, depwarm.Kind(err))
}

func TestPullMissReportsBundleNotFound(t *testing.T) {
	runner := procrunner.New()
	b := gittag.New(runner)
	opts := validOpts(t)

	err := b.Pull(context.Background(), "fp-absent", opts, t.TempDir())
	require.Error(t, err)
	require.Equal(t, depwarm.KindBundleNotFound, depwarm.Kind(err))
}

func TestPushThenPullRoundTrips(t *testing.T) {
	runner := procrunner.New()
	b := gittag.New(runner)
	opts := validOpts(t)

	cacheDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cacheDir, "node_modules", "left-pad"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "node_modules", "left-pad", "index.js"), []byte("module.exports={}"), 0o644))

	require.NoError(t, b.Push(context.Background(), "fp1", opts, cacheDir))

	pullDst := t.TempDir()
	require.NoError(t, b.Pull(context.Background(), "fp1", opts, pullDst))

	content, err := os.ReadFile(filepath.Join(pullDst, "node_modules", "left-pad", "index.js"))
	require.NoError(t, err)
	require.Equal(t, "module.exports={}", string(content))
}

func TestPushConflictReportsBundleAlreadyExists(t *testing.T) {
	runner := procrunner.New()
	b := gittag.New(runner)
	opts := validOpts(t)

	cacheDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cacheDir, "node_modules"), 0o755))
	// git records files, not empty directories: the first bundle needs
	// content for its commit to exist.
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "node_modules", "index.js"), []byte("module.exports={}"), 0o644))

	require.NoError(t, b.Push(context.Background(), "fp1", opts, cacheDir))

	cacheDir2 := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cacheDir2, "node_modules"), 0o755))
	err := b.Push(context.Background(), "fp1", opts, cacheDir2)
	require.Error(t, err)
	require.Equal(t, depwarm.KindBundleAlreadyExists, depwarm.Kind(err))
}
