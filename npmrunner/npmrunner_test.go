package npmrunner_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/depwarm/depwarm/npmrunner"
	"github.com/depwarm/depwarm/procrunner"
)

// installFakeNpm puts a stub "npm" on PATH (ahead of any real one) that
// appends its argv to a log file instead of touching the network, the same
// trick the teacher's own VCS tests use to avoid depending on a real tool
// being installed.
func installFakeNpm(t *testing.T) (logPath string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake npm stub is a POSIX shell script")
	}

	binDir := t.TempDir()
	logPath = filepath.Join(t.TempDir(), "npm-invocations.log")

	script := "#!/bin/sh\necho \"$@\" >> " + shellQuote(logPath) + "\nexit 0\n"
	stub := filepath.Join(binDir, "npm")
	require.NoError(t, os.WriteFile(stub, []byte(script), 0o755))

	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return logPath
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.TrimSpace(string(b))
}

func TestInstallBuildsNameAtSpecArgs(t *testing.T) {
	logPath := installFakeNpm(t)
	i := npmrunner.New(procrunner.New(), t.TempDir())

	err := i.Install(context.Background(), map[string]string{"left-pad": "1.0.0"})
	require.NoError(t, err)
	require.Equal(t, "install --no-save left-pad@1.0.0", readLog(t, logPath))
}

func TestInstallOmitsSpecWhenEmpty(t *testing.T) {
	logPath := installFakeNpm(t)
	i := npmrunner.New(procrunner.New(), t.TempDir())

	err := i.Install(context.Background(), map[string]string{"left-pad": ""})
	require.NoError(t, err)
	require.Equal(t, "install --no-save left-pad", readLog(t, logPath))
}

func TestUninstall(t *testing.T) {
	logPath := installFakeNpm(t)
	i := npmrunner.New(procrunner.New(), t.TempDir())

	err := i.Uninstall(context.Background(), []string{"left-pad", "lodash"})
	require.NoError(t, err)
	require.Equal(t, "uninstall --no-save left-pad lodash", readLog(t, logPath))
}

func TestInstallAll(t *testing.T) {
	logPath := installFakeNpm(t)
	i := npmrunner.New(procrunner.New(), t.TempDir())

	err := i.InstallAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, "install", readLog(t, logPath))
}
