package procrunner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depwarm/depwarm"
	"github.com/depwarm/depwarm/procrunner"
)

func TestRunSuccess(t *testing.T) {
	r := procrunner.New()
	out, err := r.CombinedOutput(context.Background(), procrunner.Invocation{
		Path: "echo",
		Args: []string{"hello"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), "hello")
}

func TestRunNonzeroExit(t *testing.T) {
	r := procrunner.New()
	err := r.Run(context.Background(), procrunner.Invocation{Path: "false"})
	require.Error(t, err)
	assert.Equal(t, depwarm.KindBackendError, depwarm.Kind(err))
}

func TestRunRespectsCancellation(t *testing.T) {
	r := procrunner.New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := r.Run(ctx, procrunner.Invocation{Path: "sleep", Args: []string{"5"}})
	require.Error(t, err)
	assert.Equal(t, depwarm.KindCancelled, depwarm.Kind(err))
}
