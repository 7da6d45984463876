// Package backendtest provides a mock backend.Backend for exercising the
// pull chain, push fanout, and orchestrator without real storage.
package backendtest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/depwarm/depwarm/backend"
)

// Mock is a testify mock implementing backend.Backend.
type Mock struct {
	mock.Mock
}

var _ backend.Backend = (*Mock)(nil)

func (m *Mock) Pull(ctx context.Context, fingerprint string, opts backend.Options, cacheDir string) error {
	args := m.Called(ctx, fingerprint, opts, cacheDir)
	return args.Error(0)
}

func (m *Mock) Push(ctx context.Context, fingerprint string, opts backend.Options, cacheDir string) error {
	args := m.Called(ctx, fingerprint, opts, cacheDir)
	return args.Error(0)
}

func (m *Mock) ValidateOptions(opts backend.Options) (backend.Options, error) {
	args := m.Called(opts)
	if args.Get(0) == nil {
		return opts, args.Error(1)
	}
	return args.Get(0), args.Error(1)
}
