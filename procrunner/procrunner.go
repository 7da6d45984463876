// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package procrunner is the one supervised entry point for every external
// tool invocation the engine makes: git, the native package manager, an
// archive tool, rsync (§6 "the core never shells out directly"). It is a
// direct generalization of the teacher's gps.monitoredCmd: an activity-based
// watchdog kills a process after a stretch of silence on stdout/stderr
// rather than enforcing a flat deadline, so a legitimate long-running
// install isn't punished for taking a while as long as it keeps talking.
package procrunner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sdboyer/constext"

	"github.com/depwarm/depwarm"
)

// DefaultTimeout is used when an Invocation does not set its own.
const DefaultTimeout = 2 * time.Minute

// Invocation describes one external command to run.
type Invocation struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration // zero means DefaultTimeout
}

// Runner executes Invocations under activity-based timeouts, combining the
// caller's cancellation context with a runner-owned one via constext so
// either side can end the command.
type Runner struct {
	// DefaultTimeout overrides the package default when set.
	DefaultTimeout time.Duration
}

// New returns a Runner with default settings.
func New() *Runner {
	return &Runner{}
}

func (r *Runner) timeout(inv Invocation) time.Duration {
	if inv.Timeout > 0 {
		return inv.Timeout
	}
	if r.DefaultTimeout > 0 {
		return r.DefaultTimeout
	}
	return DefaultTimeout
}

// Run executes inv and discards its output, returning a *depwarm.Error of
// kind KindBackendError on timeout or nonzero exit, or ctx.Err() (via
// KindCancelled) if the caller's context was the one that ended the command.
func (r *Runner) Run(ctx context.Context, inv Invocation) error {
	_, err := r.CombinedOutput(ctx, inv)
	return err
}

// CombinedOutput executes inv and returns stdout on success or stderr on
// failure (not stdout and stderr combined into one stream).
func (r *Runner) CombinedOutput(ctx context.Context, inv Invocation) ([]byte, error) {
	cmd := exec.Command(inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = inv.Env

	mc := newMonitoredCmd(ctx, cmd, r.timeout(inv))
	out, err := mc.combinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return out, depwarm.WrapError(depwarm.KindCancelled, ctx.Err(), "invocation cancelled")
		}
		return out, depwarm.WrapError(depwarm.KindBackendError, err, fmt.Sprintf("%s %v: %s", inv.Path, inv.Args, bytes.TrimSpace(out)))
	}
	return out, nil
}

// monitoredCmd wraps a cmd and keeps monitoring the process until it
// finishes, the provided context is canceled, or no activity has been
// observed on stdout/stderr for longer than timeout.
type monitoredCmd struct {
	cmd     *exec.Cmd
	timeout time.Duration
	ctx     context.Context
	stdout  *activityBuffer
	stderr  *activityBuffer
}

func newMonitoredCmd(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) *monitoredCmd {
	stdout, stderr := newActivityBuffer(), newActivityBuffer()
	cmd.Stdout, cmd.Stderr = stdout, stderr

	// combine the caller's context with a fresh background one: constext
	// guarantees the command is killed on either's cancellation, while the
	// returned context here carries no independent deadline of its own (the
	// watchdog below owns the timeout, not the context).
	cc, _ := constext.Cons(ctx, context.Background())

	return &monitoredCmd{
		cmd:     cmd,
		timeout: timeout,
		ctx:     cc,
		stdout:  stdout,
		stderr:  stderr,
	}
}

func (c *monitoredCmd) run() error {
	if err := c.cmd.Start(); err != nil {
		return errors.Wrap(err, "start command")
	}

	ticker := time.NewTicker(c.timeout)
	defer ticker.Stop()
	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	for {
		select {
		case <-ticker.C:
			if c.hasTimedOut() {
				if err := c.cmd.Process.Kill(); err != nil {
					return &killCmdError{err}
				}
				return &timeoutError{c.timeout}
			}
		case <-c.ctx.Done():
			if c.cmd.Process != nil {
				if err := c.cmd.Process.Kill(); err != nil {
					return &killCmdError{err}
				}
			}
			return c.ctx.Err()
		case err := <-done:
			return err
		}
	}
}

func (c *monitoredCmd) hasTimedOut() bool {
	t := time.Now().Add(-c.timeout)
	return c.stderr.lastActivity().Before(t) && c.stdout.lastActivity().Before(t)
}

func (c *monitoredCmd) combinedOutput() ([]byte, error) {
	if err := c.run(); err != nil {
		return c.stderr.buf.Bytes(), err
	}
	return c.stdout.buf.Bytes(), nil
}

// activityBuffer is a buffer that tracks the last time a Write was
// performed on it, so the watchdog can tell "slow but alive" from "stuck".
type activityBuffer struct {
	sync.Mutex
	buf               *bytes.Buffer
	lastActivityStamp time.Time
}

func newActivityBuffer() *activityBuffer {
	return &activityBuffer{buf: bytes.NewBuffer(nil), lastActivityStamp: time.Now()}
}

func (b *activityBuffer) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	b.lastActivityStamp = time.Now()
	return b.buf.Write(p)
}

func (b *activityBuffer) lastActivity() time.Time {
	b.Lock()
	defer b.Unlock()
	return b.lastActivityStamp
}

type timeoutError struct {
	timeout time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("command killed after %s of no activity", e.timeout)
}

type killCmdError struct {
	err error
}

func (e *killCmdError) Error() string {
	return fmt.Sprintf("error killing command: %s", e.err)
}
