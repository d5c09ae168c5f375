//go:build !windows

package process

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
)

// Terminate signals the child's process group with SIGTERM. A zero grace
// makes delivery fire-and-forget: the call returns immediately without
// confirming the process has stopped. A positive grace waits for exit up
// to that long and then escalates to SIGKILL.
func (p *processHandle) Terminate(ctx context.Context, grace time.Duration) error {
	if p.cmd.Process == nil {
		return nil
	}

	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal process group %s: %w", p.name, err)
	}
	if grace <= 0 {
		return nil
	}

	select {
	case <-p.waitDone:
		return p.exitError()
	case <-time.After(grace):
	case <-ctx.Done():
		return ctx.Err()
	}

	return p.Kill(ctx)
}

// Kill delivers SIGKILL to the process group and waits for the exit.
func (p *processHandle) Kill(ctx context.Context) error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %s: %w", p.name, err)
	}
	select {
	case <-p.waitDone:
		return p.exitError()
	case <-ctx.Done():
		return ctx.Err()
	}
}
