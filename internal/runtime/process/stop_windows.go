//go:build windows

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

func (p *processHandle) Terminate(ctx context.Context, grace time.Duration) error {
	if p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Signal(os.Interrupt)
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

func (p *processHandle) Kill(ctx context.Context) error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %s: %w", p.name, err)
	}
	select {
	case <-p.waitDone:
		return p.exitError()
	case <-ctx.Done():
		return ctx.Err()
	}
}
