//go:build !windows

package process

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
)

const termGracePeriod = 2 * time.Second

func (p *processInstance) Kill(ctx context.Context) error {
	if p.cmd.Process == nil {
		return nil
	}

	// Attempt a graceful shutdown first. ESRCH means the worker (or its whole
	// group) is already gone, which a kill must tolerate.
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("signal worker group %s: %w", p.name, err)
	}

	select {
	case <-p.waitDone:
		return nil
	case <-time.After(termGracePeriod):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill worker group %s: %w", p.name, err)
	}
	select {
	case <-p.waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
