//go:build windows

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

const termGracePeriod = 2 * time.Second

func (p *processInstance) Kill(ctx context.Context) error {
	if p.cmd.Process == nil {
		return nil
	}
	// Attempt a graceful shutdown first.
	_ = p.cmd.Process.Signal(os.Interrupt)

	select {
	case <-p.waitDone:
		return nil
	case <-time.After(termGracePeriod):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill worker %s: %w", p.name, err)
	}
	select {
	case <-p.waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
