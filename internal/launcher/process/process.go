package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/Paintersrp/outrider/internal/launcher"
)

const lineBufferSize = 1024 * 1024

func init() {
	launcher.Register("process", New)
}

type launcherImpl struct{}

// New constructs a launcher that runs the worker as a local child process.
func New() launcher.Launcher {
	return &launcherImpl{}
}

func (l *launcherImpl) Start(ctx context.Context, spec launcher.Spec) (launcher.Instance, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("process launcher for %s requires a command", spec.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Deliberately not CommandContext: the worker's lifetime is owned by the
	// kill path, not by the startup context.
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	if spec.Workdir != "" {
		cmd.Dir = spec.Workdir
	}

	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %s stdout: %w", spec.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %s stderr: %w", spec.Name, err)
	}

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", spec.Name, err)
	}

	inst := &processInstance{
		name:     spec.Name,
		cmd:      cmd,
		lines:    make(chan launcher.LogEntry, 64),
		waitDone: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go inst.drain(stdout, launcher.LogSourceStdout, &wg)
	go inst.drain(stderr, launcher.LogSourceStderr, &wg)

	go func() {
		wg.Wait()
		close(inst.lines)
		inst.waitErr = cmd.Wait()
		close(inst.waitDone)
	}()

	return inst, nil
}

type processInstance struct {
	name string
	cmd  *exec.Cmd

	lines chan launcher.LogEntry

	waitErr  error
	waitDone chan struct{}
}

func (p *processInstance) ID() string {
	if p.cmd.Process == nil {
		return ""
	}
	return strconv.Itoa(p.cmd.Process.Pid)
}

func (p *processInstance) Lines() <-chan launcher.LogEntry {
	return p.lines
}

func (p *processInstance) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.waitDone:
		return p.waitErr
	}
}

// drain consumes one output channel line by line until end-of-stream. Each
// output channel gets its own drain goroutine so a full pipe buffer can never
// block the worker.
func (p *processInstance) drain(r io.Reader, source string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), lineBufferSize)
	for scanner.Scan() {
		entry := launcher.LogEntry{
			Message:   scanner.Text(),
			Source:    source,
			Timestamp: time.Now(),
		}
		if source == launcher.LogSourceStderr {
			entry.Level = "warn"
		}
		p.lines <- entry
	}
}
