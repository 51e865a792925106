package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/Paintersrp/outrider/internal/launcher"
)

const stopTimeout = 10 * time.Second

func init() {
	launcher.Register("container", New)
}

type launcherImpl struct {
	client     *client.Client
	clientOnce sync.Once
	clientErr  error
}

// New returns a Docker backed launcher implementation.
func New() launcher.Launcher {
	return &launcherImpl{}
}

func (l *launcherImpl) getClient() (*client.Client, error) {
	l.clientOnce.Do(func() {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			l.clientErr = err
			return
		}
		l.client = cli
	})
	return l.client, l.clientErr
}

func (l *launcherImpl) Start(ctx context.Context, spec launcher.Spec) (launcher.Instance, error) {
	if spec.Image == "" {
		return nil, fmt.Errorf("container launcher for %s requires an image", spec.Name)
	}

	cli, err := l.getClient()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if err := ensureImage(ctx, cli, spec.Image); err != nil {
		return nil, err
	}

	containerCfg, hostCfg, err := buildConfigs(spec)
	if err != nil {
		return nil, err
	}

	createResp, err := cli.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("container create: %w", err)
	}
	containerID := createResp.ID

	if err := cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("container start: %w", err)
	}

	inst := newDockerInstance(cli, containerID)
	inst.startLogStreamer()
	inst.startWaiter()

	return inst, nil
}

type dockerInstance struct {
	cli         *client.Client
	containerID string

	lines   chan launcher.LogEntry
	logCtx  context.Context
	logStop context.CancelFunc
	logDone chan struct{}

	waitOnce   sync.Once
	waitDone   chan struct{}
	waitResult waitOutcome

	killOnce sync.Once
	killErr  error
}

type waitOutcome struct {
	status container.WaitResponse
	err    error
}

func newDockerInstance(cli *client.Client, id string) *dockerInstance {
	logCtx, logCancel := context.WithCancel(context.Background())
	return &dockerInstance{
		cli:         cli,
		containerID: id,
		lines:       make(chan launcher.LogEntry, 128),
		logCtx:      logCtx,
		logStop:     logCancel,
		logDone:     make(chan struct{}),
		waitDone:    make(chan struct{}),
	}
}

func (i *dockerInstance) ID() string {
	if len(i.containerID) > 12 {
		return i.containerID[:12]
	}
	return i.containerID
}

// startLogStreamer follows the container's log stream and demultiplexes it
// back into the stdout and stderr channels so the discovery protocol can stay
// bound to stdout only.
func (i *dockerInstance) startLogStreamer() {
	go func() {
		defer close(i.lines)
		defer close(i.logDone)
		reader, err := i.cli.ContainerLogs(i.logCtx, i.containerID, types.ContainerLogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
			Tail:       "all",
		})
		if err != nil {
			return
		}
		defer reader.Close()

		stdout := newLogWriter(i.logCtx, i.lines, launcher.LogSourceStdout, "")
		stderr := newLogWriter(i.logCtx, i.lines, launcher.LogSourceStderr, "warn")
		_, _ = stdcopy.StdCopy(stdout, stderr, reader)
		stdout.Close()
		stderr.Close()
	}()
}

func (i *dockerInstance) startWaiter() {
	go func() {
		statusCh, errCh := i.cli.ContainerWait(context.Background(), i.containerID, container.WaitConditionNextExit)
		var outcome waitOutcome
		select {
		case err := <-errCh:
			if err != nil {
				outcome.err = err
			}
		case resp := <-statusCh:
			outcome.status = resp
		}
		i.setWaitOutcome(outcome)
	}()
}

func (i *dockerInstance) setWaitOutcome(outcome waitOutcome) {
	i.waitOnce.Do(func() {
		i.waitResult = outcome
		close(i.waitDone)
	})
}

func (i *dockerInstance) Lines() <-chan launcher.LogEntry {
	return i.lines
}

func (i *dockerInstance) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-i.waitDone:
		return waitOutcomeError(i.waitResult)
	}
}

func (i *dockerInstance) Kill(ctx context.Context) error {
	i.killOnce.Do(func() {
		defer i.shutdownStreams()
		sec := int(stopTimeout.Seconds())
		opts := container.StopOptions{Timeout: &sec}
		err := i.cli.ContainerStop(ctx, i.containerID, opts)
		if err != nil {
			if client.IsErrNotFound(err) {
				i.killErr = nil
				return
			}
			killErr := i.cli.ContainerKill(ctx, i.containerID, "SIGKILL")
			if killErr != nil && !client.IsErrNotFound(killErr) {
				i.killErr = fmt.Errorf("container stop: %v; kill: %w", err, killErr)
				return
			}
			i.killErr = err
			return
		}
		i.killErr = nil
	})
	return i.killErr
}

func (i *dockerInstance) shutdownStreams() {
	if i.logStop != nil {
		i.logStop()
	}
	<-i.logDone
}

func waitOutcomeError(outcome waitOutcome) error {
	if outcome.err != nil {
		return outcome.err
	}
	if outcome.status.StatusCode != 0 {
		return fmt.Errorf("container exited with status %d", outcome.status.StatusCode)
	}
	if outcome.status.Error != nil {
		return errors.New(outcome.status.Error.Message)
	}
	return nil
}

type logWriter struct {
	ctx    context.Context
	ch     chan<- launcher.LogEntry
	source string
	level  string
	buf    bytes.Buffer
	mu     sync.Mutex
}

func newLogWriter(ctx context.Context, ch chan<- launcher.LogEntry, source, level string) *logWriter {
	return &logWriter{ctx: ctx, ch: ch, source: source, level: level}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := len(p)
	reader := bufio.NewReader(bytes.NewReader(p))
	for {
		segment, err := reader.ReadBytes('\n')
		if len(segment) > 0 {
			if segment[len(segment)-1] == '\n' {
				w.buf.Write(segment[:len(segment)-1])
				w.emit(w.buf.String())
				w.buf.Reset()
			} else {
				w.buf.Write(segment)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return total, err
		}
	}
	return total, nil
}

func (w *logWriter) emit(line string) {
	if line == "" {
		return
	}
	select {
	case w.ch <- launcher.LogEntry{Message: line, Source: w.source, Level: w.level, Timestamp: time.Now()}:
	case <-w.ctx.Done():
	}
}

func (w *logWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	w.emit(w.buf.String())
	w.buf.Reset()
}

func ensureImage(ctx context.Context, cli *client.Client, imageName string) error {
	_, _, err := cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect image: %w", err)
	}
	reader, err := cli.ImagePull(ctx, imageName, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func buildConfigs(spec launcher.Spec) (*container.Config, *container.HostConfig, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, portSpec := range spec.Ports {
		mappings, err := nat.ParsePortSpec(portSpec)
		if err != nil {
			return nil, nil, fmt.Errorf("parse port %q: %w", portSpec, err)
		}
		for _, mapping := range mappings {
			exposed[mapping.Port] = struct{}{}
			bindings[mapping.Port] = append(bindings[mapping.Port], mapping.Binding)
		}
	}

	var cmdSlice []string
	if len(spec.Command) > 0 {
		cmdSlice = append([]string(nil), spec.Command...)
	}

	config := &container.Config{
		Image:        spec.Image,
		Env:          env,
		Cmd:          strslice.StrSlice(cmdSlice),
		ExposedPorts: exposed,
	}
	host := &container.HostConfig{PortBindings: bindings}
	return config, host, nil
}
