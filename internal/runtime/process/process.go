package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/TilBlechschmidt/launch/internal/runtime"
)

type runtimeImpl struct{}

// New constructs a runtime that executes supervised processes as local
// children of the current process.
func New() runtime.Runtime {
	return &runtimeImpl{}
}

func (r *runtimeImpl) Start(ctx context.Context, spec runtime.StartSpec) (runtime.Handle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("process %s requires a command", spec.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	if spec.Workdir != "" {
		cmd.Dir = spec.Workdir
	}

	env := os.Environ()
	if len(spec.Env) > 0 {
		overrides := make([]string, 0, len(spec.Env))
		for k, v := range spec.Env {
			overrides = append(overrides, fmt.Sprintf("%s=%s", k, v))
		}
		env = append(env, overrides...)
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("process %s stdout: %w", spec.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("process %s stderr: %w", spec.Name, err)
	}

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process %s: %w", spec.Name, err)
	}

	inst := &processHandle{
		name:     spec.Name,
		cmd:      cmd,
		logs:     make(chan runtime.LogEntry, 64),
		waitErr:  make(chan error, 1),
		waitDone: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go inst.streamLogs(stdout, runtime.LogSourceStdout, &wg)
	go inst.streamLogs(stderr, runtime.LogSourceStderr, &wg)
	go func() {
		wg.Wait()
		close(inst.logs)
	}()

	go func() {
		err := cmd.Wait()
		inst.recordExit(err)
		inst.waitErr <- err
		close(inst.waitErr)
		close(inst.waitDone)
	}()

	return inst, nil
}

type processHandle struct {
	name     string
	cmd      *exec.Cmd
	logs     chan runtime.LogEntry
	waitErr  chan error
	waitDone chan struct{}

	mu       sync.Mutex
	exitErr  error
	exitSeen bool
}

func (p *processHandle) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *processHandle) Wait() <-chan error {
	return p.waitErr
}

func (p *processHandle) Logs() <-chan runtime.LogEntry {
	return p.logs
}

func (p *processHandle) streamLogs(r io.Reader, source string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\n")
		entry := runtime.LogEntry{Message: line, Source: source}
		if source == runtime.LogSourceStderr {
			entry.Level = "warn"
		}
		p.logs <- entry
	}
}

func (p *processHandle) recordExit(err error) {
	p.mu.Lock()
	p.exitErr = err
	p.exitSeen = true
	p.mu.Unlock()
}

func (p *processHandle) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exitSeen {
		return nil
	}
	return p.exitErr
}
