package supervisor

import (
	stdcontext "context"
	"fmt"
	"sync"
	"time"

	"github.com/TilBlechschmidt/launch/internal/config"
	"github.com/TilBlechschmidt/launch/internal/metrics"
	"github.com/TilBlechschmidt/launch/internal/probe"
	"github.com/TilBlechschmidt/launch/internal/runtime"
)

// State tracks the strictly linear lifecycle of the supervised pair.
type State string

const (
	StateNotStarted    State = "not-started"
	StateServerRunning State = "server-running"
	StateRunning       State = "running"
	StateStopping      State = "stopping"
	StateExited        State = "exited"
)

// Status is a point-in-time snapshot exposed by the admin endpoint.
type Status struct {
	State     State     `json:"state"`
	ServerPid int       `json:"serverPid,omitempty"`
	ProxyPid  int       `json:"proxyPid,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Supervisor starts the launch server in the background, the reverse
// proxy in the foreground, and ties the container's lifetime to the
// proxy: when the proxy exits for any reason the server is signalled and
// the supervisor returns. There is no restart path in either direction.
type Supervisor struct {
	cfg     *config.Config
	runtime runtime.Runtime
	events  chan<- Event

	mu        sync.Mutex
	state     State
	serverPid int
	proxyPid  int
	startedAt time.Time
}

// New constructs a supervisor. The events channel may be nil when no
// observer is interested in lifecycle notifications.
func New(cfg *config.Config, rt runtime.Runtime, events chan<- Event) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		runtime: rt,
		events:  events,
		state:   StateNotStarted,
	}
}

// Run executes the supervision contract and blocks until both processes
// are accounted for. A start failure of either process is fatal and
// surfaced as an error; a proxy exit, clean or not, is the normal end of
// life and returns nil after shutdown has been propagated to the server.
func (s *Supervisor) Run(ctx stdcontext.Context) error {
	s.setState(StateNotStarted)
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	sendEvent(s.events, ProcessServer, EventTypeStarting, "starting launch server", ReasonInitialStart, nil)
	server, err := s.runtime.Start(ctx, startSpec(ProcessServer, s.cfg.Server))
	if err != nil {
		sendEvent(s.events, ProcessServer, EventTypeFailed, "launch server failed to start", ReasonStartFailure, err)
		s.setState(StateExited)
		return fmt.Errorf("start server: %w", err)
	}
	// The handle recorded here is the one signalled at shutdown.
	s.setServerPid(server.Pid())
	s.setState(StateServerRunning)
	metrics.SetProcessUp(ProcessServer, true)
	sendEvent(s.events, ProcessServer, EventTypeStarted, fmt.Sprintf("launch server running (pid %d)", server.Pid()), ReasonInitialStart, nil)

	serverDone, serverExitErr := watchExit(server)
	go s.forwardLogs(ProcessServer, server.Logs())

	if gate := s.cfg.Server.Readiness; gate != nil {
		if err := s.awaitServerReady(ctx, gate, serverDone, serverExitErr); err != nil {
			s.shutdownServer(server)
			s.setState(StateExited)
			return err
		}
	}

	sendEvent(s.events, ProcessProxy, EventTypeStarting, "starting reverse proxy", ReasonInitialStart, nil)
	proxy, err := s.runtime.Start(ctx, startSpec(ProcessProxy, s.cfg.Proxy))
	if err != nil {
		sendEvent(s.events, ProcessProxy, EventTypeFailed, "reverse proxy failed to start", ReasonStartFailure, err)
		s.shutdownServer(server)
		s.setState(StateExited)
		return fmt.Errorf("start proxy: %w", err)
	}
	s.setProxyPid(proxy.Pid())
	s.setState(StateRunning)
	metrics.SetProcessUp(ProcessProxy, true)
	sendEvent(s.events, ProcessProxy, EventTypeStarted, fmt.Sprintf("reverse proxy running (pid %d)", proxy.Pid()), ReasonInitialStart, nil)

	proxyDone, proxyExitErr := watchExit(proxy)
	go s.forwardLogs(ProcessProxy, proxy.Logs())

	// Block on the foreground process. A cancelled context (SIGTERM from
	// the container runtime) is translated into a termination signal to
	// the proxy; the exit then flows through the normal shutdown path.
	select {
	case <-ctx.Done():
		sendEvent(s.events, ProcessProxy, EventTypeStopping, "termination requested, signalling reverse proxy", ReasonSignal, nil)
		_ = proxy.Terminate(stdcontext.Background(), 0)
		<-proxyDone
	case <-proxyDone:
	}

	metrics.SetProcessUp(ProcessProxy, false)
	if exitErr := proxyExitErr(); exitErr != nil {
		sendEvent(s.events, ProcessProxy, EventTypeCrashed, "reverse proxy exited", ReasonProxyExit, exitErr)
		metrics.AddProcessExit(ProcessProxy, false)
	} else {
		sendEvent(s.events, ProcessProxy, EventTypeStopped, "reverse proxy exited", ReasonProxyExit, nil)
		metrics.AddProcessExit(ProcessProxy, true)
	}
	s.setState(StateStopping)
	s.shutdownServer(server)
	s.setState(StateExited)
	return nil
}

// shutdownServer propagates termination to the background process. With a
// zero stopGrace delivery is fire-and-forget, matching the original
// entrypoint script; a positive grace waits for the exit and escalates.
// Delivery failure is ignored: the server may already be gone.
func (s *Supervisor) shutdownServer(server runtime.Handle) {
	sendEvent(s.events, ProcessServer, EventTypeStopping, "signalling launch server", ReasonShutdown, nil)
	grace := s.cfg.StopGrace.Duration
	shutdownCtx := stdcontext.Background()
	if grace > 0 {
		var cancel stdcontext.CancelFunc
		shutdownCtx, cancel = stdcontext.WithTimeout(shutdownCtx, grace+2*time.Second)
		defer cancel()
	}
	_ = server.Terminate(shutdownCtx, grace)
	metrics.SetProcessUp(ProcessServer, false)
	sendEvent(s.events, ProcessServer, EventTypeStopped, "shutdown propagated to launch server", ReasonShutdown, nil)
}

func (s *Supervisor) awaitServerReady(ctx stdcontext.Context, gate *config.ProbeSpec, serverDone <-chan struct{}, serverExitErr func() error) error {
	prober, err := probe.New(gate)
	if err != nil {
		return fmt.Errorf("server readiness: %w", err)
	}

	gateCtx, cancel := stdcontext.WithCancel(ctx)
	defer cancel()

	waitErr := make(chan error, 1)
	begin := time.Now()
	go func() {
		waitErr <- probe.Wait(gateCtx, prober, gate)
	}()

	select {
	case <-serverDone:
		err := serverExitErr()
		sendEvent(s.events, ProcessServer, EventTypeFailed, "launch server exited before becoming ready", ReasonProbeFailed, err)
		if err == nil {
			err = fmt.Errorf("server exited before becoming ready")
		}
		return err
	case err := <-waitErr:
		if err != nil {
			sendEvent(s.events, ProcessServer, EventTypeFailed, "launch server readiness probe failed", ReasonProbeFailed, err)
			return fmt.Errorf("server readiness: %w", err)
		}
	}

	metrics.ObserveReadinessDuration(ProcessServer, time.Since(begin))
	sendEvent(s.events, ProcessServer, EventTypeReady, "launch server ready", ReasonProbeReady, nil)
	return nil
}

func (s *Supervisor) forwardLogs(process string, logs <-chan runtime.LogEntry) {
	if logs == nil {
		return
	}
	for entry := range logs {
		if s.events == nil {
			continue
		}
		s.events <- Event{
			Timestamp: time.Now(),
			Process:   process,
			Type:      EventTypeLog,
			Message:   entry.Message,
			Level:     entry.Level,
			Source:    entry.Source,
		}
	}
}

// watchExit consumes the handle's single exit notification and fans it
// out as a closed channel plus an accessor for the exit error.
func watchExit(handle runtime.Handle) (<-chan struct{}, func() error) {
	done := make(chan struct{})
	var mu sync.Mutex
	var exitErr error
	go func() {
		err := <-handle.Wait()
		mu.Lock()
		exitErr = err
		mu.Unlock()
		close(done)
	}()
	return done, func() error {
		mu.Lock()
		defer mu.Unlock()
		return exitErr
	}
}

func startSpec(name string, spec *config.ProcessSpec) runtime.StartSpec {
	out := runtime.StartSpec{Name: name}
	if spec == nil {
		return out
	}
	out.Command = append([]string(nil), spec.Command...)
	out.Workdir = spec.Workdir
	if len(spec.Env) > 0 {
		env := make(map[string]string, len(spec.Env))
		for k, v := range spec.Env {
			env[k] = v
		}
		out.Env = env
	}
	return out
}

// Snapshot returns the current lifecycle status.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:     s.state,
		ServerPid: s.serverPid,
		ProxyPid:  s.proxyPid,
		StartedAt: s.startedAt,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) setServerPid(pid int) {
	s.mu.Lock()
	s.serverPid = pid
	s.mu.Unlock()
}

func (s *Supervisor) setProxyPid(pid int) {
	s.mu.Lock()
	s.proxyPid = pid
	s.mu.Unlock()
}
