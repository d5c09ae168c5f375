package supervisor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TilBlechschmidt/launch/internal/config"
	"github.com/TilBlechschmidt/launch/internal/runtime"
)

type fakeHandle struct {
	pid  int
	wait chan error
	logs chan runtime.LogEntry

	mu           sync.Mutex
	terminations []time.Duration
	exited       atomic.Bool
}

func newFakeHandle(pid int) *fakeHandle {
	h := &fakeHandle{
		pid:  pid,
		wait: make(chan error, 1),
		logs: make(chan runtime.LogEntry),
	}
	close(h.logs)
	return h
}

func (h *fakeHandle) exit(err error) {
	h.exited.Store(true)
	h.wait <- err
	close(h.wait)
}

func (h *fakeHandle) Pid() int                      { return h.pid }
func (h *fakeHandle) Wait() <-chan error            { return h.wait }
func (h *fakeHandle) Logs() <-chan runtime.LogEntry { return h.logs }

func (h *fakeHandle) Terminate(ctx context.Context, grace time.Duration) error {
	h.mu.Lock()
	h.terminations = append(h.terminations, grace)
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) Kill(ctx context.Context) error {
	return h.Terminate(ctx, -1)
}

func (h *fakeHandle) terminationCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.terminations)
}

func (h *fakeHandle) lastGrace() (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.terminations) == 0 {
		return 0, false
	}
	return h.terminations[len(h.terminations)-1], true
}

type fakeRuntime struct {
	mu       sync.Mutex
	starts   []string
	handles  map[string]*fakeHandle
	startErr map[string]error
	onStart  map[string]func()
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		handles:  map[string]*fakeHandle{},
		startErr: map[string]error{},
		onStart:  map[string]func(){},
	}
}

func (r *fakeRuntime) Start(ctx context.Context, spec runtime.StartSpec) (runtime.Handle, error) {
	r.mu.Lock()
	r.starts = append(r.starts, spec.Name)
	err := r.startErr[spec.Name]
	handle := r.handles[spec.Name]
	hook := r.onStart[spec.Name]
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if handle == nil {
		handle = newFakeHandle(100 + len(r.starts))
		r.mu.Lock()
		r.handles[spec.Name] = handle
		r.mu.Unlock()
	}
	return handle, nil
}

func (r *fakeRuntime) startOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.starts...)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: &config.ProcessSpec{Command: []string{"/launch"}},
		Proxy:  &config.ProcessSpec{Command: []string{"caddy", "run"}},
	}
}

func runSupervisor(t *testing.T, cfg *config.Config, rt runtime.Runtime) ([]Event, *Supervisor, error) {
	t.Helper()
	events := make(chan Event, 256)
	sup := New(cfg, rt, events)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := sup.Run(ctx)
	var collected []Event
	for {
		select {
		case evt := <-events:
			collected = append(collected, evt)
			continue
		default:
		}
		break
	}
	return collected, sup, err
}

func TestCleanProxyExitPropagatesShutdown(t *testing.T) {
	rt := newFakeRuntime()
	server := newFakeHandle(11)
	proxy := newFakeHandle(22)
	proxy.exit(nil)
	rt.handles[ProcessServer] = server
	rt.handles[ProcessProxy] = proxy

	events, sup, err := runSupervisor(t, testConfig(), rt)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := server.terminationCount(); got != 1 {
		t.Fatalf("server terminations = %d, want exactly 1", got)
	}
	if sup.State() != StateExited {
		t.Fatalf("state = %s, want exited", sup.State())
	}

	var sawProxyStopped, sawServerStopping bool
	for _, evt := range events {
		if evt.Process == ProcessProxy && evt.Type == EventTypeStopped {
			sawProxyStopped = true
		}
		if evt.Process == ProcessServer && evt.Type == EventTypeStopping {
			if !sawProxyStopped {
				t.Fatal("server shutdown signalled before proxy exit was observed")
			}
			sawServerStopping = true
		}
	}
	if !sawProxyStopped || !sawServerStopping {
		t.Fatalf("missing lifecycle events: proxy stopped=%v server stopping=%v", sawProxyStopped, sawServerStopping)
	}
}

func TestProxyCrashPropagatesShutdown(t *testing.T) {
	rt := newFakeRuntime()
	server := newFakeHandle(11)
	proxy := newFakeHandle(22)
	proxy.exit(errors.New("exit status 2"))
	rt.handles[ProcessServer] = server
	rt.handles[ProcessProxy] = proxy

	events, _, err := runSupervisor(t, testConfig(), rt)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := server.terminationCount(); got != 1 {
		t.Fatalf("server terminations = %d, want 1 despite proxy crash", got)
	}

	var sawCrash bool
	for _, evt := range events {
		if evt.Process == ProcessProxy && evt.Type == EventTypeCrashed {
			sawCrash = true
		}
	}
	if !sawCrash {
		t.Fatal("expected crashed event for proxy")
	}
}

func TestServerStartFailureIsFatalShortCircuit(t *testing.T) {
	rt := newFakeRuntime()
	rt.startErr[ProcessServer] = errors.New("no such file or directory")

	_, sup, err := runSupervisor(t, testConfig(), rt)
	if err == nil {
		t.Fatal("expected fatal error for server start failure")
	}
	order := rt.startOrder()
	if len(order) != 1 || order[0] != ProcessServer {
		t.Fatalf("start order = %v, want only server attempted", order)
	}
	if sup.State() != StateExited {
		t.Fatalf("state = %s, want exited", sup.State())
	}
}

func TestProxyStartFailureStillStopsServer(t *testing.T) {
	rt := newFakeRuntime()
	server := newFakeHandle(11)
	rt.handles[ProcessServer] = server
	rt.startErr[ProcessProxy] = errors.New("caddy: not found")

	_, _, err := runSupervisor(t, testConfig(), rt)
	if err == nil {
		t.Fatal("expected error for proxy start failure")
	}
	if got := server.terminationCount(); got != 1 {
		t.Fatalf("server terminations = %d, want 1 on partial startup failure", got)
	}
}

func TestServerStartsStrictlyBeforeProxy(t *testing.T) {
	rt := newFakeRuntime()
	proxy := newFakeHandle(22)
	proxy.exit(nil)
	rt.handles[ProcessProxy] = proxy

	serverStarted := make(chan struct{})
	rt.onStart[ProcessServer] = func() { close(serverStarted) }
	rt.onStart[ProcessProxy] = func() {
		select {
		case <-serverStarted:
		default:
			t.Error("proxy started before server")
		}
	}

	if _, _, err := runSupervisor(t, testConfig(), rt); err != nil {
		t.Fatalf("run: %v", err)
	}
	order := rt.startOrder()
	if len(order) != 2 || order[0] != ProcessServer || order[1] != ProcessProxy {
		t.Fatalf("start order = %v, want [server proxy]", order)
	}
}

func TestStopGraceIsForwardedToServerTermination(t *testing.T) {
	rt := newFakeRuntime()
	server := newFakeHandle(11)
	proxy := newFakeHandle(22)
	proxy.exit(nil)
	rt.handles[ProcessServer] = server
	rt.handles[ProcessProxy] = proxy

	cfg := testConfig()
	cfg.StopGrace = config.Duration{Duration: 5 * time.Second}
	if _, _, err := runSupervisor(t, cfg, rt); err != nil {
		t.Fatalf("run: %v", err)
	}
	grace, ok := server.lastGrace()
	if !ok {
		t.Fatal("server never terminated")
	}
	if grace != 5*time.Second {
		t.Fatalf("grace = %v, want 5s", grace)
	}
}

func TestReadinessGateDelaysProxyStart(t *testing.T) {
	var ready atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ready.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rt := newFakeRuntime()
	server := newFakeHandle(11)
	proxy := newFakeHandle(22)
	proxy.exit(nil)
	rt.handles[ProcessServer] = server
	rt.handles[ProcessProxy] = proxy
	rt.onStart[ProcessProxy] = func() {
		if !ready.Load() {
			t.Error("proxy started before server readiness probe succeeded")
		}
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		ready.Store(true)
	}()

	cfg := testConfig()
	cfg.Server.Readiness = &config.ProbeSpec{
		HTTP:             &config.HTTPProbe{URL: srv.URL},
		Interval:         config.Duration{Duration: 10 * time.Millisecond},
		FailureThreshold: 1000,
	}

	events, _, err := runSupervisor(t, cfg, rt)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var sawReady bool
	for _, evt := range events {
		if evt.Process == ProcessServer && evt.Type == EventTypeReady {
			sawReady = true
		}
	}
	if !sawReady {
		t.Fatal("expected ready event for server")
	}
}

func TestReadinessGateFailureStopsServerWithoutProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rt := newFakeRuntime()
	server := newFakeHandle(11)
	rt.handles[ProcessServer] = server

	cfg := testConfig()
	cfg.Server.Readiness = &config.ProbeSpec{
		HTTP:             &config.HTTPProbe{URL: srv.URL},
		Interval:         config.Duration{Duration: time.Millisecond},
		FailureThreshold: 2,
	}

	_, _, err := runSupervisor(t, cfg, rt)
	if err == nil {
		t.Fatal("expected error when readiness never achieved")
	}
	order := rt.startOrder()
	if len(order) != 1 {
		t.Fatalf("start order = %v, want proxy never attempted", order)
	}
	if got := server.terminationCount(); got != 1 {
		t.Fatalf("server terminations = %d, want 1", got)
	}
}

func TestServerExitDuringReadinessGateIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rt := newFakeRuntime()
	server := newFakeHandle(11)
	server.exit(errors.New("exit status 1"))
	rt.handles[ProcessServer] = server

	cfg := testConfig()
	cfg.Server.Readiness = &config.ProbeSpec{
		HTTP:             &config.HTTPProbe{URL: srv.URL},
		Interval:         config.Duration{Duration: 10 * time.Millisecond},
		FailureThreshold: 100000,
	}

	_, _, err := runSupervisor(t, cfg, rt)
	if err == nil {
		t.Fatal("expected error when server dies before readiness")
	}
	order := rt.startOrder()
	if len(order) != 1 {
		t.Fatalf("start order = %v, want proxy never attempted", order)
	}
}

func TestContextCancellationSignalsProxyThenPropagates(t *testing.T) {
	rt := newFakeRuntime()
	server := newFakeHandle(11)
	proxy := newFakeHandle(22)
	rt.handles[ProcessServer] = server
	rt.handles[ProcessProxy] = proxy

	events := make(chan Event, 256)
	sup := New(testConfig(), rt, events)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Wait for both processes to be running, then deliver the signal.
	deadline := time.Now().Add(2 * time.Second)
	for sup.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatal("supervisor never reached running state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	// The proxy receives the signal and exits; shutdown then propagates.
	deadline = time.Now().Add(2 * time.Second)
	for proxy.terminationCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("proxy was never signalled after context cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
	proxy.exit(nil)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit after proxy termination")
	}
	if got := server.terminationCount(); got != 1 {
		t.Fatalf("server terminations = %d, want 1", got)
	}
}

func TestSnapshotRecordsPids(t *testing.T) {
	rt := newFakeRuntime()
	server := newFakeHandle(11)
	proxy := newFakeHandle(22)
	proxy.exit(nil)
	rt.handles[ProcessServer] = server
	rt.handles[ProcessProxy] = proxy

	_, sup, err := runSupervisor(t, testConfig(), rt)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	snapshot := sup.Snapshot()
	if snapshot.ServerPid != 11 || snapshot.ProxyPid != 22 {
		t.Fatalf("snapshot pids = %d/%d, want 11/22", snapshot.ServerPid, snapshot.ProxyPid)
	}
	if snapshot.State != StateExited {
		t.Fatalf("snapshot state = %s, want exited", snapshot.State)
	}
	if snapshot.StartedAt.IsZero() {
		t.Fatal("snapshot missing start time")
	}
}
