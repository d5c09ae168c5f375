package logmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/TilBlechschmidt/launch/internal/runtime"
	"github.com/TilBlechschmidt/launch/internal/supervisor"
)

// Mux fans in log events from the supervised processes and delivers them
// via a bounded channel. When downstream consumers cannot keep up and the
// output buffer would overflow, the mux drops log records and emits a
// synthesized warning event to surface the number of discarded entries.
type Mux struct {
	out chan supervisor.Event

	mu     sync.Mutex
	drops  map[string]int
	inputs sync.WaitGroup
}

// New constructs a mux backed by a channel of the provided size. A size
// of zero results in a minimally buffered channel.
func New(size int) *Mux {
	if size <= 0 {
		size = 1
	}
	return &Mux{
		out:   make(chan supervisor.Event, size),
		drops: make(map[string]int),
	}
}

// Output exposes the muxed event channel.
func (m *Mux) Output() <-chan supervisor.Event {
	return m.out
}

// Add registers a new source channel. The mux consumes log events until
// the source channel is closed; non-log lifecycle events are ignored.
func (m *Mux) Add(source <-chan supervisor.Event) {
	if source == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for evt := range source {
			if evt.Type != supervisor.EventTypeLog {
				continue
			}
			m.deliver(normalize(evt))
		}
	}()
}

// Close waits for all sources to be drained, emits any pending drop
// metadata, and closes the output channel.
func (m *Mux) Close() {
	m.inputs.Wait()
	m.flushDrops()
	close(m.out)
}

func (m *Mux) deliver(evt supervisor.Event) {
	if !m.flushPending(evt.Process) {
		m.recordDrop(evt.Process, 1)
		return
	}
	if m.trySend(evt) {
		return
	}
	m.recordDrop(evt.Process, 1)
}

func (m *Mux) flushPending(process string) bool {
	for {
		count := m.takeDrops(process)
		if count == 0 {
			return true
		}
		meta := synthesizeDropEvent(process, count)
		if m.trySend(meta) {
			continue
		}
		m.recordDrop(process, count)
		return false
	}
}

func (m *Mux) takeDrops(process string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := m.drops[process]
	if count != 0 {
		delete(m.drops, process)
	}
	return count
}

func (m *Mux) recordDrop(process string, count int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops[process] += count
}

func (m *Mux) flushDrops() {
	pending := m.collectDrops()
	for process, count := range pending {
		m.out <- synthesizeDropEvent(process, count)
	}
}

func (m *Mux) collectDrops() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.drops) == 0 {
		return nil
	}
	dup := make(map[string]int, len(m.drops))
	for process, count := range m.drops {
		if count == 0 {
			continue
		}
		dup[process] = count
	}
	m.drops = make(map[string]int)
	return dup
}

func (m *Mux) trySend(evt supervisor.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

func normalize(evt supervisor.Event) supervisor.Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Source == "" {
		evt.Source = runtime.LogSourceStdout
	}
	if evt.Level == "" {
		if evt.Source == runtime.LogSourceStderr {
			evt.Level = "warn"
		} else {
			evt.Level = "info"
		}
	}
	return evt
}

func synthesizeDropEvent(process string, count int) supervisor.Event {
	return supervisor.Event{
		Timestamp: time.Now(),
		Process:   process,
		Type:      supervisor.EventTypeLog,
		Message:   fmt.Sprintf("dropped=%d", count),
		Level:     "warn",
		Source:    runtime.LogSourceSystem,
	}
}
