package runtime

import (
	"context"
	"time"
)

// Log sources attached to entries emitted by a supervised process.
const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "system"
)

// LogEntry is a single line captured from a supervised process.
type LogEntry struct {
	Message string
	Source  string
	Level   string
}

// StartSpec describes a process the runtime should launch.
type StartSpec struct {
	Name    string
	Command []string
	Env     map[string]string
	Workdir string
}

// Handle represents a launched process.
type Handle interface {
	// Pid returns the operating-system identifier of the process.
	Pid() int

	// Wait returns a channel that receives the process exit error (nil
	// for a zero exit status) exactly once and is then closed.
	Wait() <-chan error

	// Logs returns a channel of captured output lines. The channel is
	// closed after the process exits and both streams are drained.
	Logs() <-chan LogEntry

	// Terminate delivers a termination signal to the process. With a
	// grace of zero the delivery is fire-and-forget: the call returns
	// without waiting for the process to exit. A positive grace waits up
	// to that long for the exit and then escalates to a hard kill.
	Terminate(ctx context.Context, grace time.Duration) error

	// Kill forcefully terminates the process and waits for it to exit.
	Kill(ctx context.Context) error
}

// Runtime launches processes described by a StartSpec.
type Runtime interface {
	// Start launches the process and returns a handle to it. Start
	// failures are surfaced as errors; the runtime never retries.
	Start(ctx context.Context, spec StartSpec) (Handle, error)
}
