package cli

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TilBlechschmidt/launch/internal/admin"
	"github.com/TilBlechschmidt/launch/internal/cliutil"
	"github.com/TilBlechschmidt/launch/internal/config"
	"github.com/TilBlechschmidt/launch/internal/logmux"
	"github.com/TilBlechschmidt/launch/internal/runtime/process"
	"github.com/TilBlechschmidt/launch/internal/supervisor"
)

const eventBuffer = 256

func newRunCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the launch server and reverse proxy and supervise them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			return runSupervised(cmd, cfg)
		},
	}
	return cmd
}

func runSupervised(cmd *cobra.Command, cfg *config.Config) error {
	events := make(chan supervisor.Event, eventBuffer)
	sup := supervisor.New(cfg, process.New(), events)

	stopPrinting := make(chan struct{})
	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		printEvents(cmd, events, stopPrinting)
	}()
	flushPrinter := func() {
		close(stopPrinting)
		<-printerDone
	}

	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = stdcontext.Background()
	}

	if cfg.Admin != nil && cfg.Admin.Addr != "" {
		srv, err := admin.NewServer(admin.Config{Addr: cfg.Admin.Addr, Status: sup})
		if err != nil {
			flushPrinter()
			return fmt.Errorf("admin endpoint: %w", err)
		}
		adminCtx, stopAdmin := stdcontext.WithCancel(runCtx)
		defer stopAdmin()
		go func() {
			if err := srv.Run(adminCtx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: admin endpoint: %v\n", err)
			}
		}()
	}

	err := sup.Run(runCtx)

	// The final stopping/stopped events are sitting in the buffer when
	// Run returns; flush them before the process exits.
	flushPrinter()
	return err
}

// printEvents renders supervisor notifications: lifecycle events pass
// straight through, log lines go through the mux so slow output degrades
// into counted drops rather than backpressure on the children. Closing
// stop switches the printer into a drain: everything already buffered is
// emitted, then the mux is shut down and its remainder flushed.
func printEvents(cmd *cobra.Command, events <-chan supervisor.Event, stop <-chan struct{}) {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	pretty := term.IsTerminal(int(os.Stdout.Fd()))
	enc := json.NewEncoder(out)

	mux := logmux.New(eventBuffer)
	muxIn := make(chan supervisor.Event, eventBuffer)
	mux.Add(muxIn)

	emit := func(evt supervisor.Event) {
		if pretty {
			fmt.Fprintln(out, cliutil.FormatLogEvent(evt))
			return
		}
		cliutil.EncodeLogEvent(enc, errOut, evt)
	}

	dispatch := func(evt supervisor.Event) {
		if evt.Type == supervisor.EventTypeLog {
			muxIn <- evt
			return
		}
		emit(evt)
	}

	for {
		select {
		case evt := <-events:
			dispatch(evt)
		case evt := <-mux.Output():
			emit(evt)
		case <-stop:
			drainEvents(events, dispatch)
			close(muxIn)
			go mux.Close()
			for evt := range mux.Output() {
				emit(evt)
			}
			return
		}
	}
}

// drainEvents consumes whatever the supervisor buffered without waiting
// for more.
func drainEvents(events <-chan supervisor.Event, dispatch func(supervisor.Event)) {
	for {
		select {
		case evt := <-events:
			dispatch(evt)
		default:
			return
		}
	}
}
