package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TilBlechschmidt/launch/internal/config"
)

// NewRootCmd constructs the entrypoint command tree.
func NewRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "entrypoint",
		Short: "Container entrypoint supervising the launch server and its reverse proxy",
	}

	root.PersistentFlags().
		StringVarP(&configFile, "file", "f", config.DefaultPath, "Path to entrypoint manifest")

	ctx := &context{configFile: &configFile}
	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newCheckCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root
}

// Execute runs the CLI entrypoint. SIGINT and SIGTERM cancel the command
// context so the supervisor can translate an orchestrator stop into a
// termination signal for the foreground process.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type context struct {
	configFile *string
}

func (c *context) loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(*c.configFile)
}
