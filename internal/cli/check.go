package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TilBlechschmidt/launch/internal/cliutil"
)

func newCheckCmd(ctx *context) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the entrypoint manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Manifest OK: server %s, proxy %s\n",
				strings.Join(cfg.Server.Command, " "), strings.Join(cfg.Proxy.Command, " "))
			if show {
				rendered, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("render manifest: %w", err)
				}
				fmt.Fprint(cmd.OutOrStdout(), cliutil.RedactSecrets(string(rendered)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "Print the resolved manifest with secrets redacted")
	return cmd
}
