package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/TilBlechschmidt/launch/internal/config"
)

type commandProber struct {
	command []string
}

func newCommandProber(spec *config.CommandProbe) (Prober, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("probe: cmd requires a command")
	}
	return &commandProber{command: append([]string(nil), spec.Command...)}, nil
}

func (p *commandProber) Probe(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("command %s: %w", p.command[0], err)
	}
	return nil
}
