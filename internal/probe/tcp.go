package probe

import (
	"context"
	"fmt"
	"net"

	"github.com/TilBlechschmidt/launch/internal/config"
)

// tcpProber reports ready once something accepts connections on the
// configured address. It proves only that the listen socket is open,
// not that the server behind it answers; when the manager API exposes a
// health route the http prober is the stronger gate.
type tcpProber struct {
	address string
	dialer  net.Dialer
}

func newTCPProber(spec *config.TCPProbe) Prober {
	return &tcpProber{address: spec.Address}
}

func (p *tcpProber) Probe(ctx context.Context) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.address, err)
	}
	// The connection itself is the signal; nothing is written on it.
	_ = conn.Close()
	return nil
}
