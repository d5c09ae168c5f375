package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/TilBlechschmidt/launch/internal/config"
)

// httpProber polls an HTTP endpoint, typically the manager API of the
// background server, until it answers with an acceptable status. Every
// attempt dials a fresh connection so that a probe cannot report ready
// through a connection that predates a listener coming back up.
type httpProber struct {
	client *http.Client
	url    string
	accept func(status int) bool
}

func newHTTPProber(spec *config.HTTPProbe) Prober {
	return &httpProber{
		client: &http.Client{
			Transport: &http.Transport{DisableKeepAlives: true},
		},
		url:    spec.URL,
		accept: acceptStatus(spec.ExpectStatus),
	}
}

// acceptStatus compiles the expectStatus list into a predicate. Without
// an explicit list any non-error answer counts: a booting server that
// redirects or returns 204 from its health route is as ready as one
// returning 200.
func acceptStatus(expect []int) func(int) bool {
	if len(expect) == 0 {
		return func(status int) bool {
			return status >= 200 && status < 400
		}
	}
	want := make(map[int]struct{}, len(expect))
	for _, status := range expect {
		want[status] = struct{}{}
	}
	return func(status int) bool {
		_, ok := want[status]
		return ok
	}
}

func (p *httpProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	req.Header.Set("User-Agent", "launch-entrypoint/readiness")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Health bodies are small; cap the drain so a misconfigured URL
	// pointing at a content route cannot stall the gate.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if !p.accept(resp.StatusCode) {
		return fmt.Errorf("%s: status=%d", p.url, resp.StatusCode)
	}
	return nil
}
