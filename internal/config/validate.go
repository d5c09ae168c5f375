package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/docker/go-connections/nat"
)

// Validate checks the manifest for structural problems. Errors are scoped
// to the offending field so operators can locate them in the document.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is empty")
	}
	if c.Server == nil {
		return errors.New("server: missing process definition")
	}
	if c.Proxy == nil {
		return errors.New("proxy: missing process definition")
	}
	if err := c.Server.validate("server"); err != nil {
		return err
	}
	if err := c.Proxy.validate("proxy"); err != nil {
		return err
	}
	if c.Proxy.Readiness != nil {
		return errors.New("proxy.readiness: readiness gates are only supported on the server")
	}
	if c.StopGrace.Duration < 0 {
		return errors.New("stopGrace: must not be negative")
	}

	for idx, spec := range c.Ports {
		proto, port := nat.SplitProtoPort(spec)
		if _, err := nat.NewPort(proto, port); err != nil {
			return fmt.Errorf("ports[%d]: invalid port %q: %w", idx, spec, err)
		}
	}

	if c.Admin != nil && c.Admin.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Admin.Addr); err != nil {
			return fmt.Errorf("admin.addr: invalid listen address %q: %w", c.Admin.Addr, err)
		}
	}
	return nil
}

func (p *ProcessSpec) validate(field string) error {
	if len(p.Command) == 0 || strings.TrimSpace(p.Command[0]) == "" {
		return fmt.Errorf("%s.command: must not be empty", field)
	}
	for key := range p.Env {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("%s.env: empty variable name", field)
		}
		if strings.Contains(key, "=") {
			return fmt.Errorf("%s.env: invalid variable name %q", field, key)
		}
	}
	if p.Readiness != nil {
		if err := p.Readiness.validate(field + ".readiness"); err != nil {
			return err
		}
	}
	return nil
}

func (p *ProbeSpec) validate(field string) error {
	configured := 0
	if p.HTTP != nil {
		configured++
		if strings.TrimSpace(p.HTTP.URL) == "" {
			return fmt.Errorf("%s.http.url: must not be empty", field)
		}
		parsed, err := url.Parse(p.HTTP.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s.http.url: invalid url %q", field, p.HTTP.URL)
		}
		for _, status := range p.HTTP.ExpectStatus {
			if status < 100 || status > 599 {
				return fmt.Errorf("%s.http.expectStatus: invalid status %d", field, status)
			}
		}
	}
	if p.TCP != nil {
		configured++
		if _, _, err := net.SplitHostPort(p.TCP.Address); err != nil {
			return fmt.Errorf("%s.tcp.address: invalid address %q: %w", field, p.TCP.Address, err)
		}
	}
	if p.Command != nil {
		configured++
		if len(p.Command.Command) == 0 {
			return fmt.Errorf("%s.cmd.command: must not be empty", field)
		}
	}
	if configured == 0 {
		return fmt.Errorf("%s: probe requires an http, tcp or cmd block", field)
	}
	if p.FailureThreshold < 0 {
		return fmt.Errorf("%s.failureThreshold: must not be negative", field)
	}
	if p.SuccessThreshold < 0 {
		return fmt.Errorf("%s.successThreshold: must not be negative", field)
	}
	for _, dur := range []struct {
		name  string
		value Duration
	}{
		{"gracePeriod", p.GracePeriod},
		{"interval", p.Interval},
		{"timeout", p.Timeout},
	} {
		if dur.value.Duration < 0 {
			return fmt.Errorf("%s.%s: must not be negative", field, dur.name)
		}
	}
	return nil
}
