package config

import (
	"fmt"
	"time"
)

// Fixed paths and commands baked into the container image. They double as
// built-in defaults so the entrypoint runs without a manifest present.
const (
	DefaultPath         = "/etc/launch/entrypoint.yaml"
	DefaultServerBinary = "/launch"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Config mirrors the entrypoint.yaml document structure.
type Config struct {
	Version string `yaml:"version"`

	// Server is the background process: the launch application binary.
	Server *ProcessSpec `yaml:"server"`
	// Proxy is the foreground process: the reverse proxy whose exit
	// triggers shutdown propagation.
	Proxy *ProcessSpec `yaml:"proxy"`

	// StopGrace bounds how long the supervisor waits for the server to
	// exit after signalling it. Zero keeps delivery fire-and-forget.
	StopGrace Duration `yaml:"stopGrace"`

	// Ports lists the container ports the proxy serves, e.g. "80/tcp".
	Ports []string `yaml:"ports"`

	Admin *AdminSpec `yaml:"admin"`
}

// ProcessSpec describes one supervised process.
type ProcessSpec struct {
	Command     []string          `yaml:"command"`
	Env         map[string]string `yaml:"env"`
	EnvFromFile string            `yaml:"envFromFile"`
	Workdir     string            `yaml:"workdir"`

	// Readiness optionally gates the proxy start on the server becoming
	// ready. It is only honoured on the server spec.
	Readiness *ProbeSpec `yaml:"readiness"`
}

// AdminSpec configures the optional loopback status endpoint.
type AdminSpec struct {
	Addr string `yaml:"addr"`
}

// ProbeSpec describes a readiness probe.
type ProbeSpec struct {
	HTTP    *HTTPProbe    `yaml:"http"`
	TCP     *TCPProbe     `yaml:"tcp"`
	Command *CommandProbe `yaml:"cmd"`

	GracePeriod      Duration `yaml:"gracePeriod"`
	Interval         Duration `yaml:"interval"`
	Timeout          Duration `yaml:"timeout"`
	FailureThreshold int      `yaml:"failureThreshold"`
	SuccessThreshold int      `yaml:"successThreshold"`
}

// HTTPProbe polls a URL until it answers with an expected status.
type HTTPProbe struct {
	URL          string `yaml:"url"`
	ExpectStatus []int  `yaml:"expectStatus"`
}

// TCPProbe dials an address until the connection succeeds.
type TCPProbe struct {
	Address string `yaml:"address"`
}

// CommandProbe runs a command until it exits zero.
type CommandProbe struct {
	Command []string `yaml:"command"`
	Timeout Duration `yaml:"timeout"`
}

// Default returns the configuration baked into the image: the launch
// binary in the background and Caddy with its stock config file in the
// foreground, mirroring the original entrypoint script.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: &ProcessSpec{
			Command: []string{DefaultServerBinary},
		},
		Proxy: &ProcessSpec{
			Command: []string{"caddy", "run", "--config", "/etc/caddy/Caddyfile", "--adapter", "caddyfile"},
		},
		Ports: []string{"80/tcp", "443/tcp"},
	}
}

// Clone returns a deep copy of the process spec.
func (p *ProcessSpec) Clone() *ProcessSpec {
	if p == nil {
		return nil
	}
	dup := &ProcessSpec{
		Command:     append([]string(nil), p.Command...),
		EnvFromFile: p.EnvFromFile,
		Workdir:     p.Workdir,
	}
	if len(p.Env) > 0 {
		dup.Env = make(map[string]string, len(p.Env))
		for k, v := range p.Env {
			dup.Env[k] = v
		}
	}
	if p.Readiness != nil {
		probe := *p.Readiness
		if p.Readiness.HTTP != nil {
			http := *p.Readiness.HTTP
			http.ExpectStatus = append([]int(nil), p.Readiness.HTTP.ExpectStatus...)
			probe.HTTP = &http
		}
		if p.Readiness.TCP != nil {
			tcp := *p.Readiness.TCP
			probe.TCP = &tcp
		}
		if p.Readiness.Command != nil {
			cmd := *p.Readiness.Command
			cmd.Command = append([]string(nil), p.Readiness.Command.Command...)
			probe.Command = &cmd
		}
		dup.Readiness = &probe
	}
	return dup
}
