package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	processUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "entrypoint",
		Name:      "process_up",
		Help:      "Whether a supervised process is currently running (1=up, 0=down).",
	}, []string{"process"})

	processExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entrypoint",
		Name:      "process_exits_total",
		Help:      "Total observed exits of supervised processes.",
	}, []string{"process", "outcome"})

	readinessDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "entrypoint",
		Name:      "readiness_duration_seconds",
		Help:      "Time until a supervised process satisfied its readiness probe.",
	}, []string{"process"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "entrypoint",
		Name:      "build_info",
		Help:      "Build metadata for the running entrypoint binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(processUp, processExits, readinessDuration, buildInfo)
}

// Registry returns the Prometheus registry containing all entrypoint
// metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetProcessUp records whether the named process is running.
func SetProcessUp(process string, up bool) {
	if process == "" {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	processUp.WithLabelValues(process).Set(value)
}

// AddProcessExit counts an observed process exit.
func AddProcessExit(process string, clean bool) {
	if process == "" {
		return
	}
	outcome := "clean"
	if !clean {
		outcome = "crashed"
	}
	processExits.WithLabelValues(process, outcome).Inc()
}

// ObserveReadinessDuration records how long a process took to become
// ready.
func ObserveReadinessDuration(process string, d time.Duration) {
	label := process
	if label == "" {
		label = "unknown"
	}
	readinessDuration.WithLabelValues(label).Observe(d.Seconds())
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
