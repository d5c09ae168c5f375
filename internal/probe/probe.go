package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TilBlechschmidt/launch/internal/config"
)

const (
	defaultInterval         = 250 * time.Millisecond
	defaultFailureThreshold = 3
)

// Prober executes a single readiness check.
type Prober interface {
	Probe(ctx context.Context) error
}

// New constructs a Prober for the supplied specification. Exactly one of
// the http, tcp and cmd blocks is honoured, in that order of preference.
func New(spec *config.ProbeSpec) (Prober, error) {
	if spec == nil {
		return nil, nil
	}
	switch {
	case spec.HTTP != nil:
		return newHTTPProber(spec.HTTP), nil
	case spec.TCP != nil:
		return newTCPProber(spec.TCP), nil
	case spec.Command != nil:
		return newCommandProber(spec.Command)
	default:
		return nil, errors.New("probe: missing configuration")
	}
}

// Wait polls the prober until it satisfies the configured success
// threshold, returning nil once the target is ready. It returns an error
// when consecutive failures exceed the failure threshold or the context
// is cancelled first.
func Wait(ctx context.Context, prober Prober, spec *config.ProbeSpec) error {
	if prober == nil || spec == nil {
		return nil
	}

	successNeeded := spec.SuccessThreshold
	if successNeeded <= 0 {
		successNeeded = 1
	}
	failureAllowed := spec.FailureThreshold
	if failureAllowed <= 0 {
		failureAllowed = defaultFailureThreshold
	}
	interval := spec.Interval.Duration
	if interval <= 0 {
		interval = defaultInterval
	}
	timeout := probeTimeout(spec)

	if gp := spec.GracePeriod.Duration; gp > 0 {
		timer := time.NewTimer(gp)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	successes := 0
	failures := 0
	var lastErr error

	for {
		attemptCtx := ctx
		cancel := func() {}
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		err := prober.Probe(attemptCtx)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err == nil {
			successes++
			failures = 0
			if successes >= successNeeded {
				return nil
			}
		} else {
			if attemptCtx.Err() == context.DeadlineExceeded && errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("timeout after %s", timeout)
			}
			successes = 0
			failures++
			lastErr = err
			if failures >= failureAllowed {
				return fmt.Errorf("probe failed %d times: %w", failures, lastErr)
			}
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func probeTimeout(spec *config.ProbeSpec) time.Duration {
	if spec == nil {
		return 0
	}
	if spec.Command != nil {
		if dur := spec.Command.Timeout.Duration; dur > 0 {
			return dur
		}
	}
	return spec.Timeout.Duration
}
