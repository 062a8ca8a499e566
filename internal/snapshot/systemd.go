package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/hearthd/hearthd/internal/execkit"
)

// SystemdProvider implements ServiceStateProvider over a fixed list of
// systemd unit names by shelling out to systemctl through the
// already-policed Command Executor. spec.md §4.6 names captured
// "service state" without mandating a particular client, and no
// systemd/dbus library is part of this daemon's dependency pack, so
// service state is captured and converged the same way an operator
// would from a terminal — every systemctl invocation still passes
// through the Command Executor's allowlist and injection-token checks
// like any other command (spec.md §4.4).
type SystemdProvider struct {
	executor *execkit.Executor
	units    []string
}

// NewSystemdProvider returns a ServiceStateProvider over units, using
// executor to run systemctl.
func NewSystemdProvider(executor *execkit.Executor, units []string) *SystemdProvider {
	return &SystemdProvider{executor: executor, units: units}
}

// Capture reports each configured unit's enabled/active state.
func (p *SystemdProvider) Capture(ctx context.Context) ([]ServiceEntry, error) {
	entries := make([]ServiceEntry, 0, len(p.units))
	for _, unit := range p.units {
		enabled, err := p.queryState(ctx, "is-enabled", unit, "enabled")
		if err != nil {
			return nil, err
		}
		active, err := p.queryState(ctx, "is-active", unit, "active")
		if err != nil {
			return nil, err
		}
		entries = append(entries, ServiceEntry{Name: unit, EnabledAtCapture: enabled, ActiveAtCapture: active})
	}
	return entries, nil
}

// queryState runs `systemctl <verb> <unit>` and reports whether its
// trimmed stdout equals want. systemctl exits non-zero for states like
// "disabled"/"inactive", which is an expected outcome, not a failure
// to report — only a failure to invoke systemctl at all is.
func (p *SystemdProvider) queryState(ctx context.Context, verb, unit, want string) (bool, error) {
	result, err := p.executor.Execute(ctx, "systemctl", []string{verb, unit}, execkit.Options{CaptureOutput: true})
	if err != nil {
		return false, fmt.Errorf("systemctl %s %s: %w", verb, unit, err)
	}
	return strings.TrimSpace(result.Stdout) == want, nil
}

// Converge drives each target unit's enabled/active state, best-
// effort per unit (spec.md §4.6): one unit's systemctl failure is
// recorded in its own result and does not stop the rest from being
// attempted.
func (p *SystemdProvider) Converge(ctx context.Context, target []ServiceEntry) ([]ServiceRestoreResult, error) {
	results := make([]ServiceRestoreResult, 0, len(target))
	for _, svc := range target {
		if err := p.applyEnabled(ctx, svc); err != nil {
			results = append(results, ServiceRestoreResult{Name: svc.Name, Error: err.Error()})
			continue
		}
		if err := p.applyActive(ctx, svc); err != nil {
			results = append(results, ServiceRestoreResult{Name: svc.Name, Error: err.Error()})
			continue
		}
		results = append(results, ServiceRestoreResult{Name: svc.Name})
	}
	return results, nil
}

func (p *SystemdProvider) applyEnabled(ctx context.Context, svc ServiceEntry) error {
	verb := "disable"
	if svc.EnabledAtCapture {
		verb = "enable"
	}
	result, err := p.executor.ExecuteWithElevation(ctx, "systemctl", []string{verb, svc.Name}, execkit.Options{CaptureOutput: true})
	if err != nil {
		return fmt.Errorf("systemctl %s %s: %w", verb, svc.Name, err)
	}
	if !result.Success {
		return fmt.Errorf("systemctl %s %s: %s", verb, svc.Name, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func (p *SystemdProvider) applyActive(ctx context.Context, svc ServiceEntry) error {
	verb := "stop"
	if svc.ActiveAtCapture {
		verb = "start"
	}
	result, err := p.executor.ExecuteWithElevation(ctx, "systemctl", []string{verb, svc.Name}, execkit.Options{CaptureOutput: true})
	if err != nil {
		return fmt.Errorf("systemctl %s %s: %w", verb, svc.Name, err)
	}
	if !result.Success {
		return fmt.Errorf("systemctl %s %s: %s", verb, svc.Name, strings.TrimSpace(result.Stderr))
	}
	return nil
}
