package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// DependencyCheck is one readiness probe. A zero Timeout uses the repository default.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

type DependencyHealthOption func(*probeSet)

func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(p *probeSet) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithBackendName labels reports with the storage backend in use.
func WithBackendName(name string) DependencyHealthOption {
	return func(p *probeSet) { p.backend = strings.TrimSpace(name) }
}

func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(p *probeSet) {
		if clock != nil {
			p.now = clock
		}
	}
}

type probeSet struct {
	checks  []DependencyCheck
	backend string
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*probeSet)(nil)

// NewDependencyHealthRepository returns a HealthRepository that runs checks concurrently on every
// Collect. Checks must be named, uniquely, and carry a function.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks")
	}
	seen := make(map[string]struct{}, len(checks))
	for i, c := range checks {
		name := strings.TrimSpace(c.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("health: check %d has no name", i)
		case c.Check == nil:
			return nil, fmt.Errorf("health: check %q has no function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health: duplicate check %q", name)
		}
		seen[name] = struct{}{}
	}

	p := &probeSet{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: 1500 * time.Millisecond,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Collect never fails on a dependency error; failures are reported per check.
func (p *probeSet) Collect(ctx context.Context) (domain.HealthReport, error) {
	var (
		mu      sync.Mutex
		results = make(map[string]domain.HealthCheck, len(p.checks))
		g       errgroup.Group
	)
	for _, c := range p.checks {
		g.Go(func() error {
			result := p.probe(ctx, c)
			mu.Lock()
			results[strings.TrimSpace(c.Name)] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return domain.HealthReport{
		Status:      overallStatus(results),
		Backend:     p.backend,
		Checks:      results,
		GeneratedAt: p.now(),
	}, nil
}

func (p *probeSet) probe(ctx context.Context, c DependencyCheck) domain.HealthCheck {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := p.now()
	err := c.Check(checkCtx)
	if err == nil {
		// a check that ignores its context may return nil after the deadline
		err = checkCtx.Err()
	}
	finished := p.now()

	result := domain.HealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	if err == nil {
		return result
	}
	result.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Status, result.Detail = domain.HealthStatusError, "timeout"
	case errors.Is(err, context.Canceled):
		result.Status, result.Detail = domain.HealthStatusError, "cancelled"
	default:
		result.Status, result.Detail = domain.HealthStatusDegraded, err.Error()
	}
	return result
}

// overallStatus is the worst status among checks: error beats degraded beats ok.
func overallStatus(checks map[string]domain.HealthCheck) string {
	status := domain.HealthStatusOK
	for _, c := range checks {
		switch c.Status {
		case domain.HealthStatusError:
			return domain.HealthStatusError
		case domain.HealthStatusDegraded:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
