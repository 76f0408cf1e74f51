// Package health serves liveness and readiness probes for the API.
//
// Probes run in the background on a fixed interval. A probe turns unhealthy
// after FailureThreshold consecutive failures and healthy again after
// SuccessThreshold consecutive successes, so a single slow ping does not
// take the pod out of rotation.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind separates probes that gate liveness from those that gate readiness.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

// Thresholds tune flapping protection of a probe.
type Thresholds struct {
	Failure int
	Success int
}

// DefaultThresholds is applied when Add is given a zero Thresholds.
var DefaultThresholds = Thresholds{Failure: 3, Success: 1}

type probe struct {
	name       string
	kind       Kind
	timeout    time.Duration
	check      CheckFunc
	thresholds Thresholds

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// owned by the single goroutine calling run
	fails int
	oks   int
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= p.thresholds.Failure {
			p.healthy.Store(false)
		}
		return
	}
	p.fails = 0
	p.oks++
	if p.oks >= p.thresholds.Success {
		p.healthy.Store(true)
	}
}

func (p *probe) failure() (string, bool) {
	if p.healthy.Load() {
		return "", false
	}
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error(), true
	}
	return "check is unhealthy", true
}

// Health owns the registered probes and the manual readiness flag.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New returns a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Add registers a probe. Probes start healthy.
func (h *Health) Add(kind Kind, name string, timeout time.Duration, check CheckFunc, t Thresholds) {
	if t.Failure <= 0 || t.Success <= 0 {
		t = DefaultThresholds
	}
	p := &probe{name: name, kind: kind, timeout: timeout, check: check, thresholds: t}
	p.healthy.Store(true)

	h.mu.Lock()
	h.probes = append(h.probes, p)
	h.mu.Unlock()
}

// AddLivenessCheck registers a liveness probe with default thresholds.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.Add(Liveness, name, timeout, check, DefaultThresholds)
}

// AddReadinessCheck registers a readiness probe with default thresholds.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.Add(Readiness, name, timeout, check, DefaultThresholds)
}

// Start runs every probe immediately and then on each interval tick until
// Stop is called or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	h.mu.Lock()
	h.cancel = cancel
	h.group = g
	probes := append([]*probe(nil), h.probes...)
	h.mu.Unlock()

	for _, p := range probes {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			p.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					p.run(ctx)
				}
			}
		})
	}
}

// Stop cancels the probes and waits for them to return. Safe to call twice.
func (h *Health) Stop() {
	h.mu.Lock()
	cancel, g := h.cancel, h.group
	h.cancel, h.group = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	_ = g.Wait()
}

// SetReady sets the manual readiness flag.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the readiness flag combined with readiness probes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

func (h *Health) failures(kind Kind) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string)
	for _, p := range h.probes {
		if p.kind != kind {
			continue
		}
		if msg, failed := p.failure(); failed {
			out[p.name] = msg
		}
	}
	return out
}

// Status is the probe response body.
type Status struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Live serves /livez.
func (h *Health) Live(c echo.Context) error {
	return respond(c, h.failures(Liveness))
}

// Ready serves /readyz.
func (h *Health) Ready(c echo.Context) error {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	return respond(c, failures)
}

// Register mounts /livez and /readyz on e.
func (h *Health) Register(e *echo.Echo) {
	e.GET("/livez", h.Live)
	e.GET("/readyz", h.Ready)
}

func respond(c echo.Context, failures map[string]string) error {
	if len(failures) == 0 {
		return c.JSON(http.StatusOK, Status{Status: "ok"})
	}
	return c.JSON(http.StatusServiceUnavailable, Status{Status: "unhealthy", Checks: failures})
}

// Names lists registered probe names of the given kind, sorted.
func (h *Health) Names(kind Kind) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var names []string
	for _, p := range h.probes {
		if p.kind == kind {
			names = append(names, p.name)
		}
	}
	sort.Strings(names)
	return names
}
