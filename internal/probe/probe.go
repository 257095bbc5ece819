// Package probe periodically checks that the upstream events API answers.
// Its results feed /health and metrics only; probed events are never served.
package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	appLog "schedview/internal/log"
	"schedview/internal/model"
)

// Fetcher is the upstream call used for probing.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]model.Event, error)
}

// Status is the outcome of the most recent probe.
type Status struct {
	Checked    bool      `json:"checked"`
	Up         bool      `json:"up"`
	EventCount int       `json:"event_count"`
	CheckedAt  time.Time `json:"checked_at"`
	Error      string    `json:"error,omitempty"`
}

// Probe runs Check on a cron schedule.
type Probe struct {
	fetcher Fetcher
	timeout time.Duration

	cron *cron.Cron

	mu     sync.RWMutex
	status Status

	up       prometheus.Gauge
	count    prometheus.Gauge
	lastSeen prometheus.Gauge
}

// New creates a Probe. Metrics are registered on reg when non-nil.
func New(f Fetcher, timeout time.Duration, reg prometheus.Registerer) *Probe {
	p := &Probe{
		fetcher: f,
		timeout: timeout,
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schedview",
			Name:      "upstream_up",
			Help:      "1 if the last upstream probe succeeded",
		}),
		count: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schedview",
			Name:      "upstream_events",
			Help:      "Number of events returned by the last successful probe",
		}),
		lastSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schedview",
			Name:      "upstream_last_probe_timestamp_seconds",
			Help:      "Unix time of the last probe",
		}),
	}
	if reg != nil {
		reg.MustRegister(p.up, p.count, p.lastSeen)
	}
	return p
}

// Start schedules Check with a standard 5-field cron spec and runs one
// check immediately.
func (p *Probe) Start(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { p.Check(ctx) }); err != nil {
		return fmt.Errorf("probe: invalid cron spec %q: %w", spec, err)
	}
	p.cron = c
	c.Start()

	appLog.Info("upstream probe scheduled", "cron", spec)
	go p.Check(ctx)
	return nil
}

// Stop halts scheduling and waits for a running check to finish.
func (p *Probe) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}

// Check performs one probe and records its result.
func (p *Probe) Check(ctx context.Context) Status {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	events, err := p.fetcher.FetchAll(ctx)
	st := Status{Checked: true, CheckedAt: time.Now().UTC()}
	if err != nil {
		st.Error = err.Error()
		p.up.Set(0)
		appLog.Error("upstream probe failed", err)
	} else {
		st.Up = true
		st.EventCount = len(events)
		p.up.Set(1)
		p.count.Set(float64(len(events)))
		appLog.Debug("upstream probe ok", "events", len(events))
	}
	p.lastSeen.Set(float64(st.CheckedAt.Unix()))

	p.mu.Lock()
	p.status = st
	p.mu.Unlock()
	return st
}

// Status returns the last recorded probe outcome.
func (p *Probe) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}
