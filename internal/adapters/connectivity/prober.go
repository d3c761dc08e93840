package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultProbeInterval is how often the prober checks the remote API.
const DefaultProbeInterval = 30 * time.Second

// Prober polls a health URL and feeds the result into a Monitor.
type Prober struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
	Monitor  *Monitor
}

// Check performs one probe. Any 2xx or 3xx answer counts as reachable.
// PRE: p.URL is an absolute URL
// POST: Monitor state reflects the probe result; returns the probe error, if any
func (p *Prober) Check(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := p.probe(ctx)
	if err != nil {
		slog.Debug("connectivity_probe_failed", "url", p.URL, "error", err)
	}
	p.Monitor.Set(err == nil)
	return err
}

func (p *Prober) probe(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// Run probes immediately and then on every interval until ctx is done.
// PRE: ctx is cancellable
// POST: returns when ctx is done
func (p *Prober) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	_ = p.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("connectivity_prober_stopped")
			return
		case <-ticker.C:
			_ = p.Check(ctx)
		}
	}
}
