// endpoints.go manages the pool of REST hosts.
//
// The exchange publishes one primary API host, four interchangeable
// alternates, and a public-data mirror. On startup every host is probed;
// unreachable ones are dropped and the survivors are ordered by observed
// latency. Failover advances through the surviving hosts in a cycle.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultHosts is the published REST host set, primary first.
var DefaultHosts = []string{
	"https://api.binance.com",
	"https://api1.binance.com",
	"https://api2.binance.com",
	"https://api3.binance.com",
	"https://api4.binance.com",
	"https://data-api.binance.vision",
}

// ErrNoEndpoints means no REST host answered the startup probe. This is
// fatal; the bot cannot run without an exchange connection.
var ErrNoEndpoints = errors.New("no reachable endpoints")

// EndpointPool holds the latency-ordered reachable hosts and the cursor
// of the currently active one.
type EndpointPool struct {
	mu     sync.Mutex
	hosts  []string
	idx    int
	logger *slog.Logger
}

// NewEndpointPool creates an unprobed pool over the given hosts.
func NewEndpointPool(hosts []string, logger *slog.Logger) *EndpointPool {
	return &EndpointPool{
		hosts:  append([]string(nil), hosts...),
		logger: logger.With("component", "endpoints"),
	}
}

// Probe pings every host, drops unreachable ones and orders the rest by
// latency ascending. Returns ErrNoEndpoints when nothing answered.
func (p *EndpointPool) Probe(ctx context.Context, http *resty.Client) error {
	type probed struct {
		host    string
		latency time.Duration
	}

	var alive []probed
	for _, host := range p.hosts {
		start := time.Now()
		resp, err := http.R().SetContext(ctx).Get(host + "/api/v3/ping")
		if err != nil || resp.StatusCode() != 200 {
			p.logger.Warn("endpoint unreachable, dropping", "host", host, "error", err)
			continue
		}
		latency := time.Since(start)
		alive = append(alive, probed{host: host, latency: latency})
		p.logger.Debug("endpoint reachable", "host", host, "latency", latency)
	}

	if len(alive) == 0 {
		return fmt.Errorf("probe endpoints: %w", ErrNoEndpoints)
	}

	sort.SliceStable(alive, func(i, j int) bool {
		return alive[i].latency < alive[j].latency
	})

	hosts := make([]string, len(alive))
	for i, a := range alive {
		hosts[i] = a.host
	}

	p.mu.Lock()
	p.hosts = hosts
	p.idx = 0
	p.mu.Unlock()

	p.logger.Info("endpoint pool ready", "hosts", len(hosts), "primary", hosts[0])
	return nil
}

// Current returns the active host.
func (p *EndpointPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hosts[p.idx]
}

// Advance moves to the next host in the cycle and returns it.
func (p *EndpointPool) Advance() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idx = (p.idx + 1) % len(p.hosts)
	host := p.hosts[p.idx]
	p.logger.Warn("failing over", "host", host)
	return host
}

// Len returns the number of reachable hosts.
func (p *EndpointPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hosts)
}
