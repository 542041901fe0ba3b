// Package pool implements RemotePool, which owns a set of per-host
// RemoteWorkers, serves their MetadataPull requests, fans out
// PrepareRemote/Start/Stop across hosts with bounded concurrency, and runs
// Abort on every worker at once.
package pool

import (
	"context"
	"net"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/testplan-go/remotepool/internal/config"
	"github.com/testplan-go/remotepool/internal/errors"
	"github.com/testplan-go/remotepool/internal/healthcheck"
	"github.com/testplan-go/remotepool/internal/logging"
	"github.com/testplan-go/remotepool/internal/metadata"
	"github.com/testplan-go/remotepool/internal/ratelimit"
	"github.com/testplan-go/remotepool/internal/worker"
)

// RemotePool owns a set of RemoteWorkers keyed by host and serves their
// control-plane requests.
type RemotePool struct {
	cfg config.Config

	mu      sync.Mutex
	workers map[string][]*worker.RemoteWorker

	planName       string
	localChildPath string
	listenAddress  string

	healthChecker healthcheck.Checker
}

// Option customizes a RemotePool at construction.
type Option func(*RemotePool)

// WithHealthChecker overrides the pre-flight reachability probe; tests
// inject a fake here instead of dialing real SSH.
func WithHealthChecker(c healthcheck.Checker) Option {
	return func(p *RemotePool) { p.healthChecker = c }
}

// New constructs a RemotePool for planName, whose remote child process is
// localChildPath. cfg should already have WithDefaults and Validate called
// on it.
func New(cfg config.Config, planName, localChildPath string, opts ...Option) *RemotePool {
	p := &RemotePool{
		cfg:            cfg,
		workers:        make(map[string][]*worker.RemoteWorker),
		planName:       planName,
		localChildPath: localChildPath,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.healthChecker == nil {
		p.healthChecker = healthcheck.NewSSHChecker()
	}
	return p
}

// AddWorkers instantiates one RemoteWorker per (host, count) pair from
// cfg.Hosts, wiring the pool type and listening address into each.
func (p *RemotePool) AddWorkers(listenAddress string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listenAddress = listenAddress

	limiter := ratelimit.New(p.cfg.MaxConcurrentTransfers, 0)

	user := currentUser()
	index := 0
	for host, n := range p.cfg.Hosts {
		var ws []*worker.RemoteWorker
		for i := 0; i < n; i++ {
			ws = append(ws, worker.New(worker.Params{
				Host:            host,
				Index:           index,
				PlanName:        p.planName,
				User:            user,
				LocalChildPath:  p.localChildPath,
				PoolAddress:     listenAddress,
				Config:          p.cfg,
				TransferLimiter: limiter,
			}))
			index++
		}
		p.workers[host] = ws
	}
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// Workers returns the workers for host, or nil if none were added.
func (p *RemotePool) Workers(host string) []*worker.RemoteWorker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers[host]
}

// HandleMetadataPull implements the pool's control-plane handler for an
// inbound MetadataPull: it looks up the worker owning conn's host and
// replies with a Metadata message carrying its frozen SetupMetadata. The
// handler is idempotent: repeated pulls from the same worker observe the
// same value, since RemoteWorker.Metadata reads from a sync.Once-frozen
// field.
func (p *RemotePool) HandleMetadataPull(ctx context.Context, host string, index int, conn net.Conn) error {
	ws := p.Workers(host)
	if index < 0 || index >= len(ws) {
		return errors.Errorf("metadata pull: no worker %d for host %s", index, host)
	}
	meta := ws[index].Metadata()
	if meta == nil {
		return errors.Errorf("metadata pull: worker %d on host %s has not finished staging", index, host)
	}
	enc := metadata.NewEncoder(conn)
	return enc.Send(metadata.Message{Type: metadata.Metadata, SetupMetadata: meta})
}

// UnresponsiveHosts returns the hosts with at least one worker that has
// missed three consecutive heartbeats, so a caller can decide whether to
// abort a run that is silently stalled rather than merely slow.
func (p *RemotePool) UnresponsiveHosts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var hosts []string
	for host, ws := range p.workers {
		for _, w := range ws {
			if w.Unresponsive() {
				hosts = append(hosts, host)
				break
			}
		}
	}
	return hosts
}

// concurrencyLimit bounds fan-out across hosts: the configured
// MaxConcurrentTransfers, or the number of hosts, whichever is smaller and
// positive.
func (p *RemotePool) concurrencyLimit() int64 {
	n := len(p.cfg.Hosts)
	if n == 0 {
		n = 1
	}
	if p.cfg.MaxConcurrentTransfers > 0 && p.cfg.MaxConcurrentTransfers < n {
		n = p.cfg.MaxConcurrentTransfers
	}
	return int64(n)
}

// Start runs the pre-flight health-check pass over all configured hosts,
// then PrepareRemote and Start on every surviving worker, all bounded by
// the pool's configured concurrency limit. It returns the hosts excluded
// for failing the health check.
func (p *RemotePool) Start(ctx context.Context, cwd string) (unreachable []string, err error) {
	hosts := make([]string, 0, len(p.cfg.Hosts))
	for h := range p.cfg.Hosts {
		hosts = append(hosts, h)
	}

	healthy, unreachable := p.runHealthChecks(ctx, hosts)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(p.concurrencyLimit()))
	for _, host := range healthy {
		host := host
		for _, w := range p.Workers(host) {
			w := w
			g.Go(func() error {
				if err := w.PrepareRemote(gctx, cwd); err != nil {
					return errors.Wrapf(err, "prepare remote failed for host %s", host)
				}
				return w.Start(gctx)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return unreachable, err
	}
	return unreachable, nil
}

func (p *RemotePool) runHealthChecks(ctx context.Context, hosts []string) (healthy, unreachable []string) {
	results := make([]healthcheck.HostHealth, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(p.concurrencyLimit()))
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			results[i] = p.healthChecker.Check(gctx, host)
			return nil
		})
	}
	g.Wait() // health-check errors are recorded per-host, never fatal to the pass

	for _, r := range results {
		if r.Reachable {
			healthy = append(healthy, r.Host)
		} else {
			logging.Errorf(ctx, "host %s failed pre-flight health check: %v", r.Host, r.Err)
			unreachable = append(unreachable, r.Host)
		}
	}
	return healthy, unreachable
}

// Stop fetches results and pulls configured entries from every worker,
// bounded by the pool's concurrency limit.
func (p *RemotePool) Stop(ctx context.Context, localRunDirFor func(host string, index int) string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(p.concurrencyLimit()))
	for host, ws := range p.workers {
		host := host
		for i, w := range ws {
			i, w := i, w
			g.Go(func() error {
				return w.Stop(gctx, localRunDirFor(host, i))
			})
		}
	}
	return g.Wait()
}

// Abort runs best-effort teardown across every worker; individual failures
// are logged, never returned, matching the source's abort semantics.
func (p *RemotePool) Abort(ctx context.Context, localRunDirFor func(host string, index int) string) {
	var wg sync.WaitGroup
	for host, ws := range p.workers {
		host := host
		for i, w := range ws {
			i, w := i, w
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Abort(ctx, localRunDirFor(host, i))
			}()
		}
	}
	wg.Wait()
}
