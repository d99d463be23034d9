package planner

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/twitter/nodeplan/cloud/cluster"
	"github.com/twitter/nodeplan/common/stats"
	"github.com/twitter/nodeplan/remote"
)

// SyncTargets receives every node that answered a probe.
type SyncTargets interface {
	AddTarget(node cluster.NodeName)
}

// ProbeResult is the outcome of probing one node. Exactly one of Session and Err is set.
type ProbeResult struct {
	Node    cluster.NodeName
	Session remote.Session
	Err     error
}

// Reachable reports whether the probe opened a session.
func (r ProbeResult) Reachable() bool {
	return r.Session != nil
}

// Prober opens sessions under a hard deadline. Sessions it opens belong to its group.
type Prober struct {
	dialer  remote.Dialer
	group   *remote.Group
	targets SyncTargets
	stat    stats.StatsReceiver

	chdir   string
	python  string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewProber builds a Prober from cfg. targets may be nil.
func NewProber(cfg Config, dialer remote.Dialer, group *remote.Group, targets SyncTargets, stat stats.StatsReceiver) *Prober {
	cfg = cfg.WithDefaults()
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	p := &Prober{
		dialer:  dialer,
		group:   group,
		targets: targets,
		stat:    stat,
		chdir:   cfg.Chdir,
		python:  cfg.Python,
		timeout: cfg.ProbeTimeout,
	}
	if cfg.ProbeRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.ProbeRate), 1)
	}
	return p
}

type dialResult struct {
	session remote.Session
	err     error
}

// Probe opens a session to node. Any failure, including the deadline firing
// before the dialer returns, is an error for which remote.IsUnreachable holds.
// A session that arrives after the deadline is closed.
func (p *Prober) Probe(ctx context.Context, node cluster.NodeName) (remote.Session, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, remote.Unreachable(node, err)
		}
	}

	spec := remote.Spec{Node: node, Chdir: p.chdir, Python: p.python, ConnectTimeout: p.timeout}
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resultCh := make(chan dialResult, 1)
	go func() {
		s, err := p.dialer.Dial(dialCtx, spec)
		if err != nil && s != nil {
			s.Close()
			s = nil
		}
		resultCh <- dialResult{s, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, remote.Unreachable(node, r.err)
		}
		if r.session == nil {
			return nil, remote.Unreachable(node, errors.New("dialer returned no session"))
		}
		if err := dialCtx.Err(); err != nil {
			r.session.Close()
			return nil, remote.Unreachable(node, errors.Wrapf(err, "no session within %v", p.timeout))
		}
		p.group.Add(r.session)
		if p.targets != nil {
			p.targets.AddTarget(node)
		}
		return r.session, nil
	case <-dialCtx.Done():
		go func() {
			if r := <-resultCh; r.session != nil {
				log.Debugf("Closing late session to %s", node)
				r.session.Close()
			}
		}()
		return nil, remote.Unreachable(node, errors.Wrapf(dialCtx.Err(), "no session within %v", p.timeout))
	}
}

// ProbeAll probes every node concurrently. Results are in the order of nodes.
func (p *Prober) ProbeAll(ctx context.Context, nodes []cluster.NodeName) []ProbeResult {
	defer p.stat.Latency(stats.PlannerProbeLatency_ms).Time().Stop()

	results := make([]ProbeResult, len(nodes))
	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node cluster.NodeName) {
			defer wg.Done()
			s, err := p.Probe(ctx, node)
			results[i] = ProbeResult{Node: node, Session: s, Err: err}
			if err != nil {
				p.stat.Counter(stats.PlannerProbeUnreachableCounter).Inc(1)
				log.Warnf("Node %s is not reachable, dropping it: %v", node, err)
				return
			}
			p.stat.Counter(stats.PlannerProbeOkCounter).Inc(1)
			log.Debugf("Node %s is reachable", node)
		}(i, node)
	}
	wg.Wait()
	return results
}

// Reachable returns the sessions of the reachable results, in order.
func Reachable(results []ProbeResult) []remote.Session {
	var sessions []remote.Session
	for _, r := range results {
		if r.Reachable() {
			sessions = append(sessions, r.Session)
		}
	}
	return sessions
}
