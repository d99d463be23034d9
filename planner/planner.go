// Package planner turns a list of candidate nodes into a worker topology:
// probe every node, sync the tree to the reachable ones, ask them for their
// capacity and size each node's share of workers from it.
package planner

import (
	"context"
	"sync"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/nodeplan/cloud/cluster"
	planerrors "github.com/twitter/nodeplan/common/errors"
	"github.com/twitter/nodeplan/common/stats"
	"github.com/twitter/nodeplan/remote"
	"github.com/twitter/nodeplan/topology"
)

var (
	// ErrNoConnectableNodes aborts a run in which no node accepted a session.
	ErrNoConnectableNodes = errors.New("no nodes connectable")
	// ErrNoCapabilities aborts a run in which every capability query failed.
	ErrNoCapabilities = errors.New("no node reported its capabilities")
	// ErrNoCapableNodes aborts a run in which nodes answered but none can host a worker.
	ErrNoCapableNodes = errors.New("no nodes satisfy capability constraints")
)

// Syncer sends the source tree to the nodes registered with it.
type Syncer interface {
	SyncTargets
	Send(ctx context.Context) error
}

// Planner runs planning passes for one Config.
type Planner struct {
	cfg    Config
	dialer remote.Dialer
	syncer Syncer
	stat   stats.StatsReceiver
	runID  string
}

// NewPlanner creates a Planner. A nil syncer behaves as Config.SkipSync.
func NewPlanner(cfg Config, dialer remote.Dialer, syncer Syncer, stat stats.StatsReceiver) *Planner {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	stat = stat.Precision(time.Millisecond)
	if syncer == nil {
		cfg.SkipSync = true
	}
	return &Planner{
		cfg:    cfg.WithDefaults(),
		dialer: dialer,
		syncer: syncer,
		stat:   stat,
		runID:  generateRunID(),
	}
}

func generateRunID() string {
	id, err := uuid.NewV4()
	for err != nil {
		id, err = uuid.NewV4()
	}
	return id.String()
}

// RunID identifies this planner's output wherever it is published.
func (p *Planner) RunID() string {
	return p.runID
}

func (p *Planner) Config() Config {
	return p.cfg
}

// Plan probes, syncs, activates, measures and allocates, in that order.
// Every session opened is closed before Plan returns.
func (p *Planner) Plan(ctx context.Context) (topology.Topology, error) {
	defer p.stat.Latency(stats.PlannerPlanLatency_ms).Time().Stop()

	group := remote.NewGroup()
	defer func() {
		if err := group.Close(); err != nil {
			log.Warnf("Tearing down sessions: %v", err)
		}
	}()

	nodes := cluster.Dedupe(p.cfg.Nodes)
	log.Infof("Planning run %s over %d candidate nodes", p.runID, len(nodes))

	var targets SyncTargets
	if !p.cfg.SkipSync {
		targets = p.syncer
	}
	results := NewProber(p.cfg, p.dialer, group, targets, p.stat).ProbeAll(ctx, nodes)
	sessions := Reachable(results)
	p.stat.Gauge(stats.PlannerReachableNodesGauge).Update(int64(len(sessions)))
	if len(sessions) == 0 {
		return nil, planerrors.NewError(
			errors.Wrapf(ErrNoConnectableNodes, "none of %d nodes answered within %v", len(nodes), p.cfg.ProbeTimeout),
			planerrors.NoConnectableNodesExitCode)
	}
	log.Infof("Detected %d reachable nodes: %s", len(sessions), cluster.Join(reachableNodes(results)))

	if !p.cfg.SkipSync {
		log.Info("Syncing source tree")
		l := p.stat.Latency(stats.PlannerSyncLatency_ms).Time()
		err := p.syncer.Send(ctx)
		l.Stop()
		if err != nil {
			return nil, planerrors.NewError(errors.Wrap(err, "syncing nodes"), planerrors.SyncFailureExitCode)
		}
		log.Info("Sync finished")
	}

	if p.cfg.Virtualenv.Enabled() {
		if err := p.activate(ctx, sessions); err != nil {
			return nil, planerrors.NewError(err, planerrors.ActivationFailureExitCode)
		}
	}

	reports, err := fetchCapabilities(ctx, sessions, p.cfg.CapabilityTimeout, p.stat)
	if err != nil {
		return nil, planerrors.NewError(err, planerrors.CapabilityFailureExitCode)
	}

	topo := p.allocate(results, reports)
	p.stat.Gauge(stats.PlannerScheduledWorkersGauge).Update(int64(len(topo)))
	if len(topo) == 0 {
		return nil, planerrors.NewError(
			errors.Wrapf(ErrNoCapableNodes, "%d nodes reported, constraints max_processes=%d mem_per_process=%d",
				len(reports), p.cfg.Constraints.MaxProcesses, p.cfg.Constraints.MemPerProcess),
			planerrors.NoCapableNodesExitCode)
	}
	log.Infof("Scheduled %d workers on %d nodes", len(topo), len(topo.Nodes()))
	return topo, nil
}

// activate prepares the virtualenv on every session concurrently. Any failure is fatal.
func (p *Planner) activate(ctx context.Context, sessions []remote.Session) error {
	log.Infof("Activating virtualenv %s on %d nodes", p.cfg.Virtualenv.Path, len(sessions))
	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s remote.Session) {
			defer wg.Done()
			errs[i] = s.Activate(ctx, p.cfg.Virtualenv)
		}(i, s)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return errors.Wrapf(err, "activating %s", sessions[i].Node())
		}
	}
	return nil
}

// allocate flattens per-node workers in probe order. Nodes without a report get
// none. Nodes on the same host share one index sequence.
func (p *Planner) allocate(results []ProbeResult, reports map[string]remote.CapabilityReport) topology.Topology {
	placement := Placement{Chdir: p.cfg.Chdir, Python: p.cfg.interpreter(), Layout: p.cfg.Layout}
	next := make(map[string]int)
	var topo topology.Topology
	for _, r := range results {
		if !r.Reachable() {
			continue
		}
		report, ok := reports[string(r.Node)]
		if !ok {
			continue
		}
		host := r.Session.ID()
		placement.FirstIndex = next[host]
		workers := Allocate(r.Node, host, report, p.cfg.Constraints, placement)
		next[host] += len(workers)
		log.Debugf("Node %s (%s): %d workers", r.Node, report, len(workers))
		topo = append(topo, workers...)
	}
	return topo
}

func reachableNodes(results []ProbeResult) []cluster.NodeName {
	var nodes []cluster.NodeName
	for _, r := range results {
		if r.Reachable() {
			nodes = append(nodes, r.Node)
		}
	}
	return nodes
}
