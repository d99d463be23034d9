package planner

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/nodeplan/cloud/cluster"
	planerrors "github.com/twitter/nodeplan/common/errors"
	"github.com/twitter/nodeplan/common/stats"
	"github.com/twitter/nodeplan/remote"
)

// NodeStatus is what a survey learned about one node.
type NodeStatus struct {
	Node      cluster.NodeName         `json:"node" yaml:"node"`
	Reachable bool                     `json:"reachable" yaml:"reachable"`
	Error     string                   `json:"error,omitempty" yaml:"error,omitempty"`
	Report    *remote.CapabilityReport `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// Workers is what the node would be allocated under the configured constraints.
	Workers int `json:"workers" yaml:"workers"`
}

// Survey probes every node and asks the reachable ones for their capabilities,
// without syncing or activating anything. Statuses are returned even when the
// error is non-nil.
func (p *Planner) Survey(ctx context.Context) ([]NodeStatus, error) {
	group := remote.NewGroup()
	defer group.Close()

	nodes := cluster.Dedupe(p.cfg.Nodes)
	results := NewProber(p.cfg, p.dialer, group, nil, p.stat).ProbeAll(ctx, nodes)

	statuses := make([]NodeStatus, len(results))
	for i, r := range results {
		statuses[i] = NodeStatus{Node: r.Node, Reachable: r.Reachable()}
		if r.Err != nil {
			statuses[i].Error = r.Err.Error()
		}
	}

	sessions := Reachable(results)
	p.stat.Gauge(stats.PlannerReachableNodesGauge).Update(int64(len(sessions)))
	if len(sessions) == 0 {
		return statuses, planerrors.NewError(
			errors.Wrapf(ErrNoConnectableNodes, "none of %d nodes answered within %v", len(nodes), p.cfg.ProbeTimeout),
			planerrors.NoConnectableNodesExitCode)
	}

	reports, err := fetchCapabilities(ctx, sessions, p.cfg.CapabilityTimeout, p.stat)
	for i, r := range results {
		if !r.Reachable() {
			continue
		}
		report, ok := reports[string(r.Node)]
		if !ok {
			statuses[i].Error = "capability query failed"
			continue
		}
		statuses[i].Report = &report
		statuses[i].Workers = WorkerCount(report, p.cfg.Constraints)
	}
	if err != nil {
		return statuses, planerrors.NewError(err, planerrors.CapabilityFailureExitCode)
	}
	log.Infof("Surveyed %d nodes, %d reachable", len(nodes), len(sessions))
	return statuses, nil
}
