package planner

import (
	"github.com/twitter/nodeplan/cloud/cluster"
	"github.com/twitter/nodeplan/remote"
	"github.com/twitter/nodeplan/topology"
)

// Placement is what every worker on a node shares.
type Placement struct {
	Chdir  string
	Python string
	Layout topology.Layout
	// FirstIndex is the index of the node's first worker. Node names sharing a
	// host continue the host's numbering so worker ids stay unique.
	FirstIndex int
}

// WorkerCount is the number of workers a node with report can host under c.
// It is never negative; zero means the node is too constrained to use.
func WorkerCount(report remote.CapabilityReport, c Constraints) int {
	count := report.CPUCount
	if c.MaxProcesses > 0 && c.MaxProcesses < count {
		count = c.MaxProcesses
	}
	if c.MemPerProcess > 0 {
		if byMem := report.AvailableMemory / c.MemPerProcess; byMem < int64(count) {
			count = int(byMem)
		}
	}
	if count < 0 {
		count = 0
	}
	return count
}

// Allocate expands a node's worker count into workers indexed from p.FirstIndex.
// Under LayoutVia every worker past the first is spawned through the first.
func Allocate(node cluster.NodeName, host string, report remote.CapabilityReport, c Constraints, p Placement) []topology.Worker {
	count := WorkerCount(report, c)
	workers := make([]topology.Worker, 0, count)
	first := topology.Worker{Host: host, Index: p.FirstIndex}.ID()
	for i := 0; i < count; i++ {
		w := topology.Worker{
			Node:   node,
			Host:   host,
			Index:  p.FirstIndex + i,
			Chdir:  p.Chdir,
			Python: p.Python,
		}
		if p.Layout == topology.LayoutVia && i > 0 {
			w.Via = first
		}
		workers = append(workers, w)
	}
	return workers
}
