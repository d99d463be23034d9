package planner

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/twitter/nodeplan/remote"
	"github.com/twitter/nodeplan/topology"
)

const gib = int64(1) << 30

func genReport() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(1, 256),
		gen.Int64Range(0, 512*gib),
	).Map(func(v []interface{}) remote.CapabilityReport {
		return remote.CapabilityReport{CPUCount: v[0].(int), AvailableMemory: v[1].(int64), TotalMemory: v[1].(int64)}
	})
}

var placement = Placement{Chdir: "pytest", Python: "python"}

func Test_AllocateUnconstrained(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("no constraints yields one worker per cpu", prop.ForAll(
		func(r remote.CapabilityReport) bool {
			return len(Allocate("n", "n", r, Constraints{}, placement)) == r.CPUCount
		},
		genReport(),
	))
	properties.TestingRun(t)
}

func Test_AllocateMemoryStarved(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("needing more memory than available yields no workers", prop.ForAll(
		func(r remote.CapabilityReport, extra int64) bool {
			c := Constraints{MemPerProcess: r.AvailableMemory + extra}
			return len(Allocate("n", "n", r, c, placement)) == 0
		},
		genReport(),
		gen.Int64Range(1, gib),
	))
	properties.TestingRun(t)
}

func Test_AllocateMonotonicInMaxProcesses(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("lowering max processes never adds workers", prop.ForAll(
		func(r remote.CapabilityReport, mem int64, hi, drop int) bool {
			lo := hi - drop
			if lo < 1 {
				lo = 1
			}
			a := WorkerCount(r, Constraints{MaxProcesses: hi, MemPerProcess: mem})
			b := WorkerCount(r, Constraints{MaxProcesses: lo, MemPerProcess: mem})
			return b <= a && b >= 0
		},
		genReport(),
		gen.Int64Range(0, 8*gib),
		gen.IntRange(1, 300),
		gen.IntRange(0, 300),
	))
	properties.TestingRun(t)
}

func Test_AllocateIndexesAndLayout(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("workers are indexed from zero and only index 0 is direct under via", prop.ForAll(
		func(r remote.CapabilityReport, maxProcs int) bool {
			p := placement
			p.Layout = topology.LayoutVia
			workers := Allocate("u@h", "h", r, Constraints{MaxProcesses: maxProcs}, p)
			for i, w := range workers {
				if w.Index != i || w.Host != "h" || w.Chdir != "pytest" {
					return false
				}
				if (i == 0) != (w.Via == "") {
					return false
				}
			}
			return len(workers) <= maxProcs || maxProcs == 0
		},
		genReport(),
		gen.IntRange(0, 64),
	))
	properties.TestingRun(t)
}
