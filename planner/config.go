package planner

import (
	"time"

	"github.com/pkg/errors"

	"github.com/twitter/nodeplan/cloud/cluster"
	"github.com/twitter/nodeplan/remote"
	"github.com/twitter/nodeplan/topology"
)

const (
	DefaultProbeTimeout      = 5 * time.Second
	DefaultCapabilityTimeout = 30 * time.Second
	DefaultChdir             = "pytest"
	DefaultPython            = "python"
)

// Constraints bound how many workers a node may host. Zero means unbounded.
type Constraints struct {
	// MaxProcesses caps the worker count per node.
	MaxProcesses int
	// MemPerProcess is the available memory in bytes each worker needs.
	MemPerProcess int64
}

// Config is everything a planning run needs. It is built once and passed by value.
type Config struct {
	Nodes []cluster.NodeName

	// Chdir is the remote working directory, also the sync destination.
	Chdir string
	// Python is the interpreter name or path on the nodes.
	Python string

	Constraints Constraints
	Layout      topology.Layout

	// ProbeTimeout is the hard wall-clock bound on opening one session.
	ProbeTimeout time.Duration
	// ProbeRate paces dial starts per second. Zero means unpaced.
	ProbeRate float64
	// CapabilityTimeout bounds each capability query.
	CapabilityTimeout time.Duration

	// Virtualenv, when its Path is set, is prepared on every node after sync.
	Virtualenv remote.Activation

	// SkipSync leaves the remote tree untouched.
	SkipSync bool
}

// WithDefaults fills unset fields with their defaults.
func (c Config) WithDefaults() Config {
	if c.Chdir == "" {
		c.Chdir = DefaultChdir
	}
	if c.Python == "" {
		c.Python = DefaultPython
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.CapabilityTimeout <= 0 {
		c.CapabilityTimeout = DefaultCapabilityTimeout
	}
	return c
}

// Validate rejects configurations that cannot produce a plan.
func (c Config) Validate() error {
	if len(c.Nodes) == 0 {
		return errors.New("no nodes given")
	}
	if c.Chdir == "" {
		return errors.New("remote chdir must not be empty")
	}
	if c.Constraints.MaxProcesses < 0 {
		return errors.Errorf("max processes must not be negative, got %d", c.Constraints.MaxProcesses)
	}
	if c.Constraints.MemPerProcess < 0 {
		return errors.Errorf("memory per process must not be negative, got %d", c.Constraints.MemPerProcess)
	}
	if c.ProbeRate < 0 {
		return errors.Errorf("probe rate must not be negative, got %v", c.ProbeRate)
	}
	return nil
}

// interpreter is the python path workers use once any virtualenv is active.
func (c Config) interpreter() string {
	return c.Virtualenv.Interpreter(c.Chdir, c.Python)
}
