// Package config loads nodeplan settings from a YAML file, lets command line
// flags override them, and turns the result into the configs each component takes.
package config

import (
	"bytes"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/twitter/nodeplan/cloud/cluster"
	"github.com/twitter/nodeplan/planner"
	"github.com/twitter/nodeplan/remote"
	"github.com/twitter/nodeplan/remote/native"
	"github.com/twitter/nodeplan/remote/sshexec"
	"github.com/twitter/nodeplan/rsync"
	"github.com/twitter/nodeplan/topology"
	"github.com/twitter/nodeplan/topology/sink"
)

const (
	TransportSSHExec = "sshexec"
	TransportNative  = "native"
)

const mb = int64(1) << 20

// File is the on-disk configuration. Zero values mean "use the default".
type File struct {
	Nodes     []string `yaml:"nodes"`
	Inventory string   `yaml:"inventory"`
	Group     string   `yaml:"group"`

	Chdir  string `yaml:"chdir"`
	Python string `yaml:"python"`

	MaxProcesses    int    `yaml:"max_processes"`
	MemPerProcessMB int64  `yaml:"mem_per_process_mb"`
	Layout          string `yaml:"layout"`

	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	ProbeRate         float64       `yaml:"probe_rate"`
	CapabilityTimeout time.Duration `yaml:"capability_timeout"`

	Virtualenv string   `yaml:"virtualenv"`
	Extras     []string `yaml:"extras"`

	Rsync     Rsync     `yaml:"rsync"`
	Transport Transport `yaml:"transport"`
	Etcd      Etcd      `yaml:"etcd"`

	Format string `yaml:"format"`
}

type Rsync struct {
	Skip           bool     `yaml:"skip"`
	Source         string   `yaml:"source"`
	Jobs           int      `yaml:"jobs"`
	BandwidthLimit int      `yaml:"bwlimit"`
	Includes       []string `yaml:"includes"`
	Excludes       []string `yaml:"excludes"`
	Verbose        bool     `yaml:"verbose"`
}

type Transport struct {
	Kind string `yaml:"kind"`

	// sshexec
	SSH        string   `yaml:"ssh"`
	Options    []string `yaml:"options"`
	ControlDir string   `yaml:"control_dir"`

	// native
	User                  string   `yaml:"user"`
	Port                  int      `yaml:"port"`
	IdentityFiles         []string `yaml:"identity_files"`
	KnownHosts            []string `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool     `yaml:"insecure_ignore_host_key"`
}

type Etcd struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Prefix      string        `yaml:"prefix"`
	TTL         time.Duration `yaml:"ttl"`
}

// Load reads path. An empty path yields an empty File.
func Load(path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return f, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML config document. Unknown keys are rejected.
func Parse(data []byte) (File, error) {
	var f File
	if len(data) == 0 {
		return f, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return f, errors.Wrap(err, "parsing config")
	}
	return f, nil
}

// NodeNames resolves the configured nodes: the explicit list followed by the
// inventory group, if any, de-duplicated in that order.
func (f File) NodeNames() ([]cluster.NodeName, error) {
	fetchers := []cluster.Fetcher{cluster.NewStaticFetcher(cluster.ToNodeNames(f.Nodes...)...)}
	if f.Inventory != "" {
		fetchers = append(fetchers, cluster.MakeInventoryFetcher(f.Inventory, f.Group))
	}
	nodes, err := cluster.NewMultiFetcher(fetchers...).Fetch()
	if err != nil {
		return nil, err
	}
	return cluster.Dedupe(nodes), nil
}

// PlannerConfig builds and validates the planner configuration.
func (f File) PlannerConfig() (planner.Config, error) {
	nodes, err := f.NodeNames()
	if err != nil {
		return planner.Config{}, err
	}
	layout, err := topology.ParseLayout(f.Layout)
	if err != nil {
		return planner.Config{}, err
	}
	if f.MemPerProcessMB < 0 {
		return planner.Config{}, errors.Errorf("mem_per_process_mb must not be negative, got %d", f.MemPerProcessMB)
	}
	cfg := planner.Config{
		Nodes:  nodes,
		Chdir:  f.Chdir,
		Python: f.Python,
		Constraints: planner.Constraints{
			MaxProcesses:  f.MaxProcesses,
			MemPerProcess: f.MemPerProcessMB * mb,
		},
		Layout:            layout,
		ProbeTimeout:      f.ProbeTimeout,
		ProbeRate:         f.ProbeRate,
		CapabilityTimeout: f.CapabilityTimeout,
		Virtualenv:        remote.Activation{Path: f.Virtualenv, Extras: f.Extras},
		SkipSync:          f.Rsync.Skip,
	}.WithDefaults()
	if len(f.Extras) > 0 && f.Virtualenv == "" {
		return cfg, errors.New("extras need a virtualenv")
	}
	return cfg, cfg.Validate()
}

// RsyncOptions configures the bulk sync into the planner's chdir.
func (f File) RsyncOptions(chdir string) rsync.Options {
	return rsync.Options{
		SourceDir:      f.Rsync.Source,
		TargetDir:      chdir,
		Includes:       f.Rsync.Includes,
		Excludes:       f.Rsync.Excludes,
		Jobs:           f.Rsync.Jobs,
		BandwidthLimit: f.Rsync.BandwidthLimit,
		Verbose:        f.Rsync.Verbose,
	}
}

// TransportKind is the configured transport, sshexec by default.
func (f File) TransportKind() (string, error) {
	switch f.Transport.Kind {
	case "", TransportSSHExec:
		return TransportSSHExec, nil
	case TransportNative:
		return TransportNative, nil
	}
	return "", errors.Errorf("unknown transport %q, expected %s or %s", f.Transport.Kind, TransportSSHExec, TransportNative)
}

func (f File) SSHExecConfig() sshexec.Config {
	return sshexec.Config{
		SSH:        f.Transport.SSH,
		Options:    f.Transport.Options,
		ControlDir: f.Transport.ControlDir,
	}
}

func (f File) NativeConfig() native.Config {
	return native.Config{
		User:                  f.Transport.User,
		Port:                  f.Transport.Port,
		IdentityFiles:         f.Transport.IdentityFiles,
		KnownHosts:            f.Transport.KnownHosts,
		InsecureIgnoreHostKey: f.Transport.InsecureIgnoreHostKey,
	}
}

// EtcdEnabled reports whether topologies should also be published to etcd.
func (f File) EtcdEnabled() bool {
	return len(f.Etcd.Endpoints) > 0
}

func (f File) EtcdOptions() sink.EtcdOptions {
	return sink.EtcdOptions{
		Endpoints:   f.Etcd.Endpoints,
		DialTimeout: f.Etcd.DialTimeout,
		Prefix:      f.Etcd.Prefix,
		TTL:         f.Etcd.TTL,
	}
}
