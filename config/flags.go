package config

import (
	"github.com/spf13/cobra"
)

// Flag names shared by every command that plans.
const (
	NodeFlag              = "node"
	InventoryFlag         = "inventory"
	GroupFlag             = "group"
	ChdirFlag             = "chdir"
	PythonFlag            = "python"
	MaxProcessesFlag      = "max_processes"
	MemPerProcessFlag     = "mem_per_process"
	LayoutFlag            = "layout"
	ProbeTimeoutFlag      = "probe_timeout"
	ProbeRateFlag         = "probe_rate"
	CapabilityTimeoutFlag = "capability_timeout"
	VirtualenvFlag        = "virtualenv"
	ExtraFlag             = "extra"
	NoSyncFlag            = "no_sync"
	SourceFlag            = "rsync_source"
	RsyncJobsFlag         = "rsync_jobs"
	BandwidthLimitFlag    = "rsync_bwlimit"
	IncludeFlag           = "rsync_include"
	ExcludeFlag           = "rsync_exclude"
	RsyncVerboseFlag      = "rsync_verbose"
	TransportFlag         = "transport"
	SSHFlag               = "ssh"
	SSHOptionFlag         = "ssh_option"
	ControlDirFlag        = "ssh_control_dir"
	SSHUserFlag           = "ssh_user"
	SSHPortFlag           = "ssh_port"
	IdentityFlag          = "ssh_identity"
	KnownHostsFlag        = "ssh_known_hosts"
	InsecureHostKeyFlag   = "ssh_insecure_ignore_host_key"
	EtcdEndpointFlag      = "etcd_endpoint"
	EtcdPrefixFlag        = "etcd_prefix"
	EtcdTTLFlag           = "etcd_ttl"
	FormatFlag            = "format"
)

// RegisterFlags binds every setting of f to a flag on cmd.
func (f *File) RegisterFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringArrayVar(&f.Nodes, NodeFlag, nil, "node to run on, user@host or host; repeatable")
	fs.StringVar(&f.Inventory, InventoryFlag, "", "ansible YAML inventory to read nodes from")
	fs.StringVar(&f.Group, GroupFlag, "", "inventory group to use (default all)")
	fs.StringVar(&f.Chdir, ChdirFlag, "", "remote working directory, also the sync destination (default pytest)")
	fs.StringVar(&f.Python, PythonFlag, "", "python interpreter on the nodes (default python)")
	fs.IntVar(&f.MaxProcesses, MaxProcessesFlag, 0, "maximum workers per node, 0 for one per cpu")
	fs.Int64Var(&f.MemPerProcessMB, MemPerProcessFlag, 0, "available memory each worker needs, in MB")
	fs.StringVar(&f.Layout, LayoutFlag, "", "worker connection layout: remote or via")
	fs.DurationVar(&f.ProbeTimeout, ProbeTimeoutFlag, 0, "hard timeout for connecting to one node (default 5s)")
	fs.Float64Var(&f.ProbeRate, ProbeRateFlag, 0, "maximum connection attempts started per second, 0 for no limit")
	fs.DurationVar(&f.CapabilityTimeout, CapabilityTimeoutFlag, 0, "timeout for one node's capability query (default 30s)")
	fs.StringVar(&f.Virtualenv, VirtualenvFlag, "", "virtualenv path to create and install the synced tree into")
	fs.StringArrayVar(&f.Extras, ExtraFlag, nil, "extra install target of the synced project; repeatable")
	fs.BoolVar(&f.Rsync.Skip, NoSyncFlag, false, "do not sync the source tree")
	fs.StringVar(&f.Rsync.Source, SourceFlag, "", "local directory to sync (default current directory)")
	fs.IntVar(&f.Rsync.Jobs, RsyncJobsFlag, 0, "concurrent rsyncs, 0 for one per node")
	fs.IntVar(&f.Rsync.BandwidthLimit, BandwidthLimitFlag, 0, "per rsync bandwidth limit in KB/s")
	fs.StringArrayVar(&f.Rsync.Includes, IncludeFlag, nil, "path to sync; repeatable")
	fs.StringArrayVar(&f.Rsync.Excludes, ExcludeFlag, nil, "path not to sync; repeatable")
	fs.BoolVar(&f.Rsync.Verbose, RsyncVerboseFlag, false, "verbose parallel and rsync output")
	fs.StringVar(&f.Transport.Kind, TransportFlag, "", "ssh transport: sshexec or native")
	fs.StringVar(&f.Transport.SSH, SSHFlag, "", "ssh executable for the sshexec transport")
	fs.StringArrayVar(&f.Transport.Options, SSHOptionFlag, nil, "extra ssh -o option; repeatable")
	fs.StringVar(&f.Transport.ControlDir, ControlDirFlag, "", "directory for ssh control sockets; enables multiplexing")
	fs.StringVar(&f.Transport.User, SSHUserFlag, "", "user for nodes without user@ (native transport)")
	fs.IntVar(&f.Transport.Port, SSHPortFlag, 0, "ssh port (native transport)")
	fs.StringArrayVar(&f.Transport.IdentityFiles, IdentityFlag, nil, "private key file (native transport); repeatable")
	fs.StringArrayVar(&f.Transport.KnownHosts, KnownHostsFlag, nil, "known_hosts file (native transport); repeatable")
	fs.BoolVar(&f.Transport.InsecureIgnoreHostKey, InsecureHostKeyFlag, false, "skip host key verification (native transport)")
	fs.StringArrayVar(&f.Etcd.Endpoints, EtcdEndpointFlag, nil, "etcd endpoint to publish the topology to; repeatable")
	fs.StringVar(&f.Etcd.Prefix, EtcdPrefixFlag, "", "etcd key prefix")
	fs.DurationVar(&f.Etcd.TTL, EtcdTTLFlag, 0, "expire published topologies after this long")
	fs.StringVar(&f.Format, FormatFlag, "", "output format: text, json, yaml or xdist")
}

// Override returns f with every setting whose flag changed taken from o.
// Flags that only add to a list append to f's list.
func (f File) Override(o File, changed func(flag string) bool) File {
	if changed(NodeFlag) {
		f.Nodes = append(f.Nodes, o.Nodes...)
	}
	if changed(InventoryFlag) {
		f.Inventory = o.Inventory
	}
	if changed(GroupFlag) {
		f.Group = o.Group
	}
	if changed(ChdirFlag) {
		f.Chdir = o.Chdir
	}
	if changed(PythonFlag) {
		f.Python = o.Python
	}
	if changed(MaxProcessesFlag) {
		f.MaxProcesses = o.MaxProcesses
	}
	if changed(MemPerProcessFlag) {
		f.MemPerProcessMB = o.MemPerProcessMB
	}
	if changed(LayoutFlag) {
		f.Layout = o.Layout
	}
	if changed(ProbeTimeoutFlag) {
		f.ProbeTimeout = o.ProbeTimeout
	}
	if changed(ProbeRateFlag) {
		f.ProbeRate = o.ProbeRate
	}
	if changed(CapabilityTimeoutFlag) {
		f.CapabilityTimeout = o.CapabilityTimeout
	}
	if changed(VirtualenvFlag) {
		f.Virtualenv = o.Virtualenv
	}
	if changed(ExtraFlag) {
		f.Extras = append(f.Extras, o.Extras...)
	}
	if changed(NoSyncFlag) {
		f.Rsync.Skip = o.Rsync.Skip
	}
	if changed(SourceFlag) {
		f.Rsync.Source = o.Rsync.Source
	}
	if changed(RsyncJobsFlag) {
		f.Rsync.Jobs = o.Rsync.Jobs
	}
	if changed(BandwidthLimitFlag) {
		f.Rsync.BandwidthLimit = o.Rsync.BandwidthLimit
	}
	if changed(IncludeFlag) {
		f.Rsync.Includes = append(f.Rsync.Includes, o.Rsync.Includes...)
	}
	if changed(ExcludeFlag) {
		f.Rsync.Excludes = append(f.Rsync.Excludes, o.Rsync.Excludes...)
	}
	if changed(RsyncVerboseFlag) {
		f.Rsync.Verbose = o.Rsync.Verbose
	}
	if changed(TransportFlag) {
		f.Transport.Kind = o.Transport.Kind
	}
	if changed(SSHFlag) {
		f.Transport.SSH = o.Transport.SSH
	}
	if changed(SSHOptionFlag) {
		f.Transport.Options = append(f.Transport.Options, o.Transport.Options...)
	}
	if changed(ControlDirFlag) {
		f.Transport.ControlDir = o.Transport.ControlDir
	}
	if changed(SSHUserFlag) {
		f.Transport.User = o.Transport.User
	}
	if changed(SSHPortFlag) {
		f.Transport.Port = o.Transport.Port
	}
	if changed(IdentityFlag) {
		f.Transport.IdentityFiles = append(f.Transport.IdentityFiles, o.Transport.IdentityFiles...)
	}
	if changed(KnownHostsFlag) {
		f.Transport.KnownHosts = append(f.Transport.KnownHosts, o.Transport.KnownHosts...)
	}
	if changed(InsecureHostKeyFlag) {
		f.Transport.InsecureIgnoreHostKey = o.Transport.InsecureIgnoreHostKey
	}
	if changed(EtcdEndpointFlag) {
		f.Etcd.Endpoints = o.Etcd.Endpoints
	}
	if changed(EtcdPrefixFlag) {
		f.Etcd.Prefix = o.Etcd.Prefix
	}
	if changed(EtcdTTLFlag) {
		f.Etcd.TTL = o.Etcd.TTL
	}
	if changed(FormatFlag) {
		f.Format = o.Format
	}
	return f
}
