package client

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	planerrors "github.com/twitter/nodeplan/common/errors"
	"github.com/twitter/nodeplan/common/os/exec"
	"github.com/twitter/nodeplan/common/stats"
	"github.com/twitter/nodeplan/config"
	"github.com/twitter/nodeplan/planner"
	"github.com/twitter/nodeplan/remote"
	"github.com/twitter/nodeplan/remote/native"
	"github.com/twitter/nodeplan/remote/sshexec"
	"github.com/twitter/nodeplan/rsync"
	"github.com/twitter/nodeplan/topology/sink"
)

// CLIClient runs the nodeplan command line.
type CLIClient interface {
	Exec() error
}

// Env is what commands touch outside the process. Zero fields get real defaults.
type Env struct {
	Ctx    context.Context
	Exec   exec.OsExec
	Stdout io.Writer
	Stderr io.Writer

	// NewDialer builds the transport for a resolved config.
	NewDialer func(f config.File) (remote.Dialer, error)
	// NewEtcdSink connects the etcd publisher.
	NewEtcdSink func(opts sink.EtcdOptions) (EtcdSink, error)
}

// EtcdSink is a sink holding a connection.
type EtcdSink interface {
	sink.Sink
	Close() error
}

type simpleCLIClient struct {
	rootCmd *cobra.Command
	env     Env
	stat    stats.StatsReceiver

	configPath string
	logLevel   string
	printStats bool
}

func (c *simpleCLIClient) Exec() error {
	return c.rootCmd.Execute()
}

// NewSimpleCLIClient builds the root command and its subcommands.
func NewSimpleCLIClient(env Env) CLIClient {
	if env.Ctx == nil {
		env.Ctx = context.Background()
	}
	if env.Exec == nil {
		env.Exec = exec.NewOsExec()
	}
	if env.Stdout == nil {
		env.Stdout = os.Stdout
	}
	if env.Stderr == nil {
		env.Stderr = os.Stderr
	}
	if env.NewDialer == nil {
		env.NewDialer = func(f config.File) (remote.Dialer, error) { return defaultDialer(env.Exec, f) }
	}
	if env.NewEtcdSink == nil {
		env.NewEtcdSink = func(opts sink.EtcdOptions) (EtcdSink, error) {
			s, err := sink.NewEtcd(opts)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}

	c := &simpleCLIClient{env: env, stat: stats.NewFinagleStatsReceiver()}
	c.rootCmd = &cobra.Command{
		Use:               "nodeplan",
		Short:             "nodeplan sizes and syncs remote nodes for a distributed test run",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	c.rootCmd.SetOut(env.Stdout)
	c.rootCmd.SetErr(env.Stderr)
	c.rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file; flags override it")
	c.rootCmd.PersistentFlags().StringVar(&c.logLevel, "log_level", "info", "Log everything at this level and above (error|warn|info|debug)")
	c.rootCmd.PersistentFlags().BoolVar(&c.printStats, "stats", false, "print planning metrics as JSON to stderr")

	c.addCmd(&planCmd{})
	c.addCmd(&probeCmd{})
	c.addCmd(&runCmd{})
	return c
}

// SetArgs replaces os.Args[1:] for the next Exec.
func SetArgs(cl CLIClient, args []string) {
	cl.(*simpleCLIClient).rootCmd.SetArgs(args)
}

func (c *simpleCLIClient) setup(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(c.logLevel)
	if err != nil {
		return planerrors.NewError(err, planerrors.ConfigFailureExitCode)
	}
	log.SetLevel(level)
	return nil
}

// renderStats runs after every command, including failed ones.
func (c *simpleCLIClient) renderStats() {
	if c.printStats {
		fmt.Fprintf(c.env.Stderr, "%s\n", c.stat.Render(true))
	}
}

func (c *simpleCLIClient) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		defer c.renderStats()
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

type command interface {
	registerFlags() *cobra.Command
	run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error
}

// settings merges the config file with the flags set on cmd.
func (c *simpleCLIClient) settings(cmd *cobra.Command, flags config.File) (config.File, planner.Config, error) {
	file, err := config.Load(c.configPath)
	if err != nil {
		return file, planner.Config{}, planerrors.NewError(err, planerrors.ConfigFailureExitCode)
	}
	merged := file.Override(flags, cmd.Flags().Changed)
	cfg, err := merged.PlannerConfig()
	if err != nil {
		return merged, cfg, planerrors.NewError(errors.Wrap(err, "invalid configuration"), planerrors.ConfigFailureExitCode)
	}
	return merged, cfg, nil
}

// planner wires a Planner for the merged settings. The syncer is nil when syncing is off.
func (c *simpleCLIClient) planner(f config.File, cfg planner.Config) (*planner.Planner, *rsync.Syncer, error) {
	dialer, err := c.env.NewDialer(f)
	if err != nil {
		return nil, nil, planerrors.NewError(errors.Wrap(err, "creating transport"), planerrors.ConfigFailureExitCode)
	}
	var syncer *rsync.Syncer
	if !cfg.SkipSync {
		opts := f.RsyncOptions(cfg.Chdir)
		opts.StreamLog = c.env.Stderr
		syncer = rsync.NewSyncer(c.env.Exec, opts)
		return planner.NewPlanner(cfg, dialer, syncer, c.stat), syncer, nil
	}
	return planner.NewPlanner(cfg, dialer, nil, c.stat), nil, nil
}

func defaultDialer(e exec.OsExec, f config.File) (remote.Dialer, error) {
	kind, err := f.TransportKind()
	if err != nil {
		return nil, err
	}
	if kind == config.TransportNative {
		d, err := native.NewDialer(f.NativeConfig())
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return sshexec.NewDialer(e, f.SSHExecConfig()), nil
}
