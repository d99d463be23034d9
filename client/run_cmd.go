package client

import (
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/nodeplan/cloud/cluster"
	planerrors "github.com/twitter/nodeplan/common/errors"
	"github.com/twitter/nodeplan/common/os/exec"
	"github.com/twitter/nodeplan/config"
	"github.com/twitter/nodeplan/xdist"
)

const runKillTimeout = 10 * time.Second

type runCmd struct {
	flags config.File
}

func (c *runCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "plan, then run an xdist style scheduler command over the planned workers",
		Args:  cobra.MinimumNArgs(1),
	}
	c.flags.RegisterFlags(r)
	return r
}

func (c *runCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	f, cfg, err := cl.settings(cmd, c.flags)
	if err != nil {
		return err
	}
	p, syncer, err := cl.planner(f, cfg)
	if err != nil {
		return err
	}
	topo, err := p.Plan(cl.env.Ctx)
	if err != nil {
		return err
	}
	if err := cl.publish(cl.env.Ctx, f, p.RunID(), topo, nil); err != nil {
		return err
	}

	source := f.Rsync.Source
	if source == "" {
		if source, err = os.Getwd(); err != nil {
			return errors.Wrap(err, "resolving source directory")
		}
	}
	synced := func(cluster.NodeName) bool { return false }
	if syncer != nil {
		synced = syncer.HasTarget
	}
	setup := xdist.NodeSetupHook{Synced: synced, SourceDir: source}
	rewrite := xdist.PathRewriteHook{Roots: []string{source}}

	argv := rewrite.Rewrite(args[1:])
	argv = append(argv, setup.Args(topo)...)
	argv = append(argv, xdist.Args(topo)...)

	log.Infof("Running %s with %d workers", args[0], len(topo))
	command := cl.env.Exec.Command(args[0], argv...)
	command.SetStdin(os.Stdin)
	rr := exec.RunCommand(cl.env.Ctx, command, runKillTimeout, cl.env.Stdout, 0)
	if rr.Error != nil {
		return planerrors.NewError(errors.Wrapf(rr.Error, "%s failed", args[0]), planerrors.CommandFailureExitCode)
	}
	return nil
}
