package client

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	planerrors "github.com/twitter/nodeplan/common/errors"
	"github.com/twitter/nodeplan/config"
	"github.com/twitter/nodeplan/topology"
	"github.com/twitter/nodeplan/topology/sink"
)

type planCmd struct {
	flags config.File
}

func (c *planCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "plan",
		Short: "probe nodes, sync the tree to them and print the worker topology",
		Args:  cobra.NoArgs,
	}
	c.flags.RegisterFlags(r)
	return r
}

func (c *planCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	f, cfg, err := cl.settings(cmd, c.flags)
	if err != nil {
		return err
	}
	p, _, err := cl.planner(f, cfg)
	if err != nil {
		return err
	}
	topo, err := p.Plan(cl.env.Ctx)
	if err != nil {
		return err
	}
	format := f.Format
	if format == "" {
		format = "text"
	}
	out, err := sink.ForFormat(format, cl.env.Stdout)
	if err != nil {
		return planerrors.NewError(err, planerrors.ConfigFailureExitCode)
	}
	return cl.publish(cl.env.Ctx, f, p.RunID(), topo, out)
}

// publish hands topo to out, if any, and to etcd when configured.
func (cl *simpleCLIClient) publish(ctx context.Context, f config.File, runID string, topo topology.Topology, out sink.Sink) error {
	var sinks []sink.Sink
	if out != nil {
		sinks = append(sinks, out)
	}
	if f.EtcdEnabled() {
		etcd, err := cl.env.NewEtcdSink(f.EtcdOptions())
		if err != nil {
			return planerrors.NewError(errors.Wrap(err, "connecting to etcd"), planerrors.PublishFailureExitCode)
		}
		defer etcd.Close()
		sinks = append(sinks, etcd)
	}
	if err := sink.Multi(sinks...).Publish(ctx, runID, topo); err != nil {
		return planerrors.NewError(errors.Wrap(err, "publishing topology"), planerrors.PublishFailureExitCode)
	}
	log.Debugf("Published run %s with %d workers", runID, len(topo))
	return nil
}
