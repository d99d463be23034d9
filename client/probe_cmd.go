package client

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	planerrors "github.com/twitter/nodeplan/common/errors"
	"github.com/twitter/nodeplan/config"
	"github.com/twitter/nodeplan/planner"
)

type probeCmd struct {
	flags config.File
}

func (c *probeCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "probe",
		Short: "report which nodes are reachable and what they can host, without syncing",
		Args:  cobra.NoArgs,
	}
	c.flags.RegisterFlags(r)
	return r
}

func (c *probeCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	f, cfg, err := cl.settings(cmd, c.flags)
	if err != nil {
		return err
	}
	cfg.SkipSync = true
	p, _, err := cl.planner(f, cfg)
	if err != nil {
		return err
	}
	statuses, surveyErr := p.Survey(cl.env.Ctx)
	if err := writeStatuses(cl.env.Stdout, f.Format, statuses); err != nil {
		return planerrors.NewError(err, planerrors.ConfigFailureExitCode)
	}
	return surveyErr
}

func writeStatuses(w io.Writer, format string, statuses []planner.NodeStatus) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(statuses); err != nil {
			return err
		}
		return enc.Close()
	case "", "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NODE\tREACHABLE\tCPUS\tAVAILABLE_MB\tWORKERS\tERROR")
		for _, s := range statuses {
			cpus, avail := "-", "-"
			if s.Report != nil {
				cpus = fmt.Sprint(s.Report.CPUCount)
				avail = fmt.Sprint(s.Report.AvailableMemory >> 20)
			}
			fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%d\t%s\n", s.Node, s.Reachable, cpus, avail, s.Workers, s.Error)
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown format %q for probe, expected text, json or yaml", format)
}
