package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/nodeplan/client"
	"github.com/twitter/nodeplan/common/errors"
	"github.com/twitter/nodeplan/common/log/hooks"
)

// CLI binary that plans a distributed test run over remote nodes
//	Supported commands: (see "-h" for all options)
//		plan --node <node> ...            print the worker topology
//		probe --node <node> ...           report reachability and capacity only
//		run --node <node> ... -- <cmd>    plan, then run cmd with xdist arguments
//	Global flags:
//		--config [YAML config file, overridden by flags]
//		--log_level [<error|warn|info|debug> level and above should be logged]
//		--stats [print planning metrics to stderr]

func main() {
	log.AddHook(hooks.NewContextHook())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cl := client.NewSimpleCLIClient(client.Env{Ctx: ctx})
	err := cl.Exec()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nodeplan: %v\n", err)
		os.Exit(int(errors.ExitCodeOf(err)))
	}
}
