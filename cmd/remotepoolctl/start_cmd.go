package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/testplan-go/remotepool/internal/config"
	"github.com/testplan-go/remotepool/internal/logging"
	"github.com/testplan-go/remotepool/internal/pool"
)

// startCmd provisions every configured host and leaves the pool's workers
// running until interrupted; teardown is left to signalwatch's installed
// handler plus the operator's own orchestration around this process.
type startCmd struct {
	configPath string
	plan       string
	child      string
	listen     string
}

func (*startCmd) Name() string     { return "start" }
func (*startCmd) Synopsis() string { return "provision and start a remote worker pool" }
func (*startCmd) Usage() string {
	return "Usage: start -config=<path> -plan=<name> -child=<path>\n\nProvision every configured host and start its remote worker.\n"
}

func (c *startCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to pool configuration YAML file")
	f.StringVar(&c.plan, "plan", "", "plan name, used to slug the remote scratch path")
	f.StringVar(&c.child, "child", "", "local path to the child script")
	f.StringVar(&c.listen, "listen", "", "control-plane listen address (host:port); defaults to config host/port")
}

func (c *startCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.configPath == "" || c.plan == "" || c.child == "" {
		fmt.Println("start: -config, -plan, and -child are all required")
		return subcommands.ExitUsageError
	}

	cfg, err := config.LoadFile(c.configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		return subcommands.ExitFailure
	}
	cfg, err = cfg.WithDefaults()
	if err != nil {
		fmt.Printf("failed to apply defaults: %v\n", err)
		return subcommands.ExitFailure
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		return subcommands.ExitFailure
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Printf("failed to get working directory: %v\n", err)
		return subcommands.ExitFailure
	}

	listen := c.listen
	if listen == "" {
		listen = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	p := pool.New(cfg, c.plan, c.child)
	p.AddWorkers(listen)

	unreachable, err := p.Start(ctx, cwd)
	for _, h := range unreachable {
		logging.Errorf(ctx, "host %s excluded: failed pre-flight health check", h)
	}
	if err != nil {
		fmt.Printf("pool start failed: %v\n", err)
		return subcommands.ExitFailure
	}

	fmt.Printf("pool started: %d host(s) provisioned, %d excluded\n", len(cfg.Hosts)-len(unreachable), len(unreachable))
	return subcommands.ExitSuccess
}
