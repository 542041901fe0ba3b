package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/testplan-go/remotepool/internal/config"
	"github.com/testplan-go/remotepool/internal/worker"
)

// dumpMetadataCmd runs PrepareRemote against a single host and prints the
// resulting SetupMetadata as JSON, useful for inspecting what a pool would
// stage on a host without starting the remote child process.
type dumpMetadataCmd struct {
	configPath string
	host       string
	plan       string
	child      string
}

func (*dumpMetadataCmd) Name() string     { return "dump-metadata" }
func (*dumpMetadataCmd) Synopsis() string { return "stage one host and print its SetupMetadata" }
func (*dumpMetadataCmd) Usage() string {
	return "Usage: dump-metadata -config=<path> -host=<host> -plan=<name> -child=<path>\n\nRun PrepareRemote against a single host and print the resulting SetupMetadata as JSON.\n"
}

func (c *dumpMetadataCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to pool configuration YAML file")
	f.StringVar(&c.host, "host", "", "host to stage")
	f.StringVar(&c.plan, "plan", "", "plan name, used to slug the remote scratch path")
	f.StringVar(&c.child, "child", "", "local path to the child script")
}

func (c *dumpMetadataCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.configPath == "" || c.host == "" || c.plan == "" || c.child == "" {
		fmt.Println("dump-metadata: -config, -host, -plan, and -child are all required")
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

	w := worker.New(worker.Params{
		Host:           c.host,
		PlanName:       c.plan,
		User:           os.Getenv("USER"),
		LocalChildPath: c.child,
		PoolAddress:    cfg.Host,
		Config:         cfg,
	})

	if err := w.PrepareRemote(ctx, cwd); err != nil {
		fmt.Printf("prepare remote failed: %v\n", err)
		return subcommands.ExitFailure
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w.Metadata()); err != nil {
		fmt.Printf("failed to encode metadata: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
