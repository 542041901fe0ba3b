package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/testplan-go/remotepool/internal/config"
)

type validateConfigCmd struct {
	configPath string
}

func (*validateConfigCmd) Name() string     { return "validate-config" }
func (*validateConfigCmd) Synopsis() string { return "validate a pool configuration file" }
func (*validateConfigCmd) Usage() string {
	return "Usage: validate-config -config=<path>\n\nParse and validate a pool configuration YAML file.\n"
}

func (c *validateConfigCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to pool configuration YAML file")
}

func (c *validateConfigCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.configPath == "" {
		fmt.Println("validate-config: -config is required")
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

	fmt.Printf("configuration valid: %d host(s), pool_type=%s\n", len(cfg.Hosts), cfg.PoolType)
	return subcommands.ExitSuccess
}
