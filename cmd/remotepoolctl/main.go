// Package main implements remotepoolctl, the command-line entry point for
// provisioning and driving a remote worker pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/testplan-go/remotepool/internal/logging"
	"github.com/testplan-go/remotepool/internal/signalwatch"
)

func newLogger(verbose, logTime bool) *logging.SinkLogger {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	return logging.NewSinkLogger(level, logTime, os.Stdout)
}

func doMain() int {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&startCmd{}, "")
	subcommands.Register(&validateConfigCmd{}, "")
	subcommands.Register(&dumpMetadataCmd{}, "")

	verbose := flag.Bool("verbose", false, "use verbose logging")
	logTime := flag.Bool("logtime", true, "include date/time headers in logs")
	flag.Parse()

	logger := newLogger(*verbose, *logTime)
	ctx := logging.AttachLogger(context.Background(), logger)

	stop := signalwatch.Install(os.Stderr, []int{2, 15}, func(sig os.Signal) {
		fmt.Fprintf(os.Stderr, "remotepoolctl: caught %v, aborting\n", sig)
	})
	defer stop()

	return int(subcommands.Execute(ctx))
}

func main() {
	os.Exit(doMain())
}
