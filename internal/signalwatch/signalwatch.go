// Package signalwatch installs OS signal handlers for a pool's configured
// abort_signals, triggering a caller-supplied abort callback and, on
// SIGTERM, terminating the direct child processes of this process
// (grandchildren are not signalled).
package signalwatch

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

var selfName = filepath.Base(os.Args[0])

// Install installs a handler for sigs (numeric signal values from
// config.Config.AbortSignals) that calls callback once, then, when the
// received signal was SIGTERM, dumps goroutine stacks to out and terminates
// every direct child process of this one (the remote-shell subprocesses a
// RemoteWorker spawned). It returns a function that stops watching.
func Install(out io.Writer, sigs []int, callback func(sig os.Signal)) (stop func()) {
	ch := make(chan os.Signal, 1)
	notify := make([]os.Signal, len(sigs))
	for i, s := range sigs {
		notify[i] = unix.Signal(s)
	}

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			fmt.Fprintf(out, "\n%s: caught %v signal; aborting\n", selfName, sig)
			callback(sig)
			if sig == unix.SIGTERM {
				terminateChildren(out)
			}
		case <-done:
		}
	}()
	signal.Notify(ch, notify...)

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func terminateChildren(out io.Writer) {
	fmt.Fprintf(out, "\n%s: dumping all goroutines...\n\n", selfName)
	if p := pprof.Lookup("goroutine"); p != nil {
		p.WriteTo(out, 2)
	}
	fmt.Fprintf(out, "\n%s: finished dumping goroutines\n", selfName)

	procs, err := process.Processes()
	if err != nil {
		fmt.Fprintf(out, "failed to terminate subprocesses: %v\n", err)
		return
	}

	selfPid := int32(os.Getpid())
	for _, proc := range procs {
		ppid, err := proc.Ppid()
		if err != nil {
			continue
		}
		if ppid == selfPid {
			proc.Terminate()
		}
	}
}
