package worker

import (
	"context"
	"os"
	"strings"

	"github.com/testplan-go/remotepool/internal/errors"
	"github.com/testplan-go/remotepool/internal/logging"
	"github.com/testplan-go/remotepool/internal/pathutil"
	"github.com/testplan-go/remotepool/internal/transport"
)

func mkdirLocal(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// Start spawns the remote child process built by ProcCmd and transitions
// the worker to Running. The subprocess's lifetime is bound to ctx: the
// caller is expected to keep ctx alive for as long as the worker should run
// and cancel it to tear the subprocess down (internal/transport's Exec kills
// the direct subprocess on cancellation; its own children are not signalled).
func (w *RemoteWorker) Start(ctx context.Context) error {
	argv := w.ProcCmd(ctx)
	if _, err := w.transport().Exec(ctx, argv, transport.ExecOptions{Label: "remote worker", Check: false}); err != nil {
		return errors.Wrap(err, "failed to start remote worker")
	}
	w.setState(Running)

	interval := w.params.Config.WorkerHeartbeat
	if interval > 0 {
		w.mu.Lock()
		w.heartbeatStop = w.StartHeartbeat(ctx, &transportPinger{w: w}, interval)
		w.mu.Unlock()
	}
	return nil
}

// stopHeartbeat halts the heartbeat loop started by Start, if any. It is
// idempotent: Stop and Abort both call it, and a worker that never reached
// Running simply has nothing to stop.
func (w *RemoteWorker) stopHeartbeat() {
	w.mu.Lock()
	stop := w.heartbeatStop
	w.heartbeatStop = nil
	w.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Stop fetches results, optionally pulls configured entries, then leaves
// subprocess teardown to the caller (the superclass responsibility in the
// source implementation, here the caller's transport.Exec context
// cancellation).
func (w *RemoteWorker) Stop(ctx context.Context, localRunDir string) error {
	w.stopHeartbeat()
	if err := w.FetchResults(ctx, localRunDir); err != nil {
		return errors.Wrap(err, "failed to fetch results")
	}
	if len(w.params.Config.Pull) > 0 {
		w.Pull(ctx, localRunDir)
	}
	w.setState(Done)
	return nil
}

// Abort runs FetchResults best-effort, logging and swallowing any error,
// before deferring to the caller for forced subprocess teardown via the
// pool's configured abort_signals.
func (w *RemoteWorker) Abort(ctx context.Context, localRunDir string) {
	w.stopHeartbeat()
	if err := w.FetchResults(ctx, localRunDir); err != nil {
		logging.Errorf(ctx, "abort: %v", &errors.AbortiveFetchFailed{Cause: err})
	}
	w.setState(Done)
}

// FetchResults copies the remote run directory into the local run
// directory owned by the parent pool.
func (w *RemoteWorker) FetchResults(ctx context.Context, localRunDir string) error {
	argv := w.transport().Copy(remoteEndpoint(w.params.Host, w.RemoteTestplanRunpath), localRunDir, transport.CopyOptions{})
	_, err := w.transport().Exec(ctx, argv, transport.ExecOptions{Label: "fetch results"})
	return err
}

// Pull copies each configured pull entry from the remote host to
// localRunDir, trimming trailing separators, creating the local
// destination directory first (logging but continuing on failure, never
// fatal), then copying with pull_exclude applied.
func (w *RemoteWorker) Pull(ctx context.Context, localRunDir string) {
	cfg := w.params.Config
	for _, entry := range cfg.Pull {
		source := pathutil.TrimTrailingSep(entry)
		dest := localRunDir
		if idx := strings.LastIndexByte(source, '/'); idx >= 0 {
			dest = pathutil.JoinPosix(localRunDir, source[idx+1:])
		}

		if err := mkdirLocal(dest); err != nil {
			logging.Errorf(ctx, "pull: %v", &errors.PullDirectoryCreationFailed{Path: dest, Cause: err})
			continue
		}

		argv := w.transport().Copy(remoteEndpoint(w.params.Host, source), dest, transport.CopyOptions{Exclude: cfg.PullExclude})
		if _, err := w.transport().Exec(ctx, argv, transport.ExecOptions{Label: "pull"}); err != nil {
			logging.Errorf(ctx, "pull: failed to copy %s: %v", source, err)
		}
	}
}
