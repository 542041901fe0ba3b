// Package workspace decides how to materialize a worker's workspace on its
// remote host: link to a preconfigured remote copy, transfer the local
// workspace, or link to the local path on a shared filesystem.
package workspace

import (
	"context"

	"github.com/testplan-go/remotepool/internal/logging"
	"github.com/testplan-go/remotepool/internal/pathutil"
	"github.com/testplan-go/remotepool/internal/ratelimit"
	"github.com/testplan-go/remotepool/internal/transport"
)

// Result describes how the workspace was materialized.
type Result struct {
	Paths  pathutil.Pair
	Pushed bool // true only when the workspace was transferred, not linked
}

// Options bundles everything Stage needs beyond the local/remote root
// paths already resolved by the caller. ShouldTransfer is decided by the
// caller ahead of time (by running the configured copy-workspace check
// during its own prepare step) rather than by Stage itself, matching the
// source's two-step flow: the check result is recorded as a flag before
// staging, not recomputed at staging time.
type Options struct {
	Host               string
	RemoteTestplanPath string
	Exclude            []string
	RemoteWorkspace    string // fix_home_prefix-normalized, or empty
	ShouldTransfer     bool
	Transport          transport.Ops
	// Limiter, when set, gates the transfer path's concurrency so a large
	// hosts fan-out does not open more simultaneous workspace transfers
	// than configured. Nil means unbounded.
	Limiter *ratelimit.TransferLimiter
}

// fixHomePrefix expands a leading "~" the way the source's
// fix_home_prefix helper does, so a configured remote_workspace of
// "~/ws" resolves relative to the remote user's home directory.
func fixHomePrefix(p string) string {
	if p == "~" {
		return "$HOME"
	}
	if len(p) > 1 && p[0] == '~' && p[1] == '/' {
		return "$HOME" + p[1:]
	}
	return p
}

// Stage materializes localWorkspace on the remote host, choosing among the
// three mutually exclusive paths described by the spec:
//
//  1. opts.RemoteWorkspace set: symlink to it; Pushed stays false.
//  2. the copy-workspace-check fails or is unset: transfer; Pushed is true.
//  3. the check succeeds (remote already has an equivalent copy): symlink
//     to the local path, assuming a shared filesystem; Pushed stays false.
func Stage(ctx context.Context, localWorkspace string, opts Options) (Result, error) {
	remotePath := pathutil.JoinPosix(opts.RemoteTestplanPath, pathutil.Base(localWorkspace))
	result := Result{Paths: pathutil.Pair{Local: localWorkspace, Remote: remotePath}}

	if opts.RemoteWorkspace != "" {
		target := fixHomePrefix(opts.RemoteWorkspace)
		logging.Debugf(ctx, "linking workspace to preconfigured remote workspace %s", target)
		if err := link(ctx, opts, target, remotePath); err != nil {
			return Result{}, err
		}
		return result, nil
	}

	if opts.ShouldTransfer {
		if opts.Limiter != nil {
			release, err := opts.Limiter.Acquire(ctx)
			if err != nil {
				return Result{}, err
			}
			defer release()
		}
		logging.Debugf(ctx, "transferring workspace %s to %s", localWorkspace, opts.RemoteTestplanPath)
		target := remoteCopyPath(opts.Host, opts.RemoteTestplanPath)
		argv := opts.Transport.Copy(localWorkspace, target, transport.CopyOptions{Exclude: opts.Exclude})
		if _, err := opts.Transport.Exec(ctx, argv, transport.ExecOptions{Label: "transfer workspace"}); err != nil {
			return Result{}, err
		}
		result.Pushed = true
		return result, nil
	}

	logging.Debugf(ctx, "linking workspace to local path %s (shared filesystem assumed)", localWorkspace)
	if err := link(ctx, opts, localWorkspace, remotePath); err != nil {
		return Result{}, err
	}
	return result, nil
}

func link(ctx context.Context, opts Options, path, linkPath string) error {
	_, err := opts.Transport.ExecRemote(ctx, opts.Host, opts.Transport.Link(path, linkPath), transport.ExecOptions{Label: "link workspace", Check: true})
	return err
}

// remoteCopyPath mirrors worker.remoteEndpoint: host is expected to already
// carry a "user@" prefix when the source's _remote_copy_path would have
// added one, so no separate login-user field is threaded through here.
func remoteCopyPath(host, path string) string {
	return host + ":" + path
}

// ShouldTransferFromCheckResult reports the ShouldTransferWorkspace flag
// given the result of running a configured copy-workspace check (nil error
// means exit status zero, meaning the remote already has an equivalent
// copy). It is exported so RemoteWorker can record the pre-staging flag
// before Stage actually runs, matching the source's two-step flow
// (_prepare_remote sets the flag, then _copy_workspace consumes it).
func ShouldTransferFromCheckResult(checkErr error) bool {
	return checkErr != nil
}
