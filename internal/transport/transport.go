// Package transport builds host-specific remote-shell and copy command
// lines and runs them as subprocesses.
//
// This package deliberately does not talk SSH itself: per the Non-goals of
// the pool it provisions, authentication and encryption are delegated
// entirely to whatever remote-shell and copy binaries the Shell/Copy/Link
// functions build command lines for. The default implementation below
// shells out to ssh(1)/scp(1)/ssh ln, but callers may inject their own.
package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/testplan-go/remotepool/internal/errors"
	"github.com/testplan-go/remotepool/internal/logging"
	"github.com/testplan-go/remotepool/shutil"
)

// CopyOptions controls how Copy builds a transfer command line.
type CopyOptions struct {
	// Exclude is a sequence of glob patterns passed through to the copy
	// tool's own exclude flag. A nil slice is treated as empty.
	Exclude []string
}

// Ops is the capability set a RemoteWorker needs from its transport: build
// command lines for one host, and run them. A default implementation backed
// by ssh(1)/scp(1) is provided by New; callers may supply their own to
// target a different remote-shell or copy tool.
type Ops interface {
	// Shell builds a remote-shell invocation for host whose payload is the
	// space-joined, shell-escaped form of cmdTokens.
	Shell(host string, cmdTokens []string) []string

	// Copy builds a copy command from src to dst. Either path may be
	// annotated with a "user@host:" prefix to denote a remote endpoint.
	Copy(src, dst string, opts CopyOptions) []string

	// Link builds a command that creates a symbolic link on the remote host
	// pointing link at path.
	Link(path, link string) []string

	// Exec runs argv as a subprocess and returns its exit code.
	Exec(ctx context.Context, argv []string, opts ExecOptions) (int, error)

	// ExecRemote is a composition of Shell followed by Exec.
	ExecRemote(ctx context.Context, host string, cmdTokens []string, opts ExecOptions) (int, error)
}

// ExecOptions controls how Exec runs a subprocess.
type ExecOptions struct {
	// Label, when non-empty, is used for debug timing logs.
	Label string
	// Check, when true (the default expressed by DefaultExecOptions), causes
	// Exec to return a *errors.RemoteCommandFailed if the subprocess exits
	// non-zero.
	Check bool
	// Stdout and Stderr default to os.Stdout/os.Stderr when nil.
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultExecOptions returns the common case: checked, unlabeled, inherited
// stdio.
func DefaultExecOptions() ExecOptions {
	return ExecOptions{Check: true}
}

type defaultOps struct {
	sshBinary string
	scpBinary string
}

// New returns the default Ops implementation, which shells out to the
// system's ssh(1) and scp(1) binaries.
func New() Ops {
	return &defaultOps{sshBinary: "ssh", scpBinary: "scp"}
}

// Shell builds `ssh <host> <space-joined escaped tokens>`.
func (o *defaultOps) Shell(host string, cmdTokens []string) []string {
	payload := shutil.EscapeSlice(stringify(cmdTokens))
	return []string{o.sshBinary, host, payload}
}

// Copy builds an scp invocation. A leading "user@host:" in src or dst is
// passed through untouched; scp itself interprets it as a remote endpoint.
func (o *defaultOps) Copy(src, dst string, opts CopyOptions) []string {
	cmd := []string{o.scpBinary, "-r", "-p"}
	for _, pat := range opts.Exclude {
		// scp has no native exclude flag; rsync does. Callers that need
		// exclude patterns honored should inject an Ops backed by rsync.
		cmd = append(cmd, fmt.Sprintf("--exclude=%s", pat))
	}
	cmd = append(cmd, src, dst)
	return cmd
}

// Link builds `ln -sfn <path> <link>` arguments (no remote-shell prefix);
// the caller is expected to pass the result through Shell to run it on the
// host.
func (o *defaultOps) Link(path, link string) []string {
	return []string{"ln", "-sfn", path, link}
}

// Exec spawns argv as a subprocess, primes its stdin with "y\n" (some
// remote-shell tools prompt interactively on first connection to a host;
// this byte sequence pre-accepts that prompt) then closes stdin and waits.
func (o *defaultOps) Exec(ctx context.Context, argv []string, opts ExecOptions) (int, error) {
	if len(argv) == 0 {
		return 0, errors.New("exec: empty argv")
	}
	start := time.Now()
	logging.Debugf(ctx, "executing command%s: %v", labelSuffix(opts.Label), argv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = opts.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return 0, errors.Wrap(err, "failed to open stdin pipe")
	}
	if err := cmd.Start(); err != nil {
		return 0, errors.Wrap(err, "failed to start command")
	}
	if _, err := io.WriteString(stdin, "y\n"); err != nil {
		logging.Debugf(ctx, "failed to prime stdin: %v", err)
	}
	stdin.Close()

	err = cmd.Wait()
	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return 0, errors.Wrap(err, "command failed to run")
		}
	}

	if opts.Label != "" {
		logging.Debugf(ctx, "command [%s] finished in %s", opts.Label, time.Since(start))
	}

	if opts.Check && exitCode != 0 {
		return exitCode, &errors.RemoteCommandFailed{Argv: argv, ExitCode: exitCode}
	}
	return exitCode, nil
}

// ExecRemote is a thin composition of Shell then Exec.
func (o *defaultOps) ExecRemote(ctx context.Context, host string, cmdTokens []string, opts ExecOptions) (int, error) {
	return o.Exec(ctx, o.Shell(host, cmdTokens), opts)
}

func labelSuffix(label string) string {
	if label == "" {
		return ""
	}
	return " [" + label + "]"
}

func stringify(tokens []string) []string {
	out := make([]string, len(tokens))
	copy(out, tokens)
	return out
}

// StringifyAny coerces a heterogeneous argument list (as the source's
// command builders accept ints, paths, etc.) to strings, mirroring the "cmd
// = [str(a) for a in cmd]" normalization the original Python implementation
// always applies before handing a command to a subprocess.
func StringifyAny(args ...interface{}) []string {
	out := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			out[i] = v
		case int:
			out[i] = strconv.Itoa(v)
		case fmt.Stringer:
			out[i] = v.String()
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}
