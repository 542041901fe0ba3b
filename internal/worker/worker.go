// Package worker implements RemoteWorker, the per-host state machine that
// stages a remote scratch directory, spawns the remote child process, and
// drives its lifecycle through to teardown.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"code.cloudfoundry.org/clock"

	"github.com/testplan-go/remotepool/internal/config"
	"github.com/testplan-go/remotepool/internal/errors"
	"github.com/testplan-go/remotepool/internal/logging"
	"github.com/testplan-go/remotepool/internal/metadata"
	"github.com/testplan-go/remotepool/internal/pathutil"
	"github.com/testplan-go/remotepool/internal/ratelimit"
	"github.com/testplan-go/remotepool/internal/staging"
	"github.com/testplan-go/remotepool/internal/transport"
	"github.com/testplan-go/remotepool/internal/workspace"
)

// State is a RemoteWorker's position in its IDLE -> STAGING -> READY ->
// RUNNING -> DONE state machine.
type State int

const (
	Idle State = iota
	Staging
	Ready
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Staging:
		return "staging"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Params is the fixed, per-worker configuration supplied at construction;
// it is the subset of config.Config a single host's worker needs, plus the
// identity fields that vary per worker within a pool.
type Params struct {
	Host            string
	Index           int // position of this worker within the pool's per-host slice; not the CLI --index flag
	PlanName        string
	User            string // local user, used to build remote_testplan_path
	LocalChildPath  string // local path to the child script
	PoolAddress     string // host:port the child dials back to
	Config          config.Config
	HeartbeatClock  clock.Clock // defaults to clock.NewClock()
	// TransferLimiter, when set, gates the workspace transfer path's
	// concurrency across the owning pool's whole host fan-out.
	TransferLimiter *ratelimit.TransferLimiter
}

// RemoteWorker is one host's worker within a RemotePool.
type RemoteWorker struct {
	params Params

	mu    sync.Mutex
	state State

	WorkspacePaths          pathutil.Pair
	ChildPaths              pathutil.Pair
	WorkingDirs             pathutil.Pair
	RemoteTestplanPath      string
	RemoteTestplanRunpath   string
	RemotePushDir           string
	ShouldTransferWorkspace bool

	metaOnce sync.Once
	meta     *metadata.SetupMetadata

	missedHeartbeats int
	unresponsive     bool

	heartbeatCancel context.CancelFunc
	heartbeatDone   chan struct{}
	heartbeatStop   func()
}

// New constructs a RemoteWorker in the Idle state.
func New(p Params) *RemoteWorker {
	if p.HeartbeatClock == nil {
		p.HeartbeatClock = clock.NewClock()
	}
	return &RemoteWorker{params: p, state: Idle}
}

// State returns the worker's current state machine position.
func (w *RemoteWorker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *RemoteWorker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *RemoteWorker) transport() transport.Ops {
	return w.params.Config.Transport
}

func (w *RemoteWorker) mkdirRemote(ctx context.Context, dir string) error {
	argv := w.params.Config.RemoteMkdir
	_, err := w.transport().ExecRemote(ctx, w.params.Host, append(append([]string(nil), argv...), dir), transport.ExecOptions{Label: "mkdir", Check: true})
	return err
}

// PrepareRemote runs the full staging sequence described by the spec, in
// strict order: resolve the child script path, normalize the workspace
// path, run the copy-workspace check, compute the remote scratch paths,
// create them, copy the child script, copy the dependencies module if
// configured, stage the workspace, derive the working directory, run the
// push plan, and finally freeze SetupMetadata.
func (w *RemoteWorker) PrepareRemote(ctx context.Context, cwd string) error {
	w.setState(Staging)
	cfg := w.params.Config

	localWorkspace, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return errors.Wrap(err, "failed to resolve workspace path")
	}

	var checkErr error
	if cfg.CopyWorkspaceCheck != nil {
		checkErr = cfg.CopyWorkspaceCheck(ctx, w.params.Host, localWorkspace)
	} else {
		checkErr = errors.New("no copy-workspace check configured")
	}
	w.ShouldTransferWorkspace = workspace.ShouldTransferFromCheckResult(checkErr)

	w.RemoteTestplanPath = pathutil.JoinPosix("/var/tmp", w.params.User, "testplan", "remote_workspaces", pathutil.Slugify(w.params.PlanName))
	w.RemoteTestplanRunpath = pathutil.JoinPosix(w.RemoteTestplanPath, "runpath", w.params.Host)

	if err := w.mkdirRemote(ctx, w.RemoteTestplanPath); err != nil {
		return errors.Wrap(err, "failed to create remote testplan path")
	}
	if err := w.mkdirRemote(ctx, w.RemoteTestplanRunpath); err != nil {
		return errors.Wrap(err, "failed to create remote testplan runpath")
	}

	w.ChildPaths = pathutil.Pair{
		Local:  w.params.LocalChildPath,
		Remote: pathutil.JoinPosix(w.RemoteTestplanPath, "child.py"),
	}
	if err := w.copyFile(ctx, w.ChildPaths.Local, w.ChildPaths.Remote); err != nil {
		return errors.Wrap(err, "failed to copy child script")
	}

	if depPath := os.Getenv("TESTPLAN_DEPENDENCIES_PATH"); depPath != "" {
		local := filepath.Join(depPath, "dependencies.py")
		remote := pathutil.JoinPosix(w.RemoteTestplanPath, "dependencies.py")
		if err := w.copyFile(ctx, local, remote); err != nil {
			return errors.Wrap(err, "failed to copy dependencies module")
		}
	}

	wsResult, err := workspace.Stage(ctx, localWorkspace, workspace.Options{
		Host:               w.params.Host,
		RemoteTestplanPath: w.RemoteTestplanPath,
		Exclude:            cfg.WorkspaceExclude,
		RemoteWorkspace:    cfg.RemoteWorkspace,
		ShouldTransfer:     w.ShouldTransferWorkspace,
		Transport:          w.transport(),
		Limiter:            w.params.TransferLimiter,
	})
	if err != nil {
		return errors.Wrap(err, "failed to stage workspace")
	}
	w.WorkspacePaths = wsResult.Paths

	if !pathutil.IsSubdir(cwd, localWorkspace) {
		return &errors.WorkingDirOutsideWorkspace{Workspace: localWorkspace, Cwd: cwd}
	}
	rel, err := pathutil.RelPosix(localWorkspace, cwd)
	if err != nil {
		return errors.Wrap(err, "failed to compute working dir")
	}
	w.WorkingDirs = pathutil.Pair{
		Local:  cwd,
		Remote: pathutil.JoinPosix(w.WorkspacePaths.Remote, rel),
	}

	items := make([]staging.Item, len(cfg.Push))
	for i, p := range cfg.Push {
		items[i] = staging.Item{Source: p.Source, Dest: p.Dest}
	}
	plan, err := staging.Plan(ctx, items, staging.Options{
		PushRelativeDir:    cfg.PushRelativeDir,
		RemoteTestplanPath: w.RemoteTestplanPath,
		MkdirRemote:        w.mkdirRemote,
	})
	if err != nil {
		return errors.Wrap(err, "failed to plan push set")
	}
	w.RemotePushDir = plan.PushDir
	for _, warn := range plan.Warnings {
		logging.Infof(ctx, "%s", warn)
	}

	var pushFiles, pushDirs []string
	for _, f := range plan.Files {
		if err := w.mkdirRemote(ctx, pathutil.JoinPosix(f.Remote, "..")); err != nil {
			return errors.Wrap(err, "failed to create parent directory for push file")
		}
		if err := w.copyFile(ctx, f.Local, f.Remote); err != nil {
			return errors.Wrap(err, "failed to push file")
		}
		pushFiles = append(pushFiles, f.Remote)
	}
	for _, d := range plan.Dirs {
		if err := w.mkdirRemote(ctx, pathutil.JoinPosix(d.Remote, "..")); err != nil {
			return errors.Wrap(err, "failed to create parent directory for push dir")
		}
		argv := w.transport().Copy(d.Local, remoteEndpoint(w.params.Host, d.Remote), transport.CopyOptions{Exclude: cfg.PushExclude})
		if _, err := w.transport().Exec(ctx, argv, transport.ExecOptions{Label: "push dir"}); err != nil {
			return errors.Wrap(err, "failed to push directory")
		}
		pushDirs = append(pushDirs, d.Remote)
	}

	w.metaOnce.Do(func() {
		w.mu.Lock()
		w.meta = &metadata.SetupMetadata{
			PushFiles:       pushFiles,
			PushDirs:        pushDirs,
			PushDir:         w.RemotePushDir,
			SetupScript:     cfg.SetupScript,
			Env:             cfg.Env,
			WorkspacePaths:  w.WorkspacePaths,
			WorkspacePushed: wsResult.Pushed,
		}
		w.mu.Unlock()
	})

	w.setState(Ready)
	return nil
}

func (w *RemoteWorker) copyFile(ctx context.Context, local, remote string) error {
	argv := w.transport().Copy(local, remoteEndpoint(w.params.Host, remote), transport.CopyOptions{})
	_, err := w.transport().Exec(ctx, argv, transport.ExecOptions{Label: "copy"})
	return err
}

// remoteEndpoint builds an scp-style remote target. The source's
// _remote_copy_path prepends a configured login user ("user@host:path");
// here host is expected to already carry that prefix when one is needed
// (cfg.Hosts keys may be "user@host"), so no separate user field is plumbed
// through.
func remoteEndpoint(host, path string) string {
	return host + ":" + path
}

// Metadata returns the frozen SetupMetadata, cloned so callers cannot
// mutate the worker's own copy. It is nil until PrepareRemote completes.
func (w *RemoteWorker) Metadata() *metadata.SetupMetadata {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.meta.Clone()
}

const (
	logLevelInfo = 20 // mirrors the Python logging module's INFO numeric level
)

// ProcCmd builds the remote child process command line described by the
// spec's external interface: the interpreter, the fixed --index/--address/
// --type/--log-level/--wd/--runpath/--remote-pool-type/--remote-pool-size
// flags, and the conditional --testplan/--testplan-deps flags, wrapped in a
// remote-shell invocation to the host.
func (w *RemoteWorker) ProcCmd(ctx context.Context) []string {
	cfg := w.params.Config
	interpreter := w.interpreter()

	cmd := []string{interpreter, "-uB", w.ChildPaths.Remote,
		"--index", w.params.Host,
		"--address", w.params.PoolAddress,
		"--type", "remote_worker",
		"--log-level", fmt.Sprint(logLevelInfo),
		"--wd", w.WorkingDirs.Remote,
		"--runpath", w.RemoteTestplanRunpath,
		"--remote-pool-type", cfg.PoolType,
		"--remote-pool-size", fmt.Sprint(cfg.Hosts[w.params.Host]),
	}

	if testplanPath := w.resolveTestplanPath(); testplanPath != "" {
		cmd = append(cmd, "--testplan", testplanPath)
	}

	if !w.ShouldTransferWorkspace {
		if depPath := os.Getenv("TESTPLAN_DEPENDENCIES_PATH"); depPath != "" {
			cmd = append(cmd, "--testplan-deps", depPath)
		}
	}

	return w.transport().Shell(w.params.Host, cmd)
}

// interpreter chooses the remote Python binary: when this process runs on
// Windows, PYTHON3_REMOTE_BINARY is used if set, else PYTHON2_REMOTE_BINARY,
// else os.Args[0]; the choice does not depend on any interpreter version.
// On other local platforms os.Args[0] is reused verbatim, assuming parity
// between local and remote OSes.
func (w *RemoteWorker) interpreter() string {
	if runtime.GOOS != "windows" {
		return os.Args[0]
	}
	if bin := os.Getenv("PYTHON3_REMOTE_BINARY"); bin != "" {
		return bin
	}
	if bin := os.Getenv("PYTHON2_REMOTE_BINARY"); bin != "" {
		return bin
	}
	return os.Args[0]
}

// resolveTestplanPath returns the configured testplan_path override, or the
// local library path rewritten into the remote workspace when it lives
// under the local workspace, or "" to omit the flag entirely. The source's
// _add_testplan_import_path derives this from the testplan package root;
// here it is reinterpreted as the child script's own path, since this
// package has no separate notion of a testplan library root distinct from
// the child being staged.
func (w *RemoteWorker) resolveTestplanPath() string {
	if w.params.Config.TestplanPath != "" {
		return w.params.Config.TestplanPath
	}
	local := w.params.LocalChildPath
	if !pathutil.IsSubdir(local, w.WorkspacePaths.Local) {
		return ""
	}
	rel, err := pathutil.RelPosix(w.WorkspacePaths.Local, local)
	if err != nil {
		return ""
	}
	return pathutil.JoinPosix(w.WorkspacePaths.Remote, rel)
}
