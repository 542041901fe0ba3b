// Package config defines the typed, validated configuration record for a
// RemotePool. It replaces the source implementation's dynamic
// ConfigOption/schema.Or validation with static Go types plus a single
// Validate method, evaluated once at construction rather than per-field at
// import time.
package config

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/testplan-go/remotepool/internal/errors"
	"github.com/testplan-go/remotepool/internal/pathutil"
	"github.com/testplan-go/remotepool/internal/transport"
)

// PushEntry mirrors staging.Item at the configuration layer so that
// internal/config does not need to import internal/staging.
type PushEntry struct {
	Source string
	Dest   string
}

// CheckFunc probes whether a remote path already holds an equivalent
// workspace; a nil error (exit status zero) means it does.
type CheckFunc func(ctx context.Context, host, localWorkspace string) error

// Config is the configuration surface of a RemotePool, plus the SPEC_FULL
// MaxConcurrentTransfers addition. The copy/link/ssh command builders are
// combined in Transport. There is no worker-type option: the pool always
// constructs worker.RemoteWorker values.
type Config struct {
	// Hosts maps host -> worker count. Required, non-empty.
	Hosts map[string]int

	// AbortSignals are the OS signals that trigger abort logic.
	AbortSignals []int

	// PoolType is forwarded to the remote child ("thread" or "process").
	PoolType string

	// Host is the address the pool's control-plane listener binds.
	// Defaults to the local machine's resolved address.
	Host string
	// Port is the control-plane listener port. Zero requests an ephemeral
	// port.
	Port int

	// Transport builds and runs the shell/copy/link commands for every
	// host. Defaults to transport.New().
	Transport transport.Ops

	// Workspace is the local path transferred or linked to every host.
	// Defaults to the current working directory.
	Workspace string
	// WorkspaceExclude is a sequence of glob patterns excluded when
	// pushing the workspace.
	WorkspaceExclude []string
	// RemoteWorkspace, if set, names a workspace that already exists on
	// the remote; the pool links to it instead of transferring.
	RemoteWorkspace string
	// CopyWorkspaceCheck, if set, is run before transferring the
	// workspace; a nil error (exit zero) means the remote already has an
	// equivalent copy, so the transfer is skipped.
	CopyWorkspaceCheck CheckFunc

	// Env is propagated into the remote worker's environment.
	Env map[string]string
	// SetupScript is executed on the remote before any task.
	SetupScript []string

	// Push lists files/directories to stage on the remote before start.
	Push []PushEntry
	// PushExclude is a sequence of glob patterns excluded on push.
	PushExclude []string
	// PushRelativeDir, if set, is the local root every derived push
	// destination is computed relative to.
	PushRelativeDir string
	// DeletePushed, when true, has the remote cleanup use the
	// SetupMetadata PushFiles/PushDirs lists.
	DeletePushed bool

	// Pull lists remote files/directories fetched back after stop.
	Pull []string
	// PullExclude is a sequence of glob patterns excluded on pull.
	PullExclude []string

	// RemoteMkdir is the argv prefix used to create remote directories.
	RemoteMkdir []string
	// TestplanPath, if set, is passed to the remote worker's --testplan
	// flag verbatim; otherwise it is computed from workspace relativity.
	TestplanPath string
	// WorkerHeartbeat is the interval between worker heartbeats.
	WorkerHeartbeat time.Duration

	// MaxConcurrentTransfers bounds the number of simultaneous push/pull
	// subprocesses across the whole pool (SPEC_FULL addition feeding
	// internal/ratelimit). Zero means unbounded.
	MaxConcurrentTransfers int
}

// WithDefaults returns a copy of c with every unset field given its
// documented default. Defaults that depend on host state (the listening
// address, the current working directory) are resolved here, at Start
// time, rather than at package import time.
func (c Config) WithDefaults() (Config, error) {
	if c.PoolType == "" {
		c.PoolType = "thread"
	}
	if c.Host == "" {
		host, err := localResolvedAddress()
		if err != nil {
			return c, errors.Wrap(err, "failed to resolve local address")
		}
		c.Host = host
	}
	if c.Transport == nil {
		c.Transport = transport.New()
	}
	if c.Workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return c, errors.Wrap(err, "failed to get working directory")
		}
		c.Workspace = wd
	}
	if c.AbortSignals == nil {
		c.AbortSignals = DefaultAbortSignals()
	}
	if c.RemoteMkdir == nil {
		c.RemoteMkdir = []string{"/bin/mkdir", "-p"}
	}
	if c.WorkerHeartbeat == 0 {
		c.WorkerHeartbeat = 30 * time.Second
	}
	return c, nil
}

// Validate checks the configuration for internal consistency. Configuration
// errors abort plan startup before any host is touched.
func (c Config) Validate() error {
	if len(c.Hosts) == 0 {
		return errors.New("hosts: at least one host is required")
	}
	for host, n := range c.Hosts {
		if n <= 0 {
			return errors.Errorf("hosts[%s]: worker count must be positive, got %d", host, n)
		}
	}
	if c.PoolType != "thread" && c.PoolType != "process" {
		return errors.Errorf("pool_type: must be \"thread\" or \"process\", got %q", c.PoolType)
	}
	if c.Port < 0 {
		return errors.Errorf("port: must be non-negative, got %d", c.Port)
	}
	if c.RemoteWorkspace != "" && !pathutil.IsAbs(c.RemoteWorkspace) {
		return errors.Errorf("remote_workspace: must be an absolute path, got %q", c.RemoteWorkspace)
	}
	if c.MaxConcurrentTransfers < 0 {
		return errors.New("max_concurrent_transfers: must be non-negative")
	}
	return nil
}

func localResolvedAddress() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return hostname, nil
	}
	return addrs[0], nil
}

// DefaultAbortSignals returns the default signal set (INT, TERM) as
// platform-independent integers; internal/signalwatch maps these to
// golang.org/x/sys/unix constants.
func DefaultAbortSignals() []int {
	return []int{int(signalINT), int(signalTERM)}
}
