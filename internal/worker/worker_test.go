package worker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/testplan-go/remotepool/internal/config"
	"github.com/testplan-go/remotepool/internal/transport"
	"github.com/testplan-go/remotepool/internal/worker"
)

type fakeOps struct {
	copies []string
	mkdirs []string
	links  []string
}

func (f *fakeOps) Shell(host string, cmdTokens []string) []string {
	return append([]string{"ssh", host}, cmdTokens...)
}

func (f *fakeOps) Copy(src, dst string, opts transport.CopyOptions) []string {
	f.copies = append(f.copies, src+"=>"+dst)
	return []string{"scp", src, dst}
}

func (f *fakeOps) Link(path, link string) []string {
	f.links = append(f.links, path+"=>"+link)
	return []string{"ln", "-sfn", path, link}
}

func (f *fakeOps) Exec(ctx context.Context, argv []string, opts transport.ExecOptions) (int, error) {
	if len(argv) > 0 && argv[0] == "/bin/mkdir" {
		f.mkdirs = append(f.mkdirs, argv[len(argv)-1])
	}
	return 0, nil
}

func (f *fakeOps) ExecRemote(ctx context.Context, host string, cmdTokens []string, opts transport.ExecOptions) (int, error) {
	return f.Exec(ctx, f.Shell(host, cmdTokens), opts)
}

func setupWorkspace(t *testing.T) (ws, cwd string) {
	t.Helper()
	ws = t.TempDir()
	cwd = filepath.Join(ws, "a", "b")
	if err := os.MkdirAll(cwd, 0755); err != nil {
		t.Fatal(err)
	}
	return ws, cwd
}

func TestPrepareRemoteComputesPaths(t *testing.T) {
	ws, cwd := setupWorkspace(t)
	ops := &fakeOps{}

	cfg := config.Config{
		Hosts:       map[string]int{"host1": 1},
		Workspace:   ws,
		RemoteMkdir: []string{"/bin/mkdir", "-p"},
		Transport:   ops,
		CopyWorkspaceCheck: func(ctx context.Context, host, localWorkspace string) error {
			return context.DeadlineExceeded // check fails -> transfer
		},
	}

	w := worker.New(worker.Params{
		Host:           "host1",
		Index:          0,
		PlanName:       "myplan",
		User:           "alice",
		LocalChildPath: filepath.Join(ws, "child.py"),
		PoolAddress:    "pool:1234",
		Config:         cfg,
	})

	if err := w.PrepareRemote(context.Background(), cwd); err != nil {
		t.Fatalf("PrepareRemote: %v", err)
	}

	wantRoot := "/var/tmp/alice/testplan/remote_workspaces/myplan"
	if w.RemoteTestplanPath != wantRoot {
		t.Errorf("RemoteTestplanPath = %q, want %q", w.RemoteTestplanPath, wantRoot)
	}
	if want := wantRoot + "/runpath/host1"; w.RemoteTestplanRunpath != want {
		t.Errorf("RemoteTestplanRunpath = %q, want %q", w.RemoteTestplanRunpath, want)
	}
	if want := wantRoot + "/child.py"; w.ChildPaths.Remote != want {
		t.Errorf("ChildPaths.Remote = %q, want %q", w.ChildPaths.Remote, want)
	}
	if want := wantRoot + "/" + filepath.Base(ws); w.WorkspacePaths.Remote != want {
		t.Errorf("WorkspacePaths.Remote = %q, want %q", w.WorkspacePaths.Remote, want)
	}
	if want := w.WorkspacePaths.Remote + "/a/b"; w.WorkingDirs.Remote != want {
		t.Errorf("WorkingDirs.Remote = %q, want %q", w.WorkingDirs.Remote, want)
	}
	if !w.ShouldTransferWorkspace {
		t.Error("ShouldTransferWorkspace = false, want true (check failed)")
	}
	if meta := w.Metadata(); meta == nil || !meta.WorkspacePushed {
		t.Errorf("Metadata = %+v, want WorkspacePushed true", meta)
	}
	if w.State() != worker.Ready {
		t.Errorf("State = %v, want Ready", w.State())
	}
}

func TestPrepareRemoteRejectsWorkingDirOutsideWorkspace(t *testing.T) {
	ws, _ := setupWorkspace(t)
	outside := t.TempDir()
	ops := &fakeOps{}

	cfg := config.Config{
		Hosts:       map[string]int{"host1": 1},
		Workspace:   ws,
		RemoteMkdir: []string{"/bin/mkdir", "-p"},
		Transport:   ops,
	}
	w := worker.New(worker.Params{
		Host:           "host1",
		PlanName:       "p",
		User:           "alice",
		LocalChildPath: filepath.Join(ws, "child.py"),
		Config:         cfg,
	})

	if err := w.PrepareRemote(context.Background(), outside); err == nil {
		t.Fatal("PrepareRemote succeeded with cwd outside workspace, want error")
	}
}

func TestProcCmdIncludesFixedFlags(t *testing.T) {
	ws, cwd := setupWorkspace(t)
	ops := &fakeOps{}
	cfg := config.Config{
		Hosts:       map[string]int{"host1": 2, "host2": 1, "host3": 1},
		Workspace:   ws,
		RemoteMkdir: []string{"/bin/mkdir", "-p"},
		PoolType:    "process",
		Transport:   ops,
	}
	w := worker.New(worker.Params{
		Host:           "host1",
		Index:          3,
		PlanName:       "p",
		User:           "alice",
		LocalChildPath: filepath.Join(ws, "child.py"),
		PoolAddress:    "10.0.0.1:5555",
		Config:         cfg,
	})
	if err := w.PrepareRemote(context.Background(), cwd); err != nil {
		t.Fatalf("PrepareRemote: %v", err)
	}

	cmd := w.ProcCmd(context.Background())
	valueOf := func(flag string) (string, bool) {
		for i, tok := range cmd {
			if tok == flag && i+1 < len(cmd) {
				return cmd[i+1], true
			}
		}
		return "", false
	}

	// host1 has 2 workers configured; len(cfg.Hosts) is 3 (host1, host2,
	// host3). --remote-pool-size must reflect the former, not the latter.
	wantPairs := map[string]string{
		"--index":            "host1",
		"--address":          "10.0.0.1:5555",
		"--type":             "remote_worker",
		"--remote-pool-type": "process",
		"--remote-pool-size": "2",
	}
	for flag, want := range wantPairs {
		got, ok := valueOf(flag)
		if !ok {
			t.Errorf("ProcCmd = %v, missing flag %q", cmd, flag)
			continue
		}
		if got != want {
			t.Errorf("ProcCmd %s = %q, want %q", flag, got, want)
		}
	}
}
