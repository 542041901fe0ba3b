package pool_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/testplan-go/remotepool/internal/config"
	"github.com/testplan-go/remotepool/internal/healthcheck"
	"github.com/testplan-go/remotepool/internal/metadata"
	"github.com/testplan-go/remotepool/internal/pool"
	"github.com/testplan-go/remotepool/internal/transport"
)

func newDecoder(t *testing.T, r net.Conn) *metadata.Decoder {
	t.Helper()
	return metadata.NewDecoder(r)
}

type fakeOps struct{}

func (fakeOps) Shell(host string, cmdTokens []string) []string {
	return append([]string{"ssh", host}, cmdTokens...)
}
func (fakeOps) Copy(src, dst string, opts transport.CopyOptions) []string {
	return []string{"scp", src, dst}
}
func (fakeOps) Link(path, link string) []string { return []string{"ln", "-sfn", path, link} }
func (fakeOps) Exec(ctx context.Context, argv []string, opts transport.ExecOptions) (int, error) {
	return 0, nil
}
func (f fakeOps) ExecRemote(ctx context.Context, host string, cmdTokens []string, opts transport.ExecOptions) (int, error) {
	return f.Exec(ctx, f.Shell(host, cmdTokens), opts)
}

type allReachable struct{}

func (allReachable) Check(ctx context.Context, host string) healthcheck.HostHealth {
	return healthcheck.HostHealth{Host: host, Reachable: true}
}

type allUnreachable struct{}

func (allUnreachable) Check(ctx context.Context, host string) healthcheck.HostHealth {
	return healthcheck.HostHealth{Host: host, Reachable: false, Err: context.DeadlineExceeded}
}

func testConfig(t *testing.T, ws string) config.Config {
	t.Helper()
	cfg := config.Config{
		Hosts:       map[string]int{"host1": 1},
		Workspace:   ws,
		RemoteMkdir: []string{"/bin/mkdir", "-p"},
		Transport:   fakeOps{},
	}
	cfg, err := cfg.WithDefaults()
	if err != nil {
		t.Fatalf("WithDefaults: %v", err)
	}
	return cfg
}

func TestStartExcludesUnreachableHosts(t *testing.T) {
	ws := t.TempDir()
	cfg := testConfig(t, ws)
	p := pool.New(cfg, "plan", filepath.Join(ws, "child.py"), pool.WithHealthChecker(allUnreachable{}))
	p.AddWorkers("pool:1234")

	unreachable, err := p.Start(context.Background(), ws)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(unreachable) != 1 || unreachable[0] != "host1" {
		t.Errorf("unreachable = %v, want [host1]", unreachable)
	}
}

func TestStartProvisionsReachableHosts(t *testing.T) {
	ws := t.TempDir()
	cfg := testConfig(t, ws)
	p := pool.New(cfg, "plan", filepath.Join(ws, "child.py"), pool.WithHealthChecker(allReachable{}))
	p.AddWorkers("pool:1234")

	unreachable, err := p.Start(context.Background(), ws)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(unreachable) != 0 {
		t.Errorf("unreachable = %v, want none", unreachable)
	}

	if ws := p.Workers("host1"); len(ws) != 1 {
		t.Fatalf("Workers(host1) = %v, want one worker", ws)
	}
}

func TestHandleMetadataPullIsIdempotent(t *testing.T) {
	ws := t.TempDir()
	cfg := testConfig(t, ws)
	p := pool.New(cfg, "plan", filepath.Join(ws, "child.py"), pool.WithHealthChecker(allReachable{}))
	p.AddWorkers("pool:1234")

	if _, err := p.Start(context.Background(), ws); err != nil {
		t.Fatalf("Start: %v", err)
	}

	server, client := net.Pipe()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- p.HandleMetadataPull(context.Background(), "host1", 0, server) }()

	dec := newDecoder(t, client)
	msg1, err := dec.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("HandleMetadataPull: %v", err)
	}
	server.Close()

	server2, client2 := net.Pipe()
	defer client2.Close()
	done2 := make(chan error, 1)
	go func() { done2 <- p.HandleMetadataPull(context.Background(), "host1", 0, server2) }()
	dec2 := newDecoder(t, client2)
	msg2, err := dec2.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := <-done2; err != nil {
		t.Fatalf("HandleMetadataPull: %v", err)
	}
	server2.Close()

	if diff := cmp.Diff(msg1.SetupMetadata, msg2.SetupMetadata); diff != "" {
		t.Errorf("SetupMetadata differs between pulls (-first +second):\n%s", diff)
	}
}
