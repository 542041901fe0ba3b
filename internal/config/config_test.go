package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/testplan-go/remotepool/internal/config"
)

func TestValidateRequiresHosts(t *testing.T) {
	c := config.Config{PoolType: "thread"}
	if err := c.Validate(); err == nil {
		t.Fatal("Validate succeeded with no hosts, want error")
	}
}

func TestValidateRejectsBadPoolType(t *testing.T) {
	c := config.Config{Hosts: map[string]int{"h1": 2}, PoolType: "goroutine"}
	if err := c.Validate(); err == nil {
		t.Fatal("Validate succeeded with bad pool_type, want error")
	}
}

func TestWithDefaults(t *testing.T) {
	c, err := config.Config{Hosts: map[string]int{"h1": 1}}.WithDefaults()
	if err != nil {
		t.Fatalf("WithDefaults: %v", err)
	}
	if c.PoolType != "thread" {
		t.Errorf("PoolType = %q, want thread", c.PoolType)
	}
	if len(c.RemoteMkdir) == 0 {
		t.Error("RemoteMkdir unset")
	}
	if c.WorkerHeartbeat == 0 {
		t.Error("WorkerHeartbeat unset")
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate after WithDefaults: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "pool.yaml")
	contents := `
hosts:
  host1: 2
  host2: 1
pool_type: process
push:
  - /etc/cfg.yml
worker_heartbeat_seconds: 15
`
	if err := os.WriteFile(p, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := config.LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Hosts["host1"] != 2 || c.Hosts["host2"] != 1 {
		t.Errorf("Hosts = %v", c.Hosts)
	}
	if c.PoolType != "process" {
		t.Errorf("PoolType = %q", c.PoolType)
	}
	if len(c.Push) != 1 || c.Push[0].Source != "/etc/cfg.yml" {
		t.Errorf("Push = %v", c.Push)
	}
	if c.WorkerHeartbeat.Seconds() != 15 {
		t.Errorf("WorkerHeartbeat = %v, want 15s", c.WorkerHeartbeat)
	}
}
