package staging_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/testplan-go/remotepool/internal/errors"
	"github.com/testplan-go/remotepool/internal/staging"
)

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDedupeStability(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a", "a/b", "a/c", "d")

	items := []staging.Item{
		{Source: filepath.Join(root, "a")},
		{Source: filepath.Join(root, "a", "b")},
		{Source: filepath.Join(root, "a", "c")},
		{Source: filepath.Join(root, "d")},
	}
	plan, err := staging.Plan(context.Background(), items, staging.Options{})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Dirs) != 2 {
		t.Fatalf("Plan.Dirs = %v, want 2 survivors", plan.Dirs)
	}
	if plan.Dirs[0].Local != filepath.Join(root, "a") || plan.Dirs[1].Local != filepath.Join(root, "d") {
		t.Errorf("Plan.Dirs = %v, want [a, d]", plan.Dirs)
	}
}

func TestBadPushConfigMixedShape(t *testing.T) {
	items := []staging.Item{
		{Source: "/a"},
		{Source: "/b", Dest: "/remote/b"},
	}
	_, err := staging.Plan(context.Background(), items, staging.Options{})
	var bad *errors.BadPushConfig
	if !errors.As(err, &bad) {
		t.Fatalf("Plan error = %v, want *BadPushConfig", err)
	}
}

func TestAbsoluteDestination(t *testing.T) {
	root := t.TempDir()
	f := filepath.Join(root, "cfg.yml")
	if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	plan, err := staging.Plan(context.Background(), []staging.Item{{Source: f}}, staging.Options{})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Files) != 1 || plan.Files[0].Remote != f {
		t.Errorf("Plan.Files = %v, want remote == %s", plan.Files, f)
	}
}

func TestRelativePushDestination(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a")
	f := filepath.Join(root, "a", "x.txt")
	if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	plan, err := staging.Plan(context.Background(), []staging.Item{{Source: f}}, staging.Options{
		PushRelativeDir:    root,
		RemoteTestplanPath: "/var/tmp/u/testplan/remote_workspaces/plan",
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := "/var/tmp/u/testplan/remote_workspaces/plan/push_files/a/x.txt"
	if len(plan.Files) != 1 || plan.Files[0].Remote != want {
		t.Errorf("Plan.Files = %v, want remote == %s", plan.Files, want)
	}
	if plan.PushDir == "" {
		t.Error("Plan.PushDir unset, want the remote push root")
	}
}

func TestPushNotUnderRoot(t *testing.T) {
	_, err := staging.Plan(context.Background(), []staging.Item{{Source: "/tmp/x"}}, staging.Options{
		PushRelativeDir: "/home/u/ws",
	})
	var notUnder *errors.PushNotUnderRoot
	if !errors.As(err, &notUnder) {
		t.Fatalf("Plan error = %v, want *PushNotUnderRoot", err)
	}
}
