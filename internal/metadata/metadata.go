// Package metadata defines the value object sent once to a remote worker
// describing what it must clean up at exit, and the small control-plane
// message envelope it travels in.
package metadata

import (
	"github.com/testplan-go/remotepool/internal/pathutil"
)

// SetupMetadata is sent worker-ward exactly once, at the end of staging. It
// is frozen thereafter: repeated MetadataPull requests from the same worker
// must observe the same value.
type SetupMetadata struct {
	// PushFiles and PushDirs are the remote paths staged for this worker,
	// in push order, to be deleted at exit when DeletePushed is enabled.
	PushFiles []string
	PushDirs  []string
	// PushDir is the single remote root used when a relative push
	// directory was configured; empty otherwise.
	PushDir string
	// SetupScript is executed on the remote before any task.
	SetupScript []string
	// Env is propagated into the remote worker's environment.
	Env map[string]string
	// WorkspacePaths is the local/remote pair for the workspace.
	WorkspacePaths pathutil.Pair
	// WorkspacePushed is true only when the local workspace was
	// transferred (not linked), meaning the remote copy is safe to delete.
	WorkspacePushed bool
}

// Clone returns a deep copy, used so that repeated MetadataPull responses
// never let a caller mutate the pool's frozen copy.
func (m *SetupMetadata) Clone() *SetupMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.PushFiles = append([]string(nil), m.PushFiles...)
	c.PushDirs = append([]string(nil), m.PushDirs...)
	if m.Env != nil {
		c.Env = make(map[string]string, len(m.Env))
		for k, v := range m.Env {
			c.Env[k] = v
		}
	}
	c.SetupScript = append([]string(nil), m.SetupScript...)
	return &c
}
