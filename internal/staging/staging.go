// Package staging computes the deduplicated, destination-annotated file and
// directory lists that a RemoteWorker must push to its host before starting
// the remote worker subprocess.
package staging

import (
	"context"
	"os"
	"sort"

	"github.com/testplan-go/remotepool/internal/errors"
	"github.com/testplan-go/remotepool/internal/logging"
	"github.com/testplan-go/remotepool/internal/pathutil"
)

// Item is one entry of the push configuration. Source is always a local
// path. Dest, when non-empty, is the caller-supplied remote destination; an
// empty Dest means "derive the destination automatically" (the source-only
// shape described by the spec). A Push list must be either all-derived or
// all-explicit: mixing the two shapes is a configuration error, exactly as
// mixing bare strings and (source, dest) pairs was in the source
// implementation.
type Item struct {
	Source string
	Dest   string
}

// PushPlan is the result of planning a push: deduplicated file and directory
// path pairs, plus the remote push root when one was created.
type PushPlan struct {
	Files    []pathutil.Pair
	Dirs     []pathutil.Pair
	PushDir  string // remote push root; empty unless PushRelativeDir was used
	Warnings []string
}

// Options configures Plan computation.
type Options struct {
	// PushRelativeDir, if non-empty, is the local root that every derived
	// destination is computed relative to.
	PushRelativeDir string
	// RemoteTestplanPath is the per-host, per-plan scratch root; the push
	// directory (when used) is created under it.
	RemoteTestplanPath string
	// MkdirRemote, when PushRelativeDir is set, is invoked once to create
	// the remote push directory before any destination is computed.
	MkdirRemote func(ctx context.Context, dir string) error
}

// Plan implements the staging algorithm from the push configuration:
// destination synthesis, file/directory classification by local stat, and
// unconditional directory deduplication (no entry's local path may be a
// strict prefix of another's).
func Plan(ctx context.Context, items []Item, opts Options) (*PushPlan, error) {
	if err := checkShape(items); err != nil {
		return nil, err
	}

	explicit := len(items) > 0 && items[0].Dest != ""

	plan := &PushPlan{}
	if opts.PushRelativeDir != "" && explicit {
		plan.Warnings = append(plan.Warnings, "ignoring push_relative_dir configuration as explicit destination paths have been provided")
	}

	if !explicit && opts.PushRelativeDir != "" {
		plan.PushDir = pathutil.JoinPosix(opts.RemoteTestplanPath, "push_files")
		if opts.MkdirRemote != nil {
			if err := opts.MkdirRemote(ctx, plan.PushDir); err != nil {
				return nil, err
			}
		}
	}

	var files, dirs []pathutil.Pair
	for _, it := range items {
		source := pathutil.TrimTrailingSep(it.Source)

		dest := it.Dest
		if dest == "" {
			var err error
			dest, err = deriveDest(source, opts, plan.PushDir)
			if err != nil {
				return nil, err
			}
		}

		fi, err := os.Stat(source)
		if err != nil {
			logging.Errorf(ctx, "item %q cannot be pushed: %v", source, &errors.StagingSkipped{Path: source})
			continue
		}
		pair := pathutil.Pair{Local: source, Remote: dest}
		if fi.IsDir() {
			dirs = append(dirs, pair)
		} else {
			files = append(files, pair)
		}
	}

	plan.Files = files
	plan.Dirs = dedupeDirs(dirs)
	return plan, nil
}

// checkShape verifies items are uniformly either all-derived (empty Dest)
// or all-explicit (non-empty Dest); any other mixture is a BadPushConfig.
func checkShape(items []Item) error {
	var sawDerived, sawExplicit bool
	for _, it := range items {
		if it.Dest == "" {
			sawDerived = true
		} else {
			sawExplicit = true
		}
	}
	if sawDerived && sawExplicit {
		return &errors.BadPushConfig{Reason: "push entries mix derived and explicit destinations"}
	}
	return nil
}

func deriveDest(source string, opts Options, pushDir string) (string, error) {
	if opts.PushRelativeDir == "" {
		return pathutil.ToPosix(source), nil
	}
	if !pathutil.IsSubdir(source, opts.PushRelativeDir) {
		return "", &errors.PushNotUnderRoot{Path: source, Root: opts.PushRelativeDir}
	}
	rel, err := pathutil.RelPosix(opts.PushRelativeDir, source)
	if err != nil {
		return "", err
	}
	return pathutil.JoinPosix(pushDir, rel), nil
}

// dedupeDirs drops any directory whose local path is a strict sub-path of
// another surviving directory, unconditionally (not gated on having more
// than one directory, unlike the source implementation's redundant length
// check). The prefix relationship is computed over the path-sorted order,
// but survivors are returned in their original input order.
func dedupeDirs(dirs []pathutil.Pair) []pathutil.Pair {
	if len(dirs) == 0 {
		return nil
	}
	sorted := append([]pathutil.Pair(nil), dirs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Local < sorted[j].Local })

	keep := make(map[string]bool, len(sorted))
	var kept []string
	for _, d := range sorted {
		covered := false
		for _, k := range kept {
			if pathutil.IsSubdir(d.Local, k) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		keep[d.Local] = true
		kept = append(kept, d.Local)
	}

	result := make([]pathutil.Pair, 0, len(keep))
	for _, d := range dirs {
		if keep[d.Local] {
			result = append(result, d)
		}
	}
	return result
}
