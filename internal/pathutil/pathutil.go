// Package pathutil implements PathPair, the local/remote path-pairing and
// POSIX conversion helpers shared by every staging component.
package pathutil

import (
	"path"
	"path/filepath"
	"strings"
)

// Pair holds a (local, remote) path pair. Either side may be empty while
// staging is still in progress.
type Pair struct {
	Local  string
	Remote string
}

// ToPosix converts a local, OS-native absolute path to its POSIX (forward
// slash) form, as required on the remote Linux host regardless of the local
// platform's path separator.
func ToPosix(p string) string {
	if filepath.Separator == '/' {
		return p
	}
	return strings.ReplaceAll(p, string(filepath.Separator), "/")
}

// IsSubdir reports whether child is path.Clean(parent) itself or a strict
// descendant of it.
func IsSubdir(child, parent string) bool {
	child = filepath.Clean(child)
	parent = filepath.Clean(parent)
	if child == parent {
		return true
	}
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// RelPosix returns the POSIX-form relative path from root to target. Both
// must be local, OS-native absolute paths, and target must be under root.
func RelPosix(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	return ToPosix(rel), nil
}

// JoinPosix joins POSIX path elements with "/", mirroring path.Join but
// making the intent (remote, always-POSIX path construction) explicit at
// call sites instead of reusing filepath.Join, which is OS-native.
func JoinPosix(elem ...string) string {
	return path.Join(elem...)
}

// TrimTrailingSep removes a single trailing OS path separator or "/" from p,
// as used before classifying a push/pull source as file or directory.
func TrimTrailingSep(p string) string {
	if strings.HasSuffix(p, string(filepath.Separator)) {
		return strings.TrimSuffix(p, string(filepath.Separator))
	}
	return strings.TrimSuffix(p, "/")
}

// Base is filepath.Base, named here so staging code need not import
// path/filepath directly just for this one call.
func Base(p string) string {
	return filepath.Base(p)
}

// IsAbs reports whether p is an absolute POSIX path, as required of
// remote_workspace configuration values (which always name a path on the
// remote Linux host, regardless of the local platform).
func IsAbs(p string) bool {
	return strings.HasPrefix(p, "/")
}
