package pathutil_test

import (
	"testing"

	"github.com/testplan-go/remotepool/internal/pathutil"
)

func TestIsSubdir(t *testing.T) {
	for _, tc := range []struct {
		child, parent string
		want          bool
	}{
		{"/home/u/ws/a/b", "/home/u/ws", true},
		{"/home/u/ws", "/home/u/ws", true},
		{"/home/u/other", "/home/u/ws", false},
		{"/home/u/wsx", "/home/u/ws", false},
	} {
		if got := pathutil.IsSubdir(tc.child, tc.parent); got != tc.want {
			t.Errorf("IsSubdir(%q, %q) = %v, want %v", tc.child, tc.parent, got, tc.want)
		}
	}
}

func TestRelPosix(t *testing.T) {
	got, err := pathutil.RelPosix("/home/u/ws", "/home/u/ws/a/x.txt")
	if err != nil {
		t.Fatalf("RelPosix: %v", err)
	}
	if want := "a/x.txt"; got != want {
		t.Errorf("RelPosix = %q, want %q", got, want)
	}
}

func TestTrimTrailingSep(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"/a/b/", "/a/b"},
		{"/a/b", "/a/b"},
		{"/a/b//", "/a/b/"},
	} {
		if got := pathutil.TrimTrailingSep(tc.in); got != tc.want {
			t.Errorf("TrimTrailingSep(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
