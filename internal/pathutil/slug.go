package pathutil

import (
	"regexp"
	"strings"
)

var slugUnsafeRE = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Slugify renders s as a filesystem-safe token: runs of characters outside
// [a-zA-Z0-9_-] collapse to a single "-", and leading/trailing "-" are
// trimmed. Used to turn a plan name into a directory component under
// /var/tmp/<user>/testplan/remote_workspaces/<slug>.
func Slugify(s string) string {
	s = slugUnsafeRE.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
