// Package command validates a requested command line against the
// configured binary whitelist before it ever reaches the Container
// Driver, and performs the POSIX argv split shared by the Executor.
package command

import (
	"path"
	"strings"

	"github.com/google/shlex"
)

// Whitelist holds the set of allowed binary names (lowercase, no path).
type Whitelist struct {
	allowed map[string]bool
}

// NewWhitelist builds a Whitelist from a list of binary names. An empty
// list allows nothing, matching the fail-closed default.
func NewWhitelist(names []string) *Whitelist {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[strings.ToLower(n)] = true
	}
	return &Whitelist{allowed: allowed}
}

// Split tokenizes a command line using POSIX shell-lexing rules, honoring
// quoted strings, the same as the reference implementation's use of
// shlex.split(posix=True).
func Split(commandLine string) ([]string, error) {
	return shlex.Split(commandLine)
}

// Allowed reports whether the command line's binary (the first argv
// token, with any directory prefix stripped) is on the whitelist. An
// empty or unparseable command line is never allowed.
func (w *Whitelist) Allowed(commandLine string) bool {
	argv, err := Split(strings.TrimSpace(commandLine))
	if err != nil || len(argv) == 0 {
		return false
	}
	binary := strings.ToLower(path.Base(argv[0]))
	return w.allowed[binary]
}
