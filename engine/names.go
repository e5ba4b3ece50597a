package engine

import "strings"

// Export naming conventions inside a WebAssembly container:
//
//	"<ref>"                  optional module init hook for an exposed ref
//	"<ref>.<export>"         an export of the exposed module
//	"shared:<dep>.<fn>"      a function of the shared dependency dep
const (
	prefixShared = "shared:"
	initExport   = "_initialize"
)

// splitExport parses "<ref>.<export>" for the given ref.
// Examples:
//   - ("widget.default", "widget") -> ("default", true)
//   - ("widget.button.click", "widget") -> ("button.click", true)
//   - ("widgets.default", "widget") -> ("", false)
func splitExport(name, ref string) (string, bool) {
	rest, ok := strings.CutPrefix(name, ref+".")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// splitShared parses "shared:<dep>.<fn>". The dependency name is taken up to
// the last dot so scoped names like "@acme/ui" survive.
func splitShared(name string) (dep, fn string, ok bool) {
	rest, ok := strings.CutPrefix(name, prefixShared)
	if !ok {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '.')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
