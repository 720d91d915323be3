package exam

import "strings"

// Whitelist is the ordered set of process names an exam permits on the
// client machine. It replaces the source system's comma-joined column with
// an explicit typed sequence; membership is exact and case-sensitive.
type Whitelist []string

// NormalizeWhitelist trims entries and drops empties and duplicates while
// preserving first-seen order.
func NormalizeWhitelist(names []string) Whitelist {
	seen := make(map[string]struct{}, len(names))
	out := make(Whitelist, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Contains reports exact, case-sensitive membership. No fuzzy or prefix
// matching: "Notepad.exe" does not authorize "notepad.exe".
func (w Whitelist) Contains(processName string) bool {
	for _, n := range w {
		if n == processName {
			return true
		}
	}
	return false
}
