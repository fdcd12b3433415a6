package common

import "regexp"

// ansiRe matches ANSI escape sequences (colors, cursor movement).
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape codes from CLI output. Some OLT shells
// colorize listings, which would break the column parsers.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
