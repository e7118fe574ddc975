package converter

import (
	"regexp"
	"strings"
)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// Cleanup trims trailing whitespace from every line and collapses runs of
// blank lines into one.
func Cleanup(markup string) string {
	markup = strings.ReplaceAll(markup, "\r\n", "\n")
	lines := strings.Split(markup, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	markup = blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(markup)
}
