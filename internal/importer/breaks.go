package importer

import (
	"regexp"
	"strings"
)

var orderedItemRe = regexp.MustCompile(`^\d{1,9}[.)](\s|$)`)

// NormalizeBreaks separates consecutive plain text lines with a blank line
// so the note store renders each as its own paragraph. Lines inside fenced
// code and lines that belong to headings, lists, blockquotes, tables or
// rules are left alone, as is any line followed by one of those. Applying it
// twice yields the same result.
func NormalizeBreaks(markup string) string {
	lines := strings.Split(markup, "\n")
	out := make([]string, 0, len(lines)+len(lines)/2)
	inFence := false
	fence := ""

	for i, line := range lines {
		out = append(out, line)

		if marker := fenceMarker(line); marker != "" {
			switch {
			case !inFence:
				inFence, fence = true, marker
			case strings.HasPrefix(marker, fence):
				inFence, fence = false, ""
			}
			continue
		}
		if inFence || !isPlain(line) || i+1 >= len(lines) {
			continue
		}
		next := lines[i+1]
		if isPlain(next) && fenceMarker(next) == "" {
			out = append(out, "")
		}
	}
	return strings.Join(out, "\n")
}

func fenceMarker(line string) string {
	t := strings.TrimLeft(line, " ")
	if len(line)-len(t) > 3 {
		return ""
	}
	for _, ch := range []string{"`", "~"} {
		if strings.HasPrefix(t, ch+ch+ch) {
			n := len(t) - len(strings.TrimLeft(t, ch))
			return strings.Repeat(ch, n)
		}
	}
	return ""
}

// isPlain reports whether line is non-blank paragraph text.
func isPlain(line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	if strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "    ") {
		return false
	}
	return !isBlockLine(strings.TrimSpace(line))
}

func isBlockLine(t string) bool {
	switch {
	case strings.HasPrefix(t, "#"),
		strings.HasPrefix(t, ">"),
		strings.HasPrefix(t, "<"),
		strings.Contains(t, "|"),
		isListItem(t),
		isRule(t):
		return true
	}
	return false
}

func isListItem(t string) bool {
	if len(t) >= 2 && strings.ContainsRune("-*+", rune(t[0])) && (t[1] == ' ' || t[1] == '\t') {
		return true
	}
	if t == "-" || t == "*" || t == "+" {
		return true
	}
	return orderedItemRe.MatchString(t)
}

func isRule(t string) bool {
	compact := strings.ReplaceAll(t, " ", "")
	if len(compact) < 3 {
		return false
	}
	for _, ch := range []string{"-", "*", "_", "="} {
		if strings.Trim(compact, ch) == "" {
			return true
		}
	}
	return false
}
