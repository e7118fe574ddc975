package rewriter

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Blockquote: true, atom.Pre: true,
	atom.Header: true, atom.Footer: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
	atom.Title: true,
}

var hiddenAtoms = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
}

// VisibleLines returns up to limit non-empty, trimmed lines of text a reader
// would see on the page; limit <= 0 returns every line. Text without markup is
// split on newlines as is.
func VisibleLines(doc string, limit int) []string {
	limit = max(limit, 0)
	var buf strings.Builder
	z := html.NewTokenizer(strings.NewReader(doc))
	hidden := 0
loop:
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			break loop
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if hiddenAtoms[a] {
				switch {
				case tt == html.StartTagToken:
					hidden++
				case tt == html.EndTagToken && hidden > 0:
					hidden--
				}
			}
			if blockAtoms[a] {
				buf.WriteByte('\n')
			}
		case html.TextToken:
			if hidden == 0 {
				buf.Write(z.Text())
			}
		}
	}

	lines := make([]string, 0, limit)
	for _, line := range strings.Split(buf.String(), "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "\u00a0", " "))
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if limit > 0 && len(lines) == limit {
			break
		}
	}
	return lines
}
