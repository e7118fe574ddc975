package converter

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MinimalStrategy walks the parsed tree and emits the basic markdown block
// tokens. It keeps the visible text of anything it does not understand, and
// a page with no text at all becomes a link back to its source, so the output
// is never empty.
type MinimalStrategy struct{}

// Name implements Strategy.
func (MinimalStrategy) Name() string { return StrategyMinimal }

// Convert implements Strategy.
func (MinimalStrategy) Convert(doc string, pageURL *url.URL) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	w := &mdWriter{base: pageURL}
	w.children(root)
	if strings.TrimSpace(w.String()) != "" {
		return w.String(), nil
	}
	if pageURL == nil {
		return "(empty page)", nil
	}
	return fmt.Sprintf("[%s](%s)", pageURL, pageURL), nil
}

type mdWriter struct {
	strings.Builder
	base   *url.URL
	prefix string
	list   []listState
}

type listState struct {
	ordered bool
	n       int
}

func (w *mdWriter) block() {
	s := w.String()
	if s == "" || strings.HasSuffix(s, "\n\n") || (w.prefix != "" && strings.HasSuffix(s, "\n"+w.prefix+"\n")) {
		return
	}
	if strings.HasSuffix(s, "\n") {
		w.WriteString(w.prefix + "\n")
		return
	}
	w.WriteString("\n" + w.prefix + "\n")
}

func (w *mdWriter) line() {
	s := w.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		w.WriteString("\n")
	}
}

func (w *mdWriter) startLine() {
	s := w.String()
	if s == "" || strings.HasSuffix(s, "\n") {
		w.WriteString(w.prefix)
	}
}

func (w *mdWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.node(c)
	}
}

func (w *mdWriter) text(s string) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return
	}
	cur := w.String()
	if cur != "" && !strings.HasSuffix(cur, "\n") && !strings.HasSuffix(cur, " ") {
		w.WriteString(" ")
	}
	w.startLine()
	w.WriteString(s)
}

func (w *mdWriter) node(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.DocumentNode:
		w.children(n)
		return
	case html.ElementNode:
	default:
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		w.block()
		w.startLine()
		w.WriteString(strings.Repeat("#", level) + " ")
		w.WriteString(strings.Join(strings.Fields(textContent(n)), " "))
		w.block()
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main, atom.Figure, atom.Figcaption:
		w.block()
		w.children(n)
		w.block()
	case atom.Br:
		w.line()
	case atom.Hr:
		w.block()
		w.WriteString(w.prefix + "---")
		w.block()
	case atom.Img:
		src := w.resolve(attr(n, "src"))
		if src == "" {
			return
		}
		w.startLine()
		fmt.Fprintf(w, "![%s](%s)", attr(n, "alt"), src)
	case atom.A:
		href := w.resolve(attr(n, "href"))
		label := strings.Join(strings.Fields(textContent(n)), " ")
		if hasImage(n) {
			w.children(n)
			return
		}
		if href == "" || strings.HasPrefix(href, "javascript:") {
			w.text(label)
			return
		}
		if label == "" {
			label = href
		}
		w.text(fmt.Sprintf("[%s](%s)", label, href))
	case atom.Strong, atom.B:
		w.wrapInline(n, "**")
	case atom.Em, atom.I:
		w.wrapInline(n, "*")
	case atom.Code:
		w.wrapInline(n, "`")
	case atom.Pre:
		w.block()
		w.WriteString(w.prefix + "```\n")
		w.WriteString(strings.TrimRight(textContent(n), "\n"))
		w.WriteString("\n" + w.prefix + "```")
		w.block()
	case atom.Blockquote:
		w.block()
		saved := w.prefix
		w.prefix += "> "
		w.children(n)
		w.prefix = saved
		w.block()
	case atom.Ul, atom.Ol:
		w.block()
		w.list = append(w.list, listState{ordered: n.DataAtom == atom.Ol})
		w.children(n)
		w.list = w.list[:len(w.list)-1]
		w.block()
	case atom.Li:
		w.line()
		marker := "- "
		indent := ""
		if depth := len(w.list); depth > 0 {
			indent = strings.Repeat("  ", depth-1)
			st := &w.list[depth-1]
			st.n++
			if st.ordered {
				marker = fmt.Sprintf("%d. ", st.n)
			}
		}
		w.WriteString(w.prefix + indent + marker)
		w.children(n)
		w.line()
	case atom.Table:
		w.block()
		w.table(n)
		w.block()
	default:
		w.children(n)
	}
}

func (w *mdWriter) wrapInline(n *html.Node, mark string) {
	inner := strings.Join(strings.Fields(textContent(n)), " ")
	if inner == "" {
		return
	}
	w.text(mark + inner + mark)
}

func (w *mdWriter) table(n *html.Node) {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			var row []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
					cell := strings.Join(strings.Fields(textContent(c)), " ")
					row = append(row, strings.ReplaceAll(cell, "|", `\|`))
				}
			}
			if len(row) > 0 {
				rows = append(rows, row)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	if len(rows) == 0 {
		return
	}
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	for i, r := range rows {
		for len(r) < width {
			r = append(r, "")
		}
		w.WriteString(w.prefix + "| " + strings.Join(r, " | ") + " |\n")
		if i == 0 {
			w.WriteString(w.prefix + "|" + strings.Repeat(" --- |", width) + "\n")
		}
	}
}

func (w *mdWriter) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || w.base == nil {
		return ref
	}
	u, err := w.base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasImage(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Img {
			return true
		}
		if hasImage(c) {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
			return
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			b.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
