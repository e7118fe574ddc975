// Package detector decides when a plain fetch should be re-done in headless Chrome.
package detector

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
	MinVisibleText      int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold, minVisibleText int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	if minVisibleText == 0 {
		minVisibleText = 200
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinVisibleText: minVisibleText}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("window.__INITIAL_STATE__"),
}

// ShouldRender reports whether the fetched page looks like a script shell
// whose content only appears after rendering.
func (h *Heuristic) ShouldRender(page clipper.FetchResult) bool {
	if page.StatusCode != 200 || page.Rendered {
		return false
	}
	body := []byte(page.Text)
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return visibleTextLength(page.Text) < h.MinVisibleText
		}
	}
	return false
}

// visibleTextLength counts non-space runes outside script and style elements.
func visibleTextLength(doc string) int {
	z := html.NewTokenizer(strings.NewReader(doc))
	skip := 0
	n := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return n
		case html.StartTagToken:
			name, _ := z.TagName()
			if isHiddenTag(string(name)) {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isHiddenTag(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				for _, r := range string(z.Text()) {
					if r != ' ' && r != '\n' && r != '\t' && r != '\r' {
						n++
					}
				}
			}
		}
	}
}

func isHiddenTag(name string) bool {
	return name == "script" || name == "style" || name == "noscript" || name == "template"
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Unterminated tag: the rest of the document counts as script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage > 0 && scriptCoverage*100/total >= 25
}
