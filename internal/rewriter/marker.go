package rewriter

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/famotime/siyuan-scripts/internal/fetch"
)

// DefaultMarker is the label wrapper pages put in front of the article link.
const DefaultMarker = "原文链接"

// DefaultScanLines is how many non-empty visible lines are searched.
const DefaultScanLines = 10

// trailing punctuation that commonly sticks to a pasted link
const trimCutset = ".,;:!?)]}>'\"。，；：！？）】》」』、…"

// MarkerHandler finds "<marker>: <url>" near the top of a page.
type MarkerHandler struct {
	name      string
	hosts     []string
	scanLines int
	pattern   *regexp.Regexp
}

// NewMarkerHandler builds a handler for pages whose host matches one of hosts
// (exact or subdomain; a leading "*." is accepted). An empty marker uses
// DefaultMarker and scanLines <= 0 uses DefaultScanLines.
func NewMarkerHandler(name string, hosts []string, marker string, scanLines int) *MarkerHandler {
	if marker == "" {
		marker = DefaultMarker
	}
	if scanLines <= 0 {
		scanLines = DefaultScanLines
	}
	return &MarkerHandler{
		name:      name,
		hosts:     hosts,
		scanLines: scanLines,
		pattern:   regexp.MustCompile(regexp.QuoteMeta(marker) + `\s*[:：]\s*(https?://[^\s<>"']+)`),
	}
}

// Name implements Handler.
func (h *MarkerHandler) Name() string { return h.name }

// Matches implements Handler.
func (h *MarkerHandler) Matches(u *url.URL) bool {
	return fetch.HostMatches(u.Hostname(), h.hosts)
}

// Extract implements Handler.
func (h *MarkerHandler) Extract(text string) (string, bool) {
	for _, line := range VisibleLines(text, h.scanLines) {
		m := h.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		target := strings.TrimRight(m[1], trimCutset)
		if _, err := url.ParseRequestURI(target); err != nil {
			continue
		}
		return target, true
	}
	return "", false
}

// Defaults returns the built-in handlers: Feishu and Lark documents that
// republish an article with a source link.
func Defaults() []Handler {
	return []Handler{
		NewMarkerHandler("feishu", []string{"feishu.cn"}, DefaultMarker, DefaultScanLines),
		NewMarkerHandler("lark", []string{"larksuite.com"}, DefaultMarker, DefaultScanLines),
	}
}
