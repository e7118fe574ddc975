// Package rewriter detects wrapper pages that merely point at a canonical
// article and extracts the article URL so the page can be fetched again.
package rewriter

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

// Handler recognizes one family of wrapper pages.
type Handler interface {
	Name() string
	Matches(u *url.URL) bool
	// Extract returns the canonical URL found in the decoded page text.
	Extract(text string) (string, bool)
}

// Registry is an ordered list of handlers. The first handler whose Matches
// accepts the page URL is the only one consulted.
type Registry struct {
	handlers []Handler
	logger   *zap.Logger
}

// NewRegistry returns a registry holding handlers in the given order.
func NewRegistry(logger *zap.Logger, handlers ...Handler) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{handlers: append([]Handler(nil), handlers...), logger: logger}
}

// Register appends h after the existing handlers.
func (r *Registry) Register(h Handler) {
	r.handlers = append(r.handlers, h)
}

// Handlers returns the registered handler names in order.
func (r *Registry) Handlers() []string {
	names := make([]string, 0, len(r.handlers))
	for _, h := range r.handlers {
		names = append(names, h.Name())
	}
	return names
}

// Inspect reports whether pageURL is a wrapper page and, if so, the target it
// points at. A target equal to the page itself is ignored.
func (r *Registry) Inspect(pageURL, text string) (clipper.CanonicalTarget, bool) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return clipper.CanonicalTarget{}, false
	}
	for _, h := range r.handlers {
		if !h.Matches(u) {
			continue
		}
		resolved, ok := h.Extract(text)
		if !ok || strings.EqualFold(strings.TrimRight(resolved, "/"), strings.TrimRight(pageURL, "/")) {
			return clipper.CanonicalTarget{}, false
		}
		r.logger.Debug("wrapper page detected",
			zap.String("url", pageURL),
			zap.String("canonical", resolved),
			zap.String("handler", h.Name()),
		)
		return clipper.CanonicalTarget{OriginalURL: pageURL, ResolvedURL: resolved, Source: h.Name()}, true
	}
	return clipper.CanonicalTarget{}, false
}
