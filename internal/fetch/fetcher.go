// Package fetch retrieves a page and turns its wire bytes into text: it
// undoes transport compression and resolves the character encoding.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

var errEmptyBody = errors.New("empty body")

// RenderDetector flags plain fetches that need a headless render.
type RenderDetector interface {
	ShouldRender(page clipper.FetchResult) bool
}

// Config controls Fetcher behavior.
type Config struct {
	Timeout              time.Duration
	RenderHosts          []string
	ReplacementThreshold float64
	Fallbacks            []string
}

// Fetcher is the page-level fetch stage. It performs exactly one attempt per
// call; retries belong to the caller.
type Fetcher struct {
	transport clipper.Transport
	renderer  clipper.Transport
	detector  RenderDetector
	cascade   *Cascade
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Fetcher. renderer and detector are optional.
func New(
	transport clipper.Transport,
	renderer clipper.Transport,
	detector RenderDetector,
	cfg Config,
	logger *zap.Logger,
) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Fetcher{
		transport: transport,
		renderer:  renderer,
		detector:  detector,
		cascade:   NewCascade(cfg.ReplacementThreshold, cfg.Fallbacks),
		cfg:       cfg,
		logger:    logger,
	}
}

// Fetch retrieves rawURL and decodes it. Connection failures, timeouts, and
// HTTP error statuses are returned as *clipper.NetworkError; an empty body is
// a *clipper.EncodingError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration, headers http.Header) (clipper.FetchResult, error) {
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	request := clipper.Request{URL: rawURL, Headers: headers, Timeout: timeout}

	if f.renderer != nil && f.needsRender(rawURL) {
		result, err := f.fetchWith(ctx, f.renderer, request)
		if err == nil {
			return result, nil
		}
		f.logger.Warn("headless render failed, using plain fetch",
			zap.String("url", rawURL),
			zap.Error(err),
		)
	}

	result, err := f.fetchWith(ctx, f.transport, request)
	if err != nil {
		return clipper.FetchResult{}, err
	}

	if f.renderer != nil && f.detector != nil && f.detector.ShouldRender(result) {
		f.logger.Debug("page looks script-rendered, promoting to headless", zap.String("url", rawURL))
		rendered, renderErr := f.fetchWith(ctx, f.renderer, request)
		if renderErr == nil {
			return rendered, nil
		}
		f.logger.Warn("headless promotion failed, keeping plain fetch",
			zap.String("url", rawURL),
			zap.Error(renderErr),
		)
	}
	return result, nil
}

func (f *Fetcher) fetchWith(ctx context.Context, transport clipper.Transport, request clipper.Request) (clipper.FetchResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, request.Timeout)
	defer cancel()

	raw, err := transport.Get(attemptCtx, request)
	if err != nil {
		return clipper.FetchResult{}, &clipper.NetworkError{URL: request.URL, Err: err}
	}
	if raw.StatusCode >= http.StatusBadRequest {
		return clipper.FetchResult{}, &clipper.NetworkError{URL: request.URL, StatusCode: raw.StatusCode}
	}
	return f.decode(request.URL, raw)
}

func (f *Fetcher) decode(requestedURL string, raw clipper.RawResponse) (clipper.FetchResult, error) {
	if len(raw.Body) == 0 {
		return clipper.FetchResult{}, &clipper.EncodingError{URL: requestedURL, Err: errEmptyBody}
	}

	body, scheme, err := Decompress(raw.Body, raw.ContentEncoding())
	if err != nil {
		f.logger.Warn("decompression failed, treating body as uncompressed",
			zap.String("url", requestedURL),
			zap.String("content_encoding", raw.ContentEncoding()),
			zap.Error(err),
		)
	}

	decoded, err := f.cascade.Decode(body, raw.ContentType())
	if err != nil {
		return clipper.FetchResult{}, &clipper.EncodingError{URL: requestedURL, Err: err}
	}
	if decoded.Source == SourceForced {
		f.logger.Warn("no encoding candidate cleared the threshold",
			zap.String("url", requestedURL),
			zap.String("encoding", decoded.Encoding),
			zap.Float64("replacement_ratio", decoded.Ratio),
		)
	}

	finalURL := raw.URL
	if finalURL == "" {
		finalURL = requestedURL
	}
	return clipper.FetchResult{
		RequestedURL: requestedURL,
		FinalURL:     finalURL,
		Raw:          body,
		Text:         decoded.Text,
		Encoding:     decoded.Encoding,
		ContentType:  raw.ContentType(),
		Compression:  scheme,
		StatusCode:   raw.StatusCode,
		Rendered:     raw.Rendered,
	}, nil
}

func (f *Fetcher) needsRender(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return HostMatches(u.Hostname(), f.cfg.RenderHosts)
}

// HostMatches reports whether host equals one of patterns or is a subdomain
// of one.
func HostMatches(host string, patterns []string) bool {
	host = strings.ToLower(host)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(p), "*."))
		if p == "" {
			continue
		}
		if host == p || strings.HasSuffix(host, "."+p) {
			return true
		}
	}
	return false
}

