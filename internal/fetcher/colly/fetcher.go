// Package collyfetcher implements the clipper network primitive using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
	// Headers are sent with every request unless the request overrides them.
	Headers http.Header
}

// Transport implements clipper.Transport using a Colly collector per request.
// The wire payload is captured below Colly so callers see the undecoded bytes
// and the declared Content-Encoding.
type Transport struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

var errNoResponse = errors.New("no response captured")

// New builds a Transport.
func New(cfg Config) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Transport{
		cfg:       cfg,
		transport: newHTTPTransport(),
	}
}

// Get executes a single HTTP GET.
func (t *Transport) Get(ctx context.Context, request clipper.Request) (clipper.RawResponse, error) {
	var (
		visited  clipper.RawResponse
		fetchErr error
	)
	start := time.Now()
	capture := &captureTransport{base: t.transport, limit: t.cfg.MaxBodySize}
	collector := t.buildCollector(ctx, request, capture)
	t.configureCollectorHooks(collector, request, &visited, &fetchErr)

	if err := t.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return clipper.RawResponse{}, err
	}

	wire, ok := capture.response()
	if !ok {
		if visited.StatusCode == 0 {
			return clipper.RawResponse{}, fmt.Errorf("colly fetch %s: %w", request.URL, errNoResponse)
		}
		wire = visited
	}
	wire.Duration = time.Since(start)
	return wire, nil
}

func (t *Transport) buildCollector(ctx context.Context, request clipper.Request, capture http.RoundTripper) *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(t.cfg.MaxBodySize),
		colly.StdlibContext(ctx),
	)
	if t.cfg.UserAgent != "" {
		collector.UserAgent = t.cfg.UserAgent
	}
	timeout := t.cfg.Timeout
	if request.Timeout > 0 {
		timeout = request.Timeout
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(capture)
	return collector
}

func (t *Transport) configureCollectorHooks(
	hooks collectorHooks,
	request clipper.Request,
	result *clipper.RawResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		t.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = clipper.RawResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (t *Transport) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// copyHeaders applies the configured defaults, then the request's own headers.
func (t *Transport) copyHeaders(request clipper.Request, r *colly.Request) {
	for key, values := range t.cfg.Headers {
		if len(values) == 0 {
			continue
		}
		r.Headers.Set(key, values[0])
		for _, v := range values[1:] {
			r.Headers.Add(key, v)
		}
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
	}
}
