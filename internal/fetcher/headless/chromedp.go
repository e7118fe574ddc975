// Package headless renders pages in headless Chrome for sites whose article
// body only exists after scripts run.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready for late scripts.
	Settle time.Duration
	// WaitSelector overrides the element waited for before capture.
	WaitSelector string
}

// Fetcher implements clipper.Transport using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. Chrome itself is
// started lazily on the first render.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 2 * time.Second
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the browser.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Get navigates to request.URL and returns the rendered DOM. The DOM is
// serialized as UTF-8, so the returned headers say so and carry no
// Content-Encoding.
func (f *Fetcher) Get(ctx context.Context, request clipper.Request) (clipper.RawResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return clipper.RawResponse{}, err
	}
	defer f.release()

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()

	timeout := f.cfg.NavigationTimeout
	if request.Timeout > 0 && request.Timeout < timeout {
		timeout = request.Timeout
	}
	tabCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tabCtx,
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return clipper.RawResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	resp := doc.result(request.URL, location)
	resp.Body = []byte(html)
	resp.Duration = time.Since(start)
	resp.Rendered = true
	return resp, nil
}

// prepareTab applies the user agent and request headers before navigation.
func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if extra := extraHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots != nil {
		<-f.slots
	}
}

// documentResponse keeps the status and headers of the page's own HTTP
// response. Only the first document response counts; later ones come from
// iframes.
type documentResponse struct {
	mu      sync.Mutex
	seen    bool
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(e.Response.Status)
	d.headers = headersFrom(e.Response.Headers)
	d.url = e.Response.URL
}

// result builds the response metadata, falling back to the browser location
// and then the requested URL when no document response was observed.
func (d *documentResponse) result(requestURL, location string) clipper.RawResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp := clipper.RawResponse{URL: d.url, StatusCode: d.status, Headers: d.headers.Clone()}
	if resp.URL == "" {
		resp.URL = location
	}
	if resp.URL == "" {
		resp.URL = requestURL
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	}
	resp.Headers.Del("Content-Encoding")
	resp.Headers.Del("Content-Length")
	resp.Headers.Set("Content-Type", "text/html; charset=utf-8")
	return resp
}

// headersFrom converts DevTools headers, where repeated fields arrive as one
// newline-joined string.
func headersFrom(src network.Headers) http.Header {
	out := make(http.Header, len(src))
	for key, value := range src {
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprint(value)
		}
		for _, v := range strings.Split(s, "\n") {
			out.Add(key, v)
		}
	}
	return out
}

func extraHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		if len(values) > 0 {
			out[key] = strings.Join(values, ", ")
		}
	}
	return out
}
