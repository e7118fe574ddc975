package collyfetcher

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

// captureTransport records the last wire response before Colly post-processes
// it. Colly sees the same bytes with Content-Encoding removed so it does not
// try to decompress them itself.
type captureTransport struct {
	base  http.RoundTripper
	limit int

	mu       sync.Mutex
	captured *clipper.RawResponse
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("capture transport received nil request")
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("capture transport roundtrip: %w", err)
	}

	var reader io.Reader = resp.Body
	if t.limit > 0 {
		reader = io.LimitReader(resp.Body, int64(t.limit))
	}
	body, readErr := io.ReadAll(reader)
	closeErr := resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("read response body: %w", readErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close response body: %w", closeErr)
	}

	finalURL := req.URL.String()
	t.mu.Lock()
	t.captured = &clipper.RawResponse{
		URL:        finalURL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
	}
	t.mu.Unlock()

	passthrough := resp.Header.Clone()
	passthrough.Del("Content-Encoding")
	resp.Header = passthrough
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Uncompressed = false
	return resp, nil
}

// response returns the final captured response, i.e. the last hop of any
// redirect chain.
func (t *captureTransport) response() (clipper.RawResponse, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.captured == nil {
		return clipper.RawResponse{}, false
	}
	return *t.captured, true
}
