package clipper

import (
	"net/http"
	"time"
)

// Status is the user-visible result of one URL's pipeline run.
type Status string

// Outcome status values.
const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// AssetKind classifies embedded media.
type AssetKind string

// Supported asset kinds.
const (
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
	AssetAudio AssetKind = "audio"
)

// Request captures everything the network primitive needs for one GET.
type Request struct {
	URL     string
	Headers http.Header
	Timeout time.Duration
}

// RawResponse is what a Transport returns: wire bytes plus the declared headers.
type RawResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// ContentEncoding returns the declared Content-Encoding header.
func (r RawResponse) ContentEncoding() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Encoding")
}

// ContentType returns the declared Content-Type header.
func (r RawResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// FetchResult is a decoded page. It is consumed once by the rewriter and
// converter and never persisted.
type FetchResult struct {
	RequestedURL string
	FinalURL     string
	Raw          []byte
	Text         string
	Encoding     string
	ContentType  string
	Compression  string
	StatusCode   int
	Rendered     bool
}

// CanonicalTarget is present only when a wrapper page pointed elsewhere.
type CanonicalTarget struct {
	OriginalURL string `json:"original_url"`
	ResolvedURL string `json:"resolved_url"`
	Source      string `json:"source"`
}

// Metadata holds descriptive fields extracted from the page head.
type Metadata struct {
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Description string     `json:"description,omitempty"`
	SiteName    string     `json:"site_name,omitempty"`
	SourceURL   string     `json:"source_url"`
}

// AssetReference is one embedded media locator found in the converted body.
type AssetReference struct {
	Locator     string    `json:"locator"`
	Kind        AssetKind `json:"kind"`
	ContentHash string    `json:"content_hash,omitempty"`
	LocalID     string    `json:"local_id,omitempty"`
}

// DocumentDraft is the converter's output. Title is never empty.
type DocumentDraft struct {
	Title    string           `json:"title"`
	Markup   string           `json:"markup"`
	Metadata Metadata         `json:"metadata"`
	Assets   []AssetReference `json:"assets"`
	Strategy string           `json:"strategy"`
}

// LocalAsset is a stored asset: its stable ID and the path used in markup.
type LocalAsset struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// AssetMap maps an original locator to its stored asset.
type AssetMap map[string]LocalAsset

// AssetResult reports the resolution of a single reference.
type AssetResult struct {
	Locator string    `json:"locator"`
	Kind    AssetKind `json:"kind"`
	LocalID string    `json:"local_id,omitempty"`
	Reused  bool      `json:"reused,omitempty"`
	Err     error     `json:"-"`
}

// Resolved reports whether the reference ended up with a local ID.
func (r AssetResult) Resolved() bool {
	return r.Err == nil && r.LocalID != ""
}

// AssetReport lists per-reference results in reference order.
type AssetReport []AssetResult

// Failed returns the results that carry an error.
func (r AssetReport) Failed() []AssetResult {
	var out []AssetResult
	for _, res := range r {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// ResolvedCount returns how many references were resolved.
func (r AssetReport) ResolvedCount() int {
	n := 0
	for _, res := range r {
		if res.Resolved() {
			n++
		}
	}
	return n
}

// Target names where a document goes inside the note store.
type Target struct {
	Notebook string `json:"notebook"`
	Path     string `json:"path"`
}

// ImportArtifact is the finished document handed to the note store.
type ImportArtifact struct {
	SourceURL  string   `json:"source_url"`
	Title      string   `json:"title"`
	Markup     string   `json:"markup"`
	Assets     AssetMap `json:"assets"`
	Target     Target   `json:"target"`
	Header     string   `json:"header,omitempty"`
	DocumentID string   `json:"document_id,omitempty"`
}

// Outcome is returned per URL to callers.
type Outcome struct {
	RunID      string           `json:"run_id"`
	URL        string           `json:"url"`
	FinalURL   string           `json:"final_url,omitempty"`
	Status     Status           `json:"status"`
	Reason     string           `json:"reason,omitempty"`
	Err        error            `json:"-"`
	StorePath  string           `json:"store_path,omitempty"`
	DocumentID string           `json:"document_id,omitempty"`
	Strategy   string           `json:"strategy,omitempty"`
	Canonical  *CanonicalTarget `json:"canonical,omitempty"`
	Artifact   *ImportArtifact  `json:"artifact,omitempty"`
	Assets     AssetReport      `json:"-"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// OutcomeRecord is the persisted summary of an Outcome.
type OutcomeRecord struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	FinalURL       string    `json:"final_url,omitempty"`
	Status         Status    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	Notebook       string    `json:"notebook,omitempty"`
	StorePath      string    `json:"store_path,omitempty"`
	DocumentID     string    `json:"document_id,omitempty"`
	AssetsTotal    int       `json:"assets_total"`
	AssetsResolved int       `json:"assets_resolved"`
	Strategy       string    `json:"strategy,omitempty"`
	ClippedAt      time.Time `json:"clipped_at"`
}

// Record flattens the outcome for persistence.
func (o Outcome) Record(target Target) OutcomeRecord {
	return OutcomeRecord{
		ID:             o.RunID,
		URL:            o.URL,
		FinalURL:       o.FinalURL,
		Status:         o.Status,
		Reason:         o.Reason,
		Notebook:       target.Notebook,
		StorePath:      o.StorePath,
		DocumentID:     o.DocumentID,
		AssetsTotal:    len(o.Assets),
		AssetsResolved: o.Assets.ResolvedCount(),
		Strategy:       o.Strategy,
		ClippedAt:      o.FinishedAt,
	}
}
