package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

// DefaultReplacementThreshold is the highest share of U+FFFD runes a decoded
// candidate may contain and still be accepted.
const DefaultReplacementThreshold = 0.01

// Candidate sources, in cascade order.
const (
	SourceHeader   = "header"
	SourceMeta     = "meta"
	SourceDetector = "detector"
	SourceFallback = "fallback"
	SourceForced   = "forced"
)

// minDetectorConfidence is the lowest chardet confidence (0-100) at which the
// detector's guess joins the cascade. Short CJK samples score around 10 and
// are often misread as Shift_JIS.
const minDetectorConfidence = 50

// metaPrescanBytes is how much of the document is searched for a meta charset.
const metaPrescanBytes = 1024

var (
	metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?\s*([a-z0-9_.:\-]+)`)

	errNoCandidate = errors.New("no encoding candidate")
)

// Decoded is a body turned into text by the cascade.
type Decoded struct {
	Text     string
	Encoding string
	Source   string
	Ratio    float64
}

// Cascade resolves a page's character encoding: transport charset, meta
// charset, statistical detection, then a fixed fallback list.
type Cascade struct {
	threshold float64
	fallbacks []string
	detector  *chardet.Detector
}

// NewCascade builds a Cascade. An empty fallback list means UTF-8, GBK, GB2312.
func NewCascade(threshold float64, fallbacks []string) *Cascade {
	if threshold <= 0 {
		threshold = DefaultReplacementThreshold
	}
	if len(fallbacks) == 0 {
		fallbacks = []string{"utf-8", "gbk", "gb2312"}
	}
	return &Cascade{
		threshold: threshold,
		fallbacks: fallbacks,
		detector:  chardet.NewTextDetector(),
	}
}

type candidate struct {
	label  string
	source string
}

// Decode returns the first candidate whose replacement ratio is under the
// threshold. When none qualifies a confident detector guess (or UTF-8) is used with
// replacement characters left in place. Only an empty body is an error.
func (c *Cascade) Decode(body []byte, contentType string) (Decoded, error) {
	if len(body) == 0 {
		return Decoded{}, errors.New("empty body")
	}

	guess := c.detect(body)
	candidates := make([]candidate, 0, 3+len(c.fallbacks))
	if label := headerCharset(contentType); label != "" {
		candidates = append(candidates, candidate{label: label, source: SourceHeader})
	}
	if label := MetaCharset(body); label != "" {
		candidates = append(candidates, candidate{label: label, source: SourceMeta})
	}
	if guess != "" {
		candidates = append(candidates, candidate{label: guess, source: SourceDetector})
	}
	for _, label := range c.fallbacks {
		candidates = append(candidates, candidate{label: label, source: SourceFallback})
	}

	tried := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		enc, name, err := lookupEncoding(cand.label)
		if err != nil || tried[name] {
			continue
		}
		tried[name] = true
		text, err := decodeWith(enc, body)
		if err != nil {
			continue
		}
		ratio := replacementRatio(text)
		if ratio < c.threshold {
			return Decoded{Text: text, Encoding: name, Source: cand.source, Ratio: ratio}, nil
		}
	}

	forced := guess
	if forced == "" {
		forced = "utf-8"
	}
	enc, name, err := lookupEncoding(forced)
	if err != nil {
		enc, name = unicode.UTF8, "utf-8"
	}
	text, err := decodeWith(enc, body)
	if err != nil {
		text = strings.ToValidUTF8(string(body), "�")
		name = "utf-8"
	}
	return Decoded{Text: text, Encoding: name, Source: SourceForced, Ratio: replacementRatio(text)}, nil
}

func (c *Cascade) detect(body []byte) string {
	sample := body
	if len(sample) > 64<<10 {
		sample = sample[:64<<10]
	}
	result, err := c.detector.DetectBest(sample)
	if err != nil || result == nil || result.Confidence < minDetectorConfidence {
		return ""
	}
	return result.Charset
}

func headerCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}

// MetaCharset returns the charset declared by a meta tag near the top of the
// document, or "".
func MetaCharset(body []byte) string {
	head := body
	if len(head) > metaPrescanBytes {
		head = head[:metaPrescanBytes]
	}
	m := metaCharsetRe.FindSubmatch(head)
	if m == nil {
		return ""
	}
	return string(bytes.TrimSpace(m[1]))
}

// lookupEncoding resolves a charset label. GB2312 is decoded with GBK, its
// superset, because real pages labelled GB2312 routinely use GBK code points.
func lookupEncoding(label string) (encoding.Encoding, string, error) {
	norm := strings.ToLower(strings.TrimSpace(label))
	switch norm {
	case "":
		return nil, "", errNoCandidate
	case "utf-8", "utf8":
		return unicode.UTF8, "utf-8", nil
	case "gbk", "cp936", "x-gbk":
		return simplifiedchinese.GBK, "gbk", nil
	case "gb2312", "gb_2312-80", "euc-cn":
		return simplifiedchinese.GBK, "gb2312", nil
	case "gb18030", "gb-18030":
		return simplifiedchinese.GB18030, "gb18030", nil
	}
	enc, name := charset.Lookup(norm)
	if enc == nil {
		return nil, "", fmt.Errorf("unknown charset %q", label)
	}
	return enc, name, nil
}

func decodeWith(enc encoding.Encoding, body []byte) (string, error) {
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return string(out), nil
}

func replacementRatio(text string) float64 {
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return 0
	}
	bad := strings.Count(text, "�")
	return float64(bad) / float64(total)
}
