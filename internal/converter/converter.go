// Package converter turns a decoded HTML page into a markdown draft: it picks
// the content region, normalizes media, runs an ordered list of conversion
// strategies and extracts page metadata.
package converter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

// DefaultMinLength is the shortest accepted strategy output, in runes.
const DefaultMinLength = 50

var errNoOutput = errors.New("no strategy produced output")

// Config controls conversion.
type Config struct {
	MinLength int
}

// Converter is the conversion stage. It is safe for concurrent use.
type Converter struct {
	strategies []Strategy
	minLength  int
	logger     *zap.Logger
}

// New returns a Converter trying strategies in order. With no strategies the
// default chain is used.
func New(cfg Config, logger *zap.Logger, strategies ...Strategy) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinLength
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Converter{strategies: strategies, minLength: cfg.MinLength, logger: logger}
}

// Convert builds a draft from page. The draft title is never empty.
func (c *Converter) Convert(ctx context.Context, pageURL, page string) (clipper.DocumentDraft, error) {
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return clipper.DocumentDraft{}, &clipper.ConversionError{URL: pageURL, Err: fmt.Errorf("invalid page url %q", pageURL)}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return clipper.DocumentDraft{}, &clipper.ConversionError{URL: pageURL, Err: fmt.Errorf("parse html: %w", err)}
	}

	title, meta := extractMetadata(page, doc)
	meta.SourceURL = pageURL
	if title == "" {
		title = clipper.Domain(pageURL)
	}

	removeNoise(doc)
	region := selectContent(doc)
	assets := prepareMedia(region, base)

	fragment, err := goquery.OuterHtml(region)
	if err != nil {
		return clipper.DocumentDraft{}, &clipper.ConversionError{URL: pageURL, Err: fmt.Errorf("render content region: %w", err)}
	}

	markup, strategy, attempts, err := c.run(ctx, fragment, base)
	if err != nil {
		return clipper.DocumentDraft{}, &clipper.ConversionError{URL: pageURL, Attempts: attempts, Err: err}
	}
	c.logger.Debug("page converted",
		zap.String("url", pageURL),
		zap.String("strategy", strategy),
		zap.Int("assets", len(assets)),
	)
	return clipper.DocumentDraft{
		Title:    title,
		Markup:   markup,
		Metadata: meta,
		Assets:   assets,
		Strategy: strategy,
	}, nil
}

func (c *Converter) run(ctx context.Context, fragment string, base *url.URL) (string, string, []string, error) {
	attempts := make([]string, 0, len(c.strategies))
	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return "", "", attempts, err
		}
		attempts = append(attempts, s.Name())
		out, err := s.Convert(fragment, base)
		if err != nil {
			c.logger.Debug("strategy failed", zap.String("strategy", s.Name()), zap.Error(err))
			continue
		}
		out = Cleanup(out)
		last := i == len(c.strategies)-1
		if utf8.RuneCountInString(out) >= c.minLength || (last && out != "") {
			return out, s.Name(), attempts, nil
		}
		c.logger.Debug("strategy output too short",
			zap.String("strategy", s.Name()),
			zap.Int("runes", utf8.RuneCountInString(out)),
		)
	}
	return "", "", attempts, errNoOutput
}
