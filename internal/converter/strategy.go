package converter

import (
	"fmt"
	"net/url"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	mdconverter "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// Strategy names.
const (
	StrategyV2      = "html-to-markdown-v2"
	StrategyV1      = "html-to-markdown-v1"
	StrategyMinimal = "builtin-minimal"
)

// Strategy converts an HTML fragment to markdown.
type Strategy interface {
	Name() string
	Convert(html string, pageURL *url.URL) (string, error)
}

// DefaultStrategies returns the v2, v1 and builtin strategies in that order.
func DefaultStrategies() []Strategy {
	return []Strategy{NewV2Strategy(), NewV1Strategy(), MinimalStrategy{}}
}

// V2Strategy uses html-to-markdown v2 with table support.
type V2Strategy struct {
	conv *mdconverter.Converter
}

// NewV2Strategy builds the v2 converter once.
func NewV2Strategy() *V2Strategy {
	return &V2Strategy{
		conv: mdconverter.NewConverter(
			mdconverter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Name implements Strategy.
func (s *V2Strategy) Name() string { return StrategyV2 }

// Convert implements Strategy.
func (s *V2Strategy) Convert(html string, pageURL *url.URL) (string, error) {
	out, err := s.conv.ConvertString(html, mdconverter.WithDomain(pageURL.Scheme+"://"+pageURL.Host))
	if err != nil {
		return "", fmt.Errorf("html-to-markdown v2: %w", err)
	}
	return out, nil
}

// V1Strategy uses html-to-markdown v1 with the GitHub flavored plugin. Code
// blocks are fenced so later soft-break handling can recognise them.
type V1Strategy struct{}

// NewV1Strategy returns the v1 strategy.
func NewV1Strategy() V1Strategy { return V1Strategy{} }

// Name implements Strategy.
func (V1Strategy) Name() string { return StrategyV1 }

// Convert implements Strategy.
func (V1Strategy) Convert(html string, pageURL *url.URL) (string, error) {
	conv := md.NewConverter(pageURL.Host, true, &md.Options{CodeBlockStyle: "fenced"})
	conv.Use(plugin.GitHubFlavored())
	out, err := conv.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("html-to-markdown v1: %w", err)
	}
	return out, nil
}
