package converter

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"2006年01月02日",
}

// extractMetadata reads OpenGraph tags and falls back to ordinary markup.
// It must run before noise removal so header elements are still present.
func extractMetadata(page string, doc *goquery.Document) (string, clipper.Metadata) {
	var meta clipper.Metadata
	og := opengraph.NewOpenGraph()
	if err := og.ProcessHTML(strings.NewReader(page)); err != nil {
		og = opengraph.NewOpenGraph()
	}

	title := clean(og.Title)
	if title == "" {
		title = clean(doc.Find("title").First().Text())
	}
	if title == "" {
		title = clean(doc.Find("h1").First().Text())
	}

	meta.Description = clean(og.Description)
	if meta.Description == "" {
		meta.Description = metaContent(doc, "meta[name=description]")
	}
	meta.SiteName = clean(og.SiteName)

	if og.Article != nil {
		meta.PublishedAt = og.Article.PublishedTime
		for _, a := range og.Article.Authors {
			if name := clean(a); name != "" {
				meta.Author = name
				break
			}
		}
	}
	// opengraph only reads og:article:author; the bare article:author tag is
	// more common and often holds a profile URL rather than a name.
	if meta.Author == "" {
		if a := metaContent(doc, "meta[property='article:author']"); !strings.HasPrefix(a, "http") {
			meta.Author = a
		}
	}
	if meta.Author == "" {
		meta.Author = metaContent(doc, "meta[name=author]")
	}
	if meta.Author == "" {
		meta.Author = clean(doc.Find("#js_name").First().Text())
	}
	if meta.PublishedAt == nil {
		meta.PublishedAt = publishedAt(doc)
	}
	return title, meta
}

func publishedAt(doc *goquery.Document) *time.Time {
	candidates := []string{
		metaContent(doc, "meta[property='article:published_time']"),
		attrOf(doc, "time[datetime]", "datetime"),
		metaContent(doc, "meta[itemprop=datePublished]"),
		clean(doc.Find("#publish_time").First().Text()),
	}
	for _, c := range candidates {
		if t, ok := parseTime(c); ok {
			return &t
		}
	}
	return nil
}

func parseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func metaContent(doc *goquery.Document, selector string) string {
	return attrOf(doc, selector, "content")
}

func attrOf(doc *goquery.Document, selector, attr string) string {
	v, _ := doc.Find(selector).First().Attr(attr)
	return clean(v)
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
