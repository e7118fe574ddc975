package converter

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

// minContentRunes is the text length a content candidate must exceed.
const minContentRunes = 200

const noiseElements = "script, style, noscript, iframe, nav, header, footer, aside, form"

var noiseTokens = map[string]bool{
	"nav": true, "menu": true, "sidebar": true, "footer": true, "ad": true, "advert": true,
	"share": true, "comment": true, "related": true, "breadcrumb": true, "cookie": true,
}

var contentSelectors = []string{
	"article", "main", "[role=main]", "#js_content", ".rich_media_content", ".post-content",
	".entry-content", ".article-content", ".content", "#content",
}

var lazyAttrs = []string{"data-src", "data-original", "data-lazy-src", "data-actualsrc"}

func removeNoise(doc *goquery.Document) {
	doc.Find(noiseElements).Remove()
	doc.Find("[class], [id]").Each(func(_ int, s *goquery.Selection) {
		if s.Is("html, body, main, article") || s.Find("article, main").Length() > 0 {
			return
		}
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		if isNoise(class) || isNoise(id) {
			s.Remove()
		}
	})
}

func isNoise(value string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(value), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, t := range tokens {
		if noiseTokens[t] {
			return true
		}
	}
	return false
}

func selectContent(doc *goquery.Document) *goquery.Selection {
	for _, sel := range contentSelectors {
		found := doc.Find(sel).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return runeCount(s.Text()) > minContentRunes
		})
		if found.Length() > 0 {
			return found.First()
		}
	}

	var best *goquery.Selection
	bestScore := minContentRunes
	doc.Find("div, section").Each(func(_ int, s *goquery.Selection) {
		if score := density(s); score > bestScore {
			best, bestScore = s, score
		}
	})
	if best != nil {
		return best
	}
	if body := doc.Find("body"); body.Length() > 0 {
		return body.First()
	}
	return doc.Selection
}

// density scores a candidate by its own text, discounting link text and
// favoring elements whose text is spread across paragraphs.
func density(s *goquery.Selection) int {
	text := runeCount(s.Text())
	links := runeCount(s.Find("a").Text())
	paragraphs := s.ChildrenFiltered("p").Length()
	return text - links + paragraphs*10
}

func runeCount(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

// prepareMedia promotes lazy-load attributes, resolves media locators against
// base and turns video and audio into links. It returns the media references
// in document order, one per distinct locator.
func prepareMedia(region *goquery.Selection, base *url.URL) []clipper.AssetReference {
	var refs []clipper.AssetReference
	seen := make(map[string]bool)
	add := func(locator string, kind clipper.AssetKind) {
		if locator == "" || seen[locator] || !isFetchable(locator) {
			return
		}
		seen[locator] = true
		refs = append(refs, clipper.AssetReference{Locator: locator, Kind: kind})
	}

	region.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if abs := resolve(base, href); abs != "" {
			s.SetAttr("href", abs)
		}
	})

	region.Find("img, video, audio").Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "img":
			src := lazySource(s)
			if src == "" {
				return
			}
			abs := resolve(base, src)
			s.SetAttr("src", abs)
			s.RemoveAttr("srcset")
			add(abs, clipper.AssetImage)
		case "video", "audio":
			kind := clipper.AssetVideo
			if goquery.NodeName(s) == "audio" {
				kind = clipper.AssetAudio
			}
			src := lazySource(s)
			if src == "" {
				src, _ = s.Find("source[src]").First().Attr("src")
			}
			if src == "" {
				s.Remove()
				return
			}
			abs := resolve(base, src)
			add(abs, kind)
			s.ReplaceWithNodes(mediaLink(abs, string(kind)))
		}
	})
	return refs
}

func lazySource(s *goquery.Selection) string {
	for _, a := range lazyAttrs {
		if v, ok := s.Attr(a); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	src, _ := s.Attr("src")
	return strings.TrimSpace(src)
}

func mediaLink(locator, label string) *html.Node {
	p := &html.Node{Type: html.ElementNode, Data: "p"}
	a := &html.Node{
		Type: html.ElementNode,
		Data: "a",
		Attr: []html.Attribute{{Key: "href", Val: locator}},
	}
	a.AppendChild(&html.Node{Type: html.TextNode, Data: label})
	p.AppendChild(a)
	return p
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "#") {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func isFetchable(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}
