package importer

import (
	"regexp"
	"strings"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

// linkTargetRe matches the destination of an inline link or image:
// "](dest)", "](<dest>)" and "](dest "title")".
var linkTargetRe = regexp.MustCompile(`\]\(\s*(<[^>\n]*>|[^\s()]+)(\s+(?:"[^"\n]*"|'[^'\n]*'))?\s*\)`)

// htmlSrcRe matches src/href attributes in raw HTML left in the markup.
var htmlSrcRe = regexp.MustCompile(`(\s(?:src|href)=")([^"]+)(")`)

// RewriteAssets replaces every mapped locator in link and image targets with
// its local path. Unmapped locators stay as they are.
func RewriteAssets(markup string, assets clipper.AssetMap) string {
	if len(assets) == 0 {
		return markup
	}
	markup = linkTargetRe.ReplaceAllStringFunc(markup, func(m string) string {
		sub := linkTargetRe.FindStringSubmatch(m)
		dest := strings.TrimSuffix(strings.TrimPrefix(sub[1], "<"), ">")
		asset, ok := assets[dest]
		if !ok {
			return m
		}
		return "](" + asset.Path + sub[2] + ")"
	})
	return htmlSrcRe.ReplaceAllStringFunc(markup, func(m string) string {
		sub := htmlSrcRe.FindStringSubmatch(m)
		asset, ok := assets[sub[2]]
		if !ok {
			return m
		}
		return sub[1] + asset.Path + sub[3]
	})
}
