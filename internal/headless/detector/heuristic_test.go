package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

func TestHeuristic_ShouldRender_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100, 50)
	require.True(t, h.ShouldRender(clipper.FetchResult{StatusCode: 200}))
}

func TestHeuristic_ShouldRender_SPAShell(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100, 50)
	page := clipper.FetchResult{
		StatusCode: 200,
		Text:       `<html><body><div id="__next"></div><script src="/app.js"></script></body></html>`,
	}
	require.True(t, h.ShouldRender(page))
}

func TestHeuristic_ShouldRender_SPAWithServerText(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100, 50)
	page := clipper.FetchResult{
		StatusCode: 200,
		Text:       `<html><body><div id="app"><p>` + strings.Repeat("内容", 60) + `</p></div></body></html>`,
	}
	require.False(t, h.ShouldRender(page))
}

func TestHeuristic_ShouldRender_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000, 50)
	page := clipper.FetchResult{
		StatusCode: 200,
		Text:       `<html><script>var a=1;</script><p>t</p></html>`,
	}
	require.True(t, h.ShouldRender(page))
}

func TestHeuristic_ShouldRender_SkipsNon200AndRendered(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100, 50)
	require.False(t, h.ShouldRender(clipper.FetchResult{StatusCode: 404, Text: "not found"}))
	require.False(t, h.ShouldRender(clipper.FetchResult{StatusCode: 200, Rendered: true}))
}

func TestVisibleTextLengthIgnoresScripts(t *testing.T) {
	t.Parallel()

	require.Equal(t, 4, visibleTextLength(`<p>ab cd</p><script>var long = "ignored";</script><style>p{}</style>`))
}
