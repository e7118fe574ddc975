package clipper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestReasonMapsTaxonomy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		prefix string
	}{
		{"nil", nil, ""},
		{"network", &NetworkError{URL: "https://a", StatusCode: 502}, "network: "},
		{"wrapped network", fmt.Errorf("fetch page: %w", &NetworkError{URL: "https://a", Err: errors.New("refused")}), "network: "},
		{"encoding", &EncodingError{URL: "https://a", Err: errors.New("empty body")}, "encoding: "},
		{"conversion", &ConversionError{URL: "https://a", Attempts: []string{"x"}, Err: errors.New("short")}, "conversion: "},
		{"import", &ImportError{Path: "/a", Err: errors.New("code 1")}, "import: "},
		{"asset", &AssetError{Locator: "https://a/1.png", Stage: "fetch", Err: errors.New("404")}, "asset: "},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Reason(tc.err)
			if tc.prefix == "" {
				assert.Empty(t, got)
				return
			}
			assert.True(t, strings.HasPrefix(got, tc.prefix), "got %q", got)
		})
	}
}

func TestImportErrorKeepsArtifact(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("import: %w", &ImportError{
		Path:     "/clips/a",
		Artifact: ImportArtifact{Markup: "# a"},
		Err:      errors.New("rejected"),
	})
	var importErr *ImportError
	require.ErrorAs(t, err, &importErr)
	assert.Equal(t, "# a", importErr.Artifact.Markup)
}

func TestExponentialRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 10*time.Millisecond, 40*time.Millisecond)

	assert.False(t, p.ShouldRetry(nil, 0))
	assert.True(t, p.ShouldRetry(&NetworkError{URL: "u", Err: errors.New("refused")}, 1))
	assert.True(t, p.ShouldRetry(&NetworkError{URL: "u", Err: timeoutErr{}}, 1))
	assert.True(t, p.ShouldRetry(&NetworkError{URL: "u", StatusCode: http.StatusBadGateway}, 1))
	assert.True(t, p.ShouldRetry(&NetworkError{URL: "u", StatusCode: http.StatusTooManyRequests}, 1))
	assert.False(t, p.ShouldRetry(&NetworkError{URL: "u", StatusCode: http.StatusNotFound}, 1))
	assert.False(t, p.ShouldRetry(&NetworkError{URL: "u", Err: errors.New("refused")}, 3))
	assert.False(t, p.ShouldRetry(&ConversionError{URL: "u"}, 1))
	assert.False(t, p.ShouldRetry(fmt.Errorf("x: %w", context.Canceled), 1))

	for attempt := 0; attempt < 5; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 40*time.Millisecond)
	}
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	got, err := NormalizeURL(" HTTPS://Example.COM:443/a?b=2&a=1#frag ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a?a=1&b=2", got)

	_, err = NormalizeURL("/relative/only")
	assert.Error(t, err)
}

func TestDomainAndDocumentName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", Domain("https://www.Example.com/x"))
	assert.Equal(t, "", Domain("::bad"))

	assert.Equal(t, "a b c", DocumentName("a/b:c"))
	assert.Equal(t, "untitled", DocumentName("  ​ "))
	assert.Equal(t, "标题 测试", DocumentName("标题\n测试"))
	long := strings.Repeat("长", 100)
	assert.Equal(t, 80, len([]rune(DocumentName(long))))

	assert.Equal(t, "/clips/doc", JoinPath("/clips/", "doc"))
	assert.Equal(t, "/doc", JoinPath("", "doc"))
}

func TestOutcomeRecord(t *testing.T) {
	t.Parallel()

	now := time.Unix(100, 0)
	o := Outcome{
		RunID:      "run-1",
		URL:        "https://a",
		Status:     StatusPartial,
		FinishedAt: now,
		Assets: AssetReport{
			{Locator: "1", LocalID: "x"},
			{Locator: "2", Err: errors.New("404")},
		},
	}
	rec := o.Record(Target{Notebook: "nb", Path: "/p"})
	assert.Equal(t, 2, rec.AssetsTotal)
	assert.Equal(t, 1, rec.AssetsResolved)
	assert.Equal(t, "nb", rec.Notebook)
	assert.Len(t, o.Assets.Failed(), 1)
}
