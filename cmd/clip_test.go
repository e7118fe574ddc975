package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

const testConfig = `
logging:
  development: false
  level: error
storage:
  backend: memory
notes:
  backend: memory
pipeline:
  max_attempts: 1
  notebook: nb
  path: /web
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestParseURLList(t *testing.T) {
	t.Parallel()

	urls, err := parseURLList(strings.NewReader(`
# reading list
https://example.com/a

  https://example.com/b  
#https://example.com/skipped
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, urls)
}

func TestWriteOutcomes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	failed := writeOutcomes(&buf, []clipper.Outcome{
		{URL: "https://a", Status: clipper.StatusSucceeded, StorePath: "/web/A"},
		{URL: "https://b", Status: clipper.StatusPartial, StorePath: "/web/B", Reason: "1 of 2 assets left remote: asset"},
		{URL: "https://c", Status: clipper.StatusFailed, Reason: "network"},
	})
	assert.Equal(t, 1, failed)
	assert.Equal(t,
		"succeeded\thttps://a\t/web/A\n"+
			"partial\thttps://b\t/web/B 1 of 2 assets left remote: asset\n"+
			"failed\thttps://c\tnetwork\n",
		buf.String())
}

func TestClipCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/article" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Tide Tables</title></head><body><article>
<p>High tide arrives a little later each day as the moon moves along its orbit.</p>
<p>Harbour pilots plan their crossings around the slack water between tides.</p>
</article></body></html>`))
	}))
	defer srv.Close()

	cfgPath := writeFile(t, "clipper.yaml", testConfig)
	listPath := writeFile(t, "urls.txt", "# batch\n"+srv.URL+"/missing\n")

	var out bytes.Buffer
	root, cleanup := newRootCmd()
	defer cleanup()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "clip", srv.URL + "/article", "--file", listPath})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 clips failed")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "succeeded\t"+srv.URL+"/article\t/web/Tide Tables", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "failed\t"+srv.URL+"/missing\t"), lines[1])
}

func TestClipCommandRequiresURLs(t *testing.T) {
	cfgPath := writeFile(t, "clipper.yaml", testConfig)

	root, cleanup := newRootCmd()
	defer cleanup()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "clip"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no urls given")
}
