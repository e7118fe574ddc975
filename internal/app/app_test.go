package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/famotime/siyuan-scripts/internal/clipper"
	"github.com/famotime/siyuan-scripts/internal/config"
	"github.com/famotime/siyuan-scripts/internal/converter"
)

const articleHTML = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Quiet Rivers</title>
<meta name="author" content="Lin"></head>
<body><article><h1>Quiet Rivers</h1>
<p>Rivers move slowly through the plains and carry silt down to the delta every spring.</p>
<p>Farmers along the banks plant rice once the water has settled and the fields have dried.</p>
</article></body></html>`

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = config.BackendMemory
	cfg.Notes.Backend = config.BackendMemory
	cfg.DB.DSN = ""
	cfg.PubSub.TopicName = ""
	cfg.Pipeline.MaxAttempts = 1
	return cfg
}

func TestNewWithMemoryBackends(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Runner())
	assert.NotNil(t, a.Outcomes())
	assert.NotNil(t, a.Logger())
	assert.Empty(t, a.Checks())
}

func TestNewClipsPageEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	a, err := New(context.Background(), memoryConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	outcomes := a.Runner().RunBatch(context.Background(), []string{srv.URL + "/rivers"}, clipper.Target{Notebook: "nb", Path: "/web"})
	require.Len(t, outcomes, 1)
	out := outcomes[0]
	require.Equal(t, clipper.StatusSucceeded, out.Status, out.Reason)
	assert.Equal(t, "/web/Quiet Rivers", out.StorePath)

	rec, err := a.Outcomes().Get(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, clipper.StatusSucceeded, rec.Status)
	assert.Equal(t, "nb", rec.Notebook)
}

func TestNewLocalBackendsCreateDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := memoryConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.LocalDir = filepath.Join(dir, "assets")
	cfg.Notes.Backend = config.BackendLocal
	cfg.Notes.LocalDir = filepath.Join(dir, "notes")

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	for _, sub := range []string{"assets", "notes"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestNewSiYuanBackendRegistersReadiness(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notebook/lsNotebooks" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"msg":"","data":{"notebooks":[]}}`))
	}))
	defer srv.Close()

	cfg := memoryConfig(t)
	cfg.Storage.Backend = config.BackendSiYuan
	cfg.Notes.Backend = config.BackendSiYuan
	cfg.SiYuan.BaseURL = srv.URL

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	check, ok := a.Checks()["siyuan"]
	require.True(t, ok)
	assert.NoError(t, check(context.Background()))
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Converter.Strategies = []string{"pandoc"}

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pandoc")
}

func TestBuildStrategiesKeepsOrder(t *testing.T) {
	t.Parallel()

	strategies, err := buildStrategies([]string{converter.StrategyMinimal, converter.StrategyV2})
	require.NoError(t, err)
	require.Len(t, strategies, 2)
	assert.Equal(t, converter.StrategyMinimal, strategies[0].Name())
	assert.Equal(t, converter.StrategyV2, strategies[1].Name())
}

func TestBuildRegistry(t *testing.T) {
	t.Parallel()

	reg := buildRegistry(config.RewriterConfig{
		Marker:    "原文链接",
		ScanLines: 10,
		Hosts: map[string][]string{
			"lark":   {"larksuite.com"},
			"feishu": {"feishu.cn"},
		},
	}, nil)
	assert.Equal(t, []string{"feishu", "lark"}, reg.Handlers())

	text := strings.Join([]string{"Weekly notes", "原文链接：https://example.com/post/1"}, "\n")
	target, ok := reg.Inspect("https://team.feishu.cn/wiki/abc", text)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/post/1", target.ResolvedURL)

	defaults := buildRegistry(config.RewriterConfig{}, nil)
	assert.NotEmpty(t, defaults.Handlers())
}
