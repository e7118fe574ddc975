package siyuan

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

const testNotebookID = "20240101120000-abcdefg"

// fakeKernel is a minimal in-process stand-in for the SiYuan kernel API.
type fakeKernel struct {
	t *testing.T

	mu     sync.Mutex
	docs   map[string]string
	calls  []string
	bodies map[string][]map[string]string
	code   int
}

func newFakeKernel(t *testing.T) (*fakeKernel, *httptest.Server) {
	t.Helper()
	k := &fakeKernel{t: t, docs: make(map[string]string), bodies: make(map[string][]map[string]string)}
	srv := httptest.NewServer(http.HandlerFunc(k.serve))
	t.Cleanup(srv.Close)
	return k, srv
}

func (k *fakeKernel) reply(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	code := k.code
	msg := ""
	if code != 0 {
		msg = "kernel says no"
		data = nil
	}
	require.NoError(k.t, json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg, "data": data}))
}

func (k *fakeKernel) serve(w http.ResponseWriter, r *http.Request) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls = append(k.calls, r.URL.Path)

	if r.Header.Get("Authorization") != "Token secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if r.URL.Path == "/api/asset/upload" {
		require.NoError(k.t, r.ParseMultipartForm(1<<20))
		assert.Equal(k.t, "/assets/", r.FormValue("assetsDirPath"))
		files := r.MultipartForm.File["file[]"]
		require.Len(k.t, files, 1)
		f, err := files[0].Open()
		require.NoError(k.t, err)
		body, err := io.ReadAll(f)
		require.NoError(k.t, err)
		assert.Equal(k.t, "png-bytes", string(body))
		name := files[0].Filename
		k.reply(w, map[string]any{
			"errFiles": []string{},
			"succMap":  map[string]string{name: "assets/" + strings.TrimSuffix(name, ".png") + "-20240101-xyz.png"},
		})
		return
	}

	var payload map[string]string
	if r.ContentLength > 0 {
		require.NoError(k.t, json.NewDecoder(r.Body).Decode(&payload))
	}
	k.bodies[r.URL.Path] = append(k.bodies[r.URL.Path], payload)

	switch r.URL.Path {
	case "/api/notebook/lsNotebooks":
		k.reply(w, map[string]any{"notebooks": []Notebook{{ID: testNotebookID, Name: "剪藏笔记本"}}})
	case "/api/filetree/getIDsByHPath":
		if id, ok := k.docs[payload["path"]]; ok {
			k.reply(w, []string{id})
			return
		}
		k.reply(w, []string{})
	case "/api/filetree/createDocWithMd":
		id := "doc-" + strings.Trim(strings.ReplaceAll(payload["path"], "/", "-"), "-")
		k.docs[payload["path"]] = id
		k.reply(w, id)
	case "/api/block/prependBlock", "/api/block/insertBlock":
		k.reply(w, []map[string]any{{"doOperations": []map[string]string{{"action": "insert", "id": "block-1"}}}})
	case "/api/block/updateBlock":
		k.reply(w, []map[string]any{})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (k *fakeKernel) count(endpoint string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, c := range k.calls {
		if c == endpoint {
			n++
		}
	}
	return n
}

func newTestClient(srv *httptest.Server) *Client {
	return New(Config{BaseURL: srv.URL + "/", Token: "secret"}, srv.Client(), nil)
}

func TestNotebookID(t *testing.T) {
	t.Parallel()
	k, srv := newFakeKernel(t)
	c := newTestClient(srv)
	ctx := context.Background()

	id, err := c.NotebookID(ctx, "剪藏笔记本")
	require.NoError(t, err)
	assert.Equal(t, testNotebookID, id)

	id, err = c.NotebookID(ctx, "剪藏笔记本")
	require.NoError(t, err)
	assert.Equal(t, testNotebookID, id)
	assert.Equal(t, 1, k.count("/api/notebook/lsNotebooks"), "lookup should be cached")

	id, err = c.NotebookID(ctx, "20250101000000-zzzzzzz")
	require.NoError(t, err)
	assert.Equal(t, "20250101000000-zzzzzzz", id)

	_, err = c.NotebookID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotebookNotFound)
}

func TestCreateDocumentIsIdempotent(t *testing.T) {
	t.Parallel()
	k, srv := newFakeKernel(t)
	c := newTestClient(srv)
	ctx := context.Background()

	id, created, err := c.CreateDocument(ctx, "剪藏笔记本", "/知识点滴/文章", "# body")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "doc-知识点滴-文章", id)

	again, created, err := c.CreateDocument(ctx, "剪藏笔记本", "/知识点滴/文章", "# body")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, k.count("/api/filetree/createDocWithMd"))

	k.mu.Lock()
	body := k.bodies["/api/filetree/createDocWithMd"][0]
	k.mu.Unlock()
	assert.Equal(t, testNotebookID, body["notebook"])
	assert.Equal(t, "# body", body["markdown"])

	existing, ok, err := c.DocumentExists(ctx, "剪藏笔记本", "/知识点滴/文章")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, existing)
}

func TestEnsurePathCreatesMissingAncestors(t *testing.T) {
	t.Parallel()
	k, srv := newFakeKernel(t)
	c := newTestClient(srv)
	ctx := context.Background()

	k.mu.Lock()
	k.docs["/a"] = "doc-a"
	k.mu.Unlock()

	require.NoError(t, c.EnsurePath(ctx, testNotebookID, "/a/b/c/doc"))

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Contains(t, k.docs, "/a/b")
	assert.Contains(t, k.docs, "/a/b/c")
	assert.NotContains(t, k.docs, "/a/b/c/doc")
	created := k.bodies["/api/filetree/createDocWithMd"]
	require.Len(t, created, 2)
	assert.Equal(t, "", created[0]["markdown"])
}

func TestUpsertBlock(t *testing.T) {
	t.Parallel()
	k, srv := newFakeKernel(t)
	c := newTestClient(srv)
	ctx := context.Background()

	id, err := c.UpsertBlock(ctx, clipper.Block{ParentID: "doc-1", Data: "> title: x"})
	require.NoError(t, err)
	assert.Equal(t, "block-1", id)
	assert.Equal(t, 1, k.count("/api/block/prependBlock"))

	id, err = c.UpsertBlock(ctx, clipper.Block{ParentID: "doc-1", NextID: "block-0", Data: "x"})
	require.NoError(t, err)
	assert.Equal(t, "block-1", id)
	assert.Equal(t, 1, k.count("/api/block/insertBlock"))

	id, err = c.UpsertBlock(ctx, clipper.Block{ID: "block-9", Data: "updated"})
	require.NoError(t, err)
	assert.Equal(t, "block-9", id)
	assert.Equal(t, 1, k.count("/api/block/updateBlock"))

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Equal(t, "markdown", k.bodies["/api/block/prependBlock"][0]["dataType"])
	assert.Equal(t, "block-0", k.bodies["/api/block/insertBlock"][0]["nextID"])
	assert.Equal(t, "block-9", k.bodies["/api/block/updateBlock"][0]["id"])
}

func TestPutObjectUploadsAsset(t *testing.T) {
	t.Parallel()
	_, srv := newFakeKernel(t)
	c := newTestClient(srv)

	locator, err := c.PutObject(context.Background(), "assets/0123456789abcdef.png", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "assets/0123456789abcdef-20240101-xyz.png", locator)
}

func TestAPIErrors(t *testing.T) {
	t.Parallel()
	k, srv := newFakeKernel(t)
	ctx := context.Background()

	k.mu.Lock()
	k.code = -1
	k.mu.Unlock()
	_, err := newTestClient(srv).Notebooks(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -1, apiErr.Code)
	assert.Equal(t, "/api/notebook/lsNotebooks", apiErr.Endpoint)

	unauth := New(Config{BaseURL: srv.URL, Token: "wrong"}, srv.Client(), nil)
	_, err = unauth.Notebooks(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http status 401")
}
