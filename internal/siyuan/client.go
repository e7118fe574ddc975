// Package siyuan is a client for the SiYuan kernel API. It implements
// clipper.NoteStore for documents and clipper.BlobStore for asset uploads.
package siyuan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

const (
	defaultBaseURL   = "http://127.0.0.1:6806"
	defaultTimeout   = 30 * time.Second
	defaultAssetsDir = "/assets/"
)

// ErrNotebookNotFound is returned when no notebook matches a name or ID.
var ErrNotebookNotFound = errors.New("notebook not found")

var notebookIDRe = regexp.MustCompile(`^\d{14}-[0-9a-z]{7}$`)

// APIError is a non-zero code in the kernel's response envelope.
type APIError struct {
	Endpoint string
	Code     int
	Msg      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("siyuan %s: code %d: %s", e.Endpoint, e.Code, e.Msg)
}

// Config holds connection settings.
type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	AssetsDir string
}

// Notebook is one entry of lsNotebooks.
type Notebook struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Closed bool   `json:"closed"`
}

// Client talks to one SiYuan kernel. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.Mutex
	notebooks map[string]string
	writeMu   sync.Mutex
}

var (
	_ clipper.NoteStore = (*Client)(nil)
	_ clipper.BlobStore = (*Client)(nil)
)

// New constructs a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.AssetsDir == "" {
		cfg.AssetsDir = defaultAssetsDir
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		notebooks:  make(map[string]string),
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// call posts payload as JSON to endpoint and decodes the envelope's data
// into out (when out is non-nil).
func (c *Client) call(ctx context.Context, endpoint string, payload, out any) error {
	if payload == nil {
		payload = struct{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, endpoint, out)
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Token "+c.cfg.Token)
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("siyuan %s: %w", endpoint, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("failed to close response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("siyuan %s: http status %d", endpoint, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	c.logger.Debug("siyuan call",
		zap.String("endpoint", endpoint),
		zap.Int("code", env.Code),
		zap.Duration("duration", time.Since(start)),
	)
	if env.Code != 0 {
		return &APIError{Endpoint: endpoint, Code: env.Code, Msg: env.Msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", endpoint, err)
	}
	return nil
}

// Notebooks lists the notebooks of the workspace.
func (c *Client) Notebooks(ctx context.Context) ([]Notebook, error) {
	var data struct {
		Notebooks []Notebook `json:"notebooks"`
	}
	if err := c.call(ctx, "/api/notebook/lsNotebooks", nil, &data); err != nil {
		return nil, err
	}
	return data.Notebooks, nil
}

// NotebookID resolves a notebook name or ID to its ID. Results are cached.
func (c *Client) NotebookID(ctx context.Context, nameOrID string) (string, error) {
	c.mu.Lock()
	id, ok := c.notebooks[nameOrID]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	notebooks, err := c.Notebooks(ctx)
	if err != nil {
		return "", err
	}
	for _, nb := range notebooks {
		if nb.ID == nameOrID || nb.Name == nameOrID {
			id = nb.ID
			break
		}
	}
	if id == "" {
		if notebookIDRe.MatchString(nameOrID) {
			id = nameOrID
		} else {
			return "", fmt.Errorf("%w: %q", ErrNotebookNotFound, nameOrID)
		}
	}
	c.mu.Lock()
	c.notebooks[nameOrID] = id
	c.mu.Unlock()
	return id, nil
}

// DocumentExists looks the human-readable path up with getIDsByHPath.
func (c *Client) DocumentExists(ctx context.Context, notebook, docPath string) (string, bool, error) {
	nb, err := c.NotebookID(ctx, notebook)
	if err != nil {
		return "", false, err
	}
	return c.lookup(ctx, nb, docPath)
}

func (c *Client) lookup(ctx context.Context, notebookID, docPath string) (string, bool, error) {
	var ids []string
	payload := map[string]string{"path": cleanPath(docPath), "notebook": notebookID}
	if err := c.call(ctx, "/api/filetree/getIDsByHPath", payload, &ids); err != nil {
		return "", false, err
	}
	if len(ids) == 0 {
		return "", false, nil
	}
	return ids[0], true, nil
}

// CreateDocument creates the document with createDocWithMd unless the path
// already holds one, in which case the existing ID is returned.
func (c *Client) CreateDocument(ctx context.Context, notebook, docPath, markup string) (string, bool, error) {
	nb, err := c.NotebookID(ctx, notebook)
	if err != nil {
		return "", false, err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if id, ok, err := c.lookup(ctx, nb, docPath); err != nil {
		return "", false, err
	} else if ok {
		return id, false, nil
	}
	id, err := c.create(ctx, nb, docPath, markup)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (c *Client) create(ctx context.Context, notebookID, docPath, markup string) (string, error) {
	var id string
	payload := map[string]string{"notebook": notebookID, "path": cleanPath(docPath), "markdown": markup}
	if err := c.call(ctx, "/api/filetree/createDocWithMd", payload, &id); err != nil {
		return "", err
	}
	c.logger.Info("document created", zap.String("path", docPath), zap.String("document_id", id))
	return id, nil
}

// EnsurePath creates every missing ancestor document of docPath.
func (c *Client) EnsurePath(ctx context.Context, notebook, docPath string) error {
	nb, err := c.NotebookID(ctx, notebook)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	parts := strings.Split(strings.Trim(cleanPath(docPath), "/"), "/")
	for i := 1; i < len(parts); i++ {
		ancestor := "/" + strings.Join(parts[:i], "/")
		_, ok, err := c.lookup(ctx, nb, ancestor)
		if err != nil {
			return fmt.Errorf("look up %q: %w", ancestor, err)
		}
		if ok {
			continue
		}
		if _, err := c.create(ctx, nb, ancestor, ""); err != nil {
			return fmt.Errorf("create %q: %w", ancestor, err)
		}
	}
	return nil
}

type operation struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

type transaction struct {
	DoOperations []operation `json:"doOperations"`
}

// UpsertBlock updates block.ID with updateBlock, positions a new block with
// insertBlock when a sibling is named, and otherwise prepends it to ParentID.
func (c *Client) UpsertBlock(ctx context.Context, block clipper.Block) (string, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if block.ID != "" {
		payload := map[string]string{"id": block.ID, "data": block.Data, "dataType": "markdown"}
		if err := c.call(ctx, "/api/block/updateBlock", payload, nil); err != nil {
			return "", err
		}
		return block.ID, nil
	}

	endpoint := "/api/block/prependBlock"
	payload := map[string]string{"data": block.Data, "dataType": "markdown", "parentID": block.ParentID}
	if block.PreviousID != "" || block.NextID != "" {
		endpoint = "/api/block/insertBlock"
		payload["previousID"] = block.PreviousID
		payload["nextID"] = block.NextID
	}
	var txs []transaction
	if err := c.call(ctx, endpoint, payload, &txs); err != nil {
		return "", err
	}
	for _, tx := range txs {
		for _, op := range tx.DoOperations {
			if op.ID != "" {
				return op.ID, nil
			}
		}
	}
	return "", fmt.Errorf("siyuan %s: no block id in response", endpoint)
}

// PutObject uploads data into the assets directory and returns the path the
// kernel assigned, for example "assets/cover-20240101120000-abcdefg.png".
func (c *Client) PutObject(ctx context.Context, objectPath, contentType string, data io.Reader) (string, error) {
	const endpoint = "/api/asset/upload"
	name := path.Base(objectPath)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("assetsDirPath", c.cfg.AssetsDir); err != nil {
		return "", fmt.Errorf("write form field: %w", err)
	}
	part, err := mw.CreateFormFile("file[]", name)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return "", fmt.Errorf("copy asset body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result struct {
		ErrFiles []string          `json:"errFiles"`
		SuccMap  map[string]string `json:"succMap"`
	}
	if err := c.do(req, endpoint, &result); err != nil {
		return "", err
	}
	locator, ok := result.SuccMap[name]
	if !ok {
		return "", fmt.Errorf("siyuan %s: %s not in upload result (content type %s)", endpoint, name, contentType)
	}
	return locator, nil
}

func cleanPath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}
