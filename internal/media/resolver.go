// Package media downloads the assets a draft references, validates and
// deduplicates them by content, and stores each distinct blob once.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/famotime/siyuan-scripts/internal/clipper"
	"github.com/famotime/siyuan-scripts/internal/fetch"
	"github.com/famotime/siyuan-scripts/internal/metrics"
)

// Validation stages reported in clipper.AssetError.
const (
	StageFetch    = "fetch"
	StageValidate = "validate"
	StageStore    = "store"
)

// Config controls asset resolution.
type Config struct {
	Concurrency int
	Timeout     time.Duration
	MinBytes    int
	Prefix      string
	Headers     http.Header
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MinBytes <= 0 {
		c.MinBytes = 100
	}
	if c.Prefix == "" {
		c.Prefix = "assets"
	}
	return c
}

// Resolver is the media stage. A Resolver may serve concurrent Resolve calls;
// deduplication is scoped to a single call.
type Resolver struct {
	transport clipper.Transport
	store     clipper.BlobStore
	hasher    clipper.Hasher
	limiter   clipper.HostLimiter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Resolver. limiter may be nil.
func New(
	transport clipper.Transport,
	store clipper.BlobStore,
	hasher clipper.Hasher,
	limiter clipper.HostLimiter,
	cfg Config,
	logger *zap.Logger,
) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		transport: transport,
		store:     store,
		hasher:    hasher,
		limiter:   limiter,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// stored is shared by every task whose bytes hash to the same digest.
type stored struct {
	done  chan struct{}
	asset clipper.LocalAsset
	err   error
}

type batch struct {
	mu     sync.Mutex
	hashes map[string]*stored
	paths  map[string]string
}

// Resolve fetches refs with at most limit concurrent downloads (limit <= 0
// uses the configured concurrency). References sharing a locator are fetched
// once. The report lists one result per reference in reference order; the map
// holds only resolved locators. After all downloads finish, ContentHash and
// LocalID are filled in on the resolved entries of refs.
func (r *Resolver) Resolve(ctx context.Context, refs []clipper.AssetReference, limit int) (clipper.AssetMap, clipper.AssetReport) {
	if limit <= 0 {
		limit = r.cfg.Concurrency
	}

	// owners[t] is the first reference index for task t; taskOf maps every
	// reference to its task.
	taskOf := make([]int, len(refs))
	owners := make([]int, 0, len(refs))
	byLocator := make(map[string]int, len(refs))
	for i, ref := range refs {
		t, ok := byLocator[ref.Locator]
		if !ok {
			t = len(owners)
			byLocator[ref.Locator] = t
			owners = append(owners, i)
		}
		taskOf[i] = t
	}

	results := make([]clipper.AssetResult, len(owners))
	digests := make([]string, len(owners))
	b := &batch{hashes: make(map[string]*stored), paths: make(map[string]string)}

	var g errgroup.Group
	g.SetLimit(limit)
	for t, i := range owners {
		g.Go(func() error {
			results[t], digests[t] = r.resolveOne(ctx, b, refs[i])
			return nil
		})
	}
	_ = g.Wait()

	report := make(clipper.AssetReport, len(refs))
	assets := make(clipper.AssetMap, len(owners))
	for i := range refs {
		t := taskOf[i]
		res := results[t]
		res.Kind = refs[i].Kind
		if owners[t] != i && res.Resolved() {
			res.Reused = true
		}
		report[i] = res
		if !res.Resolved() {
			metrics.ObserveAsset("failed")
			r.logger.Warn("asset left remote",
				zap.String("locator", res.Locator),
				zap.Error(res.Err),
			)
			continue
		}
		if res.Reused {
			metrics.ObserveAsset("reused")
		} else {
			metrics.ObserveAsset("stored")
		}
		refs[i].LocalID = res.LocalID
		refs[i].ContentHash = digests[t]
		assets[res.Locator] = clipper.LocalAsset{ID: res.LocalID, Path: b.paths[res.LocalID]}
	}
	return assets, report
}

func (r *Resolver) resolveOne(ctx context.Context, b *batch, ref clipper.AssetReference) (clipper.AssetResult, string) {
	result := clipper.AssetResult{Locator: ref.Locator, Kind: ref.Kind}
	var digest string
	fail := func(stage string, err error) (clipper.AssetResult, string) {
		result.Err = &clipper.AssetError{Locator: ref.Locator, Stage: stage, Err: err}
		return result, digest
	}

	taskCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if r.limiter != nil {
		if err := r.limiter.Wait(taskCtx, ref.Locator); err != nil {
			return fail(StageFetch, err)
		}
	}
	raw, err := r.transport.Get(taskCtx, clipper.Request{URL: ref.Locator, Headers: r.cfg.Headers, Timeout: r.cfg.Timeout})
	if err != nil {
		return fail(StageFetch, &clipper.NetworkError{URL: ref.Locator, Err: err})
	}
	if raw.StatusCode != http.StatusOK {
		return fail(StageFetch, &clipper.NetworkError{URL: ref.Locator, StatusCode: raw.StatusCode})
	}
	body, _, err := fetch.Decompress(raw.Body, raw.ContentEncoding())
	if err != nil {
		r.logger.Debug("asset decompression failed, using raw bytes", zap.String("locator", ref.Locator), zap.Error(err))
	}

	contentType, err := Validate(body, ref.Kind, raw.ContentType(), r.cfg.MinBytes)
	if err != nil {
		return fail(StageValidate, err)
	}

	digest, err = r.hasher.Hash(body)
	if err != nil {
		return fail(StageStore, fmt.Errorf("hash: %w", err))
	}

	entry, owner := b.claim(digest)
	if !owner {
		select {
		case <-entry.done:
		case <-taskCtx.Done():
			return fail(StageStore, taskCtx.Err())
		}
		if entry.err != nil {
			return fail(StageStore, entry.err)
		}
		result.LocalID = entry.asset.ID
		result.Reused = true
		return result, digest
	}

	localID := LocalID(digest, contentType, ref.Locator)
	locator, err := r.store.PutObject(taskCtx, r.cfg.Prefix+"/"+localID, contentType, bytes.NewReader(body))
	if err == nil && locator == "" {
		err = errors.New("store returned an empty locator")
	}
	b.finish(entry, clipper.LocalAsset{ID: localID, Path: locator}, err)
	if err != nil {
		return fail(StageStore, err)
	}
	result.LocalID = localID
	return result, digest
}

// claim returns the entry for digest and whether the caller must store it.
func (b *batch) claim(digest string) (*stored, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.hashes[digest]; ok {
		return s, false
	}
	s := &stored{done: make(chan struct{})}
	b.hashes[digest] = s
	return s, true
}

func (b *batch) finish(s *stored, asset clipper.LocalAsset, err error) {
	b.mu.Lock()
	s.asset, s.err = asset, err
	if err == nil {
		b.paths[asset.ID] = asset.Path
	}
	b.mu.Unlock()
	close(s.done)
}
