// Package importer finalizes a draft into a note store document: it rewrites
// asset locators, normalizes soft line breaks, adds the metadata header and
// creates the document idempotently.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

// Header placement modes.
const (
	HeaderInline = "inline"
	HeaderBlock  = "block"
	HeaderNone   = "none"
)

// Existing document policies.
const (
	OnExistsSkip   = "skip"
	OnExistsRename = "rename"
)

const defaultMaxRenames = 50

var errNoFreeName = errors.New("no free document name")

// Config controls import behavior.
type Config struct {
	Header     string
	OnExists   string
	MaxRenames int
}

// Importer is the final pipeline stage.
type Importer struct {
	store  clipper.NoteStore
	clock  clipper.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs an Importer. Unknown modes fall back to inline headers and
// the skip policy.
func New(store clipper.NoteStore, clock clipper.Clock, cfg Config, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Header {
	case HeaderInline, HeaderBlock, HeaderNone:
	default:
		cfg.Header = HeaderInline
	}
	if cfg.OnExists != OnExistsRename {
		cfg.OnExists = OnExistsSkip
	}
	if cfg.MaxRenames <= 0 {
		cfg.MaxRenames = defaultMaxRenames
	}
	return &Importer{store: store, clock: clock, cfg: cfg, logger: logger}
}

// Build assembles the artifact for draft without touching the note store.
func (i *Importer) Build(draft clipper.DocumentDraft, assets clipper.AssetMap, target clipper.Target) clipper.ImportArtifact {
	markup := NormalizeBreaks(RewriteAssets(draft.Markup, assets))
	artifact := clipper.ImportArtifact{
		SourceURL: draft.Metadata.SourceURL,
		Title:     draft.Title,
		Markup:    markup,
		Assets:    assets,
		Target:    target,
	}
	if i.cfg.Header == HeaderNone {
		return artifact
	}
	artifact.Header = Header(draft, i.clock.Now())
	if i.cfg.Header == HeaderInline {
		artifact.Markup = artifact.Header + "\n\n" + markup
	}
	return artifact
}

// Import builds the artifact and sends it to the note store. On a store
// failure the artifact is returned inside a *clipper.ImportError as well.
func (i *Importer) Import(
	ctx context.Context,
	draft clipper.DocumentDraft,
	assets clipper.AssetMap,
	target clipper.Target,
) (clipper.ImportArtifact, error) {
	return i.Send(ctx, i.Build(draft, assets, target))
}

// Send writes a built artifact. It is also used to resubmit an artifact
// retained from an earlier ImportError.
func (i *Importer) Send(ctx context.Context, artifact clipper.ImportArtifact) (clipper.ImportArtifact, error) {
	fail := func(err error) (clipper.ImportArtifact, error) {
		return artifact, &clipper.ImportError{Path: artifact.Target.Path, Artifact: artifact, Err: err}
	}
	target := artifact.Target

	if err := i.store.EnsurePath(ctx, target.Notebook, target.Path); err != nil {
		return fail(fmt.Errorf("ensure parent folders: %w", err))
	}

	id, created, err := i.store.CreateDocument(ctx, target.Notebook, target.Path, artifact.Markup)
	if err != nil {
		return fail(fmt.Errorf("create document: %w", err))
	}
	if !created {
		if i.cfg.OnExists == OnExistsSkip {
			i.logger.Info("document exists, skipping",
				zap.String("notebook", target.Notebook),
				zap.String("path", target.Path),
				zap.String("document_id", id),
			)
			artifact.DocumentID = id
			return artifact, nil
		}
		id, target.Path, err = i.createRenamed(ctx, target, artifact.Markup)
		if err != nil {
			return fail(err)
		}
		artifact.Target = target
	}
	artifact.DocumentID = id

	if i.cfg.Header == HeaderBlock && artifact.Header != "" {
		if _, err := i.store.UpsertBlock(ctx, clipper.Block{ParentID: id, Data: artifact.Header}); err != nil {
			return fail(fmt.Errorf("insert header block: %w", err))
		}
	}
	i.logger.Info("document imported",
		zap.String("notebook", target.Notebook),
		zap.String("path", target.Path),
		zap.String("document_id", id),
	)
	return artifact, nil
}

func (i *Importer) createRenamed(ctx context.Context, target clipper.Target, markup string) (string, string, error) {
	for n := 2; n <= i.cfg.MaxRenames+1; n++ {
		candidate := fmt.Sprintf("%s (%d)", target.Path, n)
		if _, exists, err := i.store.DocumentExists(ctx, target.Notebook, candidate); err != nil {
			return "", "", fmt.Errorf("check %q: %w", candidate, err)
		} else if exists {
			continue
		}
		id, created, err := i.store.CreateDocument(ctx, target.Notebook, candidate, markup)
		if err != nil {
			return "", "", fmt.Errorf("create document: %w", err)
		}
		if created {
			return id, candidate, nil
		}
	}
	return "", "", fmt.Errorf("%w after %d attempts for %q", errNoFreeName, i.cfg.MaxRenames, target.Path)
}

// Header renders the metadata header as a blockquote.
func Header(draft clipper.DocumentDraft, clippedAt time.Time) string {
	lines := []string{"title: " + draft.Title}
	if src := draft.Metadata.SourceURL; src != "" {
		lines = append(lines, fmt.Sprintf("url: [%s](%s)", src, src))
	}
	if draft.Metadata.Author != "" {
		lines = append(lines, "author: "+draft.Metadata.Author)
	}
	if draft.Metadata.SiteName != "" {
		lines = append(lines, "site: "+draft.Metadata.SiteName)
	}
	if draft.Metadata.PublishedAt != nil {
		lines = append(lines, "published: "+draft.Metadata.PublishedAt.Format("2006-01-02 15:04"))
	}
	if draft.Metadata.Description != "" {
		lines = append(lines, "abstract: "+draft.Metadata.Description)
	}
	lines = append(lines, "clipped: "+clippedAt.Format("2006-01-02 15:04"))
	return "> " + strings.Join(lines, "\n> ")
}
