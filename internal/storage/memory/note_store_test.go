package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

func TestNoteStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewNoteStore()
	ctx := context.Background()

	require.NoError(t, store.EnsurePath(ctx, "nb", "/web/2024/Doc"))
	assert.True(t, store.HasFolder("nb", "/web"))
	assert.True(t, store.HasFolder("nb", "/web/2024"))
	assert.False(t, store.HasFolder("nb", "/web/2024/Doc"))

	id, created, err := store.CreateDocument(ctx, "nb", "/web/2024/Doc", "body")
	require.NoError(t, err)
	assert.True(t, created)

	same, created, err := store.CreateDocument(ctx, "nb", "/web/2024/Doc", "other")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, same)

	blockID, err := store.UpsertBlock(ctx, clipper.Block{ParentID: id, Data: "header"})
	require.NoError(t, err)
	doc, ok := store.Document("nb", "/web/2024/Doc")
	require.True(t, ok)
	assert.Equal(t, "header\n\nbody", doc.Markup)

	_, err = store.UpsertBlock(ctx, clipper.Block{ID: blockID, Data: "new header"})
	require.NoError(t, err)
	_, err = store.UpsertBlock(ctx, clipper.Block{ID: "nope", Data: "x"})
	assert.ErrorIs(t, err, ErrBlockNotFound)

	assert.Len(t, store.Documents(), 1)
}

func TestNoteStoreFailWrites(t *testing.T) {
	t.Parallel()

	store := NewNoteStore()
	boom := errors.New("store offline")
	store.FailWrites(boom)

	_, _, err := store.CreateDocument(context.Background(), "nb", "/Doc", "x")
	assert.ErrorIs(t, err, boom)

	store.FailWrites(nil)
	_, created, err := store.CreateDocument(context.Background(), "nb", "/Doc", "x")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestOutcomeStore(t *testing.T) {
	t.Parallel()

	store := NewOutcomeStore()
	ctx := context.Background()
	rec := clipper.OutcomeRecord{ID: "run-1", URL: "https://example.com", Status: clipper.StatusFailed, ClippedAt: time.Now()}
	require.NoError(t, store.RecordOutcome(ctx, rec))

	rec.Status = clipper.StatusSucceeded
	require.NoError(t, store.RecordOutcome(ctx, rec))
	require.NoError(t, store.RecordOutcome(ctx, clipper.OutcomeRecord{ID: "run-2"}))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, clipper.StatusSucceeded, got.Status)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-2", all[1].ID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrOutcomeNotFound)
}
