package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New(0)
	id1, err := pub.Publish(context.Background(), "clip.completed", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "clip.failed", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "clip.completed", msgs[0].Topic)
	assert.Equal(t, []any{"payload"}, pub.Topic("clip.failed"))

	msgs[0].Topic = "modified"
	assert.Equal(t, "clip.completed", pub.Messages()[0].Topic, "Messages returns a copy")
}

func TestPublisherLimit(t *testing.T) {
	t.Parallel()

	pub := New(2)
	for i := 0; i < 5; i++ {
		_, err := pub.Publish(context.Background(), "t", i)
		require.NoError(t, err)
	}
	assert.Equal(t, []any{3, 4}, pub.Topic("t"))
}
