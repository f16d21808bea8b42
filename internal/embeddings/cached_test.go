package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedQueryEmbedsOnce(t *testing.T) {
	fake := &fakeProvider{}
	c, err := NewCached(fake, 8, "test-model")
	require.NoError(t, err)

	first, err := c.EmbedQuery(context.Background(), "42")
	require.NoError(t, err)
	second, err := c.EmbedQuery(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.queryCalls)
}

func TestCachedDistinctQueries(t *testing.T) {
	fake := &fakeProvider{}
	c, err := NewCached(fake, 8, "test-model")
	require.NoError(t, err)

	_, err = c.EmbedQuery(context.Background(), "1")
	require.NoError(t, err)
	_, err = c.EmbedQuery(context.Background(), "2")
	require.NoError(t, err)

	assert.Equal(t, 2, fake.queryCalls)
}

func TestCachedFailureIsNotCached(t *testing.T) {
	fake := &fakeProvider{failNextQuery: true}
	c, err := NewCached(fake, 8, "test-model")
	require.NoError(t, err)

	_, err = c.EmbedQuery(context.Background(), "7")
	require.Error(t, err)

	vector, err := c.EmbedQuery(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, []float32{7}, vector)
	assert.Equal(t, 2, fake.queryCalls)
}

func TestCachedDocumentsPassThrough(t *testing.T) {
	fake := &fakeProvider{}
	c, err := NewCached(fake, 8, "test-model")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = c.EmbedDocuments(context.Background(), numberedTexts(3))
		require.NoError(t, err)
	}
	assert.Equal(t, []int{3, 3}, fake.batchSizes())
}
