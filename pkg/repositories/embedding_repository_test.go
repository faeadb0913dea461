//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/sanctions-engine/pkg/models"
	"github.com/ekaya-inc/sanctions-engine/pkg/testhelpers"
)

func setupEmbeddingTest(t *testing.T) EmbeddingRepository {
	engineDB := testhelpers.GetEngineDB(t)
	engineDB.Reset(t)
	return NewEmbeddingRepository(engineDB.DB)
}

func embedding(uid, kind, hash, text string, vector ...float32) models.EntityEmbedding {
	return models.EntityEmbedding{
		EntityUID:   uid,
		SourceKind:  kind,
		ContentHash: hash,
		Text:        text,
		Model:       "test-model",
		Vector:      vector,
	}
}

func TestEmbeddingRepository_UpsertAndList(t *testing.T) {
	repo := setupEmbeddingTest(t)
	ctx := context.Background()

	rows := []models.EntityEmbedding{
		embedding("1001", models.EmbeddingSourceName, "h1", "NILE GRAIN", 1, 0),
		embedding("1001", models.EmbeddingSourceAlias, "h2", "النيل", 0.6, 0.8),
		embedding("1002", models.EmbeddingSourceName, "h3", "DESERT CEMENT", 0, 1),
	}
	require.NoError(t, repo.Upsert(ctx, rows))

	keys, err := repo.ListKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	assert.Contains(t, keys, models.EmbeddingKey{EntityUID: "1001", SourceKind: models.EmbeddingSourceAlias, ContentHash: "h2"})

	byEntity, err := repo.ListForEntities(ctx, []string{"1001"}, "test-model")
	require.NoError(t, err)
	require.Len(t, byEntity["1001"], 2)
	assert.Equal(t, models.EmbeddingSourceName, byEntity["1001"][0].SourceKind)
	assert.Equal(t, []float32{1, 0}, byEntity["1001"][0].Vector)
	assert.NotContains(t, byEntity, "1002")

	other, err := repo.ListForEntities(ctx, []string{"1001"}, "another-model")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestEmbeddingRepository_UpsertOverwrites(t *testing.T) {
	repo := setupEmbeddingTest(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, []models.EntityEmbedding{embedding("1", models.EmbeddingSourceName, "h", "A", 1, 0)}))
	require.NoError(t, repo.Upsert(ctx, []models.EntityEmbedding{embedding("1", models.EmbeddingSourceName, "h", "A", 0, 1)}))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	byEntity, err := repo.ListForEntities(ctx, []string{"1"}, "test-model")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, byEntity["1"][0].Vector)
}

func TestEmbeddingRepository_DeleteStale(t *testing.T) {
	repo := setupEmbeddingTest(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, []models.EntityEmbedding{
		embedding("1", models.EmbeddingSourceName, "old", "OLD NAME", 1),
		embedding("1", models.EmbeddingSourceName, "new", "NEW NAME", 1),
		embedding("2", models.EmbeddingSourceName, "h2", "GONE", 1),
	}))

	deleted, err := repo.DeleteStale(ctx, []models.EmbeddingKey{
		{EntityUID: "1", SourceKind: models.EmbeddingSourceName, ContentHash: "new"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	keys, err := repo.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.EmbeddingKey]struct{}{
		{EntityUID: "1", SourceKind: models.EmbeddingSourceName, ContentHash: "new"}: {},
	}, keys)
}

func TestEmbeddingRepository_DeleteStale_EmptyKeepClearsAll(t *testing.T) {
	repo := setupEmbeddingTest(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, []models.EntityEmbedding{embedding("1", models.EmbeddingSourceName, "h", "A", 1)}))

	deleted, err := repo.DeleteStale(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
