package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sanctions-engine/pkg/llm"
	"github.com/ekaya-inc/sanctions-engine/pkg/models"
)

func nileGrain() models.SanctionedEntity {
	return models.SanctionedEntity{
		UID:        "200",
		Name:       "NILE GRAIN TRADING CO",
		EntityType: models.EntityTypeEntity,
		Aliases:    []string{"NILE GRAIN", "NILE GRAIN"},
		Countries:  []string{"Egypt"},
	}
}

func desertCement() models.SanctionedEntity {
	return models.SanctionedEntity{
		UID:        "300",
		Name:       "DESERT CEMENT",
		EntityType: models.EntityTypeEntity,
		Aliases:    []string{},
		Countries:  []string{"Syria"},
	}
}

func hanifaTrading() models.SanctionedEntity {
	return models.SanctionedEntity{
		UID:        "400",
		Name:       "HANIFA TRADING",
		EntityType: models.EntityTypeEntity,
		Aliases:    []string{"حنيفة للتجارة"},
		Countries:  []string{"United Arab Emirates"},
	}
}

func newTestBackfill(repo *memorySanctionsRepo, embRepo *memoryEmbeddingRepo, embedder llm.Embedder, batchSize int) EmbeddingBackfillService {
	logger := zap.NewNop()
	return NewEmbeddingBackfillService(
		repo, embRepo, embedder,
		llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: 2}, logger),
		BackfillConfig{BatchSize: batchSize},
		nil, logger,
	)
}

func TestBackfill_EmbedsNamesAndDistinctAliases(t *testing.T) {
	repo := newMemorySanctionsRepo(nileGrain(), hanifaTrading())
	embRepo := newMemoryEmbeddingRepo()
	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingsFunc = fakeEmbed

	result, err := newTestBackfill(repo, embRepo, mock, 100).Backfill(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, result.Entities)
	assert.Equal(t, 4, result.Texts)
	assert.Equal(t, 4, result.Computed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 0, result.Existing)

	n, err := embRepo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Stored vectors are unit length.
	v := embRepo.vectorFor("200", models.EmbeddingSourceAlias, "NILE GRAIN", mock.EmbeddingModel())
	require.NotNil(t, v)
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-6)
}

func TestBackfill_OnlyNewEntityIsEmbedded(t *testing.T) {
	ctx := context.Background()
	repo := newMemorySanctionsRepo(nileGrain())
	embRepo := newMemoryEmbeddingRepo()
	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingsFunc = fakeEmbed
	svc := newTestBackfill(repo, embRepo, mock, 100)

	_, err := svc.Backfill(ctx)
	require.NoError(t, err)
	mock.Reset()

	// The next snapshot adds one alias-less entity.
	require.NoError(t, repo.ReplaceAll(ctx, []models.SanctionedEntity{nileGrain(), desertCement()}))

	result, err := svc.Backfill(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Computed)
	assert.Equal(t, 2, result.Existing)
	assert.Equal(t, []string{"DESERT CEMENT"}, mock.EmbeddedInputs())
	assert.Equal(t, 1, mock.EmbeddingCalls())
}

func TestBackfill_NothingMissingMakesNoProviderCalls(t *testing.T) {
	ctx := context.Background()
	repo := newMemorySanctionsRepo(nileGrain())
	embRepo := newMemoryEmbeddingRepo()
	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingsFunc = fakeEmbed
	svc := newTestBackfill(repo, embRepo, mock, 100)

	_, err := svc.Backfill(ctx)
	require.NoError(t, err)
	mock.Reset()

	result, err := svc.Backfill(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Computed)
	assert.Equal(t, 0, mock.EmbeddingCalls())
}

func TestBackfill_FailedBatchIsSkipped(t *testing.T) {
	repo := newMemorySanctionsRepo(nileGrain(), desertCement(), hanifaTrading())
	embRepo := newMemoryEmbeddingRepo()
	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingsFunc = func(ctx context.Context, inputs []string) ([][]float32, error) {
		for _, in := range inputs {
			if in == "DESERT CEMENT" {
				return nil, errors.New("HTTP 503 service unavailable")
			}
		}
		return fakeEmbed(ctx, inputs)
	}

	result, err := newTestBackfill(repo, embRepo, mock, 1).Backfill(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 5, result.Texts)
	assert.Equal(t, 4, result.Computed)
	assert.Equal(t, 1, result.Failed)
	assert.Nil(t, embRepo.vectorFor("300", models.EmbeddingSourceName, "DESERT CEMENT", mock.EmbeddingModel()))
	assert.NotNil(t, embRepo.vectorFor("200", models.EmbeddingSourceName, "NILE GRAIN TRADING CO", mock.EmbeddingModel()))
}

func TestBackfill_EmptyVectorNotStored(t *testing.T) {
	repo := newMemorySanctionsRepo(desertCement())
	embRepo := newMemoryEmbeddingRepo()
	mock := llm.NewMockLLMClient() // default returns zero-length vectors

	result, err := newTestBackfill(repo, embRepo, mock, 10).Backfill(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, result.Computed)
	assert.Equal(t, 1, result.Failed)
}

func TestBackfill_PrunesRenamedAndRemovedTexts(t *testing.T) {
	ctx := context.Background()
	repo := newMemorySanctionsRepo(nileGrain(), desertCement())
	embRepo := newMemoryEmbeddingRepo()
	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingsFunc = fakeEmbed
	svc := newTestBackfill(repo, embRepo, mock, 100)

	_, err := svc.Backfill(ctx)
	require.NoError(t, err)

	renamed := nileGrain()
	renamed.Name = "NILE GRAIN TRADING COMPANY"
	require.NoError(t, repo.ReplaceAll(ctx, []models.SanctionedEntity{renamed}))

	result, err := svc.Backfill(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Computed)
	assert.Equal(t, int64(2), result.Pruned) // old name of 200 and all of 300
	model := mock.EmbeddingModel()
	assert.Nil(t, embRepo.vectorFor("200", models.EmbeddingSourceName, "NILE GRAIN TRADING CO", model))
	assert.NotNil(t, embRepo.vectorFor("200", models.EmbeddingSourceName, "NILE GRAIN TRADING COMPANY", model))
	assert.NotNil(t, embRepo.vectorFor("200", models.EmbeddingSourceAlias, "NILE GRAIN", model))
}

func TestBackfill_ModelChangeReembeds(t *testing.T) {
	ctx := context.Background()
	repo := newMemorySanctionsRepo(desertCement())
	embRepo := newMemoryEmbeddingRepo()
	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingsFunc = fakeEmbed

	_, err := newTestBackfill(repo, embRepo, mock, 10).Backfill(ctx)
	require.NoError(t, err)

	mock.Embedding = "other-model"
	result, err := newTestBackfill(repo, embRepo, mock, 10).Backfill(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Computed)
	assert.Equal(t, int64(1), result.Pruned)
}

func TestBackfill_Disabled(t *testing.T) {
	svc := newTestBackfill(newMemorySanctionsRepo(), newMemoryEmbeddingRepo(), nil, 10)

	_, err := svc.Backfill(context.Background())

	assert.ErrorIs(t, err, ErrEmbeddingsDisabled)
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunk([]int{1, 2, 3, 4, 5}, 2))
	assert.Nil(t, chunk([]int{}, 3))
}
