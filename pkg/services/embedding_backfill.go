package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sanctions-engine/pkg/apperrors"
	"github.com/ekaya-inc/sanctions-engine/pkg/llm"
	"github.com/ekaya-inc/sanctions-engine/pkg/metrics"
	"github.com/ekaya-inc/sanctions-engine/pkg/models"
	"github.com/ekaya-inc/sanctions-engine/pkg/repositories"
)

// ErrEmbeddingsDisabled is returned by Backfill when no embedding provider is configured.
var ErrEmbeddingsDisabled = errors.New("embedding provider not configured")

// BackfillResult summarizes one backfill run.
type BackfillResult struct {
	Entities   int   `json:"entities"`
	Texts      int   `json:"texts"`
	Existing   int   `json:"existing"`
	Computed   int   `json:"computed"`
	Failed     int   `json:"failed"`
	Pruned     int64 `json:"pruned"`
	DurationMs int64 `json:"duration_ms"`
}

// EmbeddingBackfillService precomputes name and alias vectors for the
// stored entity set.
type EmbeddingBackfillService interface {
	// Backfill embeds every entity text that has no vector for its current
	// content hash and prunes vectors for texts that no longer exist.
	// Failed batches are logged and skipped; those texts stay SQL-only.
	Backfill(ctx context.Context) (*BackfillResult, error)
}

// BackfillConfig tunes batching and per-call timeouts.
type BackfillConfig struct {
	BatchSize      int
	RequestTimeout time.Duration
}

type embeddingBackfillService struct {
	sanctionsRepo repositories.SanctionsRepository
	embeddingRepo repositories.EmbeddingRepository
	embedder      llm.Embedder
	pool          *llm.WorkerPool
	config        BackfillConfig
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// NewEmbeddingBackfillService creates a new EmbeddingBackfillService.
// embedder may be nil, in which case Backfill returns ErrEmbeddingsDisabled.
func NewEmbeddingBackfillService(
	sanctionsRepo repositories.SanctionsRepository,
	embeddingRepo repositories.EmbeddingRepository,
	embedder llm.Embedder,
	pool *llm.WorkerPool,
	config BackfillConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) EmbeddingBackfillService {
	if config.BatchSize < 1 {
		config.BatchSize = 100
	}
	return &embeddingBackfillService{
		sanctionsRepo: sanctionsRepo,
		embeddingRepo: embeddingRepo,
		embedder:      embedder,
		pool:          pool,
		config:        config,
		metrics:       m,
		logger:        logger.Named("embedding-backfill"),
	}
}

var _ EmbeddingBackfillService = (*embeddingBackfillService)(nil)

func (s *embeddingBackfillService) Backfill(ctx context.Context) (*BackfillResult, error) {
	if s.embedder == nil {
		return nil, ErrEmbeddingsDisabled
	}
	start := time.Now()
	model := s.embedder.EmbeddingModel()

	entities, err := s.sanctionsRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}

	var texts []EntityText
	for _, e := range entities {
		texts = append(texts, EntityTexts(e, model)...)
	}

	existing, err := s.embeddingRepo.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embedding keys: %w", err)
	}

	keep := make([]models.EmbeddingKey, 0, len(texts))
	var missing []EntityText
	for _, t := range texts {
		keep = append(keep, t.Key())
		if _, ok := existing[t.Key()]; !ok {
			missing = append(missing, t)
		}
	}

	result := &BackfillResult{
		Entities: len(entities),
		Texts:    len(texts),
		Existing: len(texts) - len(missing),
	}

	s.logger.Info("Starting embedding backfill",
		zap.String("model", model),
		zap.Int("entities", result.Entities),
		zap.Int("texts", result.Texts),
		zap.Int("missing", len(missing)))

	batches := chunk(missing, s.config.BatchSize)
	items := make([]llm.WorkItem[int], len(batches))
	for i, batch := range batches {
		items[i] = llm.WorkItem[int]{
			ID: fmt.Sprintf("batch-%d", i),
			Execute: func(ctx context.Context) (int, error) {
				return s.embedBatch(ctx, model, batch)
			},
		}
	}

	for i, r := range llm.Process(ctx, s.pool, items, nil) {
		if r.Err != nil {
			result.Failed += len(batches[i])
			s.logger.Warn("Embedding batch failed, texts stay SQL-only",
				zap.String("batch", r.ID),
				zap.Int("texts", len(batches[i])),
				zap.Error(r.Err))
			continue
		}
		result.Computed += r.Result
		result.Failed += len(batches[i]) - r.Result
	}
	s.metrics.AddEmbeddings(result.Computed, result.Failed)

	if err := ctx.Err(); err != nil {
		result.DurationMs = time.Since(start).Milliseconds()
		return result, err
	}

	pruned, err := s.embeddingRepo.DeleteStale(ctx, keep)
	if err != nil {
		return result, fmt.Errorf("prune stale embeddings: %w", err)
	}
	result.Pruned = pruned
	result.DurationMs = time.Since(start).Milliseconds()

	s.logger.Info("Embedding backfill complete",
		zap.Int("computed", result.Computed),
		zap.Int("failed", result.Failed),
		zap.Int("existing", result.Existing),
		zap.Int64("pruned", result.Pruned),
		zap.Int64("duration_ms", result.DurationMs))

	return result, nil
}

// embedBatch embeds and stores one batch. Returns the number of vectors stored.
func (s *embeddingBackfillService) embedBatch(ctx context.Context, model string, batch []EntityText) (int, error) {
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	inputs := make([]string, len(batch))
	for i, t := range batch {
		inputs[i] = t.Text
	}

	vectors, err := s.embedder.CreateEmbeddings(ctx, inputs)
	if err != nil {
		return 0, &apperrors.EmbeddingError{Items: len(batch), Cause: err}
	}
	if len(vectors) != len(batch) {
		return 0, &apperrors.EmbeddingError{
			Items: len(batch),
			Cause: fmt.Errorf("provider returned %d vectors for %d inputs", len(vectors), len(batch)),
		}
	}

	rows := make([]models.EntityEmbedding, 0, len(batch))
	for i, t := range batch {
		if len(vectors[i]) == 0 {
			s.logger.Debug("Provider returned empty vector", zap.String("entity_uid", t.EntityUID))
			continue
		}
		rows = append(rows, models.EntityEmbedding{
			EntityUID:   t.EntityUID,
			SourceKind:  t.SourceKind,
			Text:        t.Text,
			ContentHash: t.ContentHash,
			Model:       model,
			Vector:      normalizeVector(vectors[i]),
		})
	}

	if err := s.embeddingRepo.Upsert(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
