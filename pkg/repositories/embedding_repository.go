package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/sanctions-engine/pkg/apperrors"
	"github.com/ekaya-inc/sanctions-engine/pkg/database"
	"github.com/ekaya-inc/sanctions-engine/pkg/models"
)

// EmbeddingRepository stores precomputed name/alias vectors.
// Rows are keyed by (entity_uid, source_kind, content_hash) and outlive
// entity replacement so unchanged texts are never re-embedded.
type EmbeddingRepository interface {
	ListKeys(ctx context.Context) (map[models.EmbeddingKey]struct{}, error)
	Upsert(ctx context.Context, embeddings []models.EntityEmbedding) error
	ListForEntities(ctx context.Context, uids []string, model string) (map[string][]models.EntityEmbedding, error)
	// DeleteStale removes every row whose key is not in keep.
	DeleteStale(ctx context.Context, keep []models.EmbeddingKey) (int64, error)
	Count(ctx context.Context) (int, error)
}

type embeddingRepository struct {
	db *database.DB
}

// NewEmbeddingRepository creates a new EmbeddingRepository.
func NewEmbeddingRepository(db *database.DB) EmbeddingRepository {
	return &embeddingRepository{db: db}
}

var _ EmbeddingRepository = (*embeddingRepository)(nil)

func (r *embeddingRepository) ListKeys(ctx context.Context) (map[models.EmbeddingKey]struct{}, error) {
	rows, err := r.db.Query(ctx, `
		SELECT entity_uid, source_kind, content_hash
		FROM sanctioned_entity_embeddings`)
	if err != nil {
		return nil, &apperrors.StoreError{Op: "list embedding keys", Cause: err}
	}
	defer rows.Close()

	keys := make(map[models.EmbeddingKey]struct{})
	for rows.Next() {
		var k models.EmbeddingKey
		if err := rows.Scan(&k.EntityUID, &k.SourceKind, &k.ContentHash); err != nil {
			return nil, &apperrors.StoreError{Op: "list embedding keys", Cause: err}
		}
		keys[k] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.StoreError{Op: "list embedding keys", Cause: err}
	}
	return keys, nil
}

func (r *embeddingRepository) Upsert(ctx context.Context, embeddings []models.EntityEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	query := `
		INSERT INTO sanctioned_entity_embeddings (
			entity_uid, source_kind, content_hash, source_text, model, dimensions, vector
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (entity_uid, source_kind, content_hash) DO UPDATE SET
			source_text = EXCLUDED.source_text,
			model = EXCLUDED.model,
			dimensions = EXCLUDED.dimensions,
			vector = EXCLUDED.vector,
			created_at = now()`

	batch := &pgx.Batch{}
	for _, e := range embeddings {
		batch.Queue(query, e.EntityUID, e.SourceKind, e.ContentHash, e.Text, e.Model, len(e.Vector), e.Vector)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range embeddings {
		if _, err := br.Exec(); err != nil {
			return &apperrors.StoreError{Op: "upsert embedding", Cause: err}
		}
	}
	return nil
}

// ListForEntities returns the stored vectors for uids produced by model,
// grouped by entity uid.
func (r *embeddingRepository) ListForEntities(ctx context.Context, uids []string, model string) (map[string][]models.EntityEmbedding, error) {
	result := make(map[string][]models.EntityEmbedding)
	if len(uids) == 0 {
		return result, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT entity_uid, source_kind, content_hash, source_text, model, vector, created_at
		FROM sanctioned_entity_embeddings
		WHERE entity_uid = ANY($1) AND model = $2
		ORDER BY entity_uid, source_kind DESC, source_text`, uids, model)
	if err != nil {
		return nil, &apperrors.StoreError{Op: "load embeddings", Cause: err}
	}
	defer rows.Close()

	for rows.Next() {
		var e models.EntityEmbedding
		if err := rows.Scan(&e.EntityUID, &e.SourceKind, &e.ContentHash, &e.Text, &e.Model, &e.Vector, &e.CreatedAt); err != nil {
			return nil, &apperrors.StoreError{Op: "load embeddings", Cause: fmt.Errorf("failed to scan embedding row: %w", err)}
		}
		result[e.EntityUID] = append(result[e.EntityUID], e)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.StoreError{Op: "load embeddings", Cause: err}
	}
	return result, nil
}

func (r *embeddingRepository) DeleteStale(ctx context.Context, keep []models.EmbeddingKey) (int64, error) {
	uids := make([]string, len(keep))
	kinds := make([]string, len(keep))
	hashes := make([]string, len(keep))
	for i, k := range keep {
		uids[i], kinds[i], hashes[i] = k.EntityUID, k.SourceKind, k.ContentHash
	}

	tag, err := r.db.Exec(ctx, `
		DELETE FROM sanctioned_entity_embeddings e
		WHERE NOT EXISTS (
			SELECT 1
			FROM unnest($1::text[], $2::text[], $3::text[]) AS k(entity_uid, source_kind, content_hash)
			WHERE k.entity_uid = e.entity_uid
			  AND k.source_kind = e.source_kind
			  AND k.content_hash = e.content_hash
		)`, uids, kinds, hashes)
	if err != nil {
		return 0, &apperrors.StoreError{Op: "delete stale embeddings", Cause: err}
	}
	return tag.RowsAffected(), nil
}

func (r *embeddingRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM sanctioned_entity_embeddings`).Scan(&n); err != nil {
		return 0, &apperrors.StoreError{Op: "count embeddings", Cause: err}
	}
	return n, nil
}
