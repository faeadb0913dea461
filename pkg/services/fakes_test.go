package services

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ekaya-inc/sanctions-engine/pkg/apperrors"
	"github.com/ekaya-inc/sanctions-engine/pkg/models"
	"github.com/ekaya-inc/sanctions-engine/pkg/repositories"
)

// memorySanctionsRepo is an in-memory SanctionsRepository with the same
// matching semantics as the SQL implementation.
type memorySanctionsRepo struct {
	mu       sync.Mutex
	entities []*models.SanctionedEntity
	syncs    []*models.SyncMetadata

	replaceErr error
	searchErr  error
	listErr    error

	searchCalls int
	listCalls   int
	replaces    int
}

func newMemorySanctionsRepo(entities ...models.SanctionedEntity) *memorySanctionsRepo {
	r := &memorySanctionsRepo{}
	r.set(entities)
	return r
}

func (r *memorySanctionsRepo) set(entities []models.SanctionedEntity) {
	r.entities = make([]*models.SanctionedEntity, len(entities))
	for i := range entities {
		e := entities[i]
		r.entities[i] = &e
	}
	sort.SliceStable(r.entities, func(i, j int) bool { return r.entities[i].UID < r.entities[j].UID })
}

func (r *memorySanctionsRepo) ReplaceAll(_ context.Context, entities []models.SanctionedEntity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replaceErr != nil {
		return &apperrors.StoreError{Op: "replace", Cause: r.replaceErr}
	}
	r.replaces++
	r.set(entities)
	return nil
}

func countryMatches(countries []string, country string) bool {
	if country == "" {
		return true
	}
	q := strings.ToLower(country)
	for _, c := range countries {
		lc := strings.ToLower(c)
		if strings.Contains(lc, q) || strings.Contains(q, lc) {
			return true
		}
	}
	return false
}

func (r *memorySanctionsRepo) SearchByNameOrAlias(_ context.Context, query, country string, limit int) ([]*models.SanctionedEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searchCalls++
	if r.searchErr != nil {
		return nil, &apperrors.StoreError{Op: "search", Cause: r.searchErr}
	}
	q := strings.ToLower(query)
	out := []*models.SanctionedEntity{}
	for _, e := range r.entities {
		if len(out) == limit {
			break
		}
		hit := strings.Contains(strings.ToLower(e.Name), q)
		for _, a := range e.Aliases {
			hit = hit || strings.Contains(strings.ToLower(a), q)
		}
		if hit && countryMatches(e.Countries, country) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memorySanctionsRepo) ListCandidates(_ context.Context, country string, limit int) ([]*models.SanctionedEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	if r.listErr != nil {
		return nil, &apperrors.StoreError{Op: "list candidates", Cause: r.listErr}
	}
	out := []*models.SanctionedEntity{}
	for _, e := range r.entities {
		if len(out) == limit {
			break
		}
		if countryMatches(e.Countries, country) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memorySanctionsRepo) GetByUIDs(_ context.Context, uids []string) ([]*models.SanctionedEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.SanctionedEntity{}
	for _, uid := range uids {
		for _, e := range r.entities {
			if e.UID == uid {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (r *memorySanctionsRepo) GetByUID(ctx context.Context, uid string) (*models.SanctionedEntity, error) {
	found, _ := r.GetByUIDs(ctx, []string{uid})
	if len(found) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return found[0], nil
}

func (r *memorySanctionsRepo) ListAll(_ context.Context) ([]*models.SanctionedEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.SanctionedEntity{}, r.entities...), nil
}

func (r *memorySanctionsRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entities), nil
}

func (r *memorySanctionsRepo) RecordSync(_ context.Context, meta *models.SyncMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta.ID = int64(len(r.syncs) + 1)
	copied := *meta
	r.syncs = append(r.syncs, &copied)
	return nil
}

func (r *memorySanctionsRepo) LatestSync(_ context.Context) (*models.SyncMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.syncs) == 0 {
		return nil, nil
	}
	return r.syncs[len(r.syncs)-1], nil
}

func (r *memorySanctionsRepo) ListSyncs(_ context.Context, limit int) ([]*models.SyncMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.SyncMetadata{}
	for i := len(r.syncs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.syncs[i])
	}
	return out, nil
}

func (r *memorySanctionsRepo) storedUIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	uids := make([]string, len(r.entities))
	for i, e := range r.entities {
		uids[i] = e.UID
	}
	return uids
}

var _ repositories.SanctionsRepository = (*memorySanctionsRepo)(nil)

// memoryEmbeddingRepo is an in-memory EmbeddingRepository.
type memoryEmbeddingRepo struct {
	mu      sync.Mutex
	rows    map[models.EmbeddingKey]models.EntityEmbedding
	loadErr error
}

func newMemoryEmbeddingRepo() *memoryEmbeddingRepo {
	return &memoryEmbeddingRepo{rows: make(map[models.EmbeddingKey]models.EntityEmbedding)}
}

func (r *memoryEmbeddingRepo) ListKeys(_ context.Context) (map[models.EmbeddingKey]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make(map[models.EmbeddingKey]struct{}, len(r.rows))
	for k := range r.rows {
		keys[k] = struct{}{}
	}
	return keys, nil
}

func (r *memoryEmbeddingRepo) Upsert(_ context.Context, embeddings []models.EntityEmbedding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range embeddings {
		r.rows[e.Key()] = e
	}
	return nil
}

func (r *memoryEmbeddingRepo) ListForEntities(_ context.Context, uids []string, model string) (map[string][]models.EntityEmbedding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, &apperrors.StoreError{Op: "load embeddings", Cause: r.loadErr}
	}
	wanted := make(map[string]bool, len(uids))
	for _, u := range uids {
		wanted[u] = true
	}
	out := make(map[string][]models.EntityEmbedding)
	for _, e := range r.rows {
		if wanted[e.EntityUID] && e.Model == model {
			out[e.EntityUID] = append(out[e.EntityUID], e)
		}
	}
	for uid := range out {
		sort.Slice(out[uid], func(i, j int) bool { return out[uid][i].Text < out[uid][j].Text })
	}
	return out, nil
}

func (r *memoryEmbeddingRepo) DeleteStale(_ context.Context, keep []models.EmbeddingKey) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keepSet := make(map[models.EmbeddingKey]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}
	var n int64
	for k := range r.rows {
		if !keepSet[k] {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}

func (r *memoryEmbeddingRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows), nil
}

func (r *memoryEmbeddingRepo) vectorFor(uid, kind, text, model string) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[models.EmbeddingKey{EntityUID: uid, SourceKind: kind, ContentHash: ContentHash(model, text)}].Vector
}

var _ repositories.EmbeddingRepository = (*memoryEmbeddingRepo)(nil)

// fakeEmbeddings maps known texts to fixed vectors, standing in for a
// multilingual model: translations of one name share a direction.
var fakeEmbeddings = map[string][]float32{
	"HANIFA TRADING":        {1, 0, 0},
	"Hanifa Trading":        {1, 0, 0},
	"حنيفة":                 {0.95, 0.05, 0},
	"حنيفة للتجارة":         {0.97, 0.03, 0},
	"NILE GRAIN TRADING CO": {0, 1, 0},
	"NILE GRAIN":            {0, 0.98, 0.02},
	"DESERT CEMENT":         {0, 0, 1},
	"ABC":                   {0.2, 0.2, 0.2},
}

// fakeEmbed returns the known vector for each input, or a vector orthogonal
// to all known ones.
func fakeEmbed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		if v, ok := fakeEmbeddings[in]; ok {
			out[i] = append([]float32(nil), v...)
			continue
		}
		out[i] = []float32{0, 0, 0.01}
	}
	return out, nil
}
