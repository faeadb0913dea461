package handlers

import (
	"context"
	"time"

	"github.com/ekaya-inc/sanctions-engine/pkg/apperrors"
	"github.com/ekaya-inc/sanctions-engine/pkg/models"
	"github.com/ekaya-inc/sanctions-engine/pkg/repositories"
	"github.com/ekaya-inc/sanctions-engine/pkg/services"
)

// mockSyncService is a configurable SanctionsSyncService.
type mockSyncService struct {
	meta           *models.SyncMetadata
	syncErr        error
	backfill       *services.BackfillResult
	backfillErr    error
	state          services.SyncState
	syncCalls      int
	syncCtxErr     error
	backfillCalled bool
}

func (m *mockSyncService) Sync(ctx context.Context) (*models.SyncMetadata, error) {
	m.syncCalls++
	m.syncCtxErr = ctx.Err()
	return m.meta, m.syncErr
}

func (m *mockSyncService) Backfill(_ context.Context) (*services.BackfillResult, error) {
	m.backfillCalled = true
	return m.backfill, m.backfillErr
}

func (m *mockSyncService) Wait(_ context.Context) error { return nil }

func (m *mockSyncService) State() services.SyncState { return m.state }

func (m *mockSyncService) RunScheduler(_ context.Context, _ time.Duration) {}

var _ services.SanctionsSyncService = (*mockSyncService)(nil)

// mockMatchService records the last query and returns a fixed response.
type mockMatchService struct {
	resp      *models.MatchResponse
	err       error
	lastQuery models.MatchQuery
}

func (m *mockMatchService) Search(_ context.Context, q models.MatchQuery) (*models.MatchResponse, error) {
	m.lastQuery = q
	if m.err != nil {
		return nil, m.err
	}
	if m.resp != nil {
		return m.resp, nil
	}
	return &models.MatchResponse{Query: q.Query, Stage: services.StageNone, Matches: []models.Match{}}, nil
}

var _ services.MatchService = (*mockMatchService)(nil)

// mockSanctionsRepo implements the read side of SanctionsRepository.
type mockSanctionsRepo struct {
	entities map[string]*models.SanctionedEntity
	syncs    []*models.SyncMetadata
	count    int
	err      error
	limit    int
}

func (m *mockSanctionsRepo) ReplaceAll(context.Context, []models.SanctionedEntity) error {
	return m.err
}

func (m *mockSanctionsRepo) SearchByNameOrAlias(context.Context, string, string, int) ([]*models.SanctionedEntity, error) {
	return nil, m.err
}

func (m *mockSanctionsRepo) ListCandidates(context.Context, string, int) ([]*models.SanctionedEntity, error) {
	return nil, m.err
}

func (m *mockSanctionsRepo) GetByUIDs(context.Context, []string) ([]*models.SanctionedEntity, error) {
	return nil, m.err
}

func (m *mockSanctionsRepo) GetByUID(_ context.Context, uid string) (*models.SanctionedEntity, error) {
	if m.err != nil {
		return nil, m.err
	}
	e, ok := m.entities[uid]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return e, nil
}

func (m *mockSanctionsRepo) ListAll(context.Context) ([]*models.SanctionedEntity, error) {
	return nil, m.err
}

func (m *mockSanctionsRepo) Count(context.Context) (int, error) {
	return m.count, m.err
}

func (m *mockSanctionsRepo) RecordSync(context.Context, *models.SyncMetadata) error {
	return m.err
}

func (m *mockSanctionsRepo) LatestSync(context.Context) (*models.SyncMetadata, error) {
	if len(m.syncs) == 0 {
		return nil, m.err
	}
	return m.syncs[0], m.err
}

func (m *mockSanctionsRepo) ListSyncs(_ context.Context, limit int) ([]*models.SyncMetadata, error) {
	m.limit = limit
	if m.err != nil {
		return nil, m.err
	}
	if len(m.syncs) > limit {
		return m.syncs[:limit], nil
	}
	return m.syncs, nil
}

var _ repositories.SanctionsRepository = (*mockSanctionsRepo)(nil)
