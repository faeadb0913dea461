package tools

import (
	"context"
	"time"

	"github.com/ekaya-inc/sanctions-engine/pkg/apperrors"
	"github.com/ekaya-inc/sanctions-engine/pkg/models"
	"github.com/ekaya-inc/sanctions-engine/pkg/repositories"
	"github.com/ekaya-inc/sanctions-engine/pkg/services"
)

type mockMatchService struct {
	resp      *models.MatchResponse
	err       error
	calls     int
	lastQuery models.MatchQuery
}

func (m *mockMatchService) Search(_ context.Context, q models.MatchQuery) (*models.MatchResponse, error) {
	m.calls++
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

type mockSyncService struct {
	state services.SyncState
}

func (m *mockSyncService) Sync(context.Context) (*models.SyncMetadata, error) { return nil, nil }

func (m *mockSyncService) Backfill(context.Context) (*services.BackfillResult, error) {
	return nil, nil
}

func (m *mockSyncService) Wait(context.Context) error { return nil }

func (m *mockSyncService) State() services.SyncState { return m.state }

func (m *mockSyncService) RunScheduler(context.Context, time.Duration) {}

var _ services.SanctionsSyncService = (*mockSyncService)(nil)

type mockSanctionsRepo struct {
	entities  map[string]*models.SanctionedEntity
	syncs     []*models.SyncMetadata
	count     int
	err       error
	lastLimit int
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
	if e, ok := m.entities[uid]; ok {
		return e, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockSanctionsRepo) ListAll(context.Context) ([]*models.SanctionedEntity, error) {
	return nil, m.err
}

func (m *mockSanctionsRepo) Count(context.Context) (int, error) { return m.count, m.err }

func (m *mockSanctionsRepo) RecordSync(context.Context, *models.SyncMetadata) error { return m.err }

func (m *mockSanctionsRepo) LatestSync(context.Context) (*models.SyncMetadata, error) {
	if len(m.syncs) == 0 {
		return nil, m.err
	}
	return m.syncs[0], m.err
}

func (m *mockSanctionsRepo) ListSyncs(_ context.Context, limit int) ([]*models.SyncMetadata, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.syncs[:min(limit, len(m.syncs))], nil
}

var _ repositories.SanctionsRepository = (*mockSanctionsRepo)(nil)
