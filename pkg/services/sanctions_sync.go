package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ekaya-inc/sanctions-engine/pkg/apperrors"
	"github.com/ekaya-inc/sanctions-engine/pkg/logging"
	"github.com/ekaya-inc/sanctions-engine/pkg/metrics"
	"github.com/ekaya-inc/sanctions-engine/pkg/models"
	"github.com/ekaya-inc/sanctions-engine/pkg/repositories"
	"github.com/ekaya-inc/sanctions-engine/pkg/retry"
	"github.com/ekaya-inc/sanctions-engine/pkg/sanctions"
)

// DocumentFetcher downloads the raw sanctions publication.
// Implemented by *sanctions.Fetcher.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SyncState is a point-in-time view of the sync job.
type SyncState struct {
	SyncRunning     bool            `json:"sync_running"`
	BackfillRunning bool            `json:"backfill_running"`
	LastBackfill    *BackfillResult `json:"last_backfill,omitempty"`
	LastBackfillErr string          `json:"last_backfill_error,omitempty"`
}

// SanctionsSyncService runs the download, parse, filter and replace
// pipeline followed by an embedding backfill.
type SanctionsSyncService interface {
	// Sync runs one ingestion. At most one sync or backfill runs at a time;
	// a concurrent call returns apperrors.ErrSyncInProgress. Sync returns
	// once the store is replaced; the backfill continues in the background
	// and holds the job lock until it finishes.
	Sync(ctx context.Context) (*models.SyncMetadata, error)

	// Backfill runs an embedding backfill under the same job lock.
	Backfill(ctx context.Context) (*BackfillResult, error)

	// Wait blocks until no sync or backfill is running.
	Wait(ctx context.Context) error

	// State reports whether a job is running and the last backfill outcome.
	State() SyncState

	// RunScheduler starts a background loop that syncs every interval,
	// starting immediately. Cancel the context to stop it.
	RunScheduler(ctx context.Context, interval time.Duration)
}

// SyncConfig configures the ingestion pipeline.
type SyncConfig struct {
	SourceURL       string
	FetchMaxRetries int
}

type sanctionsSyncService struct {
	fetcher  DocumentFetcher
	parser   *sanctions.Parser
	filter   *sanctions.Filter
	repo     repositories.SanctionsRepository
	backfill EmbeddingBackfillService
	config   SyncConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// job serializes syncs and backfills.
	job             *semaphore.Weighted
	syncRunning     atomic.Bool
	backfillRunning atomic.Bool

	mu              sync.Mutex
	lastBackfill    *BackfillResult
	lastBackfillErr error
}

// NewSanctionsSyncService creates a new SanctionsSyncService.
// backfill may be nil when no embedding provider is configured.
func NewSanctionsSyncService(
	fetcher DocumentFetcher,
	parser *sanctions.Parser,
	filter *sanctions.Filter,
	repo repositories.SanctionsRepository,
	backfill EmbeddingBackfillService,
	config SyncConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) SanctionsSyncService {
	return &sanctionsSyncService{
		fetcher:  fetcher,
		parser:   parser,
		filter:   filter,
		repo:     repo,
		backfill: backfill,
		config:   config,
		metrics:  m,
		logger:   logger.Named("sanctions-sync"),
		job:      semaphore.NewWeighted(1),
	}
}

var _ SanctionsSyncService = (*sanctionsSyncService)(nil)

func (s *sanctionsSyncService) Sync(ctx context.Context) (*models.SyncMetadata, error) {
	if !s.job.TryAcquire(1) {
		s.metrics.ObserveSync("rejected", 0)
		return nil, apperrors.ErrSyncInProgress
	}
	s.syncRunning.Store(true)

	meta, err := s.ingest(ctx)
	s.syncRunning.Store(false)
	if err != nil {
		s.job.Release(1)
		return meta, err
	}

	if s.backfill == nil {
		s.job.Release(1)
		return meta, nil
	}

	// The lock passes to the backfill so the next replace cannot start
	// under it. The caller's cancellation must not abort the backfill.
	s.backfillRunning.Store(true)
	go func(ctx context.Context) {
		defer s.job.Release(1)
		defer s.backfillRunning.Store(false)
		s.runBackfill(ctx)
	}(context.WithoutCancel(ctx))

	return meta, nil
}

// ingest fetches, parses, filters and stores the source document and
// appends a SyncMetadata row describing the attempt.
func (s *sanctionsSyncService) ingest(ctx context.Context) (*models.SyncMetadata, error) {
	start := time.Now()
	meta := &models.SyncMetadata{
		Status:    models.SyncStatusFailed,
		SourceURL: logging.SanitizeURL(s.config.SourceURL),
	}

	s.logger.Info("Starting sanctions sync", zap.String("source_url", meta.SourceURL))

	err := s.runPipeline(ctx, meta)
	meta.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		meta.ErrorMessage = logging.SanitizeError(err)
	} else {
		meta.Status = models.SyncStatusSuccess
	}

	// Record with a context that survives caller cancellation so a failed
	// sync is always logged.
	if recErr := s.repo.RecordSync(context.WithoutCancel(ctx), meta); recErr != nil {
		s.logger.Error("Failed to record sync metadata", zap.Error(recErr))
	}
	s.metrics.ObserveSync(string(meta.Status), time.Since(start))

	if err != nil {
		s.logger.Error("Sanctions sync failed; previous entity set left intact",
			zap.Int64("duration_ms", meta.DurationMs),
			zap.String("error", meta.ErrorMessage))
		return meta, err
	}

	s.logger.Info("Sanctions sync complete",
		zap.Int("total_entities", meta.TotalEntities),
		zap.Int("filtered_entities", meta.FilteredEntities),
		zap.Int("skipped_records", meta.SkippedRecords),
		zap.Int64("duration_ms", meta.DurationMs))
	return meta, nil
}

func (s *sanctionsSyncService) runPipeline(ctx context.Context, meta *models.SyncMetadata) error {
	var doc []byte
	err := retry.DoIfRetryable(ctx, retry.FetchConfig(s.config.FetchMaxRetries), func() error {
		var fetchErr error
		doc, fetchErr = s.fetcher.Fetch(ctx, s.config.SourceURL)
		if fetchErr != nil {
			s.logger.Warn("Fetch attempt failed", zap.String("error", logging.SanitizeError(fetchErr)))
		}
		return fetchErr
	})
	if err != nil {
		return fmt.Errorf("fetch sanctions source: %w", err)
	}

	parsed, err := s.parser.Parse(bytes.NewReader(doc))
	if err != nil {
		return err
	}
	meta.TotalEntities = len(parsed.Entities)
	meta.SkippedRecords = parsed.Skipped
	s.metrics.AddSkippedRecords(parsed.Skipped)

	filtered := s.filter.Apply(parsed.Entities)
	meta.FilteredEntities = len(filtered)

	if err := s.repo.ReplaceAll(ctx, filtered); err != nil {
		return err
	}
	s.metrics.SetStoredEntities(len(filtered))
	return nil
}

func (s *sanctionsSyncService) Backfill(ctx context.Context) (*BackfillResult, error) {
	if s.backfill == nil {
		return nil, ErrEmbeddingsDisabled
	}
	if !s.job.TryAcquire(1) {
		return nil, apperrors.ErrSyncInProgress
	}
	defer s.job.Release(1)

	s.backfillRunning.Store(true)
	defer s.backfillRunning.Store(false)

	return s.runBackfill(ctx)
}

func (s *sanctionsSyncService) runBackfill(ctx context.Context) (*BackfillResult, error) {
	result, err := s.backfill.Backfill(ctx)

	s.mu.Lock()
	s.lastBackfill, s.lastBackfillErr = result, err
	s.mu.Unlock()

	if err != nil && !errors.Is(err, ErrEmbeddingsDisabled) {
		s.logger.Error("Embedding backfill failed; affected entities stay SQL-only", zap.Error(err))
	}
	return result, err
}

func (s *sanctionsSyncService) Wait(ctx context.Context) error {
	if err := s.job.Acquire(ctx, 1); err != nil {
		return err
	}
	s.job.Release(1)
	return nil
}

func (s *sanctionsSyncService) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := SyncState{
		SyncRunning:     s.syncRunning.Load(),
		BackfillRunning: s.backfillRunning.Load(),
		LastBackfill:    s.lastBackfill,
	}
	if s.lastBackfillErr != nil {
		state.LastBackfillErr = s.lastBackfillErr.Error()
	}
	return state
}

func (s *sanctionsSyncService) RunScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Sanctions sync scheduler started", zap.Duration("interval", interval))

		// Run immediately on startup, then at each interval
		s.scheduledSync(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Sanctions sync scheduler stopped")
				return
			case <-ticker.C:
				s.scheduledSync(ctx)
			}
		}
	}()
}

// scheduledSync runs one sync; failures are already logged by ingest.
func (s *sanctionsSyncService) scheduledSync(ctx context.Context) {
	if _, err := s.Sync(ctx); errors.Is(err, apperrors.ErrSyncInProgress) {
		s.logger.Debug("Scheduled sync skipped: previous job still running")
	}
}
