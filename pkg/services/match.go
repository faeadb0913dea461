package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sanctions-engine/pkg/apperrors"
	"github.com/ekaya-inc/sanctions-engine/pkg/logging"
	"github.com/ekaya-inc/sanctions-engine/pkg/metrics"
	"github.com/ekaya-inc/sanctions-engine/pkg/models"
	"github.com/ekaya-inc/sanctions-engine/pkg/repositories"
)

// Response stages that are not MatchStage names.
const (
	StageNone       = "none"
	StageCandidates = "candidates"
)

// MatchService screens a company name against the stored sanctions subset.
type MatchService interface {
	// Search returns ranked matches for query. An empty query yields an
	// empty result, not an error. Only store failures are returned as errors.
	Search(ctx context.Context, query models.MatchQuery) (*models.MatchResponse, error)
}

// MatchServiceConfig bounds the candidate pool.
type MatchServiceConfig struct {
	CandidatePoolSize int
}

type matchService struct {
	repo    repositories.SanctionsRepository
	direct  MatchStage
	rankers []MatchStage
	config  MatchServiceConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewMatchService creates a MatchService.
//
// direct runs first against the whole store (SQL substring match). When it
// misses, a candidate pool of at most CandidatePoolSize entities is loaded
// and handed to each ranker in order until one succeeds.
func NewMatchService(
	repo repositories.SanctionsRepository,
	direct MatchStage,
	rankers []MatchStage,
	config MatchServiceConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) MatchService {
	if config.CandidatePoolSize < 1 || config.CandidatePoolSize > 100 {
		config.CandidatePoolSize = 100
	}
	return &matchService{
		repo:    repo,
		direct:  direct,
		rankers: rankers,
		config:  config,
		metrics: m,
		logger:  logger.Named("match"),
	}
}

var _ MatchService = (*matchService)(nil)

func (s *matchService) Search(ctx context.Context, query models.MatchQuery) (*models.MatchResponse, error) {
	query = query.Normalized()
	resp := &models.MatchResponse{
		Query:   query.Query,
		Country: query.Country,
		Stage:   StageNone,
		Matches: []models.Match{},
	}
	if query.Query == "" {
		resp.Message = "Empty query"
		return resp, nil
	}

	start := time.Now()
	defer func() { s.metrics.ObserveMatchLatency(time.Since(start)) }()

	if s.direct != nil {
		done, err := s.runStage(ctx, s.direct, query, nil, resp)
		if err != nil || done {
			return finish(resp, err)
		}
	}

	candidates, err := s.repo.ListCandidates(ctx, query.Country, s.config.CandidatePoolSize)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	if len(candidates) == 0 {
		resp.Stage = StageCandidates
		resp.Message = "No sanctioned entities in search scope"
		return resp, nil
	}

	for _, stage := range s.rankers {
		if a, ok := stage.(availability); ok && !a.Available() {
			s.metrics.IncrementStageOutcome(stage.Name(), "skipped")
			s.logger.Debug("Skipping unavailable match stage", zap.String("stage", stage.Name()))
			continue
		}
		done, err := s.runStage(ctx, stage, query, candidates, resp)
		if err != nil || done {
			return finish(resp, err)
		}
	}

	resp.Stage = StageNone
	resp.Message = "All match stages failed"
	return resp, nil
}

// runStage runs one stage and fills resp on success. Returns done=true when
// the stage produced the final answer, or a non-nil error to abort.
func (s *matchService) runStage(
	ctx context.Context,
	stage MatchStage,
	query models.MatchQuery,
	candidates []*models.SanctionedEntity,
	resp *models.MatchResponse,
) (bool, error) {
	matches, err := stage.Attempt(ctx, query, candidates)

	var stageErr *apperrors.MatchStageError
	switch {
	case err == nil:
		s.metrics.IncrementStageOutcome(stage.Name(), "hit")
		resp.Stage = stage.Name()
		resp.Matches = matches
		if resp.Matches == nil {
			resp.Matches = []models.Match{}
		}
		if len(resp.Matches) == 0 {
			resp.Message = "No matching sanctioned entities"
		}
		return true, nil
	case errors.Is(err, ErrStageMiss):
		s.metrics.IncrementStageOutcome(stage.Name(), "miss")
		return false, nil
	case errors.As(err, &stageErr):
		s.metrics.IncrementStageOutcome(stage.Name(), "error")
		s.logger.Warn("Match stage failed, falling through",
			zap.String("stage", stage.Name()),
			zap.String("query", logging.SanitizeSearchQuery(query.Query)),
			zap.Error(err))
		return false, nil
	default:
		s.metrics.IncrementStageOutcome(stage.Name(), "error")
		return false, fmt.Errorf("%s stage: %w", stage.Name(), err)
	}
}

func finish(resp *models.MatchResponse, err error) (*models.MatchResponse, error) {
	if err != nil {
		return nil, err
	}
	return resp, nil
}
