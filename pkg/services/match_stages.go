package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sanctions-engine/pkg/apperrors"
	"github.com/ekaya-inc/sanctions-engine/pkg/cache"
	"github.com/ekaya-inc/sanctions-engine/pkg/jsonutil"
	"github.com/ekaya-inc/sanctions-engine/pkg/llm"
	"github.com/ekaya-inc/sanctions-engine/pkg/models"
	"github.com/ekaya-inc/sanctions-engine/pkg/repositories"
)

// Stage names, used in responses, logs and metrics.
const (
	StageSQL       = "sql"
	StageEmbedding = "embedding"
	StageLLM       = "llm"
	StageFallback  = "fallback"
)

// Match reasons.
const (
	ReasonSQLMatch      = "Exact/substring name match"
	ReasonAIUnavailable = "SQL match (AI unavailable)"
)

// ErrStageMiss is returned by a stage that ran but has nothing to say, so
// the engine should try the next stage.
var ErrStageMiss = errors.New("stage produced no matches")

// MatchStage is one step of the match engine.
//
// Attempt returns the final ranked matches (possibly empty), ErrStageMiss to
// defer to the next stage, a *apperrors.MatchStageError when the stage
// failed and the next stage should be tried, or any other error to abort
// the search.
type MatchStage interface {
	Name() string
	Attempt(ctx context.Context, query models.MatchQuery, candidates []*models.SanctionedEntity) ([]models.Match, error)
}

// availability is implemented by stages that can be skipped without trying,
// e.g. while their provider's circuit breaker is open.
type availability interface {
	Available() bool
}

// breakerHolder is implemented by llm.GuardedEmbedder and llm.GuardedChat.
type breakerHolder interface {
	Breaker() *llm.CircuitBreaker
}

func providerAvailable(client any) bool {
	if client == nil {
		return false
	}
	if g, ok := client.(breakerHolder); ok {
		return !g.Breaker().IsOpen()
	}
	return true
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// ============================================================================
// SQL substring match
// ============================================================================

// SQLSubstringStage returns stored entities whose name or alias contains the
// query, tagged with a fixed confidence. It never calls an AI provider.
type SQLSubstringStage struct {
	repo       repositories.SanctionsRepository
	confidence int
	maxResults int
}

// NewSQLSubstringStage creates the direct SQL stage.
func NewSQLSubstringStage(repo repositories.SanctionsRepository, confidence, maxResults int) *SQLSubstringStage {
	return &SQLSubstringStage{repo: repo, confidence: confidence, maxResults: maxResults}
}

func (s *SQLSubstringStage) Name() string { return StageSQL }

func (s *SQLSubstringStage) Attempt(ctx context.Context, query models.MatchQuery, _ []*models.SanctionedEntity) ([]models.Match, error) {
	entities, err := s.repo.SearchByNameOrAlias(ctx, query.Query, query.Country, s.maxResults)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, ErrStageMiss
	}

	matches := make([]models.Match, len(entities))
	for i, e := range entities {
		matches[i] = models.Match{
			Entity:      e,
			Score:       s.confidence,
			Reason:      ReasonSQLMatch,
			MatchedText: matchedText(e, query.Query),
		}
	}
	return matches, nil
}

// matchedText returns the name or first alias containing q.
func matchedText(e *models.SanctionedEntity, q string) string {
	needle := strings.ToLower(q)
	if strings.Contains(strings.ToLower(e.Name), needle) {
		return e.Name
	}
	for _, a := range e.Aliases {
		if strings.Contains(strings.ToLower(a), needle) {
			return a
		}
	}
	return e.Name
}

// ============================================================================
// Embedding re-ranking
// ============================================================================

// EmbeddingStageConfig tunes the embedding stage.
type EmbeddingStageConfig struct {
	MinSimilarity  float64
	MaxResults     int
	RequestTimeout time.Duration
}

// EmbeddingStage ranks candidates by cosine similarity between the query
// vector and each candidate's precomputed name/alias vectors.
type EmbeddingStage struct {
	embedder      llm.Embedder
	embeddingRepo repositories.EmbeddingRepository
	cache         cache.QueryEmbeddingCache
	config        EmbeddingStageConfig
	logger        *zap.Logger
}

// NewEmbeddingStage creates the embedding stage. queryCache may be nil.
func NewEmbeddingStage(
	embedder llm.Embedder,
	embeddingRepo repositories.EmbeddingRepository,
	queryCache cache.QueryEmbeddingCache,
	config EmbeddingStageConfig,
	logger *zap.Logger,
) *EmbeddingStage {
	return &EmbeddingStage{
		embedder:      embedder,
		embeddingRepo: embeddingRepo,
		cache:         queryCache,
		config:        config,
		logger:        logger.Named("embedding-stage"),
	}
}

func (s *EmbeddingStage) Name() string { return StageEmbedding }

// Available is false without an embedder or while its breaker is open.
func (s *EmbeddingStage) Available() bool {
	return s.embedder != nil && providerAvailable(s.embedder)
}

type scoredMatch struct {
	match models.Match
	cos   float64
}

func (s *EmbeddingStage) Attempt(ctx context.Context, query models.MatchQuery, candidates []*models.SanctionedEntity) ([]models.Match, error) {
	model := s.embedder.EmbeddingModel()

	queryVector, err := s.queryVector(ctx, model, query.Query)
	if err != nil {
		return nil, apperrors.NewMatchStageError(StageEmbedding, err)
	}

	uids := make([]string, len(candidates))
	for i, c := range candidates {
		uids[i] = c.UID
	}
	stored, err := s.embeddingRepo.ListForEntities(ctx, uids, model)
	if err != nil {
		return nil, apperrors.NewMatchStageError(StageEmbedding, err)
	}

	scored := make([]scoredMatch, 0, len(candidates))
	withVectors := 0
	for _, c := range candidates {
		best, ok := bestSimilarity(c, model, stored[c.UID], queryVector)
		if !ok {
			continue
		}
		withVectors++
		if best.cos < s.config.MinSimilarity {
			continue
		}
		scored = append(scored, scoredMatch{
			cos: best.cos,
			match: models.Match{
				Entity:      c,
				Score:       similarityScore(best.cos),
				Reason:      fmt.Sprintf("Semantic match on %s (similarity %.2f)", best.kind, best.cos),
				MatchedText: best.text,
			},
		})
	}

	if withVectors == 0 {
		return nil, apperrors.NewMatchStageError(StageEmbedding,
			fmt.Errorf("none of %d candidates has a precomputed embedding for model %s", len(candidates), model))
	}

	// Stable: equal similarities keep candidate pool order.
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].cos > scored[j].cos })

	matches := make([]models.Match, 0, min(len(scored), s.config.MaxResults))
	for _, sm := range scored {
		if len(matches) == s.config.MaxResults {
			break
		}
		matches = append(matches, sm.match)
	}
	return matches, nil
}

func (s *EmbeddingStage) queryVector(ctx context.Context, model, query string) ([]float32, error) {
	if s.cache != nil {
		v, ok, err := s.cache.Get(ctx, model, query)
		if err != nil {
			s.logger.Warn("Query embedding cache read failed", zap.Error(err))
		} else if ok {
			return v, nil
		}
	}

	callCtx, cancel := withTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	vectors, err := s.embedder.CreateEmbeddings(callCtx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("provider returned no vector for query")
	}
	v := normalizeVector(vectors[0])

	if s.cache != nil {
		if err := s.cache.Set(ctx, model, query, v); err != nil {
			s.logger.Warn("Query embedding cache write failed", zap.Error(err))
		}
	}
	return v, nil
}

type similarityHit struct {
	cos  float64
	kind string
	text string
}

// bestSimilarity scores a candidate by its closest text. Stored vectors whose
// content hash no longer matches the candidate's current texts are ignored.
func bestSimilarity(c *models.SanctionedEntity, model string, stored []models.EntityEmbedding, query []float32) (similarityHit, bool) {
	if len(stored) == 0 {
		return similarityHit{}, false
	}
	current := make(map[string]struct{})
	for _, t := range EntityTexts(c, model) {
		current[t.SourceKind+"\x00"+t.ContentHash] = struct{}{}
	}

	var best similarityHit
	found := false
	for _, e := range stored {
		if _, ok := current[e.SourceKind+"\x00"+e.ContentHash]; !ok {
			continue
		}
		cos := cosineSimilarity(query, e.Vector)
		if !found || cos > best.cos {
			best = similarityHit{cos: cos, kind: e.SourceKind, text: e.Text}
			found = true
		}
	}
	return best, found
}

// ============================================================================
// LLM ranking
// ============================================================================

const llmRankSystemMessage = `You screen company names against a sanctions list.
You are given a query company and a numbered list of sanctioned entities.
Identify which entities refer to the same real-world organization as the query,
tolerating typos, transliteration between scripts, abbreviations and word order.
Respond with ONLY a JSON array of the matching entity numbers, most likely match first.
Respond with [] if none match.`

// LLMRankStageConfig tunes the LLM ranking stage.
type LLMRankStageConfig struct {
	CandidateCap   int
	MaxResults     int
	RequestTimeout time.Duration
}

// LLMRankStage asks a chat model to pick and rank matching candidates.
type LLMRankStage struct {
	chat   llm.ChatClient
	config LLMRankStageConfig
	logger *zap.Logger
}

// NewLLMRankStage creates the LLM ranking stage.
func NewLLMRankStage(chat llm.ChatClient, config LLMRankStageConfig, logger *zap.Logger) *LLMRankStage {
	if config.CandidateCap < 1 || config.CandidateCap > 20 {
		config.CandidateCap = 20
	}
	return &LLMRankStage{chat: chat, config: config, logger: logger.Named("llm-stage")}
}

func (s *LLMRankStage) Name() string { return StageLLM }

// Available is false without a chat client or while its breaker is open.
func (s *LLMRankStage) Available() bool {
	return s.chat != nil && providerAvailable(s.chat)
}

func (s *LLMRankStage) Attempt(ctx context.Context, query models.MatchQuery, candidates []*models.SanctionedEntity) ([]models.Match, error) {
	if len(candidates) > s.config.CandidateCap {
		candidates = candidates[:s.config.CandidateCap]
	}

	callCtx, cancel := withTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	resp, err := s.chat.GenerateResponse(callCtx, buildRankPrompt(query, candidates), llmRankSystemMessage, 0)
	if err != nil {
		return nil, apperrors.NewMatchStageError(StageLLM, err)
	}

	raw, err := llm.ParseRankList(resp.Content)
	if err != nil {
		return nil, apperrors.NewMatchStageError(StageLLM, fmt.Errorf("parse ranking: %w", err))
	}
	indices, err := jsonutil.FlexibleInts(raw)
	if err != nil {
		return nil, apperrors.NewMatchStageError(StageLLM, fmt.Errorf("parse ranking: %w", err))
	}

	matches := make([]models.Match, 0, len(indices))
	seen := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		if idx < 1 || idx > len(candidates) {
			return nil, apperrors.NewMatchStageError(StageLLM,
				fmt.Errorf("ranking index %d out of range 1..%d", idx, len(candidates)))
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		if len(matches) == s.config.MaxResults {
			continue
		}
		rank := len(matches)
		matches = append(matches, models.Match{
			Entity: candidates[idx-1],
			Score:  llmRankScore(rank),
			Reason: fmt.Sprintf("AI-ranked match #%d", rank+1),
		})
	}
	return matches, nil
}

// llmRankScore is 90 for the top-ranked match, 5 less per rank, never below 50.
func llmRankScore(rank int) int {
	return max(90-5*rank, 50)
}

func buildRankPrompt(query models.MatchQuery, candidates []*models.SanctionedEntity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query company: %s\n", query.Query)
	if query.Country != "" {
		fmt.Fprintf(&b, "Query country: %s\n", query.Country)
	}
	b.WriteString("\nSanctioned entities:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s", i+1, c.Name)
		if len(c.Aliases) > 0 {
			fmt.Fprintf(&b, " (also known as: %s)", strings.Join(c.Aliases, "; "))
		}
		if len(c.Countries) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(c.Countries, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ============================================================================
// Final fallback
// ============================================================================

// UnrankedFallbackStage returns the candidate pool in pool order with a fixed
// low confidence. It is the last resort when every AI stage failed.
type UnrankedFallbackStage struct {
	confidence int
	maxResults int
}

// NewUnrankedFallbackStage creates the fallback stage.
func NewUnrankedFallbackStage(confidence, maxResults int) *UnrankedFallbackStage {
	return &UnrankedFallbackStage{confidence: confidence, maxResults: maxResults}
}

func (s *UnrankedFallbackStage) Name() string { return StageFallback }

func (s *UnrankedFallbackStage) Attempt(_ context.Context, _ models.MatchQuery, candidates []*models.SanctionedEntity) ([]models.Match, error) {
	n := min(len(candidates), s.maxResults)
	matches := make([]models.Match, n)
	for i := 0; i < n; i++ {
		matches[i] = models.Match{
			Entity: candidates[i],
			Score:  s.confidence,
			Reason: ReasonAIUnavailable,
		}
	}
	return matches, nil
}

var (
	_ MatchStage   = (*SQLSubstringStage)(nil)
	_ MatchStage   = (*EmbeddingStage)(nil)
	_ MatchStage   = (*LLMRankStage)(nil)
	_ MatchStage   = (*UnrankedFallbackStage)(nil)
	_ availability = (*EmbeddingStage)(nil)
	_ availability = (*LLMRankStage)(nil)
)
