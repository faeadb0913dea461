package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sanctions-engine/pkg/models"
	"github.com/ekaya-inc/sanctions-engine/pkg/repositories"
	"github.com/ekaya-inc/sanctions-engine/pkg/services"
)

// maxSearchBody bounds POST /api/sanctions/search request bodies.
const maxSearchBody = 64 << 10

// SanctionsHandler serves sync, backfill, search and entity lookup.
type SanctionsHandler struct {
	syncService  services.SanctionsSyncService
	matchService services.MatchService
	repo         repositories.SanctionsRepository
	logger       *zap.Logger
}

// NewSanctionsHandler creates a new SanctionsHandler.
func NewSanctionsHandler(
	syncService services.SanctionsSyncService,
	matchService services.MatchService,
	repo repositories.SanctionsRepository,
	logger *zap.Logger,
) *SanctionsHandler {
	return &SanctionsHandler{
		syncService:  syncService,
		matchService: matchService,
		repo:         repo,
		logger:       logger.Named("sanctions-handler"),
	}
}

// RegisterRoutes registers the sanctions routes on the given mux.
func (h *SanctionsHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/sanctions"

	mux.HandleFunc("POST "+base+"/sync", h.Sync)
	mux.HandleFunc("GET "+base+"/sync/status", h.SyncStatus)
	mux.HandleFunc("POST "+base+"/embeddings/backfill", h.Backfill)
	mux.HandleFunc("GET "+base+"/search", h.Search)
	mux.HandleFunc("POST "+base+"/search", h.Search)
	mux.HandleFunc("GET "+base+"/entities/{uid}", h.GetEntity)
}

type syncResponse struct {
	Sync            *models.SyncMetadata `json:"sync"`
	BackfillStarted bool                 `json:"backfill_started"`
}

// Sync handles POST /api/sanctions/sync
// Runs the ingestion pipeline and returns 202 once the store is replaced;
// the embedding backfill continues in the background.
func (h *SanctionsHandler) Sync(w http.ResponseWriter, r *http.Request) {
	// A client disconnect must not abort a replace halfway through the pipeline.
	meta, err := h.syncService.Sync(context.WithoutCancel(r.Context()))
	if err != nil {
		writeServiceError(w, err, "Sanctions sync failed", h.logger)
		return
	}

	resp := syncResponse{
		Sync:            meta,
		BackfillStarted: h.syncService.State().BackfillRunning,
	}
	if err := WriteJSON(w, http.StatusAccepted, resp); err != nil {
		h.logger.Error("Failed to write sync response", zap.Error(err))
	}
}

type syncStatusResponse struct {
	Latest         *models.SyncMetadata   `json:"latest"`
	History        []*models.SyncMetadata `json:"history"`
	StoredEntities int                    `json:"stored_entities"`
	State          services.SyncState     `json:"state"`
}

// SyncStatus handles GET /api/sanctions/sync/status?limit=
func (h *SanctionsHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, "limit", 20, 100, h.logger)
	if !ok {
		return
	}

	history, err := h.repo.ListSyncs(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err, "Failed to load sync history", h.logger)
		return
	}
	count, err := h.repo.Count(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to count stored entities", h.logger)
		return
	}

	resp := syncStatusResponse{
		History:        history,
		StoredEntities: count,
		State:          h.syncService.State(),
	}
	if len(history) > 0 {
		resp.Latest = history[0]
	}

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write sync status response", zap.Error(err))
	}
}

// Backfill handles POST /api/sanctions/embeddings/backfill
func (h *SanctionsHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncService.Backfill(context.WithoutCancel(r.Context()))
	if err != nil {
		writeServiceError(w, err, "Embedding backfill failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write backfill response", zap.Error(err))
	}
}

// Search handles GET /api/sanctions/search?q=&country= and
// POST /api/sanctions/search with a JSON MatchQuery body.
func (h *SanctionsHandler) Search(w http.ResponseWriter, r *http.Request) {
	var query models.MatchQuery
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, maxSearchBody)
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
			ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}
	} else {
		query.Query = r.URL.Query().Get("q")
		query.Country = r.URL.Query().Get("country")
	}

	resp, err := h.matchService.Search(r.Context(), query)
	if err != nil {
		writeServiceError(w, err, "Sanctions search failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write search response", zap.Error(err))
	}
}

// GetEntity handles GET /api/sanctions/entities/{uid}
func (h *SanctionsHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	uid, ok := ParseEntityUID(w, r, h.logger)
	if !ok {
		return
	}

	entity, err := h.repo.GetByUID(r.Context(), uid)
	if err != nil {
		writeServiceError(w, err, "Failed to load sanctioned entity", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, entity); err != nil {
		h.logger.Error("Failed to write entity response", zap.Error(err))
	}
}
