package httpapi

import (
	"context"
	"net/http"

	"sta-timeseries/internal/service"

	"go.uber.org/zap"
)

type IntegrityChecker interface {
	Check(ctx context.Context) (*service.IntegrityReport, error)
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, id int64) error
	InvalidateAll(ctx context.Context) error
}

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	integrity IntegrityChecker
	cache     CacheInvalidator
	logger    *zap.Logger
}

func NewAdminHandler(integrity IntegrityChecker, cache CacheInvalidator, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		integrity: integrity,
		cache:     cache,
		logger:    logger,
	}
}

// Integrity runs the storage integrity check.
// GET /admin/integrity
func (h *AdminHandler) Integrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.integrity.Check(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(http.StatusOK, report))
}

// InvalidateCache drops one datastream, or all, from the properties cache.
// POST /admin/cache/invalidate[?datastream=<id>]
func (h *AdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := r.URL.Query().Get("datastream")
	if raw == "" {
		if err := h.cache.InvalidateAll(ctx); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		h.logger.Info("Datastream cache invalidated by operator")
		writeJSON(w, http.StatusOK, Ok(http.StatusOK, map[string]interface{}{"invalidated": "all"}))
		return
	}

	id, err := parseEntityID(raw)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.cache.Invalidate(ctx, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("Datastream invalidated by operator", zap.Int64("datastream_id", id))
	writeJSON(w, http.StatusOK, Ok(http.StatusOK, map[string]interface{}{"invalidated": id}))
}
