package workorder

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/printflow-erp/printflow/internal/platform/httpx"
)

// Handler serves rendered work order sheets.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers work order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/workorders", h.handleRender)
	r.Get("/workorders/preview", h.handlePreview)
}

func (h *Handler) handleRender(w http.ResponseWriter, r *http.Request) {
	index, _ := strconv.Atoi(r.URL.Query().Get("chunk"))
	size, _ := strconv.Atoi(r.URL.Query().Get("chunk_size"))
	pdf, chunkIndex, chunkTotal, err := h.service.RenderChunk(r.Context(), index, size)
	if err != nil {
		if errors.Is(err, ErrNoWorkOrders) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "no orders ready for a work order")
			return
		}
		if errors.Is(err, ErrChunkOutOfRange) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "chunk index past the last page")
			return
		}
		h.logger.Error("render work orders", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="workorders.pdf"`)
	w.Header().Set("X-Chunk-Index", strconv.Itoa(chunkIndex))
	w.Header().Set("X-Chunk-Total", strconv.Itoa(chunkTotal))
	_, _ = w.Write(pdf)
}

// handlePreview returns the assembled tree as JSON, for the floor UI.
func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	all, err := h.service.Assemble(r.Context())
	if err != nil {
		if errors.Is(err, ErrNoWorkOrders) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "no orders ready for a work order")
			return
		}
		h.logger.Error("assemble work orders", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"workorders": all, "count": len(all)})
}
