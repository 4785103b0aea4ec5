package receiving

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/printflow-erp/printflow/internal/platform/httpx"
	"github.com/printflow-erp/printflow/internal/shared"
)

// Handler manages receiving endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	poPrefix string
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, poPrefix string) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		poPrefix: poPrefix,
	}
}

// MountRoutes registers receiving routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pos", h.handleListPOs)
	r.Get("/po-lines", h.handleGetLines)
	r.Get("/receive-draft", h.handleGetDraft)
	r.Post("/receive-draft", h.handleSaveDraft)
	r.Post("/receive", h.handleReceive)
	r.Post("/runs", h.handleAddToRun)
	r.Post("/pos/{id}/mark-ordered", h.handleMarkOrdered)
	r.Post("/pos/{id}/mark-not-ordered", h.handleMarkNotOrdered)
	r.Post("/pos/{id}/prune", h.handlePrune)
	r.Post("/pos/{id}/delete-or-revert", h.handleDeleteOrRevert)
}

func (h *Handler) handleListPOs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	meta := shared.NewPageMeta(limit, offset, 0)
	items, total, err := h.service.ListOpenPOs(r.Context(), meta.Limit, meta.Offset)
	if err != nil {
		h.logger.Error("list open POs", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to load purchase orders")
		return
	}
	meta.Total = total
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items": items,
		"meta":  meta,
	})
}

type lineResponse struct {
	LineID      string     `json:"po_line_id"`
	Item        string     `json:"item"`
	Color       string     `json:"color"`
	Size        string     `json:"size"`
	OrderedQty  int        `json:"ordered_qty"`
	ReceivedQty int        `json:"received_qty"`
	UnitCost    string     `json:"unit_cost"`
	Short       bool       `json:"short"`
	Orders      []OrderRef `json:"orders,omitempty"`
}

func (h *Handler) handleGetLines(w http.ResponseWriter, r *http.Request) {
	poID, err := strconv.ParseInt(r.URL.Query().Get("po_id"), 10, 64)
	if err != nil || poID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "po_id required")
		return
	}
	po, lines, err := h.service.GetLines(r.Context(), poID)
	if err != nil {
		h.respondError(w, "get PO lines", err)
		return
	}
	out := make([]lineResponse, 0, len(lines))
	for _, line := range lines {
		out = append(out, lineResponse{
			LineID:      line.Key.String(),
			Item:        line.Key.Item,
			Color:       line.Key.Color,
			Size:        line.Key.Size,
			OrderedQty:  line.OrderedQty,
			ReceivedQty: line.ReceivedQty,
			UnitCost:    line.UnitCost.String(),
			Short:       line.Short(),
			Orders:      line.Orders,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"po_id":     po.ID,
		"po_number": po.Number,
		"status":    po.Status,
		"lines":     out,
	})
}

func (h *Handler) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	poID, err := strconv.ParseInt(r.URL.Query().Get("po_id"), 10, 64)
	if err != nil || poID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "po_id required")
		return
	}
	lines, err := h.service.GetDraft(r.Context(), poID)
	if err != nil {
		h.respondError(w, "get receive draft", err)
		return
	}
	if lines == nil {
		lines = []DraftLine{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"po_id": poID, "lines": lines})
}

type saveDraftRequest struct {
	POID  int64       `json:"po_id" validate:"required,gt=0"`
	Lines []DraftLine `json:"lines"`
}

func (h *Handler) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var req saveDraftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.SaveDraft(r.Context(), req.POID, req.Lines); err != nil {
		h.respondError(w, "save receive draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"saved": true})
}

type receiveRequest struct {
	POID     int64          `json:"po_id" validate:"required,gt=0"`
	PONumber string         `json:"po_number"`
	Lines    []ReceiveDelta `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Receive(r.Context(), ReceiveInput{
		POID:           req.POID,
		PONumber:       req.PONumber,
		Deltas:         req.Lines,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondError(w, "receive batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleAddToRun(w http.ResponseWriter, r *http.Request) {
	var req AddToRunInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	poID, err := h.service.AddToRun(r.Context(), req)
	if err != nil {
		h.respondError(w, "add to run", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"po_id": poID})
}

func (h *Handler) handleMarkOrdered(w http.ResponseWriter, r *http.Request) {
	poID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	po, err := h.service.MarkOrdered(r.Context(), poID, h.poPrefix)
	if err != nil {
		h.respondError(w, "mark ordered", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"po_id":     po.ID,
		"po_number": po.Number,
		"status":    po.Status,
	})
}

func (h *Handler) handleMarkNotOrdered(w http.ResponseWriter, r *http.Request) {
	poID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.MarkNotOrdered(r.Context(), poID); err != nil {
		h.respondError(w, "mark not ordered", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"po_id": poID, "status": POStatusOpen})
}

type pruneRequest struct {
	LineIDs []string `json:"line_ids" validate:"required,min=1"`
}

func (h *Handler) handlePrune(w http.ResponseWriter, r *http.Request) {
	poID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req pruneRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.PruneLines(r.Context(), poID, req.LineIDs); err != nil {
		h.respondError(w, "prune lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pruned": true})
}

func (h *Handler) handleDeleteOrRevert(w http.ResponseWriter, r *http.Request) {
	poID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteOrRevert(r.Context(), poID); err != nil {
		h.respondError(w, "delete or revert", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"done": true})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase order id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidPayload):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnauthenticated):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
