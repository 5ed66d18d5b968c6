package handler

import (
	"net/http"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/internal/production/service"
	"github.com/bakeflow/bakeflow-backend/pkg/errors"
	"github.com/bakeflow/bakeflow-backend/pkg/httputil"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// ProductionHandler exposes production runs and batches over HTTP.
type ProductionHandler struct {
	service *service.ProductionService
	logger  *logger.Logger
}

// NewProductionHandler creates a new production handler
func NewProductionHandler(svc *service.ProductionService, log *logger.Logger) *ProductionHandler {
	return &ProductionHandler{
		service: svc,
		logger:  log,
	}
}

// Routes mounts the production endpoints on r.
func (h *ProductionHandler) Routes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.PlanRun)
		r.Get("/", h.ListRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.Post("/allocate", h.AllocateRun)
			r.Post("/consumption", h.RecordConsumption)
			r.Get("/cost", h.GetCost)
			r.Post("/complete", h.CompleteRun)
			r.Post("/cancel", h.CancelRun)
		})
	})

	r.Post("/batches", h.ReceiveBatch)
	r.Get("/batches/{id}", h.GetBatch)
	r.Get("/materials/{kind}/{id}/batches", h.ListBatches)
}

// batchResponse adds the derived available quantity to a batch.
type batchResponse struct {
	*domain.Batch
	Available decimal.Decimal `json:"available_quantity"`
}

func toBatchResponse(b *domain.Batch) batchResponse {
	return batchResponse{Batch: b, Available: b.Available()}
}

func (h *ProductionHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	mapped := toAppError(err)
	if mapped == err {
		h.logger.WithRequestID(httputil.GetRequestID(r.Context())).Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("production request failed")
		mapped = errors.Internal("internal server error")
	}
	httputil.Error(w, mapped)
}

// PlanRun creates a run and reserves its stock
func (h *ProductionHandler) PlanRun(w http.ResponseWriter, r *http.Request) {
	var req service.PlanRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	details, err := h.service.PlanProductionRun(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Created(w, details)
}

// ListRuns lists runs, optionally filtered by ?status=
func (h *ProductionHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	status := domain.RunStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.RunPlanned, domain.RunInProgress, domain.RunCompleted, domain.RunCancelled:
	default:
		h.fail(w, r, &domain.ValidationError{Field: "status", Message: "unknown run status"})
		return
	}

	runs, err := h.service.ListProductionRuns(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, runs, &httputil.Meta{Total: int64(len(runs))})
}

// GetRun returns a run with its allocations
func (h *ProductionHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.GetProductionRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, details)
}

// AllocateRun reserves stock for a run planned without allocation
func (h *ProductionHandler) AllocateRun(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.AllocateRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, details)
}

// consumptionRequest is one consumption entry; the quantity must be sent explicitly.
type consumptionRequest struct {
	AllocationID     string           `json:"allocation_id" validate:"required"`
	QuantityConsumed *decimal.Decimal `json:"quantity_consumed" validate:"required"`
}

// RecordConsumption records actual usage against the run's allocations
func (h *ProductionHandler) RecordConsumption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entries []consumptionRequest `json:"entries" validate:"required,min=1,dive"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	entries := make([]service.ConsumptionEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, service.ConsumptionEntry{AllocationID: e.AllocationID, QuantityConsumed: *e.QuantityConsumed})
	}

	runID := chi.URLParam(r, "id")
	if err := h.service.RecordRunConsumption(r.Context(), runID, entries); err != nil {
		h.fail(w, r, err)
		return
	}

	details, err := h.service.GetProductionRun(r.Context(), runID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, details)
}

// GetCost returns the committed or actual cost breakdown of a run
func (h *ProductionHandler) GetCost(w http.ResponseWriter, r *http.Request) {
	basis, err := service.ParseCostBasis(r.URL.Query().Get("basis"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	cost, err := h.service.Calculate(r.Context(), chi.URLParam(r, "id"), basis)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, cost)
}

// CompleteRun books the run's output as a finished-goods batch
func (h *ProductionHandler) CompleteRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActualQuantity decimal.Decimal `json:"actual_quantity"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.CompleteProductionRun(r.Context(), chi.URLParam(r, "id"), req.ActualQuantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"run":               result.Run,
		"output_batch":      toBatchResponse(result.OutputBatch),
		"already_completed": result.AlreadyCompleted,
	})
}

// CancelRun releases the run's reservations
func (h *ProductionHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CancelProductionRun(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.NoContent(w)
}

// ReceiveBatch records received stock as a new batch
func (h *ProductionHandler) ReceiveBatch(w http.ResponseWriter, r *http.Request) {
	var req service.ReceiveBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.service.ReceiveBatch(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Created(w, toBatchResponse(batch))
}

// GetBatch gets a batch by ID
func (h *ProductionHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.service.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, toBatchResponse(batch))
}

// ListBatches lists a material's batches in FEFO order
func (h *ProductionHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseMaterialKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	batches, err := h.service.ListBatches(r.Context(), domain.MaterialRef{Kind: kind, ID: chi.URLParam(r, "id")})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		resp = append(resp, toBatchResponse(b))
	}
	httputil.JSONWithMeta(w, http.StatusOK, resp, &httputil.Meta{Total: int64(len(resp))})
}
