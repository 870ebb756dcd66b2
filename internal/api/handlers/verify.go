package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/mediverify/internal/domain/access"
	"github.com/drfirst/mediverify/internal/domain/verification"
	"github.com/drfirst/mediverify/pkg/workerpool"
)

// MaxBatchSize caps the identifiers accepted by one batch request
const MaxBatchSize = 500

// VerifyHandler classifies identifiers without a scan session
type VerifyHandler struct {
	engine *verification.Engine
	pool   *workerpool.Pool
	roles  *access.RoleStore
	logger *zap.Logger
	tracer trace.Tracer
}

// NewVerifyHandler creates a verify handler. pool serves batch requests.
func NewVerifyHandler(engine *verification.Engine, pool *workerpool.Pool, roles *access.RoleStore, logger *zap.Logger) *VerifyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerifyHandler{
		engine: engine,
		pool:   pool,
		roles:  roles,
		logger: logger,
		tracer: otel.Tracer("verify-handler"),
	}
}

// Routes returns the handler routes
func (h *VerifyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Verify)
	r.Post("/batch", h.VerifyBatch)
	return r
}

// VerifyRequest is a one-shot classification request
type VerifyRequest struct {
	Identifier string `json:"identifier"`
}

// BatchRequest lists the identifiers of one shipment
type BatchRequest struct {
	Identifiers []string `json:"identifiers"`
}

// BatchResponse holds verdicts in request order
type BatchResponse struct {
	Verdicts []verification.Verdict `json:"verdicts"`
	Summary  map[string]int         `json:"summary"`
}

// Verify handles POST /verify
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !verification.ValidIdentifier(req.Identifier) {
		jsonError(w, "identifier is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Classify(r.Context(), req.Identifier))
}

// VerifyBatch handles POST /verify/batch. Restricted to roles holding the
// batch capability.
func (h *VerifyHandler) VerifyBatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "VerifyBatch")
	defer span.End()

	role := h.roles.Role(ctx)
	if !access.Can(role, access.CapBatchVerify) {
		jsonError(w, fmt.Sprintf("role %s cannot run batch verification", role), http.StatusForbidden)
		return
	}

	var req BatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Identifiers) == 0 {
		jsonError(w, "identifiers are required", http.StatusBadRequest)
		return
	}
	if len(req.Identifiers) > MaxBatchSize {
		jsonError(w, fmt.Sprintf("at most %d identifiers per batch", MaxBatchSize), http.StatusRequestEntityTooLarge)
		return
	}
	for i, id := range req.Identifiers {
		if !verification.ValidIdentifier(id) {
			jsonError(w, fmt.Sprintf("identifier %d is empty", i), http.StatusBadRequest)
			return
		}
	}
	span.SetAttributes(attribute.Int("batch.size", len(req.Identifiers)))

	tasks := make([]*workerpool.Task, len(req.Identifiers))
	for i, id := range req.Identifiers {
		tasks[i] = &workerpool.Task{ID: id, Payload: id, Context: ctx}
	}

	results, err := h.pool.SubmitBatch(ctx, tasks)
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, workerpool.ErrQueueFull), errors.Is(err, workerpool.ErrPoolClosed):
			code = http.StatusServiceUnavailable
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			code = http.StatusGatewayTimeout
		}
		h.logger.Warn("batch verification failed", zap.Error(err), zap.Int("size", len(tasks)))
		jsonError(w, err.Error(), code)
		return
	}

	resp := BatchResponse{
		Verdicts: make([]verification.Verdict, len(results)),
		Summary:  map[string]int{},
	}
	for i, res := range results {
		v, ok := res.Data.(verification.Verdict)
		if !ok {
			jsonError(w, "batch worker returned no verdict", http.StatusInternalServerError)
			return
		}
		resp.Verdicts[i] = v
		resp.Summary[string(v.Status)]++
	}

	h.logger.Info("batch verified",
		zap.Int("size", len(tasks)),
		zap.String("role", string(role)),
		zap.Int("counterfeit", resp.Summary[string(verification.StatusCounterfeit)]))
	writeJSON(w, http.StatusOK, resp)
}

// ClassifyWorker adapts the engine to the worker pool. Task payloads are
// identifiers; results carry the verdict.
func ClassifyWorker(engine *verification.Engine) workerpool.WorkerFunc {
	return func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		id, _ := task.Payload.(string)
		return &workerpool.Result{
			TaskID:  task.ID,
			Success: true,
			Data:    engine.Classify(ctx, id),
		}
	}
}

// DemoCodes handles GET /demo-codes
func DemoCodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"codes": verification.DemoCodes(),
	})
}
