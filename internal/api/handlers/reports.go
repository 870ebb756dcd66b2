package handlers

import (
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/mediverify/internal/api/middleware"
	"github.com/drfirst/mediverify/internal/domain/access"
	"github.com/drfirst/mediverify/internal/domain/reporting"
)

// IdempotencyKeyHeader carries the client's report idempotency key
const IdempotencyKeyHeader = "Idempotency-Key"

// ReportHandler accepts counterfeit reports
type ReportHandler struct {
	service *reporting.Service
	roles   *access.RoleStore
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewReportHandler creates a report handler
func NewReportHandler(service *reporting.Service, roles *access.RoleStore, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{
		service: service,
		roles:   roles,
		logger:  logger,
		tracer:  otel.Tracer("report-handler"),
	}
}

// Submit handles POST /reports
func (h *ReportHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SubmitReport")
	defer span.End()

	var sub reporting.Submission
	if !decodeJSON(w, r, &sub) {
		return
	}

	device := access.DeviceFromContext(ctx)
	role := h.roles.Role(ctx)
	span.SetAttributes(
		attribute.String("report.identifier", sub.Identifier),
		attribute.String("report.status", string(sub.Status)),
	)

	receipt, err := h.service.Submit(ctx, r.Header.Get(IdempotencyKeyHeader), device, string(role), sub)
	if err != nil {
		switch {
		case errors.Is(err, reporting.ErrMissingIdentifier), errors.Is(err, reporting.ErrNotReportable):
			jsonError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, reporting.ErrDuplicateReport):
			jsonError(w, err.Error(), http.StatusConflict)
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			h.logger.Error("failed to submit report",
				zap.Error(err),
				zap.String("request_id", middleware.GetRequestID(ctx)))
			jsonError(w, "failed to submit report", http.StatusInternalServerError)
		}
		return
	}

	code := http.StatusCreated
	if receipt.Duplicate {
		code = http.StatusOK
	}
	w.Header().Set(IdempotencyKeyHeader, receipt.IdempotencyKey)
	writeJSON(w, code, receipt)
}
