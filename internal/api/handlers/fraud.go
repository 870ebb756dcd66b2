package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/drfirst/mediverify/internal/domain/fraud"
)

const defaultTopLocations = 5

// AggregationRecorder counts hotspot aggregations
type AggregationRecorder interface {
	FraudAggregated()
}

// FraudHandler serves the counterfeit hotspot dashboard
type FraudHandler struct {
	source   fraud.Source
	recorder AggregationRecorder
	logger   *zap.Logger
}

// NewFraudHandler creates a hotspot handler. recorder may be nil.
func NewFraudHandler(source fraud.Source, recorder AggregationRecorder, logger *zap.Logger) *FraudHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FraudHandler{source: source, recorder: recorder, logger: logger}
}

// Hotspot is an annotated incident with its rendering hints
type Hotspot struct {
	fraud.Annotated
	Style fraud.Style `json:"style"`
}

// HotspotsResponse carries both views plus the dashboard summary
type HotspotsResponse struct {
	MaxCount int           `json:"max_count"`
	Grid     []Hotspot     `json:"grid"`
	Ranked   []Hotspot     `json:"ranked"`
	Summary  fraud.Summary `json:"summary"`
}

// Hotspots handles GET /hotspots?top=N
func (h *FraudHandler) Hotspots(w http.ResponseWriter, r *http.Request) {
	top := defaultTopLocations
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, "top must be a non-negative integer", http.StatusBadRequest)
			return
		}
		top = n
	}

	incidents, err := h.source.Incidents(r.Context())
	if err != nil {
		h.logger.Error("failed to load incidents", zap.Error(err))
		jsonError(w, "failed to load incidents", http.StatusServiceUnavailable)
		return
	}

	out, err := fraud.Aggregate(incidents)
	if err != nil {
		if errors.Is(err, fraud.ErrEmptyInput) || errors.Is(err, fraud.ErrNegativeCount) {
			jsonError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if h.recorder != nil {
		h.recorder.FraudAggregated()
	}

	writeJSON(w, http.StatusOK, HotspotsResponse{
		MaxCount: out.MaxCount,
		Grid:     styled(out.Grid),
		Ranked:   styled(out.Ranked),
		Summary:  fraud.Summarize(out, top),
	})
}

func styled(records []fraud.Annotated) []Hotspot {
	hs := make([]Hotspot, len(records))
	for i, a := range records {
		hs[i] = Hotspot{Annotated: a, Style: fraud.StyleFor(a)}
	}
	return hs
}
