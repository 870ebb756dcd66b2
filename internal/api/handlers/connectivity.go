package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drfirst/mediverify/internal/connectivity"
)

// ConnectivityHandler reports and accepts host connectivity signals
type ConnectivityHandler struct {
	monitor *connectivity.Monitor
}

// NewConnectivityHandler creates a connectivity handler
func NewConnectivityHandler(monitor *connectivity.Monitor) *ConnectivityHandler {
	return &ConnectivityHandler{monitor: monitor}
}

// Routes returns the handler routes
func (h *ConnectivityHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Get)
	r.Post("/{signal}", h.Signal)
	return r
}

// Get handles GET /connectivity
func (h *ConnectivityHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.monitor.Online()})
}

// Signal handles POST /connectivity/{online|offline}
func (h *ConnectivityHandler) Signal(w http.ResponseWriter, r *http.Request) {
	sig, ok := connectivity.ParseSignal(chi.URLParam(r, "signal"))
	if !ok {
		jsonError(w, "signal must be online or offline", http.StatusNotFound)
		return
	}
	h.monitor.Apply(sig)
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.monitor.Online()})
}
