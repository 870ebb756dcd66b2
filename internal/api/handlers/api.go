package handlers

import (
	"github.com/go-chi/chi/v5"
)

// API groups the versioned endpoints
type API struct {
	Sessions     *SessionHandler
	Verify       *VerifyHandler
	Access       *AccessHandler
	Fraud        *FraudHandler
	Connectivity *ConnectivityHandler
	Reports      *ReportHandler
}

// Routes mounts every handler under one router, typically at /api/v1
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Mount("/sessions", a.Sessions.Routes())
	r.Mount("/verify", a.Verify.Routes())
	r.Get("/demo-codes", DemoCodes)
	r.Mount("/access", a.Access.Routes())
	r.Get("/hotspots", a.Fraud.Hotspots)
	r.Mount("/connectivity", a.Connectivity.Routes())
	r.Post("/reports", a.Reports.Submit)
	return r
}
