package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/mediverify/internal/api/middleware"
	"github.com/drfirst/mediverify/internal/connectivity"
	"github.com/drfirst/mediverify/internal/domain/access"
	"github.com/drfirst/mediverify/internal/domain/fraud"
	"github.com/drfirst/mediverify/internal/domain/reporting"
	"github.com/drfirst/mediverify/internal/domain/verification"
	"github.com/drfirst/mediverify/pkg/idempotency"
	"github.com/drfirst/mediverify/pkg/workerpool"
)

type fixture struct {
	server  http.Handler
	monitor *connectivity.Monitor
	roles   *access.RoleStore
	reports *reporting.MemoryStore
	gauge   *fakeGauge
}

type fakeGauge struct{ active int }

func (g *fakeGauge) SetActiveSessions(n int) { g.active = n }

func newFixture(t *testing.T, incidents fraud.Source) *fixture {
	t.Helper()

	monitor := connectivity.NewMonitor(true, nil)
	registry := verification.NewSnapshotRegistry(verification.DemoRecords())
	engine := verification.NewEngine(registry, monitor, nil)
	roles := access.NewRoleStore(access.NewMemoryKV(), nil, nil)
	store := reporting.NewMemoryStore()

	pool, err := workerpool.New(workerpool.Config{Workers: 4, QueueSize: 64}, ClassifyWorker(engine), nil)
	require.NoError(t, err)
	pool.Start()
	t.Cleanup(func() { pool.Stop() })

	gauge := &fakeGauge{}
	api := &API{
		Sessions:     NewSessionHandler(verification.NewSessions(engine, nil, nil), gauge, nil),
		Verify:       NewVerifyHandler(engine, pool, roles, nil),
		Access:       NewAccessHandler(roles, nil),
		Fraud:        NewFraudHandler(incidents, nil, nil),
		Connectivity: NewConnectivityHandler(monitor),
		Reports:      NewReportHandler(reporting.NewService(store, idempotency.NewMemoryInbox(), nil, nil), roles, nil),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.DeviceID)
	r.Mount("/api/v1", api.Routes())

	return &fixture{server: r, monitor: monitor, roles: roles, reports: store, gauge: gauge}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, fraud.DefaultIncidents())

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var snap verification.Snapshot
	decode(t, rec, &snap)
	assert.Equal(t, verification.StateIdle, snap.State)
	assert.Equal(t, 1, f.gauge.active)

	base := "/api/v1/sessions/" + snap.ID

	// decode before start is dropped
	rec = f.do(t, http.MethodPost, base+"/decode", DecodeRequest{Identifier: "DEMO-GEN-001"})
	require.Equal(t, http.StatusOK, rec.Code)
	var dr DecodeResponse
	decode(t, rec, &dr)
	assert.False(t, dr.Accepted)
	assert.Equal(t, verification.StateIdle, dr.Session.State)

	rec = f.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/decode", DecodeRequest{Identifier: "DEMO-FAKE-001", Source: verification.SourceUpload})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &dr)
	require.True(t, dr.Accepted)
	assert.Equal(t, verification.StateClassified, dr.Session.State)
	require.NotNil(t, dr.Session.Verdict)
	assert.Equal(t, verification.StatusCounterfeit, dr.Session.Verdict.Status)
	assert.Equal(t, verification.SourceUpload, dr.Session.Source)

	// second decode does not replace the verdict
	rec = f.do(t, http.MethodPost, base+"/decode", DecodeRequest{Identifier: "DEMO-GEN-001"})
	decode(t, rec, &dr)
	assert.False(t, dr.Accepted)
	assert.Equal(t, verification.StatusCounterfeit, dr.Session.Verdict.Status)

	rec = f.do(t, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &snap)
	assert.Equal(t, verification.StateIdle, snap.State)
	assert.Nil(t, snap.Verdict)

	rec = f.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, f.gauge.active)

	rec = f.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionDecode_InvalidSource(t *testing.T) {
	f := newFixture(t, fraud.DefaultIncidents())

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", nil)
	var snap verification.Snapshot
	decode(t, rec, &snap)

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/"+snap.ID+"/decode", map[string]string{
		"identifier": "DEMO-GEN-001",
		"source":     "telepathy",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerify(t *testing.T) {
	f := newFixture(t, fraud.DefaultIncidents())

	rec := f.do(t, http.MethodPost, "/api/v1/verify", VerifyRequest{Identifier: "DEMO-GEN-002"})
	require.Equal(t, http.StatusOK, rec.Code)
	var v verification.Verdict
	decode(t, rec, &v)
	assert.Equal(t, verification.StatusGenuine, v.Status)
	assert.True(t, v.Celebrate)
	assert.Equal(t, "Amoxicillin 500mg", v.Details.Name)

	rec = f.do(t, http.MethodPost, "/api/v1/verify", VerifyRequest{Identifier: "NOT-IN-REGISTRY"})
	decode(t, rec, &v)
	assert.Equal(t, verification.StatusUnknown, v.Status)
	assert.Equal(t, "NOT-IN-REGISTRY", v.Details.Identifier)
	assert.False(t, v.Celebrate)

	rec = f.do(t, http.MethodPost, "/api/v1/verify", VerifyRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyBatch(t *testing.T) {
	f := newFixture(t, fraud.DefaultIncidents())

	ids := []string{"DEMO-GEN-001", "DEMO-FAKE-001", "X-1", "DEMO-GEN-003", "DEMO-FAKE-002"}

	rec := f.do(t, http.MethodPost, "/api/v1/verify/batch", BatchRequest{Identifiers: ids})
	assert.Equal(t, http.StatusForbidden, rec.Code, "patients cannot batch verify")

	ctx := access.WithDevice(context.Background(), "pharmacy-7")
	require.NoError(t, f.roles.SetRole(ctx, access.RolePharmacy))

	rec = f.do(t, http.MethodPost, "/api/v1/verify/batch", BatchRequest{Identifiers: ids}, "X-Device-ID", "pharmacy-7")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp BatchResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Verdicts, len(ids))
	for i, v := range resp.Verdicts {
		assert.Equal(t, ids[i], v.Details.Identifier)
	}
	assert.Equal(t, 2, resp.Summary["genuine"])
	assert.Equal(t, 2, resp.Summary["counterfeit"])
	assert.Equal(t, 1, resp.Summary["unknown"])

	rec = f.do(t, http.MethodPost, "/api/v1/verify/batch", BatchRequest{Identifiers: []string{"A", ""}}, "X-Device-ID", "pharmacy-7")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/verify/batch", BatchRequest{}, "X-Device-ID", "pharmacy-7")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDemoCodes(t *testing.T) {
	f := newFixture(t, fraud.DefaultIncidents())

	rec := f.do(t, http.MethodGet, "/api/v1/demo-codes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Codes []verification.DemoCode `json:"codes"`
	}
	decode(t, rec, &body)
	assert.Len(t, body.Codes, 7)
}

func TestAccess_RoleAndNavigation(t *testing.T) {
	f := newFixture(t, fraud.DefaultIncidents())

	rec := f.do(t, http.MethodGet, "/api/v1/access/role", nil)
	var role RoleResponse
	decode(t, rec, &role)
	assert.Equal(t, access.RolePatient, role.Role)
	assert.Equal(t, "primary", role.Badge)

	rec = f.do(t, http.MethodPut, "/api/v1/access/role", RoleRequest{Role: "superuser"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/access/role", RoleRequest{Role: "admin"}, "X-Device-ID", "tablet")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &role)
	assert.Equal(t, "warning", role.Badge)

	var nav struct {
		Role  access.Role   `json:"role"`
		Items []access.Item `json:"items"`
	}
	rec = f.do(t, http.MethodGet, "/api/v1/access/navigation?surface=sidebar", nil, "X-Device-ID", "tablet")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &nav)
	labels := make([]string, len(nav.Items))
	for i, it := range nav.Items {
		labels[i] = it.Label
	}
	assert.Equal(t, []string{"Scan Medicine", "Dashboard", "Demo QR", "Admin Panel", "Settings"}, labels)

	// other devices keep the default role
	rec = f.do(t, http.MethodGet, "/api/v1/access/navigation", nil)
	decode(t, rec, &nav)
	assert.Equal(t, access.RolePatient, nav.Role)
	assert.Len(t, nav.Items, 4)

	rec = f.do(t, http.MethodGet, "/api/v1/access/navigation?surface=top", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/access/role", nil, "X-Device-ID", "tablet")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/access/capabilities", nil, "X-Device-ID", "tablet")
	var caps struct {
		Role         access.Role         `json:"role"`
		Capabilities []access.Capability `json:"capabilities"`
	}
	decode(t, rec, &caps)
	assert.Equal(t, access.RolePatient, caps.Role)
	assert.NotContains(t, caps.Capabilities, access.CapAdmin)
}

func TestHotspots(t *testing.T) {
	f := newFixture(t, fraud.DefaultIncidents())

	rec := f.do(t, http.MethodGet, "/api/v1/hotspots?top=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HotspotsResponse
	decode(t, rec, &resp)

	assert.Equal(t, 23, resp.MaxCount)
	require.Len(t, resp.Grid, 10)
	assert.Equal(t, "New York", resp.Grid[0].Location.Name)
	assert.Equal(t, 1.0, resp.Grid[0].Intensity)
	assert.Equal(t, fraud.TierHigh, resp.Grid[0].Tier)
	assert.Equal(t, "#ff0000", resp.Grid[0].Style.Color)
	assert.Equal(t, "Los Angeles", resp.Ranked[1].Location.Name)
	assert.Equal(t, 113, resp.Summary.TotalDetections)
	assert.Equal(t, 2, resp.Summary.HighRisk)
	assert.Len(t, resp.Summary.Top, 3)

	rec = f.do(t, http.MethodGet, "/api/v1/hotspots?top=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHotspots_EmptySource(t *testing.T) {
	f := newFixture(t, fraud.StaticSource{})

	rec := f.do(t, http.MethodGet, "/api/v1/hotspots", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestConnectivitySignals(t *testing.T) {
	f := newFixture(t, fraud.DefaultIncidents())

	rec := f.do(t, http.MethodPost, "/api/v1/connectivity/offline", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.monitor.Online())

	rec = f.do(t, http.MethodPost, "/api/v1/verify", VerifyRequest{Identifier: "DEMO-GEN-001"})
	var v verification.Verdict
	decode(t, rec, &v)
	assert.Equal(t, verification.StatusGenuine, v.Status, "offline uses the same registry")
	assert.False(t, v.Online)

	rec = f.do(t, http.MethodPost, "/api/v1/connectivity/online", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.monitor.Online())

	rec = f.do(t, http.MethodPost, "/api/v1/connectivity/flaky", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReports(t *testing.T) {
	f := newFixture(t, fraud.DefaultIncidents())

	sub := reporting.Submission{Identifier: "DEMO-FAKE-001", Status: verification.StatusCounterfeit, Location: "Chicago"}

	rec := f.do(t, http.MethodPost, "/api/v1/reports", sub, IdempotencyKeyHeader, "report-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	var first reporting.Receipt
	decode(t, rec, &first)
	assert.NotEmpty(t, first.ReportID)
	assert.Equal(t, "report-1", rec.Header().Get(IdempotencyKeyHeader))

	rec = f.do(t, http.MethodPost, "/api/v1/reports", sub, IdempotencyKeyHeader, "report-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var again reporting.Receipt
	decode(t, rec, &again)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.ReportID, again.ReportID)
	assert.Equal(t, 1, f.reports.Len())

	genuine := reporting.Submission{Identifier: "DEMO-GEN-001", Status: verification.StatusGenuine}
	rec = f.do(t, http.MethodPost, "/api/v1/reports", genuine, IdempotencyKeyHeader, "report-2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/reports", reporting.Submission{Status: verification.StatusUnknown})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, f.reports.Len())
}
