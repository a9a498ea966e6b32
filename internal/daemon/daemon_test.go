package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"specforge/internal/api"
	"specforge/internal/config"
	"specforge/internal/services"
	"specforge/internal/store"
	"specforge/internal/testsupport"
)

func newTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	svc, err := api.New(api.Options{Config: cfg, Backend: testsupport.NewFakeBackend()})
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	d, err := New(svc, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func serve(d *Daemon, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	d.api.router.ServeHTTP(rec, req)
	return rec
}

func TestDaemonStartStopHoldsLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newTestDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.APIAddress == "" {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Service == nil || !status.Service.StoreHealthy {
		t.Fatalf("expected healthy service status, got %+v", status.Service)
	}

	second, err := New(d.svc, nil)
	if err != nil {
		t.Fatalf("New second: %v", err)
	}
	if err := second.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock conflict, got %v", err)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("daemon still running after Stop")
	}
	if d.Addr() != "" {
		t.Fatalf("listener still bound at %s", d.Addr())
	}
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
	second.Stop()
}

func TestAPIRequiresBearerToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = "s3cret"
	d := newTestDaemon(t, cfg)

	rec := serve(d, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = serve(d, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing request id header")
	}
}

func TestAPIAddCandidateRecordsActor(t *testing.T) {
	d := newTestDaemon(t, testsupport.NewConfig(t))

	body := `{"title": "Rising sun", "summary": "A yellow circle rises over a line"}`
	req := httptest.NewRequest(http.MethodPost, "/api/candidates", strings.NewReader(body))
	req.Header.Set(ActorHeader, "kim")
	rec := serve(d, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created store.Candidate
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 || created.Title != "Rising sun" {
		t.Fatalf("unexpected candidate %+v", created)
	}

	events, err := d.svc.Audit(context.Background(), store.AuditFilter{EntityType: store.EntityCandidate, EntityID: created.ID})
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(events) != 1 || events[0].Actor != "api:kim" {
		t.Fatalf("unexpected audit %+v", events)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	d := newTestDaemon(t, testsupport.NewConfig(t))

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   services.Code
	}{
		{"missing candidate", http.MethodGet, "/api/candidates/999", "", http.StatusNotFound, services.CodeNotFound},
		{"bad id", http.MethodGet, "/api/candidates/abc", "", http.StatusBadRequest, services.CodeInvalidArgument},
		{"missing title", http.MethodPost, "/api/candidates", `{"summary": "x"}`, http.StatusBadRequest, ""},
		{"unknown field", http.MethodPost, "/api/candidates", `{"name": "x"}`, http.StatusBadRequest, services.CodeInvalidArgument},
		{"unknown spec", http.MethodPost, "/api/specs/9.9/activate", "", http.StatusPreconditionFailed, services.CodeUnknownSpecVersion},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var req *http.Request
			if tc.body != "" {
				req = httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			} else {
				req = httptest.NewRequest(tc.method, tc.path, nil)
			}
			rec := serve(d, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			var payload errorBody
			if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if payload.Error.Kind == "" {
				t.Fatalf("missing error kind in %+v", payload)
			}
			if tc.code != "" && payload.Error.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, payload.Error.Code)
			}
		})
	}
}

func TestAPIEnqueueIsIdempotent(t *testing.T) {
	d := newTestDaemon(t, testsupport.NewConfig(t))

	body := `{"window_key": "manual-1"}`
	first := serve(d, httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(body)))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	second := serve(d, httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(body)))
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", second.Code)
	}
	var payload struct {
		Created bool               `json:"created"`
		Run     *store.PipelineRun `json:"run"`
	}
	if err := json.NewDecoder(second.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Created || payload.Run == nil || payload.Run.WindowKey != "manual-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
