package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/circuitbreaker"
	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/dispatch"
	"github.com/lalithlochan/solarops/internal/fault"
	"github.com/lalithlochan/solarops/internal/redis"
	"github.com/lalithlochan/solarops/internal/scope"
)

var errDatabase = errors.New("database error")

// mockRepository is a fake fault store for testing
type mockRepository struct {
	faults   map[uuid.UUID]*db.Fault
	attempts []*db.DeliveryAttempt

	lastFilter db.Predicate
	getCalls   int
	shouldFail bool
}

func newMockRepository(faults ...*db.Fault) *mockRepository {
	m := &mockRepository{faults: make(map[uuid.UUID]*db.Fault)}
	for _, f := range faults {
		m.faults[f.ID] = f
	}
	return m
}

func (m *mockRepository) GetFault(ctx context.Context, p db.Predicate, id uuid.UUID) (*db.Fault, error) {
	m.getCalls++
	m.lastFilter = p
	if m.shouldFail {
		return nil, errDatabase
	}
	f, ok := m.faults[id]
	if !ok || !p.(scope.Filter).Match(f.TenantID, f.SiteID) {
		return nil, db.ErrNotFound
	}
	return f, nil
}

func (m *mockRepository) ListFaults(ctx context.Context, p db.Predicate, limit, offset int) ([]*db.Fault, error) {
	m.lastFilter = p
	if m.shouldFail {
		return nil, errDatabase
	}
	filter := p.(scope.Filter)
	out := []*db.Fault{}
	for _, f := range m.faults {
		if filter.Match(f.TenantID, f.SiteID) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockRepository) ListDeliveryAttempts(ctx context.Context, tenantID, faultID uuid.UUID, limit int) ([]*db.DeliveryAttempt, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	var out []*db.DeliveryAttempt
	for _, a := range m.attempts {
		if a.TenantID == tenantID && a.FaultID == faultID {
			out = append(out, a)
		}
	}
	return out, nil
}

type mockEvents struct {
	got    *db.FaultEvent
	report *dispatch.Report
	err    error
}

func (m *mockEvents) HandleFaultEvent(ctx context.Context, ev *db.FaultEvent) (*dispatch.Report, error) {
	m.got = ev
	if m.err != nil {
		return nil, m.err
	}
	if m.report != nil {
		return m.report, nil
	}
	return &dispatch.Report{EventID: ev.EventID, Attempts: []dispatch.Attempt{}}, nil
}

type mockPublisher struct {
	got []*db.FaultEvent
	err error
}

func (m *mockPublisher) PublishFaultEvent(ctx context.Context, ev *db.FaultEvent) (string, error) {
	return m.send(ev)
}

func (m *mockPublisher) Enqueue(ctx context.Context, ev *db.FaultEvent) (string, error) {
	return m.send(ev)
}

func (m *mockPublisher) send(ev *db.FaultEvent) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.got = append(m.got, ev)
	return "msg-1", nil
}

type fixture struct {
	tenant, otherTenant uuid.UUID
	siteA, siteB        uuid.UUID
	faultA, faultB      *db.Fault
	foreign             *db.Fault
}

func newFixture() fixture {
	fx := fixture{
		tenant:      uuid.New(),
		otherTenant: uuid.New(),
		siteA:       uuid.New(),
		siteB:       uuid.New(),
	}
	created := time.Now().Add(-2 * time.Hour)
	fx.faultA = &db.Fault{ID: uuid.New(), TenantID: fx.tenant, SiteID: fx.siteA, Title: "Inverter trip", Status: db.StatusOpen, CreatedAt: created}
	fx.faultB = &db.Fault{ID: uuid.New(), TenantID: fx.tenant, SiteID: fx.siteB, Title: "String fuse", Status: db.StatusInProgress, CreatedAt: created}
	fx.foreign = &db.Fault{ID: uuid.New(), TenantID: fx.otherTenant, SiteID: uuid.New(), Title: "Other tenant", Status: db.StatusOpen, CreatedAt: created}
	return fx
}

func (fx fixture) caller(role db.Role, sites ...uuid.UUID) scope.Caller {
	return scope.Caller{AccountID: uuid.New(), TenantID: fx.tenant, Role: role, AssignedSiteIDs: sites}
}

func serve(h http.HandlerFunc, method, pattern, target string, caller *scope.Caller) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)

	req := httptest.NewRequest(method, target, nil)
	if caller != nil {
		req = req.WithContext(WithCaller(req.Context(), *caller))
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeList(t *testing.T, rr *httptest.ResponseRecorder) []FaultView {
	t.Helper()
	var resp struct {
		Data  []FaultView `json:"data"`
		Count int         `json:"count"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != len(resp.Data) {
		t.Errorf("count %d != len(data) %d", resp.Count, len(resp.Data))
	}
	return resp.Data
}

func TestListFaults_Scoping(t *testing.T) {
	fx := newFixture()

	tests := []struct {
		name   string
		caller scope.Caller
		query  string
		want   int
	}{
		{"manager sees tenant", fx.caller(db.RoleManager), "", 2},
		{"manager narrows to site", fx.caller(db.RoleManager), "?site_id=" + fx.siteA.String(), 1},
		{"customer sees assigned", fx.caller(db.RoleCustomer, fx.siteB), "", 1},
		{"customer without assignment", fx.caller(db.RoleCustomer), "", 0},
		{"customer asks for other site", fx.caller(db.RoleCustomer, fx.siteB), "?site_id=" + fx.siteA.String(), 0},
		{"super-admin sees everything", scope.Caller{Role: db.RoleSuperAdmin}, "", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepository(fx.faultA, fx.faultB, fx.foreign)
			h := NewHandler(zap.NewNop(), repo, &mockEvents{})

			rr := serve(h.ListFaults, http.MethodGet, "/v1/faults", "/v1/faults"+tt.query, &tt.caller)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if got := decodeList(t, rr); len(got) != tt.want {
				t.Errorf("expected %d faults, got %d", tt.want, len(got))
			}
		})
	}
}

func TestListFaults_AnnotatesDuration(t *testing.T) {
	fx := newFixture()
	repo := newMockRepository(fx.faultA)
	h := NewHandler(zap.NewNop(), repo, &mockEvents{})
	h.now = func() time.Time { return fx.faultA.CreatedAt.Add(90 * time.Minute) }

	c := fx.caller(db.RoleManager)
	rr := serve(h.ListFaults, http.MethodGet, "/v1/faults", "/v1/faults", &c)

	got := decodeList(t, rr)
	if len(got) != 1 {
		t.Fatalf("expected 1 fault, got %d", len(got))
	}
	if got[0].Duration != fault.Elapsed(fx.faultA, h.now()) {
		t.Errorf("duration = %q", got[0].Duration)
	}
	if got[0].StatusLabel != fault.Label(db.StatusOpen) {
		t.Errorf("status label = %q", got[0].StatusLabel)
	}
	if got[0].Title != "Inverter trip" {
		t.Errorf("embedded fault fields missing: %+v", got[0])
	}
}

func TestListFaults_Errors(t *testing.T) {
	fx := newFixture()

	t.Run("no caller", func(t *testing.T) {
		h := NewHandler(zap.NewNop(), newMockRepository(), &mockEvents{})
		rr := serve(h.ListFaults, http.MethodGet, "/v1/faults", "/v1/faults", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("bad site id", func(t *testing.T) {
		h := NewHandler(zap.NewNop(), newMockRepository(), &mockEvents{})
		c := fx.caller(db.RoleManager)
		rr := serve(h.ListFaults, http.MethodGet, "/v1/faults", "/v1/faults?site_id=nope", &c)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("caller without tenant", func(t *testing.T) {
		h := NewHandler(zap.NewNop(), newMockRepository(), &mockEvents{})
		c := scope.Caller{Role: db.RoleManager}
		rr := serve(h.ListFaults, http.MethodGet, "/v1/faults", "/v1/faults", &c)
		if rr.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rr.Code)
		}
	})

	t.Run("database failure", func(t *testing.T) {
		repo := newMockRepository()
		repo.shouldFail = true
		h := NewHandler(zap.NewNop(), repo, &mockEvents{})
		c := fx.caller(db.RoleManager)
		rr := serve(h.ListFaults, http.MethodGet, "/v1/faults", "/v1/faults", &c)
		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Errorf("content type = %q", ct)
		}
	})
}

func TestGetFault(t *testing.T) {
	fx := newFixture()

	tests := []struct {
		name     string
		caller   scope.Caller
		faultID  string
		wantCode int
	}{
		{"manager reads own tenant", fx.caller(db.RoleManager), fx.faultA.ID.String(), http.StatusOK},
		{"customer reads assigned site", fx.caller(db.RoleCustomer, fx.siteA), fx.faultA.ID.String(), http.StatusOK},
		{"customer reads other site", fx.caller(db.RoleCustomer, fx.siteA), fx.faultB.ID.String(), http.StatusNotFound},
		{"other tenant", fx.caller(db.RoleManager), fx.foreign.ID.String(), http.StatusNotFound},
		{"unknown fault", fx.caller(db.RoleManager), uuid.NewString(), http.StatusNotFound},
		{"invalid id", fx.caller(db.RoleManager), "abc", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(zap.NewNop(), newMockRepository(fx.faultA, fx.faultB, fx.foreign), &mockEvents{})
			rr := serve(h.GetFault, http.MethodGet, "/v1/faults/{id}", "/v1/faults/"+tt.faultID, &tt.caller)
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestGetFault_UnassignedCustomerNeverReachesStore(t *testing.T) {
	fx := newFixture()
	repo := newMockRepository(fx.faultA, fx.faultB)
	h := NewHandler(zap.NewNop(), repo, &mockEvents{})

	customer := fx.caller(db.RoleCustomer)
	id := fx.faultA.ID.String()
	routes := []struct {
		handler http.HandlerFunc
		pattern string
		target  string
	}{
		{h.GetFault, "/v1/faults/{id}", "/v1/faults/" + id},
		{h.ListDeliveries, "/v1/faults/{id}/deliveries", "/v1/faults/" + id + "/deliveries"},
	}

	for _, rt := range routes {
		rr := serve(rt.handler, http.MethodGet, rt.pattern, rt.target, &customer)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", rt.target, rr.Code)
		}
	}
	if repo.getCalls != 0 {
		t.Fatalf("store queried %d times for a customer without sites", repo.getCalls)
	}
}

func TestGetFault_PassesScopeToStore(t *testing.T) {
	fx := newFixture()
	repo := newMockRepository(fx.faultA)
	h := NewHandler(zap.NewNop(), repo, &mockEvents{})

	caller := fx.caller(db.RoleCustomer, fx.siteA)
	rr := serve(h.GetFault, http.MethodGet, "/v1/faults/{id}", "/v1/faults/"+fx.faultA.ID.String(), &caller)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	filter, ok := repo.lastFilter.(scope.Filter)
	if !ok {
		t.Fatalf("store got %T, want scope.Filter", repo.lastFilter)
	}
	if filter.TenantID != fx.tenant || len(filter.SiteIDs) != 1 || filter.SiteIDs[0] != fx.siteA {
		t.Errorf("store filter = %+v", filter)
	}
}

func TestListDeliveries(t *testing.T) {
	fx := newFixture()
	repo := newMockRepository(fx.faultA)
	repo.attempts = []*db.DeliveryAttempt{
		{ID: uuid.New(), TenantID: fx.tenant, FaultID: fx.faultA.ID, Channel: db.ChannelWebhook, Outcome: db.OutcomeSent},
		{ID: uuid.New(), TenantID: fx.tenant, FaultID: fx.faultA.ID, Channel: db.ChannelEmail, Recipient: "c@example.com", Outcome: db.OutcomeFailed},
		{ID: uuid.New(), TenantID: fx.tenant, FaultID: uuid.New(), Channel: db.ChannelEmail, Outcome: db.OutcomeSent},
	}
	h := NewHandler(zap.NewNop(), repo, &mockEvents{})
	target := "/v1/faults/" + fx.faultA.ID.String() + "/deliveries"

	tests := []struct {
		name     string
		caller   scope.Caller
		wantCode int
	}{
		{"manager", fx.caller(db.RoleManager), http.StatusOK},
		{"super-admin", scope.Caller{Role: db.RoleSuperAdmin}, http.StatusOK},
		{"technician", fx.caller(db.RoleTechnician), http.StatusForbidden},
		{"customer", fx.caller(db.RoleCustomer, fx.siteA), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h.ListDeliveries, http.MethodGet, "/v1/faults/{id}/deliveries", target, &tt.caller)
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rr.Code)
			}
			if rr.Code != http.StatusOK {
				return
			}
			var resp struct {
				Count int `json:"count"`
			}
			_ = json.NewDecoder(rr.Body).Decode(&resp)
			if resp.Count != 2 {
				t.Errorf("expected 2 attempts, got %d", resp.Count)
			}
		})
	}
}

func ingestBody(t *testing.T, ev map[string]interface{}) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewBuffer(b)
}

func validEvent(tenant uuid.UUID) map[string]interface{} {
	faultID := uuid.New()
	return map[string]interface{}{
		"event_id":   "evt-1",
		"kind":       "updated",
		"tenant_id":  tenant,
		"old_status": "open",
		"new_status": "resolved",
		"fault":      map[string]interface{}{"id": faultID, "tenant_id": tenant, "title": "Fuse", "status": "resolved"},
	}
}

func TestIngestFaultEvent_Inline(t *testing.T) {
	tenant := uuid.New()
	events := &mockEvents{report: &dispatch.Report{
		EventID: "evt-1",
		Trigger: fault.TriggerStatusChanged,
		Attempts: []dispatch.Attempt{
			{Channel: db.ChannelWebhook, Outcome: db.OutcomeSent},
			{Channel: db.ChannelEmail, Recipient: "a@example.com", Outcome: db.OutcomeFailed},
		},
	}}
	h := NewHandler(zap.NewNop(), newMockRepository(), events)

	req := httptest.NewRequest(http.MethodPost, "/internal/fault-events", ingestBody(t, validEvent(tenant)))
	rr := httptest.NewRecorder()
	h.IngestFaultEvent(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp IngestResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Transport != TransportInline || resp.Sent != 1 || resp.Failed != 1 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Trigger != string(fault.TriggerStatusChanged) {
		t.Errorf("trigger = %q", resp.Trigger)
	}
	if events.got == nil || events.got.OccurredAt.IsZero() {
		t.Error("handler should receive the event with an occurrence time")
	}
}

func TestIngestFaultEvent_Validation(t *testing.T) {
	tenant := uuid.New()

	tests := []struct {
		name     string
		mutate   func(ev map[string]interface{})
		header   string
		wantCode int
	}{
		{"bad kind", func(ev map[string]interface{}) { ev["kind"] = "patched" }, "", http.StatusBadRequest},
		{"missing tenant", func(ev map[string]interface{}) { delete(ev, "tenant_id") }, "", http.StatusBadRequest},
		{"tenant header mismatch", func(ev map[string]interface{}) {}, uuid.NewString(), http.StatusBadRequest},
		{"tenant header match", func(ev map[string]interface{}) {}, tenant.String(), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent(tenant)
			tt.mutate(ev)
			h := NewHandler(zap.NewNop(), newMockRepository(), &mockEvents{})

			req := httptest.NewRequest(http.MethodPost, "/internal/fault-events", ingestBody(t, ev))
			if tt.header != "" {
				req.Header.Set("X-Tenant-ID", tt.header)
			}
			rr := httptest.NewRecorder()
			h.IngestFaultEvent(rr, req)

			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rr.Code, rr.Body.String())
			}
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		h := NewHandler(zap.NewNop(), newMockRepository(), &mockEvents{})
		req := httptest.NewRequest(http.MethodPost, "/internal/fault-events", bytes.NewBufferString("{"))
		rr := httptest.NewRecorder()
		h.IngestFaultEvent(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestIngestFaultEvent_HandlerErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"tenant mismatch", dispatch.ErrTenantMismatch, http.StatusUnprocessableEntity},
		{"in flight", redis.ErrEventInFlight, http.StatusConflict},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(zap.NewNop(), newMockRepository(), &mockEvents{err: tt.err})
			req := httptest.NewRequest(http.MethodPost, "/internal/fault-events", ingestBody(t, validEvent(uuid.New())))
			rr := httptest.NewRecorder()
			h.IngestFaultEvent(rr, req)
			if rr.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rr.Code)
			}
		})
	}
}

func TestIngestFaultEvent_Transports(t *testing.T) {
	t.Run("topic wins over queue", func(t *testing.T) {
		topic, queue, events := &mockPublisher{}, &mockPublisher{}, &mockEvents{}
		h := NewHandler(zap.NewNop(), newMockRepository(), events, WithTopic(topic), WithQueue(queue))

		req := httptest.NewRequest(http.MethodPost, "/internal/fault-events", ingestBody(t, validEvent(uuid.New())))
		rr := httptest.NewRecorder()
		h.IngestFaultEvent(rr, req)

		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rr.Code)
		}
		var resp IngestResponse
		_ = json.NewDecoder(rr.Body).Decode(&resp)
		if resp.Transport != TransportSNS || resp.MessageID != "msg-1" {
			t.Errorf("response = %+v", resp)
		}
		if len(topic.got) != 1 || len(queue.got) != 0 || events.got != nil {
			t.Error("event should only go to the topic")
		}
	})

	t.Run("queue", func(t *testing.T) {
		queue := &mockPublisher{}
		h := NewHandler(zap.NewNop(), newMockRepository(), &mockEvents{}, WithQueue(queue))

		ev := validEvent(uuid.New())
		delete(ev, "event_id")
		req := httptest.NewRequest(http.MethodPost, "/internal/fault-events", ingestBody(t, ev))
		rr := httptest.NewRecorder()
		h.IngestFaultEvent(rr, req)

		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rr.Code)
		}
		if len(queue.got) != 1 || queue.got[0].EventID == "" {
			t.Error("queued event should carry a generated event id")
		}
	})

	t.Run("enqueue failure", func(t *testing.T) {
		h := NewHandler(zap.NewNop(), newMockRepository(), &mockEvents{}, WithQueue(&mockPublisher{err: errors.New("throttled")}))
		req := httptest.NewRequest(http.MethodPost, "/internal/fault-events", ingestBody(t, validEvent(uuid.New())))
		rr := httptest.NewRecorder()
		h.IngestFaultEvent(rr, req)
		if rr.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", rr.Code)
		}
	})
}

func TestHealth(t *testing.T) {
	webhook := circuitbreaker.New(circuitbreaker.Config{Name: "webhook", MaxFailures: 1}, zap.NewNop())
	email := circuitbreaker.New(circuitbreaker.DefaultConfig("email"), zap.NewNop())
	h := NewHandler(zap.NewNop(), newMockRepository(), &mockEvents{}, WithBreakers(webhook, email))

	assertStatus := func(want string) {
		t.Helper()
		rr := httptest.NewRecorder()
		h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		var resp struct {
			Status   string                 `json:"status"`
			Breakers []circuitbreaker.Stats `json:"breakers"`
		}
		_ = json.NewDecoder(rr.Body).Decode(&resp)
		if resp.Status != want {
			t.Errorf("status = %q, want %q", resp.Status, want)
		}
		if len(resp.Breakers) != 2 {
			t.Errorf("expected 2 breakers, got %d", len(resp.Breakers))
		}
	}

	assertStatus("ok")
	webhook.Allow()
	webhook.RecordFailure()
	assertStatus("degraded")
}

func TestHealth_FailedDependency(t *testing.T) {
	h := NewHandler(zap.NewNop(), newMockRepository(), &mockEvents{},
		WithCheck("database", func(ctx context.Context) error { return nil }),
		WithCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") }),
	)

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var resp struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Status != "unavailable" || resp.Dependencies["redis"] != "unreachable" || resp.Dependencies["database"] != "ok" {
		t.Errorf("response = %+v", resp)
	}
}
