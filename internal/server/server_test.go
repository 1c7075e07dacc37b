package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"inspectline/internal/config"
	"inspectline/internal/db"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), zap.NewNop())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api/v1",
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
			Logger:                 zap.NewNop(),
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asIT() map[string]string {
	return map[string]string{"X-Actor-Id": "it-1", "X-Actor-Role": "it"}
}

func asManager() map[string]string {
	return map[string]string{"X-Actor-Id": "mgr-1", "X-Actor-Role": "manager"}
}

func asInspector() map[string]string {
	return map[string]string{"X-Actor-Id": "insp-1", "X-Actor-Role": "inspector"}
}

func envelopeCode(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal error envelope: %v: %s", err, string(data))
	}
	return body.Error.Code
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/templates", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := envelopeCode(t, data); code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/templates", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
	if code := envelopeCode(t, data); code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials code, got %q", code)
	}

	// Health stays open.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res.StatusCode)
	}
}

func TestJWTAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	claims := jwt.MapClaims{
		"sub":  "mgr-9",
		"role": "manager",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var p Principal
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal principal: %v", err)
	}
	if p.UserID != "mgr-9" || p.Role != "manager" {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestRoleGuards(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/templates", map[string]any{
		"title": "Nope",
	}, asInspector())
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	if code := envelopeCode(t, data); code != "forbidden" {
		t.Fatalf("expected forbidden code, got %q", code)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/templates/missing", nil, asIT())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if code := envelopeCode(t, data); code != "not_found" {
		t.Fatalf("expected not_found code, got %q", code)
	}
}

func publishLot150Template(t *testing.T, srv *testServer) domain.Template {
	t.Helper()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/templates", map[string]any{
		"title": "Incoming lot check",
		"pages": []map[string]any{
			{"id": "p1", "questions": []map[string]any{
				{"id": "q1", "text": "Packaging intact?", "kind": "yes_no"},
			}},
		},
	}, asIT())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create template %d: %s", res.StatusCode, string(data))
	}
	var tpl domain.Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/templates/"+tpl.ID+"/submit", map[string]any{
		"manager_id": "mgr-1",
	}, asIT())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit template %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/templates/"+tpl.ID+"/publish", nil, asManager())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("publish template %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/v1/templates/"+tpl.ID+"/sampling", map[string]any{
		"lot_size":  150,
		"aql_level": 2.5,
	}, asManager())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("configure sampling %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &tpl); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}
	return tpl
}

func TestSamplingPlanEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	tpl := publishLot150Template(t, srv)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/templates/"+tpl.ID+"/sampling", nil, asManager())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get plan %d: %s", res.StatusCode, string(data))
	}
	var plan aqlPlanResponse
	if err := json.Unmarshal(data, &plan); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	if plan.SampleSize != 20 {
		t.Fatalf("expected sample size 20, got %d", plan.SampleSize)
	}
	if plan.CriticalAllowed != 0 || plan.MajorAllowed != 1 || plan.MinorAllowed != 1 {
		t.Fatalf("unexpected allowances: %+v", plan)
	}
}

func TestInspectionLifecycleHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	tpl := publishLot150Template(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/inspections", map[string]any{
		"template_id":  tpl.ID,
		"inspector_id": "insp-1",
	}, asManager())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("assign %d: %s", res.StatusCode, string(data))
	}
	var ins domain.Inspection
	if err := json.Unmarshal(data, &ins); err != nil {
		t.Fatalf("unmarshal inspection: %v", err)
	}
	if ins.Status != "assigned" {
		t.Fatalf("expected assigned, got %s", ins.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/inspections/"+ins.ID+"/start", nil, asInspector())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/inspections/"+ins.ID+"/submit", map[string]any{
		"responses":     map[string]any{"q1": "yes"},
		"defect_counts": map[string]any{"critical": 0, "major": 3, "minor": 0},
	}, asInspector())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &ins); err != nil {
		t.Fatalf("unmarshal submitted: %v", err)
	}
	if ins.Status != "submitted" {
		t.Fatalf("expected submitted, got %s", ins.Status)
	}
	if ins.AQLPassed {
		t.Fatal("expected AQL failure with 3 major defects against allowance 1")
	}
	if len(ins.RejectionReasons) != 1 || ins.RejectionReasons[0] != "MAJOR_EXCEEDED" {
		t.Fatalf("unexpected rejection reasons: %v", ins.RejectionReasons)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/inspections/"+ins.ID+"/aql", nil, asManager())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get aql %d: %s", res.StatusCode, string(data))
	}
	var snap domain.AQLSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.Overridden {
		t.Fatal("expected no override")
	}
	if snap.Computed.Passed != snap.Effective.Passed {
		t.Fatal("computed and effective must agree without override")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/inspections/"+ins.ID+"/approve", nil, asManager())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &ins); err != nil {
		t.Fatalf("unmarshal approved: %v", err)
	}
	if ins.Status != "completed" {
		t.Fatalf("expected completed, got %s", ins.Status)
	}
	if ins.CompletedAt == nil {
		t.Fatal("expected completed_at set")
	}

	// Failing lot opens a corrective action for the manager.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/corrective-actions", nil, asManager())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list corrective actions %d: %s", res.StatusCode, string(data))
	}
	var cars []domain.CorrectiveAction
	if err := json.Unmarshal(data, &cars); err != nil {
		t.Fatalf("unmarshal corrective actions: %v", err)
	}
	if len(cars) != 1 {
		t.Fatalf("expected one corrective action, got %d", len(cars))
	}
	if cars[0].InspectionID != ins.ID || cars[0].Status != "open" {
		t.Fatalf("unexpected corrective action: %+v", cars[0])
	}

	// Double approve conflicts.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/inspections/"+ins.ID+"/approve", nil, asManager())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double approve, got %d: %s", res.StatusCode, string(data))
	}
	if code := envelopeCode(t, data); code != "state_conflict" {
		t.Fatalf("expected state_conflict, got %q", code)
	}

	// Audit trail covers the full lifecycle in order.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/inspections/"+ins.ID+"/audit", nil, asManager())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit %d: %s", res.StatusCode, string(data))
	}
	var events []domain.AuditEvent
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	want := []string{"inspection.assigned", "inspection.started", "inspection.submitted", "inspection.approved"}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, action := range want {
		if events[i].Action != action {
			t.Fatalf("event %d: expected %s, got %s", i, action, events[i].Action)
		}
	}
}

func TestEvidenceGateHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/templates", map[string]any{
		"title": "Evidence check",
		"pages": []map[string]any{
			{"id": "p1", "questions": []map[string]any{
				{"id": "q1", "text": "Seal broken?", "kind": "yes_no", "rules": []map[string]any{
					{"condition": map[string]any{"kind": "equals", "equals": "yes"}, "require_text": true, "require_media": true},
				}},
			}},
		},
	}, asIT())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create template %d: %s", res.StatusCode, string(data))
	}
	var tpl domain.Template
	_ = json.Unmarshal(data, &tpl)
	doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/templates/"+tpl.ID+"/submit", map[string]any{"manager_id": "mgr-1"}, asIT())
	doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/templates/"+tpl.ID+"/publish", nil, asManager())

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/inspections", map[string]any{
		"template_id":  tpl.ID,
		"inspector_id": "insp-1",
	}, asManager())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("assign %d: %s", res.StatusCode, string(data))
	}
	var ins domain.Inspection
	_ = json.Unmarshal(data, &ins)
	doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/inspections/"+ins.ID+"/start", nil, asInspector())

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/inspections/"+ins.ID+"/submit", map[string]any{
		"responses": map[string]any{"q1": "yes"},
	}, asInspector())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	if code := envelopeCode(t, data); code != "evidence_required" {
		t.Fatalf("expected evidence_required, got %q", code)
	}

	// Satisfying the demands clears the gate.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/inspections/"+ins.ID+"/submit", map[string]any{
		"responses": map[string]any{
			"q1":                 "yes",
			"q1__evidence_text":  "seal torn on arrival",
			"q1__evidence_media": []string{"photo1.jpg"},
		},
	}, asInspector())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit with evidence %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &ins)
	if ins.Status != "submitted" {
		t.Fatalf("expected submitted, got %s", ins.Status)
	}

	// The rule also produced a manager notification.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/notifications", nil, asManager())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications %d: %s", res.StatusCode, string(data))
	}
	var notes []domain.Notification
	if err := json.Unmarshal(data, &notes); err != nil {
		t.Fatalf("unmarshal notifications: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected one notification, got %d", len(notes))
	}
	if notes[0].QuestionID != "q1" {
		t.Fatalf("unexpected notification: %+v", notes[0])
	}
}

func TestTaskProjectionHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	tpl := publishLot150Template(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/inspections", map[string]any{
		"template_id":  tpl.ID,
		"inspector_id": "insp-1",
	}, asManager())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("assign %d: %s", res.StatusCode, string(data))
	}
	var ins domain.Inspection
	_ = json.Unmarshal(data, &ins)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/tasks", nil, asInspector())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tasks %d: %s", res.StatusCode, string(data))
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected one backfilled task, got %d", len(tasks))
	}
	if tasks[0].Status != "todo" {
		t.Fatalf("expected todo, got %s", tasks[0].Status)
	}
	if tasks[0].InspectionID == nil || *tasks[0].InspectionID != ins.ID {
		t.Fatalf("task not anchored to inspection: %+v", tasks[0])
	}

	// Listing again must not duplicate.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/tasks", nil, asInspector())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("relist tasks %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &tasks)
	if len(tasks) != 1 {
		t.Fatalf("expected projection to stay idempotent, got %d tasks", len(tasks))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/tasks/stats", nil, asInspector())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats %d: %s", res.StatusCode, string(data))
	}
	var stats TaskStatsResponse
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Todo != 1 || stats.Total != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUsersAndAPIKeys(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/users", map[string]any{
		"email": "qa@example.com",
		"role":  "inspector",
	}, asIT())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user %d: %s", res.StatusCode, string(data))
	}
	var u domain.User
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/api-keys", map[string]any{
		"user_id": u.ID,
		"name":    "handheld",
	}, asIT())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create api key %d: %s", res.StatusCode, string(data))
	}
	var created APIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal api key: %v", err)
	}
	if created.Key == "" {
		t.Fatal("expected raw key in create response")
	}

	// The raw key authenticates as its owner.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/me", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me with api key %d: %s", res.StatusCode, string(data))
	}
	var p Principal
	_ = json.Unmarshal(data, &p)
	if p.UserID != u.ID || p.Role != "inspector" {
		t.Fatalf("unexpected principal: %+v", p)
	}

	// Listed keys never expose the raw value.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/api-keys", nil, asIT())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys %d: %s", res.StatusCode, string(data))
	}
	var keys []APIKeyResponse
	_ = json.Unmarshal(data, &keys)
	if len(keys) != 1 || keys[0].Key != "" {
		t.Fatalf("unexpected key list: %+v", keys)
	}
}
