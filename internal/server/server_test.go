package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"decisiond/internal/agent"
	"decisiond/internal/audit"
	"decisiond/internal/auth"
	"decisiond/internal/casework"
	"decisiond/internal/evidence"
	"decisiond/internal/model"
	"decisiond/internal/objstore"
	"decisiond/internal/policy"
	"decisiond/internal/store"
)

type testEnv struct {
	srv *httptest.Server
	db  *store.DB
	sv  *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "server_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := audit.NewLog(db)
	policies := policy.NewStore(db, nil, logger)
	if err := policies.Save(context.Background(), policy.DefaultKYCPolicy()); err != nil {
		t.Fatal(err)
	}
	engine := policy.NewEngine(log, logger)
	orch := agent.NewOrchestrator(agent.DefaultRegistry(), db, logger)
	cases := casework.NewManager(db, log, policies, engine, orch,
		evidence.NewService(db, evidence.SyntheticCollector{}), logger)

	sv, err := auth.NewService(db, "test-secret", "development", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	s := New(db, cases, policies, engine, log, sv, objstore.NewMemory(),
		[]string{"http://localhost:3000"}, logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, db: db, sv: sv}
}

func (e *testEnv) seedUser(t *testing.T, email, role string) string {
	t.Helper()
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	u := model.User{
		UserID:       "usr_" + role,
		Email:        email,
		Role:         role,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.db.CreateUser(context.Background(), &u); err != nil {
		t.Fatal(err)
	}
	token, err := e.sv.IssueToken(u)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, buf)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func decodeInto(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp, data := e.do(t, http.MethodGet, "/v1/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
}

func TestCreateCaseValidation(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/v1/cases", "", map[string]any{
		"vertical": "kyc", "priority": "extreme",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad priority status = %d, want 400", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodPost, "/v1/cases", "", map[string]any{
		"vertical": "insurance",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("no active policy status = %d, want 409", resp.StatusCode)
	}
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	token := e.seedUser(t, "analyst@example.com", "senior_compliance_officer")

	// Sanctions hit drives the case to manual review with a queue entry.
	resp, data := e.do(t, http.MethodPost, "/v1/cases", "", map[string]any{
		"vertical": "kyc",
		"priority": "high",
		"metadata": map[string]any{"sanctions_status": "hit"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, data)
	}
	var c model.Case
	decodeInto(t, data, &c)

	resp, data = e.do(t, http.MethodPost, "/v1/cases/"+c.CaseID+"/submit", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d: %s", resp.StatusCode, data)
	}
	decodeInto(t, data, &c)
	if c.Status != model.StatusUnderReviewManual {
		t.Fatalf("status after submit = %s, want under_review.manual_review", c.Status)
	}

	// Queue listing shows the assignment.
	resp, data = e.do(t, http.MethodGet, "/v1/queues/senior_compliance_officer", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("queue status = %d: %s", resp.StatusCode, data)
	}
	var queue struct {
		Depth       int                     `json:"depth"`
		Assignments []model.QueueAssignment `json:"assignments"`
	}
	decodeInto(t, data, &queue)
	if queue.Depth != 1 || len(queue.Assignments) != 1 {
		t.Fatalf("queue = %+v, want one assignment", queue)
	}
	asn := queue.Assignments[0]

	// Claim requires an operator token; a second claim conflicts.
	resp, _ = e.do(t, http.MethodPost, "/v1/queues/senior_compliance_officer/claim", "",
		map[string]any{"assignment_id": asn.AssignmentID})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous claim status = %d, want 401", resp.StatusCode)
	}
	resp, data = e.do(t, http.MethodPost, "/v1/queues/senior_compliance_officer/claim", token,
		map[string]any{"assignment_id": asn.AssignmentID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim status = %d: %s", resp.StatusCode, data)
	}
	other := e.seedUser(t, "other@example.com", "kyc_analyst")
	resp, _ = e.do(t, http.MethodPost, "/v1/queues/senior_compliance_officer/claim", other,
		map[string]any{"assignment_id": asn.AssignmentID})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second claim status = %d, want 409", resp.StatusCode)
	}

	// Review closes the case.
	resp, data = e.do(t, http.MethodPost, "/v1/cases/"+c.CaseID+"/review", token, map[string]any{
		"action": "reject",
		"reasoning": map[string]any{
			"rationale": "Sanctions screening returned a confirmed hit; rejecting per compliance policy.",
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("review status = %d: %s", resp.StatusCode, data)
	}
	decodeInto(t, data, &c)
	if c.Status != model.StatusRejected {
		t.Errorf("status after review = %s, want rejected", c.Status)
	}

	// Full detail includes the ensemble; history is non-empty and the
	// chain verifies.
	resp, data = e.do(t, http.MethodGet, "/v1/cases/"+c.CaseID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var detail caseDetail
	decodeInto(t, data, &detail)
	if detail.Ensemble == nil {
		t.Error("detail missing ensemble")
	}
	if len(detail.Evidence) == 0 {
		t.Error("detail missing evidence")
	}

	resp, data = e.do(t, http.MethodGet, "/v1/cases/"+c.CaseID+"/verify", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", resp.StatusCode)
	}
	var chain audit.ChainStatus
	decodeInto(t, data, &chain)
	if !chain.Valid || chain.TotalEvents == 0 {
		t.Errorf("chain = %+v, want valid non-empty", chain)
	}

	resp, data = e.do(t, http.MethodGet, "/v1/cases/"+c.CaseID+"/replay", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay status = %d", resp.StatusCode)
	}
	var replay audit.ReplayedState
	decodeInto(t, data, &replay)
	if replay.Status != model.StatusRejected {
		t.Errorf("replayed status = %s, want rejected", replay.Status)
	}
}

func TestReviewRequiresToken(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.do(t, http.MethodPost, "/v1/cases/case_x/review", "", map[string]any{
		"action":    "approve",
		"reasoning": map[string]any{"rationale": "x"},
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCaseNotFound(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/v1/cases/case_missing", "/v1/cases/case_missing/history"} {
		resp, _ := e.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "analyst@example.com", "kyc_analyst")

	resp, data := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": "analyst@example.com", "password": "s3cret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d: %s", resp.StatusCode, data)
	}
	var out loginResponse
	decodeInto(t, data, &out)
	if out.AccessToken == "" || out.User.Role != "kyc_analyst" {
		t.Errorf("login response = %+v", out)
	}

	resp, _ = e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": "analyst@example.com", "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", resp.StatusCode)
	}
}

func TestDocumentUpload(t *testing.T) {
	e := newTestEnv(t)

	resp, data := e.do(t, http.MethodPost, "/v1/cases", "", map[string]any{"vertical": "kyc"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var c model.Case
	decodeInto(t, data, &c)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("document_type", "drivers_license"); err != nil {
		t.Fatal(err)
	}
	fw, err := mw.CreateFormFile("file", "license.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte("fake image bytes")); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/v1/cases/"+c.CaseID+"/documents", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer httpResp.Body.Close()
	body, _ := io.ReadAll(httpResp.Body)
	if httpResp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", httpResp.StatusCode, body)
	}
	var doc model.Document
	decodeInto(t, body, &doc)
	if doc.OCRStatus != model.OCRPending || doc.DocumentType != "drivers_license" {
		t.Errorf("document = %+v", doc)
	}

	resp, data = e.do(t, http.MethodGet, "/v1/cases/"+c.CaseID+"/documents", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list documents status = %d", resp.StatusCode)
	}
	var listed struct {
		Count int `json:"count"`
	}
	decodeInto(t, data, &listed)
	if listed.Count != 1 {
		t.Errorf("document count = %d, want 1", listed.Count)
	}
}

func TestPolicySimulate(t *testing.T) {
	e := newTestEnv(t)

	resp, data := e.do(t, http.MethodPost, "/v1/cases", "", map[string]any{
		"vertical": "kyc",
		"metadata": map[string]any{"sanctions_status": "hit"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatal(resp.StatusCode)
	}
	var c model.Case
	decodeInto(t, data, &c)
	if resp, _ = e.do(t, http.MethodPost, "/v1/cases/"+c.CaseID+"/submit", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatal("submit failed")
	}

	resp, data = e.do(t, http.MethodPost, "/v1/policies/pol_kyc_v1/simulate", "",
		map[string]any{"case_id": c.CaseID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("simulate status = %d: %s", resp.StatusCode, data)
	}
	var sim policy.Simulation
	decodeInto(t, data, &sim)
	if sim.MatchedRule != "Sanctions Hit" || sim.Action != model.ActionEscalate {
		t.Errorf("simulation = %+v", sim)
	}
	if sim.WouldAutoDecide {
		t.Error("escalation must not auto-decide")
	}
}

func TestPolicyActivateRequiresAdmin(t *testing.T) {
	e := newTestEnv(t)
	analyst := e.seedUser(t, "analyst@example.com", "kyc_analyst")
	admin := e.seedUser(t, "admin@example.com", "admin")

	v2 := policy.DefaultKYCPolicy()
	v2.PolicyID = "pol_kyc_v2"
	v2.Version = "2.0"
	v2.Active = false
	if err := policy.NewStore(e.db, nil, nil).Save(context.Background(), v2); err != nil {
		t.Fatal(err)
	}

	resp, _ := e.do(t, http.MethodPost, "/v1/policies/pol_kyc_v2/activate", analyst, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("analyst activate status = %d, want 403", resp.StatusCode)
	}
	resp, data := e.do(t, http.MethodPost, "/v1/policies/pol_kyc_v2/activate", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin activate status = %d: %s", resp.StatusCode, data)
	}
}
