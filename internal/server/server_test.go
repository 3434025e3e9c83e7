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

	"github.com/google/uuid"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/autonomy"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/config"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/customer"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/db"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/migrate"
)

type testServer struct {
	URL    string
	Engine *autonomy.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("acme")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := autonomy.New(conn, cfg)
	ctx := context.Background()
	tenant := domain.Tenant{
		ID:        cfg.Tenant.ID,
		Name:      "Acme",
		Status:    "active",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertTenant(ctx, tenant); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if err := e.Repo.UpsertTenantConfig(ctx, cfg.Tenant.ID, cfg); err != nil {
		t.Fatalf("seed tenant config: %v", err)
	}
	handler, err := New(Config{
		Engine:    e,
		Customers: customer.NewService(e.Repo),
		Cfg:       cfg,
		BasePath:  "/v0",
		Auth:      auth,
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
		Engine: e,
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

func TestGoalLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/acme"

	start := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
	end := time.Now().UTC().Add(6 * 24 * time.Hour).Format(time.RFC3339)
	res, data := doJSON(t, client, http.MethodPost, base+"/goals", map[string]any{
		"goal_type":    "pipeline",
		"target_value": 100000,
		"period_start": start,
		"period_end":   end,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create goal status %d: %s", res.StatusCode, string(data))
	}
	var goal domain.Goal
	if err := json.Unmarshal(data, &goal); err != nil {
		t.Fatalf("unmarshal goal: %v", err)
	}
	if goal.Status != "active" {
		t.Fatalf("expected active goal, got %q", goal.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/goals/"+goal.ID+"/progress", map[string]any{
		"value": 25000,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update progress status %d: %s", res.StatusCode, string(data))
	}
	var updated domain.Goal
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshal updated goal: %v", err)
	}
	if updated.CurrentValue != 25000 {
		t.Fatalf("expected current value 25000, got %v", updated.CurrentValue)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/goals?status=active", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list goals status %d: %s", res.StatusCode, string(data))
	}
	var goals []domain.Goal
	if err := json.Unmarshal(data, &goals); err != nil {
		t.Fatalf("unmarshal goals: %v", err)
	}
	if len(goals) != 1 {
		t.Fatalf("expected 1 active goal, got %d", len(goals))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/goals/status", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("goal status %d: %s", res.StatusCode, string(data))
	}
	var statuses []domain.GoalStatus
	if err := json.Unmarshal(data, &statuses); err != nil {
		t.Fatalf("unmarshal statuses: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Goal.ID != goal.ID {
		t.Fatalf("unexpected pacing report: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/goals/"+goal.ID+"/suggestions", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("suggestions status %d: %s", res.StatusCode, string(data))
	}
}

func TestGoalValidation(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/acme"

	start := time.Now().UTC().Format(time.RFC3339)
	end := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	res, data := doJSON(t, client, http.MethodPost, base+"/goals", map[string]any{
		"goal_type":    "pipeline",
		"target_value": -5,
		"period_start": start,
		"period_end":   end,
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative target, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("expected bad_request code, got %q", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/goals/missing/progress", map[string]any{
		"value": 10,
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown goal, got %d: %s", res.StatusCode, string(data))
	}
}

func TestActionApprovalFlow(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/acme"

	res, data := doJSON(t, client, http.MethodPost, base+"/actions", map[string]any{
		"action_type": "send_proposal",
		"account_id":  "acct-1",
		"rationale":   "deal ready for proposal",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("propose status %d: %s", res.StatusCode, string(data))
	}
	var proposed ProposeActionResponse
	if err := json.Unmarshal(data, &proposed); err != nil {
		t.Fatalf("unmarshal proposal: %v", err)
	}
	if proposed.Verdict.Allowed || !proposed.Verdict.RequiresHuman {
		t.Fatalf("expected approval_required verdict, got %+v", proposed.Verdict)
	}

	// Executing before approval must be rejected.
	res, data = doJSON(t, client, http.MethodPost, base+"/actions/"+proposed.ActionID+"/execute", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 before approval, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/approvals", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list approvals status %d: %s", res.StatusCode, string(data))
	}
	var pending []domain.ApprovalRequest
	if err := json.Unmarshal(data, &pending); err != nil {
		t.Fatalf("unmarshal approvals: %v", err)
	}
	if len(pending) != 1 || pending[0].ActionID != proposed.ActionID {
		t.Fatalf("unexpected pending approvals: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/approvals/"+proposed.ActionID+"/resolve", map[string]any{
		"approved": true,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
	}
	var resolved domain.ApprovalRequest
	if err := json.Unmarshal(data, &resolved); err != nil {
		t.Fatalf("unmarshal resolved approval: %v", err)
	}
	if resolved.Status != "approved" {
		t.Fatalf("expected approved, got %q", resolved.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/actions/"+proposed.ActionID+"/execute", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("execute status %d: %s", res.StatusCode, string(data))
	}
	var rec domain.ActionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.ExecutedAt == nil {
		t.Fatalf("expected executed_at to be set")
	}

	// Resolving twice must fail: the approval is no longer pending.
	res, data = doJSON(t, client, http.MethodPost, base+"/approvals/"+proposed.ActionID+"/resolve", map[string]any{
		"approved": false,
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second resolve, got %d: %s", res.StatusCode, string(data))
	}
}

func TestHardStopBlocked(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/acme"

	res, data := doJSON(t, client, http.MethodPost, base+"/actions", map[string]any{
		"action_type": "commit_pricing",
		"account_id":  "acct-1",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("propose status %d: %s", res.StatusCode, string(data))
	}
	var proposed ProposeActionResponse
	if err := json.Unmarshal(data, &proposed); err != nil {
		t.Fatalf("unmarshal proposal: %v", err)
	}
	if proposed.Verdict.Allowed || proposed.Verdict.Reason != domain.ReasonHardStop {
		t.Fatalf("expected hard stop, got %+v", proposed.Verdict)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/actions/"+proposed.ActionID+"/execute", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 executing blocked action, got %d: %s", res.StatusCode, string(data))
	}

	// Hard stops never show up in the approval queue.
	res, data = doJSON(t, client, http.MethodGet, base+"/approvals", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list approvals status %d: %s", res.StatusCode, string(data))
	}
	var pending []domain.ApprovalRequest
	if err := json.Unmarshal(data, &pending); err != nil {
		t.Fatalf("unmarshal approvals: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty approval queue, got %d", len(pending))
	}
}

func TestInteractionScanAndInsights(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/acme"

	for _, summary := range []string{
		"asked about pricing and budget for next quarter",
		"requested a demo for the security team",
		"wants timeline for rollout, evaluating contract terms",
	} {
		res, data := doJSON(t, client, http.MethodPost, base+"/interactions", map[string]any{
			"account_id":      "acct-1",
			"channel":         "email",
			"content_summary": summary,
			"sentiment":       "positive",
		}, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("record interaction status %d: %s", res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, base+"/accounts", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list accounts status %d: %s", res.StatusCode, string(data))
	}
	var accounts []string
	if err := json.Unmarshal(data, &accounts); err != nil {
		t.Fatalf("unmarshal accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0] != "acct-1" {
		t.Fatalf("unexpected accounts: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/accounts/acct-1/scan", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("scan status %d: %s", res.StatusCode, string(data))
	}
	var scan ScanResponse
	if err := json.Unmarshal(data, &scan); err != nil {
		t.Fatalf("unmarshal scan: %v", err)
	}
	if scan.Matches == 0 {
		t.Fatalf("expected buying signal matches, got none: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/insights?status=pending", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list insights status %d: %s", res.StatusCode, string(data))
	}
	var insights []domain.Insight
	if err := json.Unmarshal(data, &insights); err != nil {
		t.Fatalf("unmarshal insights: %v", err)
	}
	if len(insights) == 0 {
		t.Fatalf("expected pending insights")
	}

	insightID := insights[0].ID
	res, data = doJSON(t, client, http.MethodPost, base+"/insights/"+insightID+"/feedback", map[string]any{
		"verdict": "useful",
		"comment": "good catch",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("feedback status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, base+"/insights/"+insightID+"/status", map[string]any{
		"status": "acted",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set status %d: %s", res.StatusCode, string(data))
	}
	var acted domain.Insight
	if err := json.Unmarshal(data, &acted); err != nil {
		t.Fatalf("unmarshal acted insight: %v", err)
	}
	if acted.Status != "acted" || acted.ActedAt == nil {
		t.Fatalf("expected acted insight with timestamp, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/insights/feedback", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("feedback summary status %d: %s", res.StatusCode, string(data))
	}
	var summary domain.FeedbackSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal feedback summary: %v", err)
	}
	if summary.Useful != 1 {
		t.Fatalf("expected 1 useful verdict, got %+v", summary)
	}
}

func TestInsightFeedbackValidation(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/acme"

	in := domain.Insight{
		ID:          uuid.New().String(),
		TenantID:    "acme",
		AccountID:   "acct-9",
		PatternType: domain.PatternBuyingSignal,
		Severity:    domain.SeverityMedium,
		Confidence:  0.8,
		Evidence:    []string{"a", "b"},
		Status:      "pending",
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := srv.Engine.Repo.InsertInsight(context.Background(), in); err != nil {
		t.Fatalf("seed insight: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, base+"/insights/"+in.ID+"/feedback", map[string]any{
		"verdict": "maybe",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad verdict, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/insights/missing/feedback", map[string]any{
		"verdict": "useful",
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown insight, got %d: %s", res.StatusCode, string(data))
	}
}

func TestThresholdTuning(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/acme"

	res, data := doJSON(t, client, http.MethodPatch, base+"/patterns/threshold", map[string]any{
		"confidence_threshold": 0.99,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch threshold status %d: %s", res.StatusCode, string(data))
	}
	var got ThresholdResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal threshold: %v", err)
	}
	if got.ConfidenceThreshold != config.MaxConfidenceThreshold {
		t.Fatalf("expected clamp to %v, got %v", config.MaxConfidenceThreshold, got.ConfidenceThreshold)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/patterns/threshold", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get threshold status %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsTail(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/acme"

	res, data := doJSON(t, client, http.MethodPost, base+"/actions", map[string]any{
		"action_type": "send_follow_up_email",
		"account_id":  "acct-1",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("propose status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/events", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected audit events after proposing an action")
	}
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: "test-secret"})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/tenants/acme"

	res, data := doJSON(t, client, http.MethodGet, base+"/goals", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}

	// Health stays open.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "tester",
		"roles":    []string{"admin"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatalf("expected token")
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/goals", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authorized goals status %d: %s", res.StatusCode, string(data))
	}
}
