package insight_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/db"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/insight"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/migrate"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/repo"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Gen  *insight.Generator
	Repo repo.Repo
	Ctx  context.Context
}

func newTestEnv(t *testing.T, alerts insight.Publisher) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	tenant := domain.Tenant{ID: "ten-1", Name: "acme", Status: "active", CreatedAt: testNow.Format(time.RFC3339)}
	if err := r.InsertTenant(ctx, tenant); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	gen := insight.NewGenerator(r, alerts)
	gen.Now = func() time.Time { return testNow }
	return testEnv{Gen: gen, Repo: r, Ctx: ctx}
}

func pmatch(account string, typ domain.PatternType, sev domain.Severity) domain.PatternMatch {
	return domain.PatternMatch{
		PatternType: typ,
		Confidence:  0.8,
		Severity:    sev,
		Evidence:    []string{"first signal", "second signal"},
		AccountID:   account,
		DetectedAt:  testNow,
	}
}

func TestCreateInsightPersistsPending(t *testing.T) {
	env := newTestEnv(t, nil)
	in, err := env.Gen.CreateInsight(env.Ctx, "ten-1", pmatch("acct-1", domain.PatternBuyingSignal, domain.SeverityMedium))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := env.Repo.GetInsight(env.Ctx, "ten-1", in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "pending" {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.AccountID != "acct-1" || got.PatternType != domain.PatternBuyingSignal {
		t.Errorf("unexpected insight %+v", got)
	}
	if len(got.Evidence) != 2 {
		t.Errorf("evidence round trip lost data: %v", got.Evidence)
	}
}

func TestCreateInsightsBatchDedup(t *testing.T) {
	env := newTestEnv(t, nil)
	created, err := env.Gen.CreateInsightsBatch(env.Ctx, "ten-1", []domain.PatternMatch{
		pmatch("acct-1", domain.PatternBuyingSignal, domain.SeverityMedium),
		pmatch("acct-1", domain.PatternBuyingSignal, domain.SeverityHigh),
		pmatch("acct-1", domain.PatternRiskIndicator, domain.SeverityHigh),
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created %d insights, want 2 (one intra-batch duplicate)", len(created))
	}

	// A second batch within the window dedups against persisted rows.
	created, err = env.Gen.CreateInsightsBatch(env.Ctx, "ten-1", []domain.PatternMatch{
		pmatch("acct-1", domain.PatternBuyingSignal, domain.SeverityMedium),
		pmatch("acct-2", domain.PatternBuyingSignal, domain.SeverityMedium),
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(created) != 1 || created[0].AccountID != "acct-2" {
		t.Fatalf("second batch created %+v, want only acct-2", created)
	}
}

func TestCreateInsightsBatchIgnoresStaleInsights(t *testing.T) {
	env := newTestEnv(t, nil)
	stale := domain.Insight{
		ID:          "stale-1",
		TenantID:    "ten-1",
		AccountID:   "acct-1",
		PatternType: domain.PatternBuyingSignal,
		Severity:    domain.SeverityMedium,
		Confidence:  0.8,
		Evidence:    []string{"a", "b"},
		Status:      "pending",
		CreatedAt:   testNow.Add(-25 * time.Hour).Format(time.RFC3339),
	}
	if err := env.Repo.InsertInsight(env.Ctx, stale); err != nil {
		t.Fatalf("seed: %v", err)
	}
	created, err := env.Gen.CreateInsightsBatch(env.Ctx, "ten-1", []domain.PatternMatch{
		pmatch("acct-1", domain.PatternBuyingSignal, domain.SeverityMedium),
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("insight older than the window should not suppress, created %d", len(created))
	}
}

type recordingPublisher struct {
	events []string
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, eventType string, data any) error {
	p.events = append(p.events, eventType)
	return p.err
}

func TestSendAlertDeliversWhenPublisherConfigured(t *testing.T) {
	pub := &recordingPublisher{}
	env := newTestEnv(t, pub)
	in, err := env.Gen.CreateInsight(env.Ctx, "ten-1", pmatch("acct-1", domain.PatternRiskIndicator, domain.SeverityCritical))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a := env.Gen.SendAlert(env.Ctx, in)
	if a.DeliveredAt == nil {
		t.Fatal("delivered_at not set on successful publish")
	}
	if len(pub.events) != 1 || pub.events[0] != "insight.alert" {
		t.Fatalf("published events = %v", pub.events)
	}
	alerts, err := env.Repo.ListAlerts(env.Ctx, "ten-1", 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d recorded alerts, want 1", len(alerts))
	}
}

func TestSendAlertNeverFails(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("webhook down")}
	env := newTestEnv(t, pub)
	in, err := env.Gen.CreateInsight(env.Ctx, "ten-1", pmatch("acct-1", domain.PatternRiskIndicator, domain.SeverityHigh))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a := env.Gen.SendAlert(env.Ctx, in)
	if a.DeliveredAt != nil {
		t.Fatal("delivered_at set despite publish failure")
	}
	alerts, err := env.Repo.ListAlerts(env.Ctx, "ten-1", 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].DeliveredAt != nil {
		t.Fatalf("alert should be recorded undelivered: %+v", alerts)
	}
}

func TestProcessBatchAlertsOnlyHighSeverity(t *testing.T) {
	pub := &recordingPublisher{}
	env := newTestEnv(t, pub)
	created, err := env.Gen.ProcessBatch(env.Ctx, "ten-1", []domain.PatternMatch{
		pmatch("acct-1", domain.PatternRiskIndicator, domain.SeverityCritical),
		pmatch("acct-2", domain.PatternBuyingSignal, domain.SeverityHigh),
		pmatch("acct-3", domain.PatternEngagementChange, domain.SeverityMedium),
		pmatch("acct-4", domain.PatternEngagementChange, domain.SeverityLow),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(created) != 4 {
		t.Fatalf("created %d, want 4", len(created))
	}
	if len(pub.events) != 2 {
		t.Fatalf("published %d alerts, want 2 (critical and high only)", len(pub.events))
	}
}

func TestGenerateDailyDigestGroupsByAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.Gen.CreateInsightsBatch(env.Ctx, "ten-1", []domain.PatternMatch{
		pmatch("acct-b", domain.PatternBuyingSignal, domain.SeverityMedium),
		pmatch("acct-a", domain.PatternRiskIndicator, domain.SeverityHigh),
		pmatch("acct-a", domain.PatternEngagementChange, domain.SeverityLow),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	digest, err := env.Gen.GenerateDailyDigest(env.Ctx, "ten-1")
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if digest.Total != 3 {
		t.Errorf("total = %d, want 3", digest.Total)
	}
	if len(digest.Groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(digest.Groups))
	}
	if digest.Groups[0].AccountID != "acct-a" || len(digest.Groups[0].Insights) != 2 {
		t.Errorf("first group = %s with %d insights", digest.Groups[0].AccountID, len(digest.Groups[0].Insights))
	}
	if digest.Groups[1].AccountID != "acct-b" || len(digest.Groups[1].Insights) != 1 {
		t.Errorf("second group = %s with %d insights", digest.Groups[1].AccountID, len(digest.Groups[1].Insights))
	}
}

func TestDigestExcludesOldAndResolvedInsights(t *testing.T) {
	env := newTestEnv(t, nil)
	old := domain.Insight{
		ID: "old-1", TenantID: "ten-1", AccountID: "acct-1",
		PatternType: domain.PatternBuyingSignal, Severity: domain.SeverityMedium,
		Confidence: 0.8, Evidence: []string{"a", "b"}, Status: "pending",
		CreatedAt: testNow.Add(-30 * time.Hour).Format(time.RFC3339),
	}
	if err := env.Repo.InsertInsight(env.Ctx, old); err != nil {
		t.Fatalf("seed: %v", err)
	}
	in, err := env.Gen.CreateInsight(env.Ctx, "ten-1", pmatch("acct-2", domain.PatternRiskIndicator, domain.SeverityHigh))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Repo.UpdateInsightStatus(env.Ctx, "ten-1", in.ID, "dismissed", ""); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	digest, err := env.Gen.GenerateDailyDigest(env.Ctx, "ten-1")
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if digest.Total != 0 {
		t.Fatalf("digest total = %d, want 0", digest.Total)
	}
}

func TestProcessFeedbackAndSummary(t *testing.T) {
	env := newTestEnv(t, nil)
	in, err := env.Gen.CreateInsight(env.Ctx, "ten-1", pmatch("acct-1", domain.PatternBuyingSignal, domain.SeverityMedium))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !env.Gen.ProcessFeedback(env.Ctx, "ten-1", in.ID, "useful", "good catch") {
		t.Fatal("useful feedback rejected")
	}
	if !env.Gen.ProcessFeedback(env.Ctx, "ten-1", in.ID, "false_alarm", "") {
		t.Fatal("false_alarm feedback rejected")
	}
	if !env.Gen.ProcessFeedback(env.Ctx, "ten-1", in.ID, "useful", "") {
		t.Fatal("second useful feedback rejected")
	}
	if env.Gen.ProcessFeedback(env.Ctx, "ten-1", in.ID, "shrug", "") {
		t.Fatal("unknown verdict accepted")
	}

	s, err := env.Gen.FeedbackSummary(env.Ctx, "ten-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Useful != 2 || s.FalseAlarm != 1 || s.Total != 3 {
		t.Fatalf("summary = %+v", s)
	}
	if want := 2.0 / 3.0; s.AccuracyRate != want {
		t.Fatalf("accuracy = %v, want %v", s.AccuracyRate, want)
	}
}

func TestFeedbackSummaryEmpty(t *testing.T) {
	env := newTestEnv(t, nil)
	s, err := env.Gen.FeedbackSummary(env.Ctx, "ten-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Total != 0 || s.AccuracyRate != 0 {
		t.Fatalf("summary = %+v, want zeroes", s)
	}
}
