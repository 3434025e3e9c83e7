package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/autonomy"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/config"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/customer"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/db"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/migrate"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/repo"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/scheduler"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T) (*scheduler.Scheduler, context.Context) {
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
	cfg := config.Default("ten-1")
	eng := autonomy.New(conn, cfg)
	eng.Now = func() time.Time { return testNow }
	eng.Insights.Now = eng.Now
	eng.Goals.Now = eng.Now
	svc := customer.NewService(repo.Repo{DB: conn})
	svc.Now = eng.Now
	ctx := context.Background()
	tenant := domain.Tenant{ID: "ten-1", Name: "acme", Status: "active", CreatedAt: testNow.Format(time.RFC3339)}
	if err := eng.Repo.InsertTenant(ctx, tenant); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	return scheduler.New(eng, svc, "ten-1", cfg.Scheduler), ctx
}

func seedRiskTimeline(t *testing.T, s *scheduler.Scheduler, ctx context.Context) {
	t.Helper()
	entries := []domain.Interaction{
		{TenantID: "ten-1", AccountID: "acct-1", Channel: "email", Timestamp: testNow.AddDate(0, 0, -9), Participants: []string{"alice"}, ContentSummary: "Our champion is resigned and taking a new role"},
		{TenantID: "ten-1", AccountID: "acct-1", Channel: "email", Timestamp: testNow.AddDate(0, 0, -3), Participants: []string{"bob"}, ContentSummary: "They sounded frustrated and are reconsidering the renewal"},
	}
	for _, in := range entries {
		if _, err := s.Customers.RecordInteraction(ctx, in); err != nil {
			t.Fatalf("seed interaction: %v", err)
		}
	}
}

func TestScanPatternsCreatesInsights(t *testing.T) {
	s, ctx := newScheduler(t)
	seedRiskTimeline(t, s, ctx)

	if err := s.ScanPatterns(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	insights, err := s.Engine.Repo.ListInsights(ctx, "ten-1", repo.ListInsightsOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(insights) != 1 {
		t.Fatalf("got %d insights, want 1", len(insights))
	}
	if insights[0].PatternType != domain.PatternRiskIndicator {
		t.Fatalf("pattern_type = %s", insights[0].PatternType)
	}

	// A rescan inside the dedup window does not duplicate.
	if err := s.ScanPatterns(ctx); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	insights, err = s.Engine.Repo.ListInsights(ctx, "ten-1", repo.ListInsightsOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(insights) != 1 {
		t.Fatalf("rescan duplicated insights: %d", len(insights))
	}
}

func TestCheckProactiveProposesThroughGuardrails(t *testing.T) {
	s, ctx := newScheduler(t)
	seedRiskTimeline(t, s, ctx)

	if err := s.CheckProactive(ctx); err != nil {
		t.Fatalf("proactive: %v", err)
	}
	actions, err := s.Engine.Repo.ListActions(ctx, "ten-1", 10)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("got %d audited actions, want 1", len(actions))
	}
	if actions[0].ActionType != "escalate_to_management" {
		t.Fatalf("action_type = %s", actions[0].ActionType)
	}
	// Escalation needs a human, so a pending approval exists.
	pending, err := s.Engine.PendingApprovals(ctx, "ten-1")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d approvals, want 1", len(pending))
	}
}

func TestRefreshGoalsAndDigestSmoke(t *testing.T) {
	s, ctx := newScheduler(t)
	if err := s.RefreshGoals(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := s.SendDigest(ctx); err != nil {
		t.Fatalf("digest: %v", err)
	}
	if err := s.SummarizeContext(ctx); err != nil {
		t.Fatalf("summarize: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := newScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}
