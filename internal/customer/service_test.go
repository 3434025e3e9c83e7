package customer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/customer"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/db"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/migrate"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/pattern"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/repo"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*customer.Service, context.Context) {
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
	svc := customer.NewService(r)
	svc.Now = func() time.Time { return testNow }
	return svc, ctx
}

func record(t *testing.T, svc *customer.Service, ctx context.Context, account string, daysAgo int, summary, sentiment string, participants ...string) {
	t.Helper()
	_, err := svc.RecordInteraction(ctx, domain.Interaction{
		TenantID:       "ten-1",
		AccountID:      account,
		Channel:        "email",
		Timestamp:      testNow.AddDate(0, 0, -daysAgo),
		Participants:   participants,
		ContentSummary: summary,
		Sentiment:      sentiment,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestRecordInteractionValidation(t *testing.T) {
	svc, ctx := newService(t)
	var verr domain.ValidationError
	_, err := svc.RecordInteraction(ctx, domain.Interaction{TenantID: "ten-1", Channel: "email"})
	if !errors.As(err, &verr) {
		t.Fatalf("missing account: got %v", err)
	}
	_, err = svc.RecordInteraction(ctx, domain.Interaction{TenantID: "ten-1", AccountID: "acct-1"})
	if !errors.As(err, &verr) {
		t.Fatalf("missing channel: got %v", err)
	}
}

func TestUnifiedViewSignals(t *testing.T) {
	svc, ctx := newService(t)
	record(t, svc, ctx, "acct-1", 10, "kickoff call", "positive", "Alice", "bob")
	record(t, svc, ctx, "acct-1", 5, "pricing question", "", "alice")
	record(t, svc, ctx, "acct-1", 2, "rollout concerns", "negative", "carol")

	view, err := svc.UnifiedView(ctx, "ten-1", "acct-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(view.Timeline) != 3 {
		t.Fatalf("timeline length = %d, want 3", len(view.Timeline))
	}
	if !view.Timeline[0].Timestamp.Before(view.Timeline[2].Timestamp) {
		t.Error("timeline not chronological")
	}
	if got := view.Signals["interaction_count"]; got != 3 {
		t.Errorf("interaction_count = %v", got)
	}
	if got := view.Signals["participant_count"]; got != 3 {
		t.Errorf("participant_count = %v, want 3 (case folded)", got)
	}
	if got := view.Signals["days_since_contact"]; got != 2 {
		t.Errorf("days_since_contact = %v", got)
	}
}

func TestUnifiedViewEmptyAccount(t *testing.T) {
	svc, ctx := newService(t)
	view, err := svc.UnifiedView(ctx, "ten-1", "ghost")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(view.Timeline) != 0 {
		t.Fatalf("timeline = %v", view.Timeline)
	}
	if got := view.Signals["interaction_count"]; got != 0 {
		t.Errorf("interaction_count = %v", got)
	}
}

func TestSummarizeAccounts(t *testing.T) {
	svc, ctx := newService(t)
	record(t, svc, ctx, "acct-1", 10, "kickoff call", "positive", "alice")
	record(t, svc, ctx, "acct-1", 2, "expansion discussion", "positive", "alice")
	record(t, svc, ctx, "acct-2", 1, "intro email", "", "dave")

	n, err := svc.SummarizeAccounts(ctx, "ten-1")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if n != 2 {
		t.Fatalf("wrote %d summaries, want 2", n)
	}
	s, err := svc.Repo.GetAccountSummary(ctx, "ten-1", "acct-1")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if s.InteractionCount != 2 {
		t.Errorf("interaction_count = %d, want 2", s.InteractionCount)
	}
	if s.Summary == "" {
		t.Error("empty summary")
	}
}

type fixedCompleter struct{ text string }

func (f fixedCompleter) Complete(ctx context.Context, messages []pattern.Message) (string, error) {
	return f.text, nil
}

func TestSummarizeAccountsPrefersGeneratedText(t *testing.T) {
	svc, ctx := newService(t)
	svc.LLM = fixedCompleter{text: "Healthy expansion-stage account."}
	record(t, svc, ctx, "acct-1", 2, "expansion discussion", "positive", "alice")
	if _, err := svc.SummarizeAccounts(ctx, "ten-1"); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	s, err := svc.Repo.GetAccountSummary(ctx, "ten-1", "acct-1")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if s.Summary != "Healthy expansion-stage account." {
		t.Fatalf("summary = %q", s.Summary)
	}
}
