package pattern_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/pattern"
)

func interaction(daysAgo int, summary string, participants ...string) domain.Interaction {
	return domain.Interaction{
		TenantID:       "ten-1",
		AccountID:      "acct-1",
		Channel:        "email",
		Timestamp:      detectedAt.AddDate(0, 0, -daysAgo),
		Participants:   participants,
		ContentSummary: summary,
	}
}

func view(timeline ...domain.Interaction) domain.CustomerView {
	return domain.CustomerView{TenantID: "ten-1", AccountID: "acct-1", Timeline: timeline}
}

func fixedNow() time.Time { return detectedAt }

func TestBuyingSignalDetectorFindsIntentLanguage(t *testing.T) {
	d := &pattern.BuyingSignalDetector{Now: fixedNow}
	got, err := d.Detect(context.Background(), view(
		interaction(20, "Intro call, walked through the product", "alice"),
		interaction(14, "They asked about pricing tiers for the team plan", "alice"),
		interaction(7, "Want to hit a go live before this quarter closes", "alice", "bob"),
		interaction(2, "Security review kickoff", "alice", "bob", "carol"),
	))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1", len(got))
	}
	m := got[0]
	if m.PatternType != domain.PatternBuyingSignal {
		t.Fatalf("pattern_type = %s", m.PatternType)
	}
	if len(m.Evidence) < 3 {
		t.Fatalf("evidence = %v, want budget, deadline and stakeholder entries", m.Evidence)
	}
	if m.Confidence < 0.7 {
		t.Fatalf("confidence = %v, want >= 0.7", m.Confidence)
	}
	if m.Severity != domain.SeverityHigh {
		t.Fatalf("severity = %s, want high for three signal classes", m.Severity)
	}
}

func TestBuyingSignalDetectorQuietTimeline(t *testing.T) {
	d := &pattern.BuyingSignalDetector{Now: fixedNow}
	got, err := d.Detect(context.Background(), view(
		interaction(10, "Routine check in, nothing notable", "alice"),
		interaction(5, "Shared the onboarding guide", "alice"),
	))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no matches, got %+v", got)
	}
}

func TestRiskDetectorChampionDepartureIsCritical(t *testing.T) {
	d := &pattern.RiskIndicatorDetector{Now: fixedNow}
	got, err := d.Detect(context.Background(), view(
		interaction(15, "Quarterly business review went fine", "alice"),
		interaction(8, "Alice mentioned she is resigned to a new role next month", "alice"),
		interaction(3, "Team sounded frustrated about the rollout pace", "bob"),
	))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1", len(got))
	}
	m := got[0]
	if m.PatternType != domain.PatternRiskIndicator {
		t.Fatalf("pattern_type = %s", m.PatternType)
	}
	if m.Severity != domain.SeverityCritical {
		t.Fatalf("severity = %s, want critical when the champion departs", m.Severity)
	}
	if len(m.Evidence) < 2 {
		t.Fatalf("evidence = %v, want departure and churn entries", m.Evidence)
	}
}

func TestRiskDetectorWideningGaps(t *testing.T) {
	d := &pattern.RiskIndicatorDetector{Now: fixedNow}
	// Weekly cadence early, then a month of silence between touches.
	got, err := d.Detect(context.Background(), view(
		interaction(120, "Kickoff", "alice"),
		interaction(113, "Week one sync", "alice"),
		interaction(106, "Week two sync", "alice"),
		interaction(99, "Week three sync", "alice"),
		interaction(60, "Checked in after a long silence", "alice"),
		interaction(20, "Another sparse update", "alice"),
	))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1", len(got))
	}
	found := false
	for _, ev := range got[0].Evidence {
		if strings.Contains(ev, "response gaps widening") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no gap evidence in %v", got[0].Evidence)
	}
}

func TestEngagementDetectorFlagsDropoff(t *testing.T) {
	d := &pattern.EngagementChangeDetector{Now: fixedNow}
	long := strings.Repeat("detailed discussion of rollout blockers ", 3)
	timeline := []domain.Interaction{}
	for day := 25; day >= 16; day-- {
		timeline = append(timeline, interaction(day, long, "alice"))
	}
	timeline = append(timeline, interaction(2, "quick ping", "alice"))

	got, err := d.Detect(context.Background(), view(timeline...))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1", len(got))
	}
	m := got[0]
	if m.PatternType != domain.PatternEngagementChange {
		t.Fatalf("pattern_type = %s", m.PatternType)
	}
	if m.Severity != domain.SeverityHigh {
		t.Fatalf("severity = %s, want high on engagement drop", m.Severity)
	}
	if len(m.Evidence) != 2 {
		t.Fatalf("evidence = %v, want rate and depth entries", m.Evidence)
	}
}

func TestEngagementDetectorNeedsBaseline(t *testing.T) {
	d := &pattern.EngagementChangeDetector{Now: fixedNow}
	got, err := d.Detect(context.Background(), view(
		interaction(2, "first ever touch", "alice"),
		interaction(1, "second touch", "alice"),
	))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no matches without a baseline window, got %+v", got)
	}
}

type scriptedCompleter struct {
	reply string
	err   error
}

func (s scriptedCompleter) Complete(ctx context.Context, messages []pattern.Message) (string, error) {
	return s.reply, s.err
}

func TestBuyingSignalEnhancementMergesWithoutDuplicates(t *testing.T) {
	d := &pattern.BuyingSignalDetector{
		Now: fixedNow,
		LLM: scriptedCompleter{reply: "budget discussion in email interaction already covered\n- procurement contact looped in for the first time\n"},
	}
	got, err := d.Detect(context.Background(), view(
		interaction(10, "They asked about pricing and budget for next year", "alice"),
		interaction(3, "Need a decision before the deadline at end of month", "alice"),
	))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1", len(got))
	}
	ev := got[0].Evidence
	merged := false
	for _, e := range ev {
		if strings.Contains(e, "procurement contact") {
			merged = true
		}
		if strings.HasPrefix(strings.ToLower(e), "budget discussion in email interaction already") {
			t.Fatalf("duplicate enhancement line kept: %v", ev)
		}
	}
	if !merged {
		t.Fatalf("enhancement line missing from %v", ev)
	}
}

func TestEnhancementFailureKeepsRuleResults(t *testing.T) {
	d := &pattern.BuyingSignalDetector{
		Now: fixedNow,
		LLM: scriptedCompleter{err: errors.New("model unavailable")},
	}
	got, err := d.Detect(context.Background(), view(
		interaction(10, "They asked about pricing and budget for next year", "alice"),
		interaction(3, "Need a decision before the deadline at end of month", "alice"),
	))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 1 || len(got[0].Evidence) != 2 {
		t.Fatalf("rule results lost on enhancement failure: %+v", got)
	}
}
