package pattern_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/config"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/pattern"
)

var detectedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubDetector struct {
	name   string
	out    []domain.PatternMatch
	err    error
	panics bool
}

func (s stubDetector) Name() string { return s.name }

func (s stubDetector) Detect(ctx context.Context, view domain.CustomerView) ([]domain.PatternMatch, error) {
	if s.panics {
		panic("detector blew up")
	}
	return s.out, s.err
}

func match(typ domain.PatternType, sev domain.Severity, confidence float64, evidence ...string) domain.PatternMatch {
	return domain.PatternMatch{
		PatternType: typ,
		Confidence:  confidence,
		Severity:    sev,
		Evidence:    evidence,
		DetectedAt:  detectedAt,
	}
}

func newEngine(t *testing.T, detectors ...pattern.Detector) *pattern.Engine {
	t.Helper()
	return pattern.NewEngine(config.Default("ten-1"), detectors...)
}

func TestDetectPatternsIsolatesFailingDetector(t *testing.T) {
	good := match(domain.PatternBuyingSignal, domain.SeverityHigh, 0.9, "budget mentioned twice", "competitor named")
	eng := newEngine(t,
		stubDetector{name: "broken", err: errors.New("downstream unavailable")},
		stubDetector{name: "ok", out: []domain.PatternMatch{good}},
	)
	got := eng.DetectPatterns(context.Background(), domain.CustomerView{AccountID: "acct-1"})
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1", len(got))
	}
	if got[0].Confidence != 0.9 || got[0].PatternType != domain.PatternBuyingSignal {
		t.Fatalf("unexpected match %+v", got[0])
	}
}

func TestDetectPatternsIsolatesPanickingDetector(t *testing.T) {
	good := match(domain.PatternRiskIndicator, domain.SeverityCritical, 0.85, "champion leaving", "renewal at risk")
	eng := newEngine(t,
		stubDetector{name: "panicky", panics: true},
		stubDetector{name: "ok", out: []domain.PatternMatch{good}},
	)
	got := eng.DetectPatterns(context.Background(), domain.CustomerView{AccountID: "acct-1"})
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1", len(got))
	}
}

func TestDetectPatternsFiltersLowConfidenceAndThinEvidence(t *testing.T) {
	eng := newEngine(t, stubDetector{name: "mixed", out: []domain.PatternMatch{
		match(domain.PatternBuyingSignal, domain.SeverityHigh, 0.65, "one", "two"),
		match(domain.PatternRiskIndicator, domain.SeverityCritical, 0.9, "single data point"),
		match(domain.PatternEngagementChange, domain.SeverityMedium, 0.75, "rate down", "shorter emails"),
	}})
	got := eng.DetectPatterns(context.Background(), domain.CustomerView{AccountID: "acct-1"})
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1: %+v", len(got), got)
	}
	if got[0].PatternType != domain.PatternEngagementChange {
		t.Fatalf("wrong survivor: %+v", got[0])
	}
}

func TestDetectPatternsSortsBySeverityThenConfidence(t *testing.T) {
	eng := newEngine(t, stubDetector{name: "many", out: []domain.PatternMatch{
		match(domain.PatternEngagementChange, domain.SeverityLow, 0.95, "a", "b"),
		match(domain.PatternBuyingSignal, domain.SeverityHigh, 0.7, "a", "b"),
		match(domain.PatternRiskIndicator, domain.SeverityCritical, 0.71, "a", "b"),
		match(domain.PatternBuyingSignal, domain.SeverityHigh, 0.9, "a", "b"),
		match(domain.PatternRiskIndicator, domain.SeverityMedium, 0.8, "a", "b"),
	}})
	got := eng.DetectPatterns(context.Background(), domain.CustomerView{AccountID: "acct-1"})
	if len(got) != 5 {
		t.Fatalf("got %d matches, want 5", len(got))
	}
	wantSeverity := []domain.Severity{
		domain.SeverityCritical, domain.SeverityHigh, domain.SeverityHigh,
		domain.SeverityMedium, domain.SeverityLow,
	}
	for i, sev := range wantSeverity {
		if got[i].Severity != sev {
			t.Fatalf("position %d severity = %s, want %s", i, got[i].Severity, sev)
		}
	}
	if got[1].Confidence < got[2].Confidence {
		t.Fatalf("high-severity matches not ordered by confidence: %v then %v", got[1].Confidence, got[2].Confidence)
	}
}

func TestDetectPatternsStampsAccountID(t *testing.T) {
	eng := newEngine(t, stubDetector{name: "anon", out: []domain.PatternMatch{
		match(domain.PatternBuyingSignal, domain.SeverityHigh, 0.9, "a", "b"),
	}})
	got := eng.DetectPatterns(context.Background(), domain.CustomerView{AccountID: "acct-42"})
	if len(got) != 1 || got[0].AccountID != "acct-42" {
		t.Fatalf("account not stamped: %+v", got)
	}
}

type countingCompleter struct {
	calls *atomic.Int32
	reply string
}

func (c countingCompleter) Complete(ctx context.Context, messages []pattern.Message) (string, error) {
	c.calls.Add(1)
	return c.reply, nil
}

func TestSetCompleterReachesDetectPatternsEvidence(t *testing.T) {
	var calls atomic.Int32
	eng := newEngine(t,
		&pattern.BuyingSignalDetector{Now: fixedNow},
		&pattern.RiskIndicatorDetector{Now: fixedNow},
		&pattern.EngagementChangeDetector{Now: fixedNow},
	)
	eng.SetCompleter(countingCompleter{calls: &calls, reply: "procurement looped in their security team unprompted"})

	got := eng.DetectPatterns(context.Background(), view(
		interaction(20, "Intro call, walked through the product", "alice"),
		interaction(14, "They asked about pricing tiers for the team plan", "alice"),
		interaction(7, "Want to hit a go live before this quarter closes", "alice", "bob"),
		interaction(2, "Security review kickoff", "alice", "bob", "carol"),
	))
	if calls.Load() == 0 {
		t.Fatal("completer was never invoked by any detector")
	}
	found := false
	for _, m := range got {
		for _, ev := range m.Evidence {
			if strings.Contains(ev, "procurement looped in") {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("enhanced evidence missing from matches: %+v", got)
	}
}

func TestUpdateConfidenceThresholdClamps(t *testing.T) {
	eng := newEngine(t)
	cases := []struct{ in, want float64 }{
		{0.1, 0.3},
		{0.5, 0.5},
		{0.99, 0.95},
	}
	for _, tc := range cases {
		if got := eng.UpdateConfidenceThreshold(tc.in); got != tc.want {
			t.Errorf("UpdateConfidenceThreshold(%v) = %v, want %v", tc.in, got, tc.want)
		}
		if got := eng.ConfidenceThreshold(); got != tc.want {
			t.Errorf("ConfidenceThreshold() = %v after update to %v", got, tc.in)
		}
	}
}

func TestUpdatedThresholdAppliesToNextScan(t *testing.T) {
	eng := newEngine(t, stubDetector{name: "mid", out: []domain.PatternMatch{
		match(domain.PatternBuyingSignal, domain.SeverityMedium, 0.5, "a", "b"),
	}})
	if got := eng.DetectPatterns(context.Background(), domain.CustomerView{AccountID: "acct-1"}); len(got) != 0 {
		t.Fatalf("expected 0 matches at default threshold, got %d", len(got))
	}
	eng.UpdateConfidenceThreshold(0.4)
	if got := eng.DetectPatterns(context.Background(), domain.CustomerView{AccountID: "acct-1"}); len(got) != 1 {
		t.Fatalf("expected 1 match at lowered threshold, got %d", len(got))
	}
}
