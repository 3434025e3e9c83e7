package pattern

import (
	"context"
	"fmt"
	"time"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
)

var (
	budgetKeywords = []string{
		"budget", "pricing", "cost", "quote", "funding", "price point",
	}
	deadlineKeywords = []string{
		"deadline", "timeline", "by end of", "this quarter", "go live", "asap",
	}
	competitiveKeywords = []string{
		"competitor", "alternative", "comparing", "versus", "other vendors", "evaluating options",
	}
)

// BuyingSignalDetector looks for purchase-intent language and
// stakeholder expansion across the timeline.
type BuyingSignalDetector struct {
	LLM Completer
	Now func() time.Time
}

func (d *BuyingSignalDetector) Name() string { return "buying_signal" }

func (d *BuyingSignalDetector) setCompleter(c Completer) { d.LLM = c }

func (d *BuyingSignalDetector) Detect(ctx context.Context, view domain.CustomerView) ([]domain.PatternMatch, error) {
	timeline := view.Timeline
	if len(timeline) == 0 {
		return nil, nil
	}

	var evidence []string
	classes := 0

	if ev := firstKeywordHit(timeline, budgetKeywords, "budget discussion"); ev != "" {
		evidence = append(evidence, ev)
		classes++
	}
	if ev := firstKeywordHit(timeline, deadlineKeywords, "deadline language"); ev != "" {
		evidence = append(evidence, ev)
		classes++
	}
	if ev := firstKeywordHit(timeline, competitiveKeywords, "competitive evaluation"); ev != "" {
		evidence = append(evidence, ev)
		classes++
	}

	earlier, later := splitHalves(timeline)
	if before, after := len(uniqueParticipants(earlier)), len(uniqueParticipants(later)); before > 0 && after > before {
		evidence = append(evidence, fmt.Sprintf("stakeholder expansion: participants grew from %d to %d across the timeline", before, after))
		classes++
	}

	evidence = append(evidence, enhanceEvidence(ctx, d.LLM, d.Name(),
		"Identify buying signals in these customer interactions. Reply with one short finding per line, or nothing.",
		timeline, evidence)...)

	if len(evidence) == 0 {
		return nil, nil
	}

	severity := domain.SeverityLow
	switch {
	case classes >= 3:
		severity = domain.SeverityHigh
	case classes == 2:
		severity = domain.SeverityMedium
	}
	confidence := 0.55 + 0.1*float64(classes)
	if confidence > 0.95 {
		confidence = 0.95
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return []domain.PatternMatch{{
		PatternType: domain.PatternBuyingSignal,
		Confidence:  confidence,
		Severity:    severity,
		Evidence:    evidence,
		DetectedAt:  now().UTC(),
	}}, nil
}

// firstKeywordHit returns evidence for the first interaction matching a
// keyword class, or "" when nothing matches.
func firstKeywordHit(timeline []domain.Interaction, keywords []string, label string) string {
	for _, in := range timeline {
		if containsAny(interactionText(in), keywords) {
			return fmt.Sprintf("%s in %s interaction on %s: %s", label, in.Channel, in.Timestamp.Format("2006-01-02"), in.ContentSummary)
		}
	}
	return ""
}
