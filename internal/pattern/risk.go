package pattern

import (
	"context"
	"fmt"
	"time"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
)

var (
	churnKeywords = []string{
		"cancel", "churn", "not renewing", "disappointed", "frustrated", "unhappy", "reconsidering",
	}
	championDepartureKeywords = []string{
		"leaving the company", "last day", "moving on", "new role", "resigned", "no longer with",
	}
)

// responseGapGrowth is the relative increase in the average gap between
// interactions that counts as a slowdown.
const responseGapGrowth = 1.3

// RiskIndicatorDetector looks for churn language, champion departure,
// and a widening response cadence.
type RiskIndicatorDetector struct {
	LLM Completer
	Now func() time.Time
}

func (d *RiskIndicatorDetector) Name() string { return "risk_indicator" }

func (d *RiskIndicatorDetector) setCompleter(c Completer) { d.LLM = c }

func (d *RiskIndicatorDetector) Detect(ctx context.Context, view domain.CustomerView) ([]domain.PatternMatch, error) {
	timeline := view.Timeline
	if len(timeline) == 0 {
		return nil, nil
	}

	var evidence []string
	severity := domain.SeverityMedium
	signals := 0

	if ev := firstKeywordHit(timeline, championDepartureKeywords, "champion departure"); ev != "" {
		evidence = append(evidence, ev)
		severity = domain.SeverityCritical
		signals++
	}
	if ev := firstKeywordHit(timeline, churnKeywords, "churn-risk language"); ev != "" {
		evidence = append(evidence, ev)
		if severity != domain.SeverityCritical {
			severity = domain.SeverityHigh
		}
		signals++
	}

	earlier, later := splitHalves(timeline)
	if before, after := averageGap(earlier), averageGap(later); before > 0 && after > time.Duration(float64(before)*responseGapGrowth) {
		evidence = append(evidence, fmt.Sprintf("response gaps widening: average gap grew from %s to %s between timeline halves",
			before.Round(time.Hour), after.Round(time.Hour)))
		signals++
	}

	if negatives := countSentiment(timeline, "negative"); negatives >= 2 {
		evidence = append(evidence, fmt.Sprintf("negative sentiment on %d interactions", negatives))
		signals++
	}

	evidence = append(evidence, enhanceEvidence(ctx, d.LLM, d.Name(),
		"Identify relationship risk indicators in these customer interactions. Reply with one short finding per line, or nothing.",
		timeline, evidence)...)

	if len(evidence) == 0 {
		return nil, nil
	}
	confidence := 0.55 + 0.1*float64(signals)
	if confidence > 0.9 {
		confidence = 0.9
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return []domain.PatternMatch{{
		PatternType: domain.PatternRiskIndicator,
		Confidence:  confidence,
		Severity:    severity,
		Evidence:    evidence,
		DetectedAt:  now().UTC(),
	}}, nil
}

// averageGap is the mean spacing between consecutive interactions of a
// chronological slice, or 0 with fewer than two entries.
func averageGap(interactions []domain.Interaction) time.Duration {
	if len(interactions) < 2 {
		return 0
	}
	total := interactions[len(interactions)-1].Timestamp.Sub(interactions[0].Timestamp)
	return total / time.Duration(len(interactions)-1)
}

func countSentiment(interactions []domain.Interaction, sentiment string) int {
	n := 0
	for _, in := range interactions {
		if in.Sentiment == sentiment {
			n++
		}
	}
	return n
}
