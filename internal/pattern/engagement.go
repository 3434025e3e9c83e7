package pattern

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
)

const (
	recentWindowDays   = 7
	baselineWindowDays = 23

	// significantChange is the relative difference between recent and
	// baseline windows that counts as an engagement shift.
	significantChange = 0.30
)

// EngagementChangeDetector compares a recent window against a longer
// baseline on interaction rate and content depth.
type EngagementChangeDetector struct {
	LLM Completer
	Now func() time.Time
}

func (d *EngagementChangeDetector) Name() string { return "engagement_change" }

func (d *EngagementChangeDetector) setCompleter(c Completer) { d.LLM = c }

func (d *EngagementChangeDetector) Detect(ctx context.Context, view domain.CustomerView) ([]domain.PatternMatch, error) {
	timeline := view.Timeline
	if len(timeline) == 0 {
		return nil, nil
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	t := now().UTC()
	recentStart := t.AddDate(0, 0, -recentWindowDays)
	baselineStart := recentStart.AddDate(0, 0, -baselineWindowDays)

	var recent, baseline []domain.Interaction
	for _, in := range timeline {
		switch {
		case !in.Timestamp.Before(recentStart):
			recent = append(recent, in)
		case !in.Timestamp.Before(baselineStart):
			baseline = append(baseline, in)
		}
	}
	if len(baseline) == 0 {
		return nil, nil
	}

	var evidence []string
	dropping := false

	recentRate := float64(len(recent)) / recentWindowDays
	baselineRate := float64(len(baseline)) / baselineWindowDays
	if change := relativeChange(recentRate, baselineRate); math.Abs(change) >= significantChange {
		direction := "up"
		if change < 0 {
			direction = "down"
			dropping = true
		}
		evidence = append(evidence, fmt.Sprintf("interaction rate %s %.0f%%: %.2f/day recently vs %.2f/day baseline",
			direction, math.Abs(change)*100, recentRate, baselineRate))
	}

	recentLen := averageContentLength(recent)
	baselineLen := averageContentLength(baseline)
	if recentLen > 0 && baselineLen > 0 {
		if change := relativeChange(recentLen, baselineLen); math.Abs(change) >= significantChange {
			direction := "deeper"
			if change < 0 {
				direction = "shallower"
				dropping = true
			}
			evidence = append(evidence, fmt.Sprintf("conversations getting %s: average summary length %.0f chars recently vs %.0f baseline",
				direction, recentLen, baselineLen))
		}
	}

	evidence = append(evidence, enhanceEvidence(ctx, d.LLM, d.Name(),
		"Identify engagement shifts in these customer interactions. Reply with one short finding per line, or nothing.",
		timeline, evidence)...)

	if len(evidence) == 0 {
		return nil, nil
	}
	severity := domain.SeverityMedium
	if dropping {
		severity = domain.SeverityHigh
	}
	confidence := 0.6 + 0.1*float64(len(evidence))
	if confidence > 0.9 {
		confidence = 0.9
	}
	return []domain.PatternMatch{{
		PatternType: domain.PatternEngagementChange,
		Confidence:  confidence,
		Severity:    severity,
		Evidence:    evidence,
		DetectedAt:  t,
	}}, nil
}

// relativeChange is (recent-baseline)/baseline, 0 when the baseline is
// zero.
func relativeChange(recent, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (recent - baseline) / baseline
}

func averageContentLength(interactions []domain.Interaction) float64 {
	if len(interactions) == 0 {
		return 0
	}
	total := 0
	for _, in := range interactions {
		total += len(in.ContentSummary)
	}
	return float64(total) / float64(len(interactions))
}
