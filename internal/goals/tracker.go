// Package goals tracks numeric targets and their pacing.
package goals

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/repo"
)

// MetricsSource reads the four performance metrics independently. A
// failing reader only degrades its own field.
type MetricsSource interface {
	PipelineValue(ctx context.Context, tenantID, cloneID string) (float64, error)
	ActivityCount(ctx context.Context, tenantID, cloneID string, since time.Time) (int, error)
	QualityScore(ctx context.Context, tenantID, cloneID string) (float64, error)
	RevenueClosed(ctx context.Context, tenantID, cloneID string) (float64, error)
}

// Tracker provides goal CRUD, progress arithmetic, and corrective
// suggestions.
type Tracker struct {
	Repo    repo.Repo
	Metrics MetricsSource
	Now     func() time.Time
}

func NewTracker(r repo.Repo) *Tracker {
	return &Tracker{Repo: r, Metrics: r, Now: time.Now}
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// GoalCreateOptions are parameters for creating a goal.
type GoalCreateOptions struct {
	TenantID    string
	CloneID     string
	Type        domain.GoalType
	TargetValue float64
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// CreateGoal validates and persists a new active goal.
func (t *Tracker) CreateGoal(ctx context.Context, opts GoalCreateOptions) (domain.Goal, error) {
	if opts.TenantID == "" {
		return domain.Goal{}, domain.Validationf("tenant_id", "required")
	}
	if !domain.ValidGoalType(opts.Type) {
		return domain.Goal{}, domain.Validationf("goal_type", "unknown goal type %q", opts.Type)
	}
	if opts.TargetValue <= 0 {
		return domain.Goal{}, domain.Validationf("target_value", "must be positive, got %v", opts.TargetValue)
	}
	if !opts.PeriodEnd.After(opts.PeriodStart) {
		return domain.Goal{}, domain.Validationf("period_end", "must be after period_start")
	}
	now := t.now().UTC().Format(time.RFC3339)
	g := domain.Goal{
		ID:          uuid.New().String(),
		TenantID:    opts.TenantID,
		GoalType:    opts.Type,
		TargetValue: opts.TargetValue,
		PeriodStart: opts.PeriodStart.UTC().Format(time.RFC3339),
		PeriodEnd:   opts.PeriodEnd.UTC().Format(time.RFC3339),
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.CloneID != "" {
		g.CloneID = &opts.CloneID
	}
	if err := t.Repo.InsertGoal(ctx, g); err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

// UpdateProgress persists a new current value and applies the status
// transitions. Completion fires once: a goal already completed stays
// completed regardless of later values. A goal past its period end with
// the target unmet transitions to missed.
func (t *Tracker) UpdateProgress(ctx context.Context, tenantID, goalID string, value float64) (domain.Goal, error) {
	g, err := t.Repo.GetGoal(ctx, tenantID, goalID)
	if err != nil {
		return domain.Goal{}, err
	}
	now := t.now().UTC()
	status := g.Status
	if status == "active" {
		if value >= g.TargetValue {
			status = "completed"
		} else if end, perr := time.Parse(time.RFC3339, g.PeriodEnd); perr == nil && now.After(end) {
			status = "missed"
		}
	}
	updatedAt := now.Format(time.RFC3339)
	if err := t.Repo.UpdateGoalProgress(ctx, tenantID, goalID, value, status, updatedAt); err != nil {
		return domain.Goal{}, err
	}
	g.CurrentValue = value
	g.Status = status
	g.UpdatedAt = updatedAt
	return g, nil
}

// ActiveGoals lists active goals, optionally scoped to a clone.
func (t *Tracker) ActiveGoals(ctx context.Context, tenantID, cloneID string) ([]domain.Goal, error) {
	return t.Repo.ListGoals(ctx, tenantID, repo.ListGoalsOptions{Status: "active", CloneID: cloneID})
}

// CheckGoalStatus reports pacing for every active goal. A goal whose
// period has not started, or has zero duration, is on track by
// definition.
func (t *Tracker) CheckGoalStatus(ctx context.Context, tenantID string) ([]domain.GoalStatus, error) {
	active, err := t.ActiveGoals(ctx, tenantID, "")
	if err != nil {
		return nil, err
	}
	now := t.now().UTC()
	res := make([]domain.GoalStatus, 0, len(active))
	for _, g := range active {
		res = append(res, t.statusFor(g, now))
	}
	return res, nil
}

func (t *Tracker) statusFor(g domain.Goal, now time.Time) domain.GoalStatus {
	st := domain.GoalStatus{Goal: g, OnTrack: true}
	if g.TargetValue > 0 {
		st.ProgressPct = g.CurrentValue / g.TargetValue * 100
	}
	start, err1 := time.Parse(time.RFC3339, g.PeriodStart)
	end, err2 := time.Parse(time.RFC3339, g.PeriodEnd)
	if err1 != nil || err2 != nil {
		return st
	}
	if remaining := end.Sub(now); remaining > 0 {
		st.DaysRemaining = int(math.Ceil(remaining.Hours() / 24))
	}
	elapsed := elapsedFraction(start, end, now)
	if elapsed < 0 {
		return st
	}
	st.OnTrack = progressFraction(g) >= elapsed
	return st
}

// elapsedFraction returns the elapsed share of the period in [0,1], or
// -1 when the period has not started or has no duration.
func elapsedFraction(start, end, now time.Time) float64 {
	total := end.Sub(start)
	if total <= 0 || now.Before(start) {
		return -1
	}
	frac := float64(now.Sub(start)) / float64(total)
	if frac > 1 {
		frac = 1
	}
	return frac
}

func progressFraction(g domain.Goal) float64 {
	if g.TargetValue <= 0 {
		return 0
	}
	return g.CurrentValue / g.TargetValue
}

// suggestionPaceRatio: suggestions appear only when progress has fallen
// below this share of the elapsed-time fraction.
const suggestionPaceRatio = 0.8

var suggestionsByType = map[domain.GoalType][]string{
	domain.GoalRevenue: {
		"Review open opportunities with decision dates inside the goal period",
		"Prioritize follow-ups on deals in late stages",
		"Ask for referrals from recently closed accounts",
	},
	domain.GoalPipeline: {
		"Increase outbound prospecting volume this week",
		"Requalify stale opportunities and close out dead ones",
		"Schedule discovery calls with recently engaged accounts",
	},
	domain.GoalActivity: {
		"Block daily time for outreach touches",
		"Re-engage accounts with no contact in the last 14 days",
		"Schedule meetings with active accounts before the period closes",
	},
	domain.GoalQuality: {
		"Review recent negative-sentiment interactions for coaching",
		"Tighten discovery questions to improve conversation depth",
		"Follow up on unanswered threads within one business day",
	},
}

// SuggestActions returns canned corrective suggestions when the goal is
// meaningfully behind pace, otherwise an empty list.
func (t *Tracker) SuggestActions(ctx context.Context, tenantID string, g domain.Goal) []string {
	start, err1 := time.Parse(time.RFC3339, g.PeriodStart)
	end, err2 := time.Parse(time.RFC3339, g.PeriodEnd)
	if err1 != nil || err2 != nil {
		return nil
	}
	elapsed := elapsedFraction(start, end, t.now().UTC())
	if elapsed < 0 {
		return nil
	}
	if progressFraction(g) >= suggestionPaceRatio*elapsed {
		return nil
	}
	return append([]string(nil), suggestionsByType[g.GoalType]...)
}

// ComputeMetrics gathers each metric independently. A source that is
// unavailable or errors yields that field's zero value rather than
// failing the snapshot.
func (t *Tracker) ComputeMetrics(ctx context.Context, tenantID, cloneID string) domain.PerformanceMetrics {
	now := t.now().UTC()
	m := domain.PerformanceMetrics{ComputedAt: now.Format(time.RFC3339)}
	src := t.Metrics
	if src == nil {
		src = t.Repo
	}
	if v, err := src.PipelineValue(ctx, tenantID, cloneID); err != nil {
		log.Printf("goals: pipeline value unavailable for tenant %s: %v", tenantID, err)
	} else {
		m.PipelineValue = v
	}
	if n, err := src.ActivityCount(ctx, tenantID, cloneID, now.AddDate(0, 0, -30)); err != nil {
		log.Printf("goals: activity count unavailable for tenant %s: %v", tenantID, err)
	} else {
		m.ActivityCount = n
	}
	if q, err := src.QualityScore(ctx, tenantID, cloneID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Printf("goals: quality score unavailable for tenant %s: %v", tenantID, err)
		}
	} else {
		m.QualityScore = &q
	}
	if v, err := src.RevenueClosed(ctx, tenantID, cloneID); err != nil {
		log.Printf("goals: revenue closed unavailable for tenant %s: %v", tenantID, err)
	} else {
		m.RevenueClosed = v
	}
	return m
}
