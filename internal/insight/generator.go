// Package insight turns detector signals into persisted, deduplicated
// insights and routes them toward a human.
package insight

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/repo"
)

// dedupWindow is how long an existing pending insight suppresses a new
// one for the same account and pattern type.
const dedupWindow = 24 * time.Hour

// Publisher is the optional real-time alert delivery port. A nil
// Publisher means alerts are recorded undelivered.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// Generator persists insights and handles alerting, digests, and
// feedback.
type Generator struct {
	Repo   repo.Repo
	Alerts Publisher
	Now    func() time.Time
}

func NewGenerator(r repo.Repo, alerts Publisher) *Generator {
	return &Generator{Repo: r, Alerts: alerts, Now: time.Now}
}

func (g *Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// CreateInsight persists one pattern match as a pending insight.
// Persistence failures propagate; this call is defined by its side
// effect.
func (g *Generator) CreateInsight(ctx context.Context, tenantID string, m domain.PatternMatch) (domain.Insight, error) {
	in := domain.Insight{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		AccountID:   m.AccountID,
		PatternType: m.PatternType,
		Severity:    m.Severity,
		Confidence:  m.Confidence,
		Evidence:    m.Evidence,
		Status:      "pending",
		CreatedAt:   g.now().UTC().Format(time.RFC3339),
	}
	if err := g.Repo.InsertInsight(ctx, in); err != nil {
		return domain.Insight{}, fmt.Errorf("insert insight: %w", err)
	}
	return in, nil
}

// CreateInsightsBatch persists matches, skipping any whose account and
// pattern type already have a pending insight from the last 24 hours.
// Insights created earlier in the batch also suppress later duplicates
// in the same batch.
func (g *Generator) CreateInsightsBatch(ctx context.Context, tenantID string, matches []domain.PatternMatch) ([]domain.Insight, error) {
	since := g.now().UTC().Add(-dedupWindow).Format(time.RFC3339)
	existing, err := g.Repo.ListInsights(ctx, tenantID, repo.ListInsightsOptions{Status: "pending", Since: since})
	if err != nil {
		return nil, fmt.Errorf("list recent insights: %w", err)
	}
	seen := map[string]bool{}
	for _, in := range existing {
		seen[dedupKey(in.AccountID, in.PatternType)] = true
	}
	var created []domain.Insight
	for _, m := range matches {
		key := dedupKey(m.AccountID, m.PatternType)
		if seen[key] {
			continue
		}
		in, err := g.CreateInsight(ctx, tenantID, m)
		if err != nil {
			return created, err
		}
		seen[key] = true
		created = append(created, in)
	}
	return created, nil
}

func dedupKey(accountID string, patternType domain.PatternType) string {
	return accountID + "|" + string(patternType)
}

// SendAlert records a delivery attempt for one insight. With a
// configured publisher the alert is delivered and stamped; without one,
// or on any failure, the alert is recorded undelivered. Never returns
// an error.
func (g *Generator) SendAlert(ctx context.Context, in domain.Insight) domain.Alert {
	now := g.now().UTC().Format(time.RFC3339)
	a := domain.Alert{
		ID:        uuid.New().String(),
		TenantID:  in.TenantID,
		InsightID: in.ID,
		Channel:   "webhook",
		CreatedAt: now,
	}
	if g.Alerts == nil {
		log.Printf("insight: no alert publisher configured, recording alert %s undelivered", a.ID)
	} else if err := g.Alerts.Publish(ctx, "insight.alert", in); err != nil {
		log.Printf("insight: alert delivery failed for insight %s: %v", in.ID, err)
	} else {
		a.DeliveredAt = &now
	}
	if err := g.Repo.InsertAlert(ctx, a); err != nil {
		log.Printf("insight: failed to record alert for insight %s: %v", in.ID, err)
	}
	return a
}

// ProcessBatch persists matches and routes the alert-worthy ones to
// real-time delivery. Medium and low severities wait for the digest.
func (g *Generator) ProcessBatch(ctx context.Context, tenantID string, matches []domain.PatternMatch) ([]domain.Insight, error) {
	created, err := g.CreateInsightsBatch(ctx, tenantID, matches)
	for _, in := range created {
		if domain.AlertWorthy(in.Severity) {
			g.SendAlert(ctx, in)
		}
	}
	return created, err
}

// GenerateDailyDigest groups the last 24 hours of pending insights by
// account. Computed on demand, never persisted.
func (g *Generator) GenerateDailyDigest(ctx context.Context, tenantID string) (domain.DailyDigest, error) {
	now := g.now().UTC()
	since := now.Add(-dedupWindow).Format(time.RFC3339)
	pending, err := g.Repo.ListInsights(ctx, tenantID, repo.ListInsightsOptions{Status: "pending", Since: since})
	if err != nil {
		return domain.DailyDigest{}, err
	}
	byAccount := map[string][]domain.Insight{}
	for _, in := range pending {
		byAccount[in.AccountID] = append(byAccount[in.AccountID], in)
	}
	accounts := make([]string, 0, len(byAccount))
	for acct := range byAccount {
		accounts = append(accounts, acct)
	}
	sort.Strings(accounts)
	digest := domain.DailyDigest{
		TenantID:    tenantID,
		GeneratedAt: now.Format(time.RFC3339),
		Total:       len(pending),
	}
	for _, acct := range accounts {
		digest.Groups = append(digest.Groups, domain.DigestGroup{AccountID: acct, Insights: byAccount[acct]})
	}
	return digest, nil
}

// ProcessFeedback records a human verdict on an insight. Returns false
// rather than an error when the write fails.
func (g *Generator) ProcessFeedback(ctx context.Context, tenantID, insightID, verdict, comment string) bool {
	if verdict != "useful" && verdict != "false_alarm" {
		log.Printf("insight: rejecting feedback with unknown verdict %q", verdict)
		return false
	}
	f := domain.Feedback{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		InsightID: insightID,
		Verdict:   verdict,
		Comment:   comment,
		CreatedAt: g.now().UTC().Format(time.RFC3339),
	}
	if err := g.Repo.RecordFeedback(ctx, f); err != nil {
		log.Printf("insight: failed to record feedback for insight %s: %v", insightID, err)
		return false
	}
	return true
}

// FeedbackSummary aggregates recorded verdicts. AccuracyRate is 0 when
// no feedback exists.
func (g *Generator) FeedbackSummary(ctx context.Context, tenantID string) (domain.FeedbackSummary, error) {
	useful, falseAlarm, err := g.Repo.FeedbackStats(ctx, tenantID)
	if err != nil {
		return domain.FeedbackSummary{}, err
	}
	s := domain.FeedbackSummary{Useful: useful, FalseAlarm: falseAlarm, Total: useful + falseAlarm}
	if s.Total > 0 {
		s.AccuracyRate = float64(useful) / float64(s.Total)
	}
	return s, nil
}
