// Package scheduler drives the engine's periodic work: signal scans,
// proactive-outreach checks, goal refreshes, digests, and account
// summarization. It holds no decision logic of its own.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/autonomy"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/config"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/customer"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
)

const (
	defaultPatternScanSeconds    = 21600
	defaultProactiveCheckSeconds = 3600
	defaultGoalRefreshSeconds    = 86400
	defaultDailyDigestSeconds    = 86400
	defaultContextSummarySeconds = 86400
)

// Scheduler runs the five periodic loops for one tenant.
type Scheduler struct {
	Engine    *autonomy.Engine
	Customers *customer.Service
	TenantID  string
	Config    config.ScheduleConfig
}

func New(eng *autonomy.Engine, customers *customer.Service, tenantID string, cfg config.ScheduleConfig) *Scheduler {
	return &Scheduler{Engine: eng, Customers: customers, TenantID: tenantID, Config: cfg}
}

// Run starts every loop and blocks until ctx is cancelled. Loop
// iterations that fail are logged and retried on the next tick; a loop
// never terminates early.
func (s *Scheduler) Run(ctx context.Context) {
	loops := []struct {
		name     string
		seconds  int
		fallback int
		fn       func(context.Context) error
	}{
		{"pattern-scan", s.Config.PatternScanSeconds, defaultPatternScanSeconds, s.ScanPatterns},
		{"proactive-check", s.Config.ProactiveCheckSeconds, defaultProactiveCheckSeconds, s.CheckProactive},
		{"goal-refresh", s.Config.GoalRefreshSeconds, defaultGoalRefreshSeconds, s.RefreshGoals},
		{"daily-digest", s.Config.DailyDigestSeconds, defaultDailyDigestSeconds, s.SendDigest},
		{"context-summary", s.Config.ContextSummarySeconds, defaultContextSummarySeconds, s.SummarizeContext},
	}
	var g errgroup.Group
	for _, loop := range loops {
		seconds := loop.seconds
		if seconds <= 0 {
			seconds = loop.fallback
		}
		g.Go(func() error {
			s.runLoop(ctx, loop.name, time.Duration(seconds)*time.Second, loop.fn)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := iterate(ctx, fn); err != nil {
			log.Printf("scheduler: %s iteration failed: %v", name, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// iterate runs one loop body, converting panics into errors so a bad
// iteration never kills its loop.
func iterate(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// ScanPatterns detects signals for every account and persists them as
// insights, alerting on the severe ones.
func (s *Scheduler) ScanPatterns(ctx context.Context) error {
	accounts, err := s.Customers.Accounts(ctx, s.TenantID)
	if err != nil {
		return err
	}
	for _, acct := range accounts {
		view, err := s.Customers.UnifiedView(ctx, s.TenantID, acct)
		if err != nil {
			log.Printf("scheduler: view for %s failed: %v", acct, err)
			continue
		}
		matches := s.Engine.Patterns.DetectPatterns(ctx, view)
		if len(matches) == 0 {
			continue
		}
		if _, err := s.Engine.Insights.ProcessBatch(ctx, s.TenantID, matches); err != nil {
			log.Printf("scheduler: persist insights for %s failed: %v", acct, err)
		}
	}
	return nil
}

// CheckProactive plans candidate actions per account and runs each one
// through the guardrail pipeline.
func (s *Scheduler) CheckProactive(ctx context.Context) error {
	accounts, err := s.Customers.Accounts(ctx, s.TenantID)
	if err != nil {
		return err
	}
	for _, acct := range accounts {
		view, err := s.Customers.UnifiedView(ctx, s.TenantID, acct)
		if err != nil {
			log.Printf("scheduler: view for %s failed: %v", acct, err)
			continue
		}
		actions, err := s.Engine.PlanProactiveActions(ctx, s.TenantID, view, "")
		if err != nil {
			log.Printf("scheduler: plan for %s failed: %v", acct, err)
			continue
		}
		for _, a := range actions {
			if _, err := s.Engine.ProposeAction(ctx, s.TenantID, a); err != nil {
				log.Printf("scheduler: propose %s failed: %v", a.ActionType, err)
			}
		}
	}
	return nil
}

// RefreshGoals recomputes pacing for active goals and logs the ones
// that fell behind.
func (s *Scheduler) RefreshGoals(ctx context.Context) error {
	statuses, err := s.Engine.Goals.CheckGoalStatus(ctx, s.TenantID)
	if err != nil {
		return err
	}
	behind := 0
	for _, st := range statuses {
		if !st.OnTrack {
			behind++
			log.Printf("scheduler: goal %s (%s) behind pace at %.0f%%", st.Goal.ID, st.Goal.GoalType, st.ProgressPct)
		}
	}
	if behind > 0 {
		log.Printf("scheduler: %d of %d active goals behind pace", behind, len(statuses))
	}
	return nil
}

// SendDigest generates the daily digest and publishes it through the
// alert port when one is configured.
func (s *Scheduler) SendDigest(ctx context.Context) error {
	digest, err := s.Engine.Insights.GenerateDailyDigest(ctx, s.TenantID)
	if err != nil {
		return err
	}
	if digest.Total == 0 {
		return nil
	}
	if pub := s.Engine.Insights.Alerts; pub != nil {
		if err := pub.Publish(ctx, "insight.digest", digest); err != nil {
			log.Printf("scheduler: digest delivery failed: %v", err)
		}
	}
	log.Printf("scheduler: daily digest ready with %d insights across %d accounts", digest.Total, len(digest.Groups))
	return nil
}

// SummarizeContext refreshes stored account summaries.
func (s *Scheduler) SummarizeContext(ctx context.Context) error {
	n, err := s.Customers.SummarizeAccounts(ctx, s.TenantID)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("scheduler: refreshed %d account summaries", n)
	}
	return nil
}

// Digest is a convenience for one-shot CLI use.
func (s *Scheduler) Digest(ctx context.Context) (domain.DailyDigest, error) {
	return s.Engine.Insights.GenerateDailyDigest(ctx, s.TenantID)
}
