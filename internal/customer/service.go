// Package customer assembles the unified relationship view detectors
// run against, and maintains rolled-up account summaries.
package customer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/pattern"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/repo"
)

// Service reads and writes interaction history for one store.
type Service struct {
	Repo repo.Repo
	LLM  pattern.Completer
	Now  func() time.Time
}

func NewService(r repo.Repo) *Service {
	return &Service{Repo: r, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RecordInteraction validates and stores one timeline entry.
func (s *Service) RecordInteraction(ctx context.Context, in domain.Interaction) (domain.Interaction, error) {
	if in.TenantID == "" {
		return domain.Interaction{}, domain.Validationf("tenant_id", "required")
	}
	if in.AccountID == "" {
		return domain.Interaction{}, domain.Validationf("account_id", "required")
	}
	if in.Channel == "" {
		return domain.Interaction{}, domain.Validationf("channel", "required")
	}
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = s.now().UTC()
	}
	if err := s.Repo.InsertInteraction(ctx, in); err != nil {
		return domain.Interaction{}, err
	}
	return in, nil
}

// UnifiedView returns the chronological timeline plus derived signals
// for one account. An account without history yields an empty view, not
// an error.
func (s *Service) UnifiedView(ctx context.Context, tenantID, accountID string) (domain.CustomerView, error) {
	timeline, err := s.Repo.ListInteractions(ctx, tenantID, accountID)
	if err != nil {
		return domain.CustomerView{}, err
	}
	view := domain.CustomerView{
		TenantID:  tenantID,
		AccountID: accountID,
		Timeline:  timeline,
		Signals:   deriveSignals(timeline, s.now().UTC()),
	}
	return view, nil
}

// deriveSignals rolls the timeline up into flat facts detectors and
// humans can both read.
func deriveSignals(timeline []domain.Interaction, now time.Time) map[string]any {
	signals := map[string]any{
		"interaction_count": len(timeline),
	}
	if len(timeline) == 0 {
		return signals
	}
	channels := map[string]int{}
	sentiments := map[string]int{}
	participants := map[string]bool{}
	for _, in := range timeline {
		channels[in.Channel]++
		if in.Sentiment != "" {
			sentiments[in.Sentiment]++
		}
		for _, p := range in.Participants {
			participants[strings.ToLower(strings.TrimSpace(p))] = true
		}
	}
	delete(participants, "")
	last := timeline[len(timeline)-1].Timestamp
	signals["channels"] = channels
	signals["sentiments"] = sentiments
	signals["participant_count"] = len(participants)
	signals["last_contact"] = last.UTC().Format(time.RFC3339)
	signals["days_since_contact"] = int(now.Sub(last).Hours() / 24)
	return signals
}

// Accounts lists every account with recorded history.
func (s *Service) Accounts(ctx context.Context, tenantID string) ([]string, error) {
	return s.Repo.ListAccounts(ctx, tenantID)
}

// SummarizeAccounts refreshes the stored summary for every account.
// Per-account failures are logged and skipped so one bad account never
// stalls the loop. Returns the number of summaries written.
func (s *Service) SummarizeAccounts(ctx context.Context, tenantID string) (int, error) {
	accounts, err := s.Repo.ListAccounts(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	written := 0
	for _, acct := range accounts {
		if err := s.summarizeAccount(ctx, tenantID, acct); err != nil {
			log.Printf("customer: summarize %s/%s: %v", tenantID, acct, err)
			continue
		}
		written++
	}
	return written, nil
}

func (s *Service) summarizeAccount(ctx context.Context, tenantID, accountID string) error {
	timeline, err := s.Repo.ListInteractions(ctx, tenantID, accountID)
	if err != nil {
		return err
	}
	if len(timeline) == 0 {
		return nil
	}
	summary := ruleSummary(timeline)
	if s.LLM != nil {
		if text := s.llmSummary(ctx, timeline); text != "" {
			summary = text
		}
	}
	return s.Repo.UpsertAccountSummary(ctx, domain.AccountSummary{
		TenantID:         tenantID,
		AccountID:        accountID,
		Summary:          summary,
		InteractionCount: len(timeline),
		UpdatedAt:        s.now().UTC().Format(time.RFC3339),
	})
}

func ruleSummary(timeline []domain.Interaction) string {
	first := timeline[0].Timestamp.Format("2006-01-02")
	last := timeline[len(timeline)-1]
	return fmt.Sprintf("%d interactions since %s, most recently via %s on %s: %s",
		len(timeline), first, last.Channel, last.Timestamp.Format("2006-01-02"), last.ContentSummary)
}

func (s *Service) llmSummary(ctx context.Context, timeline []domain.Interaction) string {
	recent := timeline
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	var b strings.Builder
	for _, in := range recent {
		fmt.Fprintf(&b, "- [%s via %s] %s\n", in.Timestamp.Format("2006-01-02"), in.Channel, in.ContentSummary)
	}
	out, err := s.LLM.Complete(ctx, []pattern.Message{
		{Role: "system", Content: "Summarize this customer relationship in two sentences."},
		{Role: "user", Content: b.String()},
	})
	if err != nil {
		log.Printf("customer: summary generation failed: %v", err)
		return ""
	}
	return strings.TrimSpace(out)
}
