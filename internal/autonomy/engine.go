// Package autonomy orchestrates the action lifecycle: propose,
// guardrail-check, audit, approve, execute. It also plans proactive
// actions from detected signals and lagging goals.
package autonomy

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/config"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/events"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/goals"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/guardrail"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/insight"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/pattern"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/repo"
)

// Engine wires the decision components over one store. Construct with
// New; the zero value is not usable.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Checker  *guardrail.Checker
	Goals    *goals.Tracker
	Patterns *pattern.Engine
	Insights *insight.Generator
	Now      func() time.Time
}

// New builds an engine with the default detector set. Alert and
// text-generation ports start unset; callers wire them after
// construction.
func New(conn *sql.DB, cfg *config.Config) *Engine {
	r := repo.Repo{DB: conn}
	return &Engine{
		DB:       conn,
		Repo:     r,
		Events:   events.Writer{DB: conn},
		Checker:  guardrail.New(cfg.Guardrails),
		Goals:    goals.NewTracker(r),
		Patterns: pattern.NewEngine(cfg,
			&pattern.BuyingSignalDetector{},
			&pattern.RiskIndicatorDetector{},
			&pattern.EngagementChangeDetector{},
		),
		Insights: insight.NewGenerator(r, nil),
		Now:      time.Now,
	}
}

// SetCompleter enables evidence enhancement on every detector. Pass
// nil to turn it back off.
func (e *Engine) SetCompleter(c pattern.Completer) {
	e.Patterns.SetCompleter(c)
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ProposeAction runs the guardrail check and audit-logs the attempt.
// Audit failures are logged and swallowed; the verdict always reaches
// the caller. The returned error covers validation only.
func (e *Engine) ProposeAction(ctx context.Context, tenantID string, action domain.AutonomyAction) (domain.GuardrailResult, error) {
	if action.ActionType == "" {
		return domain.GuardrailResult{}, domain.Validationf("action_type", "required")
	}
	if action.AccountID == "" {
		return domain.GuardrailResult{}, domain.Validationf("account_id", "required")
	}
	verdict := e.Checker.Check(action)

	rec := domain.ActionRecord{
		ID:             action.ID,
		TenantID:       tenantID,
		ActionType:     action.ActionType,
		AccountID:      action.AccountID,
		DealStage:      action.DealStage,
		Rationale:      action.Rationale,
		Allowed:        verdict.Allowed,
		Reason:         string(verdict.Reason),
		RequiresHuman:  verdict.RequiresHuman,
		ApprovalStatus: approvalStatusFor(verdict),
		ProposedAt:     e.now().UTC().Format(time.RFC3339),
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if err := e.auditProposal(ctx, rec, verdict); err != nil {
		log.Printf("autonomy: audit log failed for action %s (%s): %v", rec.ID, rec.ActionType, err)
	}
	return verdict, nil
}

func approvalStatusFor(v domain.GuardrailResult) string {
	switch {
	case v.Allowed:
		return "approved"
	case v.Reason == domain.ReasonHardStop:
		return "blocked"
	default:
		return "pending"
	}
}

func (e *Engine) auditProposal(ctx context.Context, rec domain.ActionRecord, verdict domain.GuardrailResult) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.LogActionTx(ctx, tx, rec); err != nil {
		return err
	}
	if verdict.Reason == domain.ReasonApprovalRequired || verdict.Reason == domain.ReasonUnknownActionType {
		approval := domain.ApprovalRequest{
			ActionID:   rec.ID,
			TenantID:   rec.TenantID,
			ActionType: rec.ActionType,
			AccountID:  rec.AccountID,
			Rationale:  rec.Rationale,
			Status:     "pending",
			CreatedAt:  rec.ProposedAt,
		}
		if err := e.Repo.InsertApprovalTx(ctx, tx, approval); err != nil {
			return err
		}
	}
	payload := events.EventPayload{
		"action_type": rec.ActionType,
		"allowed":     rec.Allowed,
		"reason":      rec.Reason,
	}
	if err := e.Events.Append(ctx, tx, "action.proposed", rec.TenantID, "action", rec.ID, "system", payload); err != nil {
		return err
	}
	return tx.Commit()
}

// PlanProactiveActions combines detected patterns with behind-schedule
// goals into candidate actions. Output is unchecked; every candidate
// must still go through ProposeAction before running.
func (e *Engine) PlanProactiveActions(ctx context.Context, tenantID string, view domain.CustomerView, cloneID string) ([]domain.AutonomyAction, error) {
	active, err := e.Goals.ActiveGoals(ctx, tenantID, cloneID)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	var actions []domain.AutonomyAction

	for _, m := range e.Patterns.DetectPatterns(ctx, view) {
		actionType := actionForPattern(m)
		if actionType == "" {
			continue
		}
		actions = append(actions, domain.AutonomyAction{
			ID:         uuid.New().String(),
			TenantID:   tenantID,
			ActionType: actionType,
			AccountID:  m.AccountID,
			Rationale:  m.Evidence[0],
			ProposedAt: now,
		})
	}

	for _, g := range active {
		suggestions := e.Goals.SuggestActions(ctx, tenantID, g)
		if len(suggestions) == 0 {
			continue
		}
		actions = append(actions, domain.AutonomyAction{
			ID:         uuid.New().String(),
			TenantID:   tenantID,
			ActionType: actionForGoal(g.GoalType),
			AccountID:  view.AccountID,
			Rationale:  suggestions[0],
			ProposedAt: now,
		})
	}
	return actions, nil
}

func actionForPattern(m domain.PatternMatch) string {
	switch m.PatternType {
	case domain.PatternBuyingSignal:
		return "send_follow_up_email"
	case domain.PatternRiskIndicator:
		if domain.AlertWorthy(m.Severity) {
			return "escalate_to_management"
		}
		return "send_follow_up_email"
	case domain.PatternEngagementChange:
		return "send_chat_message"
	}
	return ""
}

func actionForGoal(t domain.GoalType) string {
	switch t {
	case domain.GoalActivity:
		return "schedule_meeting"
	case domain.GoalQuality:
		return "qualify_conversation"
	}
	return "send_follow_up_email"
}

// ExecuteApprovedAction marks an approved action executed and records
// a result payload. Fails when the action is missing, not approved, or
// already executed.
func (e *Engine) ExecuteApprovedAction(ctx context.Context, tenantID, actionID string) (domain.ActionRecord, error) {
	rec, err := e.Repo.GetAction(ctx, tenantID, actionID)
	if err != nil {
		return domain.ActionRecord{}, err
	}
	if rec.ApprovalStatus != "approved" {
		return domain.ActionRecord{}, domain.NotApprovedError{ActionID: actionID, Status: rec.ApprovalStatus}
	}
	if rec.ExecutedAt != nil {
		return domain.ActionRecord{}, domain.NotApprovedError{ActionID: actionID, Status: "executed"}
	}
	executedAt := e.now().UTC().Format(time.RFC3339)
	result, err := json.Marshal(map[string]any{
		"status":      "executed",
		"action_type": rec.ActionType,
		"account_id":  rec.AccountID,
		"executed_at": executedAt,
	})
	if err != nil {
		return domain.ActionRecord{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ActionRecord{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateActionResultTx(ctx, tx, tenantID, actionID, executedAt, string(result)); err != nil {
		return domain.ActionRecord{}, err
	}
	payload := events.EventPayload{"action_type": rec.ActionType, "account_id": rec.AccountID}
	if err := e.Events.Append(ctx, tx, "action.executed", tenantID, "action", actionID, "system", payload); err != nil {
		return domain.ActionRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ActionRecord{}, err
	}
	resultJSON := string(result)
	rec.ExecutedAt = &executedAt
	rec.ResultJSON = &resultJSON
	return rec, nil
}

// PendingApprovals lists unresolved approval requests oldest first.
func (e *Engine) PendingApprovals(ctx context.Context, tenantID string) ([]domain.ApprovalRequest, error) {
	return e.Repo.ListPendingApprovals(ctx, tenantID)
}

// ResolveApproval records a human decision on a pending approval and
// mirrors it onto the audit record. Returns false when no pending
// approval exists for the action.
func (e *Engine) ResolveApproval(ctx context.Context, tenantID, actionID string, approved bool, resolvedBy string) (bool, error) {
	status := "rejected"
	if approved {
		status = "approved"
	}
	resolvedAt := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if err := e.Repo.ResolveApprovalTx(ctx, tx, tenantID, actionID, status, resolvedBy, resolvedAt); err != nil {
		if err == repo.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if err := e.Repo.SetActionApprovalStatusTx(ctx, tx, tenantID, actionID, status); err != nil {
		return false, err
	}
	payload := events.EventPayload{"status": status, "resolved_by": resolvedBy}
	if err := e.Events.Append(ctx, tx, "approval.resolved", tenantID, "action", actionID, resolvedBy, payload); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
