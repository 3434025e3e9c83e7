package server

import (
	"encoding/json"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/config"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
)

// Request payloads

type CreateGoalRequest struct {
	CloneID     string  `json:"clone_id,omitempty"`
	GoalType    string  `json:"goal_type" enum:"pipeline,activity,quality,revenue"`
	TargetValue float64 `json:"target_value"`
	PeriodStart string  `json:"period_start" format:"date-time"`
	PeriodEnd   string  `json:"period_end" format:"date-time"`
}

type UpdateGoalProgressRequest struct {
	Value float64 `json:"value"`
}

type ProposeActionRequest struct {
	ActionType string `json:"action_type"`
	AccountID  string `json:"account_id"`
	DealStage  string `json:"deal_stage,omitempty"`
	Rationale  string `json:"rationale,omitempty"`
}

type ResolveApprovalRequest struct {
	Approved bool `json:"approved"`
}

type FeedbackRequest struct {
	Verdict string `json:"verdict" enum:"useful,false_alarm"`
	Comment string `json:"comment,omitempty"`
}

type SetInsightStatusRequest struct {
	Status string `json:"status" enum:"acted,dismissed"`
}

type RecordInteractionRequest struct {
	AccountID      string   `json:"account_id"`
	Channel        string   `json:"channel"`
	Timestamp      *string  `json:"timestamp,omitempty" format:"date-time"`
	Participants   []string `json:"participants,omitempty"`
	ContentSummary string   `json:"content_summary,omitempty"`
	Sentiment      string   `json:"sentiment,omitempty" enum:",positive,neutral,negative"`
	KeyPoints      []string `json:"key_points,omitempty"`
}

type CreateCloneRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Persona string `json:"persona,omitempty"`
}

type UpdateThresholdRequest struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

type ImportConfigRequest struct {
	YAML string `json:"yaml"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ProposeActionResponse struct {
	ActionID string                 `json:"action_id"`
	Verdict  domain.GuardrailResult `json:"verdict"`
}

type ThresholdResponse struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

type ScanResponse struct {
	AccountID string           `json:"account_id"`
	Matches   int              `json:"matches"`
	Insights  []domain.Insight `json:"insights"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type TenantConfigResponse struct {
	Tenant     tenantConfigSection    `json:"tenant"`
	Guardrails guardrailConfigSection `json:"guardrails"`
	Patterns   patternConfigSection   `json:"patterns"`
	Scheduler  scheduleConfigSection  `json:"scheduler"`
}

type scheduleConfigSection struct {
	PatternScanSeconds    int `json:"pattern_scan_seconds"`
	ProactiveCheckSeconds int `json:"proactive_check_seconds"`
	GoalRefreshSeconds    int `json:"goal_refresh_seconds"`
	DailyDigestSeconds    int `json:"daily_digest_seconds"`
	ContextSummarySeconds int `json:"context_summary_seconds"`
}

type tenantConfigSection struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type guardrailConfigSection struct {
	HardStops        []string `json:"hard_stops"`
	ApprovalRequired []string `json:"approval_required"`
	Autonomous       []string `json:"autonomous"`
	RestrictedStages []string `json:"restricted_stages"`
}

type patternConfigSection struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MinEvidenceCount    int     `json:"min_evidence_count"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		TenantID:   e.TenantID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func tenantConfigResponse(cfg *config.Config) TenantConfigResponse {
	return TenantConfigResponse{
		Tenant: tenantConfigSection{
			ID:   cfg.Tenant.ID,
			Name: cfg.Tenant.Name,
		},
		Guardrails: guardrailConfigSection{
			HardStops:        nonNilSlice(cfg.Guardrails.HardStops),
			ApprovalRequired: nonNilSlice(cfg.Guardrails.ApprovalRequired),
			Autonomous:       nonNilSlice(cfg.Guardrails.Autonomous),
			RestrictedStages: nonNilSlice(cfg.Guardrails.RestrictedStages),
		},
		Patterns: patternConfigSection{
			ConfidenceThreshold: cfg.ConfidenceThreshold(),
			MinEvidenceCount:    cfg.MinEvidenceCount(),
		},
		Scheduler: scheduleConfigSection{
			PatternScanSeconds:    cfg.Scheduler.PatternScanSeconds,
			ProactiveCheckSeconds: cfg.Scheduler.ProactiveCheckSeconds,
			GoalRefreshSeconds:    cfg.Scheduler.GoalRefreshSeconds,
			DailyDigestSeconds:    cfg.Scheduler.DailyDigestSeconds,
			ContextSummarySeconds: cfg.Scheduler.ContextSummarySeconds,
		},
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
