package domain

import "time"

// Tenant is an isolated customer workspace. All records below are scoped
// to exactly one tenant.
type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"active,suspended"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Clone is a named agent persona. Goals may be scoped to a clone; an
// empty CloneID on a goal means tenant-wide.
type Clone struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	Persona   string `json:"persona,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ActionCategory is the guardrail tier an action type belongs to.
type ActionCategory string

const (
	CategoryAutonomous       ActionCategory = "autonomous"
	CategoryApprovalRequired ActionCategory = "approval_required"
	CategoryHardStop         ActionCategory = "hard_stop"
)

// GuardrailReason explains a guardrail verdict.
type GuardrailReason string

const (
	ReasonAutonomous        GuardrailReason = "autonomous"
	ReasonApprovalRequired  GuardrailReason = "approval_required"
	ReasonHardStop          GuardrailReason = "hard_stop"
	ReasonStageGate         GuardrailReason = "stage_gate"
	ReasonUnknownActionType GuardrailReason = "unknown_action_type"
)

// AutonomyAction is a proposed unsupervised action. Immutable after
// creation; execution state lives on the audit record, not the proposal.
type AutonomyAction struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	ActionType string `json:"action_type"`
	AccountID  string `json:"account_id"`
	DealStage  string `json:"deal_stage,omitempty"`
	Rationale  string `json:"rationale,omitempty"`
	ProposedAt string `json:"proposed_at" format:"date-time"`
}

// GuardrailResult is the verdict for one proposed action.
type GuardrailResult struct {
	Allowed       bool            `json:"allowed"`
	Reason        GuardrailReason `json:"reason" enum:"autonomous,approval_required,hard_stop,stage_gate,unknown_action_type"`
	RequiresHuman bool            `json:"requires_human"`
}

// ActionRecord is the audit-log entry written for every proposal. It
// snapshots the action together with its verdict and approval state.
type ActionRecord struct {
	ID             string  `json:"id"`
	TenantID       string  `json:"tenant_id"`
	ActionType     string  `json:"action_type"`
	AccountID      string  `json:"account_id"`
	DealStage      string  `json:"deal_stage,omitempty"`
	Rationale      string  `json:"rationale,omitempty"`
	Allowed        bool    `json:"allowed"`
	Reason         string  `json:"reason"`
	RequiresHuman  bool    `json:"requires_human"`
	ApprovalStatus string  `json:"approval_status" enum:"approved,pending,blocked,rejected"`
	ProposedAt     string  `json:"proposed_at" format:"date-time"`
	ExecutedAt     *string `json:"executed_at,omitempty" format:"date-time"`
	ResultJSON     *string `json:"result_json,omitempty"`
}

// ApprovalRequest tracks the human sign-off lifecycle for one action.
type ApprovalRequest struct {
	ActionID   string  `json:"action_id"`
	TenantID   string  `json:"tenant_id"`
	ActionType string  `json:"action_type"`
	AccountID  string  `json:"account_id"`
	Rationale  string  `json:"rationale,omitempty"`
	Status     string  `json:"status" enum:"pending,approved,rejected"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	ResolvedAt *string `json:"resolved_at,omitempty" format:"date-time"`
	ResolvedBy *string `json:"resolved_by,omitempty"`
}

// GoalType classifies what a goal measures.
type GoalType string

const (
	GoalPipeline GoalType = "pipeline"
	GoalActivity GoalType = "activity"
	GoalQuality  GoalType = "quality"
	GoalRevenue  GoalType = "revenue"
)

// ValidGoalType reports whether t is a known goal type.
func ValidGoalType(t GoalType) bool {
	switch t {
	case GoalPipeline, GoalActivity, GoalQuality, GoalRevenue:
		return true
	}
	return false
}

// Goal is a numeric target pursued over a period.
type Goal struct {
	ID           string   `json:"id"`
	TenantID     string   `json:"tenant_id"`
	CloneID      *string  `json:"clone_id,omitempty"`
	GoalType     GoalType `json:"goal_type" enum:"pipeline,activity,quality,revenue"`
	TargetValue  float64  `json:"target_value"`
	CurrentValue float64  `json:"current_value"`
	PeriodStart  string   `json:"period_start" format:"date-time"`
	PeriodEnd    string   `json:"period_end" format:"date-time"`
	Status       string   `json:"status" enum:"active,completed,missed"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
}

// GoalStatus is the pacing report for one goal.
type GoalStatus struct {
	Goal          Goal    `json:"goal"`
	ProgressPct   float64 `json:"progress_pct"`
	OnTrack       bool    `json:"on_track"`
	DaysRemaining int     `json:"days_remaining"`
}

// PerformanceMetrics is a point-in-time snapshot used as goal-tracker
// input. Fields independently default to zero when a source errors.
type PerformanceMetrics struct {
	PipelineValue float64  `json:"pipeline_value"`
	ActivityCount int      `json:"activity_count"`
	QualityScore  *float64 `json:"quality_score,omitempty"`
	RevenueClosed float64  `json:"revenue_closed"`
	ComputedAt    string   `json:"computed_at" format:"date-time"`
}

// PatternType classifies a detected behavioral signal.
type PatternType string

const (
	PatternBuyingSignal     PatternType = "buying_signal"
	PatternRiskIndicator    PatternType = "risk_indicator"
	PatternEngagementChange PatternType = "engagement_change"
	PatternCrossAccount     PatternType = "cross_account_pattern"
)

// Severity ranks how urgent a signal is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityRank orders severities for sorting; higher is more urgent.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 0
	}
	return -1
}

// AlertWorthy reports whether a severity routes to real-time alerting
// rather than the daily digest.
func AlertWorthy(s Severity) bool {
	return s == SeverityCritical || s == SeverityHigh
}

// PatternMatch is ephemeral detector output; it is never persisted
// directly, only wrapped into an Insight.
type PatternMatch struct {
	PatternType PatternType `json:"pattern_type"`
	Confidence  float64     `json:"confidence"`
	Severity    Severity    `json:"severity"`
	Evidence    []string    `json:"evidence"`
	AccountID   string      `json:"account_id"`
	DetectedAt  time.Time   `json:"detected_at"`
}

// Insight is a persisted, reviewable wrapper around one PatternMatch.
type Insight struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	AccountID   string      `json:"account_id"`
	PatternType PatternType `json:"pattern_type"`
	Severity    Severity    `json:"severity"`
	Confidence  float64     `json:"confidence"`
	Evidence    []string    `json:"evidence"`
	Status      string      `json:"status" enum:"pending,acted,dismissed"`
	CreatedAt   string      `json:"created_at" format:"date-time"`
	ActedAt     *string     `json:"acted_at,omitempty" format:"date-time"`
}

// Alert is the delivery record for one insight. DeliveredAt nil means
// the alert was recorded but never handed to a delivery channel.
type Alert struct {
	ID          string  `json:"id"`
	TenantID    string  `json:"tenant_id"`
	InsightID   string  `json:"insight_id"`
	Channel     string  `json:"channel"`
	DeliveredAt *string `json:"delivered_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// DigestGroup is the per-account slice of a daily digest.
type DigestGroup struct {
	AccountID string    `json:"account_id"`
	Insights  []Insight `json:"insights"`
}

// DailyDigest aggregates pending insights for a 24h window. Computed on
// demand, never persisted.
type DailyDigest struct {
	TenantID    string        `json:"tenant_id"`
	GeneratedAt string        `json:"generated_at" format:"date-time"`
	Groups      []DigestGroup `json:"groups"`
	Total       int           `json:"total"`
}

// Feedback is a human verdict on one insight.
type Feedback struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	InsightID string `json:"insight_id"`
	Verdict   string `json:"verdict" enum:"useful,false_alarm"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// FeedbackSummary aggregates feedback for threshold tuning.
type FeedbackSummary struct {
	Useful       int     `json:"useful"`
	FalseAlarm   int     `json:"false_alarm"`
	Total        int     `json:"total"`
	AccuracyRate float64 `json:"accuracy_rate"`
}

// Interaction is one timeline entry of a customer relationship.
type Interaction struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	AccountID      string    `json:"account_id"`
	Channel        string    `json:"channel"`
	Timestamp      time.Time `json:"timestamp"`
	Participants   []string  `json:"participants"`
	ContentSummary string    `json:"content_summary"`
	Sentiment      string    `json:"sentiment,omitempty"`
	KeyPoints      []string  `json:"key_points,omitempty"`
}

// CustomerView is the unified input detectors run against.
type CustomerView struct {
	TenantID  string         `json:"tenant_id"`
	AccountID string         `json:"account_id"`
	Timeline  []Interaction  `json:"timeline"`
	Signals   map[string]any `json:"signals,omitempty"`
}

// AccountSummary is a rolled-up context snapshot for one account,
// refreshed by the background summarization loop.
type AccountSummary struct {
	TenantID         string `json:"tenant_id"`
	AccountID        string `json:"account_id"`
	Summary          string `json:"summary"`
	InteractionCount int    `json:"interaction_count"`
	UpdatedAt        string `json:"updated_at" format:"date-time"`
}

// Event is an append-only audit-trail entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TenantID   string `json:"tenant_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates non-interactive callers of the HTTP API.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
