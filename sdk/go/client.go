package governorsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Governor HTTP API client.
type Client struct {
	BaseURL     string
	TenantID    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, tenantID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		TenantID: tenantID,
		Timeout:  10 * time.Second,
	}
}

// Verdict is the guardrail decision for a proposed action.
type Verdict struct {
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason"`
	RequiresHuman bool   `json:"requires_human"`
}

// ProposedAction pairs the stored action id with its verdict.
type ProposedAction struct {
	ActionID string  `json:"action_id"`
	Verdict  Verdict `json:"verdict"`
}

// ActionRecord represents the API action audit model (partial).
type ActionRecord struct {
	ID             string  `json:"id"`
	TenantID       string  `json:"tenant_id"`
	ActionType     string  `json:"action_type"`
	AccountID      string  `json:"account_id"`
	Allowed        bool    `json:"allowed"`
	Reason         string  `json:"reason"`
	ApprovalStatus string  `json:"approval_status"`
	ExecutedAt     *string `json:"executed_at,omitempty"`
}

// Approval represents a pending or resolved approval request.
type Approval struct {
	ActionID   string  `json:"action_id"`
	TenantID   string  `json:"tenant_id"`
	ActionType string  `json:"action_type"`
	AccountID  string  `json:"account_id"`
	Rationale  string  `json:"rationale,omitempty"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
	ResolvedBy *string `json:"resolved_by,omitempty"`
}

// Goal represents the API goal model (partial).
type Goal struct {
	ID           string  `json:"id"`
	TenantID     string  `json:"tenant_id"`
	GoalType     string  `json:"goal_type"`
	TargetValue  float64 `json:"target_value"`
	CurrentValue float64 `json:"current_value"`
	Status       string  `json:"status"`
}

// Insight represents a detector finding.
type Insight struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenant_id"`
	AccountID   string   `json:"account_id"`
	PatternType string   `json:"pattern_type"`
	Severity    string   `json:"severity"`
	Confidence  float64  `json:"confidence"`
	Evidence    []string `json:"evidence"`
	Status      string   `json:"status"`
}

// ScanResult reports one on-demand detection pass.
type ScanResult struct {
	AccountID string    `json:"account_id"`
	Matches   int       `json:"matches"`
	Insights  []Insight `json:"insights"`
}

// Interaction represents one customer timeline entry (partial).
type Interaction struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	AccountID      string `json:"account_id"`
	Channel        string `json:"channel"`
	ContentSummary string `json:"content_summary"`
	Sentiment      string `json:"sentiment,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ProposeAction submits an action for a guardrail verdict.
func (c *Client) ProposeAction(ctx context.Context, actionType, accountID, dealStage, rationale string) (ProposedAction, error) {
	body := map[string]any{
		"action_type": actionType,
		"account_id":  accountID,
		"deal_stage":  dealStage,
		"rationale":   rationale,
	}
	var resp ProposedAction
	err := c.do(ctx, http.MethodPost, c.tenantPath("actions"), body, &resp)
	return resp, err
}

// ExecuteAction runs an approved action.
func (c *Client) ExecuteAction(ctx context.Context, actionID string) (ActionRecord, error) {
	var resp ActionRecord
	endpoint := c.tenantPath(fmt.Sprintf("actions/%s/execute", url.PathEscape(actionID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// PendingApprovals lists actions waiting on a human.
func (c *Client) PendingApprovals(ctx context.Context) ([]Approval, error) {
	var resp []Approval
	err := c.do(ctx, http.MethodGet, c.tenantPath("approvals"), nil, &resp)
	return resp, err
}

// ResolveApproval approves or rejects a pending action.
func (c *Client) ResolveApproval(ctx context.Context, actionID string, approved bool) (Approval, error) {
	body := map[string]any{"approved": approved}
	var resp Approval
	endpoint := c.tenantPath(fmt.Sprintf("approvals/%s/resolve", url.PathEscape(actionID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateGoal creates a goal for the tenant.
func (c *Client) CreateGoal(ctx context.Context, goalType string, target float64, periodStart, periodEnd time.Time) (Goal, error) {
	body := map[string]any{
		"goal_type":    goalType,
		"target_value": target,
		"period_start": periodStart.UTC().Format(time.RFC3339),
		"period_end":   periodEnd.UTC().Format(time.RFC3339),
	}
	var resp Goal
	err := c.do(ctx, http.MethodPost, c.tenantPath("goals"), body, &resp)
	return resp, err
}

// UpdateGoalProgress sets a goal's current value.
func (c *Client) UpdateGoalProgress(ctx context.Context, goalID string, value float64) (Goal, error) {
	body := map[string]any{"value": value}
	var resp Goal
	endpoint := c.tenantPath(fmt.Sprintf("goals/%s/progress", url.PathEscape(goalID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RecordInteraction appends one customer timeline entry.
func (c *Client) RecordInteraction(ctx context.Context, accountID, channel, summary, sentiment string) (Interaction, error) {
	body := map[string]any{
		"account_id":      accountID,
		"channel":         channel,
		"content_summary": summary,
		"sentiment":       sentiment,
	}
	var resp Interaction
	err := c.do(ctx, http.MethodPost, c.tenantPath("interactions"), body, &resp)
	return resp, err
}

// ScanAccount runs pattern detection for one account.
func (c *Client) ScanAccount(ctx context.Context, accountID string) (ScanResult, error) {
	var resp ScanResult
	endpoint := c.tenantPath(fmt.Sprintf("accounts/%s/scan", url.PathEscape(accountID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Insights lists insights, optionally filtered by status.
func (c *Client) Insights(ctx context.Context, status string) ([]Insight, error) {
	endpoint := c.tenantPath("insights")
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Insight
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitFeedback records a useful/false_alarm verdict on an insight.
func (c *Client) SubmitFeedback(ctx context.Context, insightID, verdict, comment string) error {
	body := map[string]any{
		"verdict": verdict,
		"comment": comment,
	}
	endpoint := c.tenantPath(fmt.Sprintf("insights/%s/feedback", url.PathEscape(insightID)))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// Events returns recent audit events. A non-zero after fetches forward
// from that event id instead of tailing.
func (c *Client) Events(ctx context.Context, limit int, after int64) ([]Event, error) {
	endpoint := c.tenantPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if after > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%safter=%d", endpoint, sep, after)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) tenantPath(p string) string {
	tenant := url.PathEscape(c.TenantID)
	return fmt.Sprintf("v0/tenants/%s/%s", tenant, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
