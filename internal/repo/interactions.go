package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
)

func (r Repo) InsertInteraction(ctx context.Context, in domain.Interaction) error {
	participants, err := json.Marshal(in.Participants)
	if err != nil {
		return err
	}
	keyPoints, err := json.Marshal(in.KeyPoints)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO interactions(id,tenant_id,account_id,channel,ts,participants_json,content_summary,sentiment,key_points_json)
VALUES (?,?,?,?,?,?,?,?,?)`,
		in.ID, in.TenantID, in.AccountID, in.Channel, in.Timestamp.UTC().Format(time.RFC3339),
		string(participants), in.ContentSummary, nullable(in.Sentiment), string(keyPoints))
	return err
}

// ListInteractions returns the account timeline in chronological order.
func (r Repo) ListInteractions(ctx context.Context, tenantID, accountID string) ([]domain.Interaction, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,account_id,channel,ts,participants_json,content_summary,COALESCE(sentiment,''),key_points_json
FROM interactions WHERE tenant_id=? AND account_id=? ORDER BY ts ASC, id ASC`, tenantID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Interaction
	for rows.Next() {
		var in domain.Interaction
		var ts, participantsJSON, keyPointsJSON string
		if err := rows.Scan(&in.ID, &in.TenantID, &in.AccountID, &in.Channel, &ts, &participantsJSON, &in.ContentSummary, &in.Sentiment, &keyPointsJSON); err != nil {
			return nil, err
		}
		in.Timestamp, _ = time.Parse(time.RFC3339, ts)
		_ = json.Unmarshal([]byte(participantsJSON), &in.Participants)
		_ = json.Unmarshal([]byte(keyPointsJSON), &in.KeyPoints)
		res = append(res, in)
	}
	return res, rows.Err()
}

// ListAccounts returns the distinct account IDs with interactions.
func (r Repo) ListAccounts(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT account_id FROM interactions WHERE tenant_id=? ORDER BY account_id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (r Repo) UpsertAccountSummary(ctx context.Context, s domain.AccountSummary) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO account_summaries(tenant_id,account_id,summary,interaction_count,updated_at)
VALUES (?,?,?,?,?)
ON CONFLICT(tenant_id,account_id) DO UPDATE SET summary=excluded.summary, interaction_count=excluded.interaction_count, updated_at=excluded.updated_at`,
		s.TenantID, s.AccountID, s.Summary, s.InteractionCount, s.UpdatedAt)
	return err
}

func (r Repo) GetAccountSummary(ctx context.Context, tenantID, accountID string) (domain.AccountSummary, error) {
	var s domain.AccountSummary
	err := r.DB.QueryRowContext(ctx, `SELECT tenant_id,account_id,summary,interaction_count,updated_at FROM account_summaries WHERE tenant_id=? AND account_id=?`,
		tenantID, accountID).Scan(&s.TenantID, &s.AccountID, &s.Summary, &s.InteractionCount, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// --- metric sources ---
//
// Each reader is queried independently by the goal tracker; a failing
// reader degrades a single metric, never the whole snapshot.

func (r Repo) PipelineValue(ctx context.Context, tenantID, cloneID string) (float64, error) {
	query := `SELECT COALESCE(SUM(current_value),0) FROM goals WHERE tenant_id=? AND goal_type='pipeline' AND status='active'`
	args := []any{tenantID}
	if cloneID != "" {
		query += ` AND clone_id=?`
		args = append(args, cloneID)
	}
	var v float64
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&v)
	return v, err
}

func (r Repo) ActivityCount(ctx context.Context, tenantID, cloneID string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions WHERE tenant_id=? AND ts>=?`,
		tenantID, since.UTC().Format(time.RFC3339)).Scan(&n)
	return n, err
}

// QualityScore derives a 0..1 score from sentiment labels on recent
// interactions. ErrNotFound when no labelled interactions exist.
func (r Repo) QualityScore(ctx context.Context, tenantID, cloneID string) (float64, error) {
	var positive, total int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(CASE WHEN sentiment='positive' THEN 1 ELSE 0 END),0), COUNT(*)
FROM interactions WHERE tenant_id=? AND sentiment IS NOT NULL AND sentiment<>''`, tenantID).Scan(&positive, &total)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, ErrNotFound
	}
	return float64(positive) / float64(total), nil
}

func (r Repo) RevenueClosed(ctx context.Context, tenantID, cloneID string) (float64, error) {
	query := `SELECT COALESCE(SUM(current_value),0) FROM goals WHERE tenant_id=? AND goal_type='revenue' AND status='completed'`
	args := []any{tenantID}
	if cloneID != "" {
		query += ` AND clone_id=?`
		args = append(args, cloneID)
	}
	var v float64
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&v)
	return v, err
}
