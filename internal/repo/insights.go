package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
)

func (r Repo) InsertInsight(ctx context.Context, in domain.Insight) error {
	evidence, err := json.Marshal(in.Evidence)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO insights(id,tenant_id,account_id,pattern_type,severity,confidence,evidence_json,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		in.ID, in.TenantID, in.AccountID, string(in.PatternType), string(in.Severity), in.Confidence, string(evidence), in.Status, in.CreatedAt)
	return err
}

const insightColumns = `id,tenant_id,account_id,pattern_type,severity,confidence,evidence_json,status,created_at,acted_at`

func scanInsight(scan func(dest ...any) error) (domain.Insight, error) {
	var in domain.Insight
	var patternType, severity, evidenceJSON string
	var actedAt sql.NullString
	err := scan(&in.ID, &in.TenantID, &in.AccountID, &patternType, &severity, &in.Confidence, &evidenceJSON, &in.Status, &in.CreatedAt, &actedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	in.PatternType = domain.PatternType(patternType)
	in.Severity = domain.Severity(severity)
	if evidenceJSON != "" {
		_ = json.Unmarshal([]byte(evidenceJSON), &in.Evidence)
	}
	if actedAt.Valid {
		in.ActedAt = &actedAt.String
	}
	return in, nil
}

func (r Repo) GetInsight(ctx context.Context, tenantID, id string) (domain.Insight, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+insightColumns+` FROM insights WHERE tenant_id=? AND id=?`, tenantID, id)
	return scanInsight(row.Scan)
}

// ListInsightsOptions filters insight listings. Empty fields match
// everything; Since is an RFC3339 lower bound on created_at.
type ListInsightsOptions struct {
	Status      string
	AccountID   string
	PatternType domain.PatternType
	Since       string
	Limit       int
}

func (r Repo) ListInsights(ctx context.Context, tenantID string, opts ListInsightsOptions) ([]domain.Insight, error) {
	query := `SELECT ` + insightColumns + ` FROM insights WHERE tenant_id=?`
	args := []any{tenantID}
	if opts.Status != "" {
		query += ` AND status=?`
		args = append(args, opts.Status)
	}
	if opts.AccountID != "" {
		query += ` AND account_id=?`
		args = append(args, opts.AccountID)
	}
	if opts.PatternType != "" {
		query += ` AND pattern_type=?`
		args = append(args, string(opts.PatternType))
	}
	if opts.Since != "" {
		query += ` AND created_at>=?`
		args = append(args, opts.Since)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Insight
	for rows.Next() {
		in, err := scanInsight(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

func (r Repo) UpdateInsightStatus(ctx context.Context, tenantID, id, status, actedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE insights SET status=?, acted_at=? WHERE tenant_id=? AND id=?`,
		status, nullable(actedAt), tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- alerts ---

func (r Repo) InsertAlert(ctx context.Context, a domain.Alert) error {
	var delivered any
	if a.DeliveredAt != nil {
		delivered = *a.DeliveredAt
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO alerts(id,tenant_id,insight_id,channel,delivered_at,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.TenantID, a.InsightID, a.Channel, delivered, a.CreatedAt)
	return err
}

func (r Repo) ListAlerts(ctx context.Context, tenantID string, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,insight_id,channel,delivered_at,created_at FROM alerts WHERE tenant_id=? ORDER BY created_at DESC LIMIT ?`,
		tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var delivered sql.NullString
		if err := rows.Scan(&a.ID, &a.TenantID, &a.InsightID, &a.Channel, &delivered, &a.CreatedAt); err != nil {
			return nil, err
		}
		if delivered.Valid {
			a.DeliveredAt = &delivered.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- feedback ---

func (r Repo) RecordFeedback(ctx context.Context, f domain.Feedback) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO feedback(id,tenant_id,insight_id,verdict,comment,created_at) VALUES (?,?,?,?,?,?)`,
		f.ID, f.TenantID, f.InsightID, f.Verdict, nullable(f.Comment), f.CreatedAt)
	return err
}

func (r Repo) FeedbackStats(ctx context.Context, tenantID string) (useful, falseAlarm int, err error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT verdict, COUNT(*) FROM feedback WHERE tenant_id=? GROUP BY verdict`, tenantID)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var verdict string
		var n int
		if err := rows.Scan(&verdict, &n); err != nil {
			return 0, 0, err
		}
		switch verdict {
		case "useful":
			useful = n
		case "false_alarm":
			falseAlarm = n
		}
	}
	return useful, falseAlarm, rows.Err()
}
