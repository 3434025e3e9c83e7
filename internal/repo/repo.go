package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/config"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- tenants ---

func (r Repo) InsertTenant(ctx context.Context, t domain.Tenant) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tenants(id,name,status,created_at) VALUES (?,?,?,?)`,
		t.ID, nullable(t.Name), t.Status, t.CreatedAt)
	return err
}

func (r Repo) InsertTenantTx(ctx context.Context, tx *sql.Tx, t domain.Tenant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tenants(id,name,status,created_at) VALUES (?,?,?,?)`,
		t.ID, nullable(t.Name), t.Status, t.CreatedAt)
	return err
}

func (r Repo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(name,''),status,created_at FROM tenants WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// SingleTenant returns the only tenant, or an error when the workspace
// holds zero or more than one.
func (r Repo) SingleTenant(ctx context.Context) (domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(name,''),status,created_at FROM tenants`)
	if err != nil {
		return domain.Tenant{}, err
	}
	defer rows.Close()
	var tenants []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt); err != nil {
			return domain.Tenant{}, err
		}
		tenants = append(tenants, t)
	}
	if len(tenants) == 0 {
		return domain.Tenant{}, ErrNotFound
	}
	if len(tenants) > 1 {
		return domain.Tenant{}, fmt.Errorf("multiple tenants exist; specify --tenant")
	}
	return tenants[0], nil
}

func (r Repo) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(name,''),status,created_at FROM tenants ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) GetTenantConfig(ctx context.Context, tenantID string) (*config.Config, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT yaml FROM tenant_configs WHERE tenant_id=?`, tenantID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(raw))
}

func (r Repo) UpsertTenantConfig(ctx context.Context, tenantID string, cfg *config.Config) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.UpsertTenantConfigTx(ctx, tx, tenantID, cfg); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) UpsertTenantConfigTx(ctx context.Context, tx *sql.Tx, tenantID string, cfg *config.Config) error {
	raw := config.GenerateDefault(tenantID)
	if cfg != nil {
		data, err := cfg.ToYAML()
		if err != nil {
			return err
		}
		raw = string(data)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO tenant_configs(tenant_id,yaml,updated_at) VALUES (?,?,?)
ON CONFLICT(tenant_id) DO UPDATE SET yaml=excluded.yaml, updated_at=excluded.updated_at`,
		tenantID, raw, now)
	return err
}

// --- goals ---

func (r Repo) InsertGoal(ctx context.Context, g domain.Goal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO goals(id,tenant_id,clone_id,goal_type,target_value,current_value,period_start,period_end,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.TenantID, g.CloneID, string(g.GoalType), g.TargetValue, g.CurrentValue, g.PeriodStart, g.PeriodEnd, g.Status, g.CreatedAt, g.UpdatedAt)
	return err
}

func scanGoal(scan func(dest ...any) error) (domain.Goal, error) {
	var g domain.Goal
	var cloneID sql.NullString
	var goalType string
	err := scan(&g.ID, &g.TenantID, &cloneID, &goalType, &g.TargetValue, &g.CurrentValue, &g.PeriodStart, &g.PeriodEnd, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.GoalType = domain.GoalType(goalType)
	if cloneID.Valid {
		g.CloneID = &cloneID.String
	}
	return g, nil
}

const goalColumns = `id,tenant_id,clone_id,goal_type,target_value,current_value,period_start,period_end,status,created_at,updated_at`

func (r Repo) GetGoal(ctx context.Context, tenantID, id string) (domain.Goal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE tenant_id=? AND id=?`, tenantID, id)
	return scanGoal(row.Scan)
}

// ListGoalsOptions filters goal listings. Empty fields match everything.
type ListGoalsOptions struct {
	Status  string
	CloneID string
	Type    domain.GoalType
}

func (r Repo) ListGoals(ctx context.Context, tenantID string, opts ListGoalsOptions) ([]domain.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals WHERE tenant_id=?`
	args := []any{tenantID}
	if opts.Status != "" {
		query += ` AND status=?`
		args = append(args, opts.Status)
	}
	if opts.CloneID != "" {
		query += ` AND clone_id=?`
		args = append(args, opts.CloneID)
	}
	if opts.Type != "" {
		query += ` AND goal_type=?`
		args = append(args, string(opts.Type))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// UpdateGoalProgress persists new value and status for a goal.
func (r Repo) UpdateGoalProgress(ctx context.Context, tenantID, id string, value float64, status, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE goals SET current_value=?, status=?, updated_at=? WHERE tenant_id=? AND id=?`,
		value, status, updatedAt, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- actions (audit log) ---

func (r Repo) LogActionTx(ctx context.Context, tx *sql.Tx, a domain.ActionRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO actions(id,tenant_id,action_type,account_id,deal_stage,rationale,allowed,reason,requires_human,approval_status,proposed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.TenantID, a.ActionType, a.AccountID, nullable(a.DealStage), nullable(a.Rationale),
		boolInt(a.Allowed), a.Reason, boolInt(a.RequiresHuman), a.ApprovalStatus, a.ProposedAt)
	return err
}

const actionColumns = `id,tenant_id,action_type,account_id,COALESCE(deal_stage,''),COALESCE(rationale,''),allowed,reason,requires_human,approval_status,proposed_at,executed_at,result_json`

func scanAction(scan func(dest ...any) error) (domain.ActionRecord, error) {
	var a domain.ActionRecord
	var allowed, requiresHuman int
	var executedAt, resultJSON sql.NullString
	err := scan(&a.ID, &a.TenantID, &a.ActionType, &a.AccountID, &a.DealStage, &a.Rationale,
		&allowed, &a.Reason, &requiresHuman, &a.ApprovalStatus, &a.ProposedAt, &executedAt, &resultJSON)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Allowed = allowed != 0
	a.RequiresHuman = requiresHuman != 0
	if executedAt.Valid {
		a.ExecutedAt = &executedAt.String
	}
	if resultJSON.Valid {
		a.ResultJSON = &resultJSON.String
	}
	return a, nil
}

func (r Repo) GetAction(ctx context.Context, tenantID, id string) (domain.ActionRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE tenant_id=? AND id=?`, tenantID, id)
	return scanAction(row.Scan)
}

func (r Repo) ListActions(ctx context.Context, tenantID string, limit int) ([]domain.ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE tenant_id=? ORDER BY proposed_at DESC, id DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionRecord
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// UpdateActionResult marks an action executed and stores its result.
func (r Repo) UpdateActionResultTx(ctx context.Context, tx *sql.Tx, tenantID, id, executedAt, resultJSON string) error {
	res, err := tx.ExecContext(ctx, `UPDATE actions SET executed_at=?, result_json=? WHERE tenant_id=? AND id=?`,
		executedAt, resultJSON, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetActionApprovalStatusTx(ctx context.Context, tx *sql.Tx, tenantID, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE actions SET approval_status=? WHERE tenant_id=? AND id=?`, status, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- approvals ---

func (r Repo) InsertApprovalTx(ctx context.Context, tx *sql.Tx, a domain.ApprovalRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO approvals(action_id,tenant_id,action_type,account_id,rationale,status,created_at)
VALUES (?,?,?,?,?,?,?)`,
		a.ActionID, a.TenantID, a.ActionType, a.AccountID, nullable(a.Rationale), a.Status, a.CreatedAt)
	return err
}

const approvalColumns = `action_id,tenant_id,action_type,account_id,COALESCE(rationale,''),status,created_at,resolved_at,resolved_by`

func scanApproval(scan func(dest ...any) error) (domain.ApprovalRequest, error) {
	var a domain.ApprovalRequest
	var resolvedAt, resolvedBy sql.NullString
	err := scan(&a.ActionID, &a.TenantID, &a.ActionType, &a.AccountID, &a.Rationale, &a.Status, &a.CreatedAt, &resolvedAt, &resolvedBy)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.String
	}
	if resolvedBy.Valid {
		a.ResolvedBy = &resolvedBy.String
	}
	return a, nil
}

func (r Repo) GetApproval(ctx context.Context, tenantID, actionID string) (domain.ApprovalRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE tenant_id=? AND action_id=?`, tenantID, actionID)
	return scanApproval(row.Scan)
}

func (r Repo) ListPendingApprovals(ctx context.Context, tenantID string) ([]domain.ApprovalRequest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE tenant_id=? AND status='pending' ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ResolveApprovalTx(ctx context.Context, tx *sql.Tx, tenantID, actionID, status, resolvedBy, resolvedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE approvals SET status=?, resolved_at=?, resolved_by=? WHERE tenant_id=? AND action_id=? AND status='pending'`,
		status, resolvedAt, resolvedBy, tenantID, actionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- events ---

func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64, tenantID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(tenant_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
FROM events WHERE id>? AND tenant_id=? ORDER BY id ASC LIMIT ?`, afterID, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.TenantID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context, tenantID string) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events WHERE tenant_id=?`, tenantID).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) TailEvents(ctx context.Context, tenantID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(tenant_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
FROM events WHERE tenant_id=? ORDER BY id DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.TenantID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	// reverse to chronological order
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
