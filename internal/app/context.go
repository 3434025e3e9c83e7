package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/config"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/repo"
)

// ResolveTenantAndConfig picks the active tenant and ensures a tenant +
// config exist in DB, seeding defaults if missing. It prefers the
// override, then the single-tenant DB. A tenant that does not exist yet
// is created on the fly.
func ResolveTenantAndConfig(ctx context.Context, tenantOverride string, r repo.Repo) (string, *config.Config, error) {
	tenantID := tenantOverride
	if tenantID == "" {
		t, err := r.SingleTenant(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("tenant not specified; use --tenant")
		}
		tenantID = t.ID
	}
	seedCfg := config.Default(tenantID)

	if _, err := r.GetTenant(ctx, tenantID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createTenant(ctx, r, tenantID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetTenantConfig(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertTenantConfig(ctx, tenantID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed tenant config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Tenant.ID = tenantID
	return tenantID, cfg, nil
}

// createTenant inserts a minimal tenant footprint with the seed config.
func createTenant(ctx context.Context, r repo.Repo, tenantID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(tenantID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t := domain.Tenant{ID: tenantID, Name: tenantID, Status: "active", CreatedAt: now}
	if err := r.InsertTenantTx(ctx, tx, t); err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	if err := r.UpsertTenantConfigTx(ctx, tx, tenantID, seedCfg); err != nil {
		return fmt.Errorf("insert tenant config: %w", err)
	}
	return tx.Commit()
}
