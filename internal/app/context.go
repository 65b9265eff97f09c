package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foiadesk/internal/config"
	"foiadesk/internal/domain"
	"foiadesk/internal/repo"
)

// ResolveConfigAndActor loads the workspace config (falling back to defaults
// when no foiadesk.yml exists) and makes sure the CLI actor has a user row,
// seeded with the basic-tier monthly allowance.
func ResolveConfigAndActor(ctx context.Context, workspace, actorID string, r repo.Repo) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("foiadesk")
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if _, err := r.GetUser(ctx, actorID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		if err := seedActor(ctx, r, cfg, actorID); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func seedActor(ctx context.Context, r repo.Repo, cfg *config.Config, actorID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	u := domain.User{
		ID:               actorID,
		Name:             actorID,
		Tier:             "basic",
		Active:           true,
		MonthlyRequests:  cfg.MonthlyQuota("basic"),
		MonthlyResetDate: now,
		CreatedAt:        now,
	}
	if err := r.EnsureUser(ctx, tx, u); err != nil {
		return fmt.Errorf("seed actor: %w", err)
	}
	return tx.Commit()
}
