package main

import (
	"context"
	"fmt"
	"io"

	"github.com/ashureev/intent-sensor/internal/config"
	"github.com/ashureev/intent-sensor/internal/identity"
	"github.com/ashureev/intent-sensor/internal/store"
	"github.com/spf13/cobra"
)

func newSessionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Print the session id of the configured tab, creating it if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			storage, closeStorage, err := openTabStorage(ctx, a.cfg.Session, nil)
			if err != nil {
				return err
			}
			defer closeStorage()

			id := identity.GetOrCreateSessionID(ctx, storage, a.logger)
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

// openTabStorage opens the configured tab-scoped storage. With the memory
// backend, fallback is used when given; it is the tab's own storage.
func openTabStorage(ctx context.Context, cfg config.SessionConfig, fallback identity.Storage) (identity.Storage, func(), error) {
	switch cfg.Store {
	case config.SessionStoreSQLite:
		db, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open tab storage: %w", err)
		}
		if _, err := db.DeleteExpiredTabs(ctx, cfg.TabTTL); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("sweep tab storage: %w", err)
		}
		return db.Tab(cfg.TabID), closer(db), nil

	case config.SessionStoreRedis:
		rs, err := store.NewRedisTabStorage(ctx, cfg.RedisAddr, cfg.TabID, cfg.TabTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("open tab storage: %w", err)
		}
		return rs, closer(rs), nil

	default:
		if fallback != nil {
			return fallback, func() {}, nil
		}
		return identity.NewMemoryStorage(), func() {}, nil
	}
}

func closer(c io.Closer) func() {
	return func() { _ = c.Close() }
}
