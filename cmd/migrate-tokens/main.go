// Package main provides a CLI tool that seals stored bot tokens under the
// current encryption key.
//
// It rewrites plaintext rows (encryption_version=0) and rows sealed with a
// retired key listed in ENCRYPTION_PREVIOUS_KEYS. Run it after enabling
// encryption or after rotating ENCRYPTION_KEY.
//
// Usage:
//
//	migrate-tokens [--dry-run] [--owner OWNER] [--status]
//
// Flags:
//
//	--dry-run: Show what would be migrated without making changes
//	--owner:   Migrate the tokens of one owner only (default: all owners)
//	--status:  Only report how many rows each key seals
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: "id:base64key" or a bare base64 32-byte key (required)
//	ENCRYPTION_PREVIOUS_KEYS: comma separated retired keys still needed to read old rows
//
// Example:
//
//	export ENCRYPTION_PREVIOUS_KEYS="$ENCRYPTION_KEY"
//	export ENCRYPTION_KEY="k2:$(openssl rand -base64 32)"
//	./migrate-tokens --dry-run
//	./migrate-tokens
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"

	"github.com/MrSigel/pulseframelabs/backend/config"
	"github.com/MrSigel/pulseframelabs/backend/db"
)

// resealer is the part of db.Store the migration drives.
type resealer interface {
	StaleConnections(ctx context.Context) ([]string, error)
	Reseal(ctx context.Context, ownerID string) error
	KeyUsage(ctx context.Context) (map[string]int, error)
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	owner := flag.String("owner", "", "Migrate tokens for specific owner only (default: all owners)")
	status := flag.Bool("status", false, "Report encryption status and exit")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.DBDsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	keys, err := cfg.Keyring()
	if err != nil || keys == nil {
		slog.Error("ENCRYPTION_KEY environment variable is required for migration", slog.Any("err", err))
		os.Exit(1)
	}

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DBDsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	defer database.Close()
	st := db.New(database, keys)

	if *status {
		err = reportStatus(ctx, st, keys.Current().KeyID())
	} else {
		err = migrateTokens(ctx, st, *dryRun, *owner)
	}
	if err != nil {
		slog.Error("migration failed", slog.Any("err", err))
		database.Close()
		os.Exit(1)
	}
	slog.Info("migration completed successfully")
}

// migrateTokens reseals every stale connection, or only ownerFilter's.
func migrateTokens(ctx context.Context, st resealer, dryRun bool, ownerFilter string) error {
	owners, err := st.StaleConnections(ctx)
	if err != nil {
		return fmt.Errorf("list stale connections: %w", err)
	}
	if ownerFilter != "" {
		if !slices.Contains(owners, ownerFilter) {
			owners = nil
		} else {
			owners = []string{ownerFilter}
		}
	}
	if len(owners) == 0 {
		slog.Info("no tokens need resealing")
		return nil
	}
	slog.Info("found tokens to reseal", slog.Int("count", len(owners)), slog.Bool("dry_run", dryRun))

	migrated, failed := 0, 0
	for i, o := range owners {
		logger := slog.With(slog.String("owner", o), slog.Int("index", i+1), slog.Int("total", len(owners)))
		if dryRun {
			logger.Info("would reseal token (dry-run)")
			migrated++
			continue
		}
		if err := st.Reseal(ctx, o); err != nil {
			logger.Error("failed to reseal token", slog.Any("err", err))
			failed++
			continue
		}
		logger.Info("resealed token")
		migrated++
	}

	slog.Info("migration summary",
		slog.Int("total", len(owners)),
		slog.Int("migrated", migrated),
		slog.Int("errors", failed),
		slog.Bool("dry_run", dryRun))
	if failed > 0 {
		return fmt.Errorf("migration completed with %d errors", failed)
	}
	return nil
}

func reportStatus(ctx context.Context, st resealer, currentKey string) error {
	usage, err := st.KeyUsage(ctx)
	if err != nil {
		return fmt.Errorf("query key usage: %w", err)
	}
	ids := make([]string, 0, len(usage))
	for id := range usage {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	total := 0
	for _, id := range ids {
		desc := "sealed with retired key"
		switch id {
		case "":
			desc = "plaintext"
		case currentKey:
			desc = "sealed with current key"
		}
		slog.Info("token encryption status", slog.String("key_id", id), slog.String("description", desc), slog.Int("count", usage[id]))
		total += usage[id]
	}
	slog.Info("total tokens", slog.Int("count", total))
	if usage[""] > 0 {
		return errors.New("plaintext tokens remain")
	}
	return nil
}
