// Package store persists guild streak records and contribution ledgers.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	lbtypes "streakkeeper/internal/types/leaderboard"
	"streakkeeper/internal/types/streak"
)

// Store is the storage contract shared by every backend. Load returns a
// default record for unknown guilds. LoadLedger returns entries in the order
// they were first created.
type Store interface {
	Load(ctx context.Context, guildID string) (*streak.Record, error)
	Save(ctx context.Context, guildID string, rec *streak.Record) error
	LoadLedger(ctx context.Context, guildID string) ([]lbtypes.Entry, error)
	UpsertLedgerEntry(ctx context.Context, guildID string, u lbtypes.Update) error
	SetLedgerCount(ctx context.Context, guildID, userID, displayName string, count int) error
	ClearLedger(ctx context.Context, guildID string) error
	Ping(ctx context.Context) error
	Close() error
}

const (
	BackendFile     = "file"
	BackendSheets   = "sheets"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Options struct {
	Backend         string
	FilePath        string
	DatabaseURL     string
	SQLitePath      string
	SpreadsheetID   string
	CredentialsFile string
}

// Open connects to the configured backend.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Store, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFileStore(opts.FilePath), nil
	case BackendSQLite:
		return NewSQLiteStore(ctx, opts.SQLitePath)
	case BackendPostgres:
		return NewPostgresStore(ctx, opts.DatabaseURL, logger)
	case BackendSheets:
		return NewSheetsStore(ctx, opts.SpreadsheetID, opts.CredentialsFile)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// parseCount reads a count cell written by hand or by an older bot;
// anything non-numeric is 0.
func parseCount(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
