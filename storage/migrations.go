package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// MigrationStatus describes one embedded migration and whether it has been
// applied to the database.
type MigrationStatus struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// MigrationManager applies the embedded schema migrations. It holds no goose
// package state, so managers over different databases are independent.
type MigrationManager struct {
	provider *goose.Provider
	logger   *zap.Logger
}

func NewMigrationManager(db *sql.DB, logger *zap.Logger) (*MigrationManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys,
		goose.WithDisableGlobalRegistry(true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	return &MigrationManager{provider: provider, logger: logger.Named("migrations")}, nil
}

func (m *MigrationManager) logResults(msg string, results ...*goose.MigrationResult) {
	for _, r := range results {
		m.logger.Info(msg,
			zap.Int64("version", r.Source.Version),
			zap.String("name", path.Base(r.Source.Path)),
			zap.Duration("took", r.Duration))
	}
}

// Up applies every pending migration.
func (m *MigrationManager) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	m.logResults("migration applied", results...)
	return nil
}

// Down rolls back the latest applied migration.
func (m *MigrationManager) Down(ctx context.Context) error {
	result, err := m.provider.Down(ctx)
	if errors.Is(err, goose.ErrNoNextVersion) {
		return errors.New("failed to rollback migration: no migration applied")
	}
	if err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	m.logResults("migration rolled back", result)
	return nil
}

// Status lists every embedded migration in version order.
func (m *MigrationManager) Status(ctx context.Context) ([]MigrationStatus, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}
	out := make([]MigrationStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationStatus{
			Version:   s.Source.Version,
			Name:      path.Base(s.Source.Path),
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		})
	}
	return out, nil
}

func (m *MigrationManager) Version(ctx context.Context) (int64, error) {
	version, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get database version: %w", err)
	}
	return version, nil
}

// Reset rolls back every applied migration.
func (m *MigrationManager) Reset(ctx context.Context) error {
	results, err := m.provider.DownTo(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	m.logResults("migration rolled back", results...)
	m.logger.Info("database reset completed")
	return nil
}
