package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const databaseFile = "cineshelf.db"

// SQLiteStorage is the local store: three tables behind a single SQLite
// connection. The connection is opened, and the schema created, on first use.
type SQLiteStorage struct {
	db       *sql.DB
	dbPath   string
	dataPath string
	logger   *zap.Logger

	initMu sync.Mutex
	// mu serialises writers against readers so a bulk insert is never
	// observed half-done.
	mu sync.RWMutex
}

// StorageInterface is the set of table operations the router depends on.
type StorageInterface interface {
	Query(ctx context.Context, table Table, opts QueryOptions) (*Cursor, error)
	Insert(ctx context.Context, table Table, row Row) (int64, error)
	BulkInsert(ctx context.Context, table Table, rows []Row) (int, error)
	Delete(ctx context.Context, table Table, where Filter) (int, error)
}

var _ StorageInterface = (*SQLiteStorage)(nil)

func NewSQLiteStorage(dataPath string, logger *zap.Logger) *SQLiteStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStorage{
		dbPath:   filepath.Join(dataPath, databaseFile),
		dataPath: dataPath,
		logger:   logger.Named("storage"),
	}
}

// Initialize opens the database and creates the schema if absent. Calling it
// is optional; every table operation initializes on demand.
func (s *SQLiteStorage) Initialize() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initialize()
}

func (s *SQLiteStorage) initialize() error {
	if s.db != nil {
		return nil
	}

	if err := os.MkdirAll(s.dataPath, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	migrationManager, err := NewMigrationManager(db, s.logger)
	if err != nil {
		db.Close()
		return err
	}
	if err := migrationManager.Up(context.Background()); err != nil {
		db.Close()
		return err
	}

	s.db = db
	s.logger.Info("SQLite database initialized", zap.String("path", s.dbPath))
	return nil
}

// open returns the live handle, initializing on first use.
func (s *SQLiteStorage) open() (*sql.DB, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if err := s.initialize(); err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	return s.db, nil
}

// Query returns the rows of table matching opts.
func (s *SQLiteStorage) Query(ctx context.Context, table Table, opts QueryOptions) (*Cursor, error) {
	columns := opts.Columns
	if len(columns) == 0 {
		columns = table.Columns()
	}
	if err := checkColumns(table, columns); err != nil {
		return nil, err
	}
	orderBy, err := orderClause(table, opts.OrderBy)
	if err != nil {
		return nil, err
	}

	db, err := s.open()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoteAll(columns), ", "), table)
	if !opts.Where.IsEmpty() {
		query += " WHERE " + opts.Where.Clause
	}
	query += " ORDER BY " + orderBy

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := db.QueryContext(ctx, query, opts.Where.Args...)
	if err != nil {
		return nil, &StoreError{Op: "query", Table: table, Err: err}
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &StoreError{Op: "scan", Table: table, Err: err}
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "query", Table: table, Err: err}
	}

	s.logger.Debug("query",
		zap.String("table", string(table)),
		zap.String("where", opts.Where.Clause),
		zap.Int("rows", len(result)))
	return newCursor(columns, result), nil
}

// Insert writes one row and returns its row id.
func (s *SQLiteStorage) Insert(ctx context.Context, table Table, row Row) (int64, error) {
	query, args, err := insertStatement(table, row)
	if err != nil {
		return 0, err
	}

	db, err := s.open()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &StoreError{Op: "insert", Table: table, Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &StoreError{Op: "insert", Table: table, Err: err}
	}
	return id, nil
}

// BulkInsert writes rows in one transaction. Either every row is written and
// len(rows) is returned, or none is and the count is zero.
func (s *SQLiteStorage) BulkInsert(ctx context.Context, table Table, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	type statement struct {
		query string
		args  []any
	}
	stmts := make([]statement, 0, len(rows))
	for _, row := range rows {
		query, args, err := insertStatement(table, row)
		if err != nil {
			return 0, err
		}
		stmts = append(stmts, statement{query: query, args: args})
	}

	db, err := s.open()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &StoreError{Op: "begin", Table: table, Err: err}
	}
	for i, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			return 0, &StoreError{Op: fmt.Sprintf("bulk insert row %d", i), Table: table, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, &StoreError{Op: "commit", Table: table, Err: err}
	}

	s.logger.Debug("bulk insert", zap.String("table", string(table)), zap.Int("rows", len(stmts)))
	return len(stmts), nil
}

// Delete removes the rows of table matching where and returns how many were
// removed. An empty filter removes every row.
func (s *SQLiteStorage) Delete(ctx context.Context, table Table, where Filter) (int, error) {
	if !table.known() {
		return 0, &MappingError{Table: table, Reason: "unknown table"}
	}

	db, err := s.open()
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s", table)
	if !where.IsEmpty() {
		query += " WHERE " + where.Clause
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := db.ExecContext(ctx, query, where.Args...)
	if err != nil {
		return 0, &StoreError{Op: "delete", Table: table, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StoreError{Op: "delete", Table: table, Err: err}
	}
	return int(n), nil
}

func (s *SQLiteStorage) Close() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func (s *SQLiteStorage) GetDB() (*sql.DB, error) {
	return s.open()
}

// GetStats returns row counts per table plus the number of favorite movies.
func (s *SQLiteStorage) GetStats() (map[string]int, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int)
	for _, table := range []Table{TableMovies, TableTrailers, TableReviews} {
		var n int
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[string(table)] = n
	}

	var favorites int
	err = db.QueryRow("SELECT COUNT(*) FROM movies WHERE is_favorite = 1").Scan(&favorites)
	if err != nil {
		return nil, fmt.Errorf("failed to count favorites: %w", err)
	}
	stats["favorites"] = favorites

	return stats, nil
}

// Migration management methods
func (s *SQLiteStorage) GetMigrationManager() (*MigrationManager, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	return NewMigrationManager(db, s.logger)
}

func (s *SQLiteStorage) GetDatabaseVersion(ctx context.Context) (int64, error) {
	m, err := s.GetMigrationManager()
	if err != nil {
		return 0, err
	}
	return m.Version(ctx)
}

func (s *SQLiteStorage) RunMigrations(ctx context.Context) error {
	m, err := s.GetMigrationManager()
	if err != nil {
		return err
	}
	return m.Up(ctx)
}

func (s *SQLiteStorage) RollbackMigration(ctx context.Context) error {
	m, err := s.GetMigrationManager()
	if err != nil {
		return err
	}
	return m.Down(ctx)
}

// ResetDatabase drops the schema and recreates it, leaving a fresh store.
func (s *SQLiteStorage) ResetDatabase(ctx context.Context) error {
	m, err := s.GetMigrationManager()
	if err != nil {
		return err
	}
	if err := m.Reset(ctx); err != nil {
		return err
	}
	return m.Up(ctx)
}

func insertStatement(table Table, row Row) (string, []any, error) {
	if !table.known() {
		return "", nil, &MappingError{Table: table, Reason: "unknown table"}
	}
	if len(row) == 0 {
		return "", nil, &MappingError{Table: table, Reason: "empty row"}
	}

	columns := make([]string, 0, len(row))
	for col := range row {
		if !table.hasColumn(col) {
			return "", nil, &MappingError{Table: table, Column: col, Reason: "unknown column"}
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	args := make([]any, len(columns))
	for i, col := range columns {
		args[i] = row[col]
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(quoteAll(columns), ", "), placeholders)
	return query, args, nil
}

func checkColumns(table Table, columns []string) error {
	if !table.known() {
		return &MappingError{Table: table, Reason: "unknown table"}
	}
	for _, col := range columns {
		if !table.hasColumn(col) {
			return &MappingError{Table: table, Column: col, Reason: "unknown column"}
		}
	}
	return nil
}

// orderClause validates a sort order such as "vote_average DESC, title".
// Empty means insertion order.
func orderClause(table Table, sortOrder string) (string, error) {
	if strings.TrimSpace(sortOrder) == "" {
		return quote(ColumnID) + " ASC", nil
	}

	var terms []string
	for _, term := range strings.Split(sortOrder, ",") {
		fields := strings.Fields(term)
		if len(fields) == 0 || len(fields) > 2 {
			return "", &MappingError{Table: table, Reason: fmt.Sprintf("invalid sort term %q", term)}
		}
		if !table.hasColumn(fields[0]) {
			return "", &MappingError{Table: table, Column: fields[0], Reason: "unknown sort column"}
		}
		dir := "ASC"
		if len(fields) == 2 {
			dir = strings.ToUpper(fields[1])
			if dir != "ASC" && dir != "DESC" {
				return "", &MappingError{Table: table, Reason: fmt.Sprintf("invalid sort direction %q", fields[1])}
			}
		}
		terms = append(terms, quote(fields[0])+" "+dir)
	}
	return strings.Join(terms, ", "), nil
}

func quote(column string) string {
	return `"` + column + `"`
}

func quoteAll(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = quote(c)
	}
	return out
}
