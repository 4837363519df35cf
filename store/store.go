// Package store saves converted logs into a SQLite database, one table per log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"unicode"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/edancain/mavlogparse/telemetry"
)

// DB is a SQLite database of telemetry tables.
type DB struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens or creates the database at path.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &DB{db: db, log: logger}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// TableName derives a table name from a log path: the file name without extensions,
// anything other than letters, digits and underscores replaced by underscores.
func TableName(log string) string {
	name := filepath.Base(log)
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	name = strings.Map(func(r rune) rune {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, name)
	if name == "" || unicode.IsDigit(rune(name[0])) {
		name = "log_" + name
	}
	return name
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// WriteFrame stores f in table, creating it if needed. Rows are appended in a single
// transaction. The timestamp column holds Unix seconds and NaN values are stored as NULL.
func (d *DB) WriteFrame(ctx context.Context, table string, f *telemetry.Frame) (err error) {
	cols := f.Columns()
	defs := make([]string, 0, len(cols)+1)
	names := make([]string, 0, len(cols)+1)
	defs = append(defs, "timestamp REAL NOT NULL")
	names = append(names, "timestamp")
	for _, c := range cols {
		defs = append(defs, quote(c))
		names = append(names, quote(c))
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(table), strings.Join(defs, ", "))
	if _, err = tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(table), strings.Join(names, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "))
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	defer stmt.Close()

	args := make([]any, len(names))
	index := f.Index()
	for i := 0; i < f.Len(); i++ {
		t := index[i]
		args[0] = float64(t.Unix()) + float64(t.Nanosecond())/1e9
		for j, v := range f.Row(i) {
			args[j+1] = sqlValue(v)
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	d.log.Info("stored frame", zap.String("table", table), zap.Int("rows", f.Len()))
	return nil
}

func sqlValue(v any) any {
	switch v := v.(type) {
	case float64:
		if math.IsNaN(v) {
			return nil
		}
		return v
	case float32:
		if math.IsNaN(float64(v)) {
			return nil
		}
		return float64(v)
	case uint64:
		if v > math.MaxInt64 {
			return float64(v)
		}
		return int64(v)
	}
	return v
}

// Tables lists the tables in the database.
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Count returns the number of rows in table.
func (d *DB) Count(ctx context.Context, table string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(table)).Scan(&n)
	return n, err
}
