package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) NowExpr() string { return "strftime('%Y-%m-%d %H:%M:%f','now')" }

// TxOptions returns nil: SQLite transactions are serializable and the
// store runs a single writer connection.
func (d *SQLiteDialect) TxOptions() *sql.TxOptions {
	return nil
}

func (d *SQLiteDialect) TablesSQL() string {
	return sqliteTablesSQL
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "FOREIGN KEY constraint failed") ||
		strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed") {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	return err
}

// --- SQLite DDL ---

const sqliteTablesSQL = `
CREATE TABLE IF NOT EXISTS fields (
    id          TEXT PRIMARY KEY,
    data_label  TEXT NOT NULL,
    label       TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now')),
    updated_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now'))
);

CREATE TABLE IF NOT EXISTS objects (
    id          TEXT PRIMARY KEY,
    attributes  TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now')),
    updated_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now'))
);

CREATE TABLE IF NOT EXISTS rules (
    id             TEXT PRIMARY KEY,
    field_id       TEXT NOT NULL REFERENCES fields(id) ON DELETE CASCADE ON UPDATE CASCADE,
    type           TEXT NOT NULL CHECK (type IN ('equals', 'regex')),
    regex_pattern  TEXT,
    regex_replacer TEXT,
    created_at     TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now')),
    updated_at     TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now'))
);

CREATE TABLE IF NOT EXISTS keys (
    rule_id     TEXT NOT NULL REFERENCES rules(id) ON DELETE CASCADE ON UPDATE CASCADE,
    object_id   TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE ON UPDATE CASCADE,
    key         TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now')),
    updated_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now')),
    PRIMARY KEY (rule_id, object_id)
);
CREATE INDEX IF NOT EXISTS idx_keys_object ON keys(object_id);
CREATE INDEX IF NOT EXISTS idx_rules_field ON rules(field_id);
`

// Compile-time check
var _ Dialect = (*SQLiteDialect)(nil)
