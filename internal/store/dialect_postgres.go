package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) NowExpr() string { return "NOW()" }

// TxOptions requests repeatable read so rules/objects read for key
// evaluation and the key writes observe one snapshot.
func (d *PostgresDialect) TxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
}

func (d *PostgresDialect) TablesSQL() string {
	return pgTablesSQL
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	// With pgx/stdlib, the underlying error message includes the PG code
	errStr := err.Error()
	if strings.Contains(errStr, "23503") || strings.Contains(errStr, "foreign key constraint") {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	return err
}

// --- PostgreSQL DDL ---

const pgTablesSQL = `
CREATE TABLE IF NOT EXISTS fields (
    id          UUID PRIMARY KEY,
    data_label  TEXT NOT NULL,
    label       TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS objects (
    id          UUID PRIMARY KEY,
    attributes  JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS rules (
    id             UUID PRIMARY KEY,
    field_id       UUID NOT NULL REFERENCES fields(id) ON DELETE CASCADE ON UPDATE CASCADE,
    type           TEXT NOT NULL CHECK (type IN ('equals', 'regex')),
    regex_pattern  TEXT,
    regex_replacer TEXT,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS keys (
    rule_id     UUID NOT NULL REFERENCES rules(id) ON DELETE CASCADE ON UPDATE CASCADE,
    object_id   UUID NOT NULL REFERENCES objects(id) ON DELETE CASCADE ON UPDATE CASCADE,
    key         TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (rule_id, object_id)
);
CREATE INDEX IF NOT EXISTS idx_keys_object ON keys(object_id);
CREATE INDEX IF NOT EXISTS idx_rules_field ON rules(field_id);
`

// Compile-time check
var _ Dialect = (*PostgresDialect)(nil)
