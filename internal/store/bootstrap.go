package store

import (
	"context"
	"fmt"
	"strings"
)

// Bootstrap creates the entity tables if they do not exist.
func (s *Store) Bootstrap(ctx context.Context) error {
	ddl := s.Dialect.TablesSQL()
	if s.driver == "sqlite" {
		// modernc.org/sqlite executes one statement per Exec call.
		for _, stmt := range strings.Split(ddl, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("bootstrap tables: %w", err)
			}
		}
		return nil
	}
	if _, err := s.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("bootstrap tables: %w", err)
	}
	return nil
}
