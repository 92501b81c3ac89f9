// Package migrations applies the embedded database schema with goose.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/wb-go/wbf/zlog"
)

//go:embed sql/*.sql
var files embed.FS

// Up applies all pending migrations to db.
func Up(db *sql.DB) error {
	const op = "migrations.Up"

	goose.SetBaseFS(files)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := goose.Up(db, "sql"); err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			zlog.Logger.Info().Msg("no migrations to apply")
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	zlog.Logger.Info().Msg("database migrations applied")
	return nil
}
