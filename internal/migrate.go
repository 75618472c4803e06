package internal

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// RunMigrations applies the embedded migrations for the given session store
// dialect ("postgres" or "sqlite").
func RunMigrations(db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	var gooseDialect, dir string
	switch dialect {
	case "postgres":
		gooseDialect, dir = "postgres", "migrations/postgres"
	case "sqlite":
		gooseDialect, dir = "sqlite3", "migrations/sqlite"
	default:
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}

	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}

	return goose.Up(db, dir)
}
