package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Connect opens the local-state database and applies migrations.
func Connect(dsn string, log zerolog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Int("count", len(migrations)).Msg("database migrations applied")
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS surfaced_friend_requests (
            user_id TEXT NOT NULL,
            request_id TEXT NOT NULL,
            surfaced_at TIMESTAMPTZ DEFAULT NOW(),
            PRIMARY KEY(user_id, request_id)
        );`,
	`CREATE TABLE IF NOT EXISTS device_identities (
            device_id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            updated_at TIMESTAMPTZ DEFAULT NOW()
        );`,
}

func runMigrations(db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
