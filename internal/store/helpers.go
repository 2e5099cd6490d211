package store

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// openMigrated opens dsn with driver, lets tune size the pool, checks the
// connection and applies the embedded schema. The schema is idempotent.
func openMigrated(driver, dsn, schema string, tune func(*sql.DB)) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if tune != nil {
		tune(db)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply %s schema: %w", driver, err)
	}
	slog.Debug("Store schema ready", "driver", driver)
	return db, nil
}

// nullString maps "" to SQL NULL so optional unique columns stay unconstrained.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var (
		m                 OutboxMessage
		status            string
		dedupe, lastErr   sql.NullString
		nextAt, claimedAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.Kind, &m.Body, &status, &m.Attempts,
		&nextAt, &dedupe, &claimedAt, &lastErr, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return m, fmt.Errorf("scan outbox row: %w", err)
	}
	m.Status = OutboxStatus(status)
	m.DedupeKey = dedupe.String
	m.LastError = lastErr.String
	if nextAt.Valid {
		m.NextAttemptAt = &nextAt.Time
	}
	if claimedAt.Valid {
		m.LockedAt = &claimedAt.Time
	}
	return m, nil
}
