package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	EventsDays     int
	AuditDays      int
	RunVacuumAfter bool
}

// Cleanup deletes records exceeding the retention thresholds and reports how
// many rows went.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) (int64, error) {
	return cleanupAt(ctx, db, cfg, time.Now())
}

func cleanupAt(ctx context.Context, db *sql.DB, cfg RetentionConfig, now time.Time) (int64, error) {
	type target struct {
		query  string
		days   int
		cutoff func(time.Time) int64
	}
	targets := []target{
		{"DELETE FROM tour_events WHERE at_ms < ?", cfg.EventsDays, func(t time.Time) int64 { return t.UnixMilli() }},
		{"DELETE FROM control_audit WHERE timestamp < ?", cfg.AuditDays, func(t time.Time) int64 { return t.Unix() }},
	}

	var total int64
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		res, err := db.ExecContext(ctx, t.query, t.cutoff(now.AddDate(0, 0, -t.days)))
		if err != nil {
			return total, fmt.Errorf("cleanup: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return total, fmt.Errorf("vacuum: %w", err)
		}
	}
	return total, nil
}
