package observability

import "database/sql"

// Schema contains the DDL for the observability tables. Call Init(db) to
// apply it, or embed this constant in your own schema management.
const Schema = `
-- Tour analytics events
CREATE TABLE IF NOT EXISTS tour_events (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    tour_id TEXT NOT NULL,
    instance_id TEXT NOT NULL,
    step_id TEXT,
    step_index INTEGER NOT NULL DEFAULT -1,
    dwell_ms INTEGER NOT NULL DEFAULT 0,
    reason TEXT,
    at_ms INTEGER NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_tour_events_tour
    ON tour_events(tour_id, event_type, at_ms DESC);
CREATE INDEX IF NOT EXISTS idx_tour_events_instance
    ON tour_events(instance_id, at_ms);

-- Control surface audit
CREATE TABLE IF NOT EXISTS control_audit (
    entry_id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    surface TEXT NOT NULL,
    operation TEXT NOT NULL,
    parameters TEXT NOT NULL DEFAULT '{}',
    result TEXT,
    error_message TEXT,
    duration_ms INTEGER,
    status TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_control_audit_timestamp ON control_audit(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_control_audit_operation ON control_audit(surface, operation);

-- Metadata registry
CREATE TABLE IF NOT EXISTS _observability_metadata (
    table_name TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    description TEXT
);
INSERT OR IGNORE INTO _observability_metadata (table_name, description) VALUES
    ('tour_events', 'Tour lifecycle and step analytics'),
    ('control_audit', 'MCP and HTTP control operations');
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
