package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sable-inc/sable-smart-links-sub000/idgen"
)

// Control surfaces.
const (
	SurfaceMCP  = "mcp"
	SurfaceHTTP = "http"
)

// AuditEntry is one control operation.
type AuditEntry struct {
	EntryID   string
	Timestamp time.Time
	Surface   string // "mcp" or "http"
	Operation string // tool name or route pattern

	Parameters   string // JSON
	Result       string // JSON
	ErrorMessage string
	DurationMs   int64

	Status string // "success" or "error"
}

// AuditFilter controls query results from the audit log.
type AuditFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	Surface   *string
	Operation *string
	Status    *string
	Limit     int    // default 100
	Offset    int
	OrderBy   string // "timestamp" or "duration_ms"
	OrderDir  string // "ASC" or "DESC"
}

// AuditLogger persists control operations asynchronously.
type AuditLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	buf    *batcher[*AuditEntry]
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditIDGenerator sets a custom ID generator for audit entry IDs.
func WithAuditIDGenerator(gen idgen.Generator) AuditOption {
	return func(a *AuditLogger) { a.newID = gen }
}

// WithAuditLogger sets the logger used for write failures.
func WithAuditLogger(l *slog.Logger) AuditOption {
	return func(a *AuditLogger) { a.logger = l }
}

// NewAuditLogger creates an async audit logger. Recommended bufferSize: 1000.
func NewAuditLogger(db *sql.DB, bufferSize int, opts ...AuditOption) *AuditLogger {
	a := &AuditLogger{
		db:     db,
		newID:  idgen.Prefixed("audit_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	a.buf = newBatcher("audit log", bufferSize, 5*time.Second, a.logger, a.insertBatch)
	return a
}

// Log inserts an audit entry synchronously.
func (a *AuditLogger) Log(ctx context.Context, entry *AuditEntry) error {
	a.fillDefaults(entry)
	return a.insert(ctx, entry)
}

// LogAsync queues an entry for async persistence.
// Falls back to synchronous insert if the buffer is full.
func (a *AuditLogger) LogAsync(entry *AuditEntry) {
	a.fillDefaults(entry)
	if !a.buf.offer(entry) {
		a.logger.Warn("observability: audit buffer full, sync fallback", "operation", entry.Operation)
		if err := a.insert(context.Background(), entry); err != nil {
			a.logger.Error("observability: audit sync fallback failed", "error", err)
		}
	}
}

// NewAuditEntry builds an entry from an operation's parameters, result and
// error. Params and result are marshalled to JSON.
func (a *AuditLogger) NewAuditEntry(surface, operation string, params, result any, err error, duration time.Duration) *AuditEntry {
	entry := &AuditEntry{
		EntryID:    a.newID(),
		Timestamp:  time.Now(),
		Surface:    surface,
		Operation:  operation,
		DurationMs: duration.Milliseconds(),
	}
	if params != nil {
		if b, e := json.Marshal(params); e == nil {
			entry.Parameters = string(b)
		}
	}
	if err != nil {
		entry.Status = "error"
		entry.ErrorMessage = err.Error()
	} else {
		entry.Status = "success"
		if result != nil {
			if b, e := json.Marshal(result); e == nil {
				entry.Result = string(b)
			}
		}
	}
	return entry
}

// Query retrieves audit entries matching the given filter.
func (a *AuditLogger) Query(ctx context.Context, f *AuditFilter) ([]*AuditEntry, error) {
	q := `SELECT entry_id, timestamp, surface, operation,
		parameters, result, error_message, duration_ms, status
		FROM control_audit WHERE 1=1`
	var args []any

	if f.StartTime != nil {
		q += " AND timestamp >= ?"
		args = append(args, f.StartTime.Unix())
	}
	if f.EndTime != nil {
		q += " AND timestamp <= ?"
		args = append(args, f.EndTime.Unix())
	}
	if f.Surface != nil {
		q += " AND surface = ?"
		args = append(args, *f.Surface)
	}
	if f.Operation != nil {
		q += " AND operation = ?"
		args = append(args, *f.Operation)
	}
	if f.Status != nil {
		q += " AND status = ?"
		args = append(args, *f.Status)
	}

	orderBy := "timestamp"
	if f.OrderBy != "" {
		switch f.OrderBy {
		case "timestamp", "duration_ms", "operation", "status":
			orderBy = f.OrderBy
		default:
			return nil, fmt.Errorf("invalid order_by column: %q", f.OrderBy)
		}
	}
	orderDir := "DESC"
	if f.OrderDir != "" {
		switch strings.ToUpper(f.OrderDir) {
		case "ASC", "DESC":
			orderDir = strings.ToUpper(f.OrderDir)
		default:
			return nil, fmt.Errorf("invalid order_dir: %q", f.OrderDir)
		}
	}
	q += fmt.Sprintf(" ORDER BY %s %s, rowid %s", orderBy, orderDir, orderDir)

	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " LIMIT ?"
	args = append(args, limit)
	if f.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		var result, errorMessage sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(
			&e.EntryID, &ts, &e.Surface, &e.Operation,
			&e.Parameters, &result, &errorMessage, &durationMs, &e.Status,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		e.Result = result.String
		e.ErrorMessage = errorMessage.String
		e.DurationMs = durationMs.Int64
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Flush writes every queued entry and returns when they are stored.
func (a *AuditLogger) Flush(ctx context.Context) error { return a.buf.flush(ctx) }

// Close drains the buffer and stops the flush goroutine.
func (a *AuditLogger) Close() error {
	a.buf.close()
	return nil
}

func (a *AuditLogger) fillDefaults(e *AuditEntry) {
	if e.EntryID == "" {
		e.EntryID = a.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Parameters == "" {
		e.Parameters = "{}"
	}
	if e.Status == "" {
		if e.ErrorMessage != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
}

func (a *AuditLogger) insertBatch(batch []*AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertAudit)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, auditArgs(e)...); err != nil {
			a.logger.Error("observability: audit insert", "error", err, "entry_id", e.EntryID)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const insertAudit = `INSERT INTO control_audit
	(entry_id, timestamp, surface, operation, parameters, result, error_message, duration_ms, status)
	VALUES (?,?,?,?,?,?,?,?,?)`

func auditArgs(e *AuditEntry) []any {
	return []any{
		e.EntryID, e.Timestamp.Unix(), e.Surface, e.Operation,
		e.Parameters, e.Result, e.ErrorMessage, e.DurationMs, e.Status,
	}
}

func (a *AuditLogger) insert(ctx context.Context, e *AuditEntry) error {
	_, err := a.db.ExecContext(ctx, insertAudit, auditArgs(e)...)
	return err
}
