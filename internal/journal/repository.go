package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayout sorts lexically in time order, which keeps ORDER BY and range
// filters on TEXT columns correct.
const timeLayout = "2006-01-02T15:04:05.000Z"

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Repository defines journal storage.
type Repository interface {
	RecordOutcome(ctx context.Context, r *Record) error
	RecordDiagnostic(ctx context.Context, d *DiagnosticRecord) error
	GetOutcome(ctx context.Context, requestID string) (*Record, error)
	ListOutcomes(ctx context.Context, filter Filter) (*ListResult, error)
	ListDiagnostics(ctx context.Context, filter DiagnosticFilter) (*DiagnosticListResult, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteRepository stores the journal in the outcomes and diagnostics tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository on a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordOutcome stores a terminal outcome. Recording the same request_id
// twice keeps the first row.
func (r *SQLiteRepository) RecordOutcome(ctx context.Context, rec *Record) error {
	payload, err := marshalPayload(rec.Payload)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO outcomes
		 (request_id, device_id, operation, state, reason, event_type, tag_uid,
		  error_code, error_message, payload, created_at, closed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.DeviceID, rec.Operation, rec.State, rec.Reason, rec.EventType, rec.TagUID,
		rec.ErrorCode, rec.ErrorMessage, payload,
		formatTime(rec.CreatedAt), formatTime(rec.ClosedAt), rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("inserting outcome: %w", err)
	}
	return nil
}

// RecordDiagnostic stores a diagnostic. ID and ReceivedAt are generated if empty.
func (r *SQLiteRepository) RecordDiagnostic(ctx context.Context, d *DiagnosticRecord) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO diagnostics
		 (id, kind, topic, device_id, request_id, event_type, error_code, message, raw, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Kind, d.Topic, d.DeviceID, d.RequestID, d.EventType, d.ErrorCode, d.Message,
		nullableString(d.Raw), formatTime(d.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting diagnostic: %w", err)
	}
	return nil
}

const outcomeColumns = `request_id, device_id, operation, state, reason, event_type, tag_uid,
	error_code, error_message, payload, created_at, closed_at, duration_ms`

// GetOutcome returns the outcome of requestID.
func (r *SQLiteRepository) GetOutcome(ctx context.Context, requestID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+outcomeColumns+" FROM outcomes WHERE request_id = ?", requestID)
	rec, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListOutcomes returns outcomes matching filter, most recently closed first.
func (r *SQLiteRepository) ListOutcomes(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)

	var w where
	w.eq("device_id", filter.DeviceID)
	w.eq("operation", filter.Operation)
	w.eq("state", filter.State)
	if !filter.Since.IsZero() {
		w.add("closed_at >= ?", formatTime(filter.Since))
	}

	var total int
	//nolint:gosec // WHERE is built from fixed column names with ? placeholders
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outcomes"+w.String(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting outcomes: %w", err)
	}

	//nolint:gosec // WHERE is built from fixed column names with ? placeholders
	query := "SELECT " + outcomeColumns + " FROM outcomes" + w.String() + " ORDER BY closed_at DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(w.args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []Record{}
	for rows.Next() {
		rec, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outcomes: %w", err)
	}

	return &ListResult{Outcomes: outcomes, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// ListDiagnostics returns diagnostics matching filter, newest first.
func (r *SQLiteRepository) ListDiagnostics(ctx context.Context, filter DiagnosticFilter) (*DiagnosticListResult, error) {
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)

	var w where
	w.eq("device_id", filter.DeviceID)
	w.eq("kind", filter.Kind)

	var total int
	//nolint:gosec // WHERE is built from fixed column names with ? placeholders
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM diagnostics"+w.String(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting diagnostics: %w", err)
	}

	//nolint:gosec // WHERE is built from fixed column names with ? placeholders
	query := `SELECT id, kind, topic, device_id, request_id, event_type, error_code, message, raw, received_at
		FROM diagnostics` + w.String() + " ORDER BY received_at DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(w.args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying diagnostics: %w", err)
	}
	defer rows.Close()

	diagnostics := []DiagnosticRecord{}
	for rows.Next() {
		var d DiagnosticRecord
		var raw sql.NullString
		var receivedAt string
		if err := rows.Scan(&d.ID, &d.Kind, &d.Topic, &d.DeviceID, &d.RequestID, &d.EventType,
			&d.ErrorCode, &d.Message, &raw, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning diagnostic: %w", err)
		}
		d.Raw = raw.String
		if d.ReceivedAt, err = parseTime(receivedAt); err != nil {
			return nil, err
		}
		diagnostics = append(diagnostics, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating diagnostics: %w", err)
	}

	return &DiagnosticListResult{Diagnostics: diagnostics, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// PruneBefore deletes outcomes closed and diagnostics received before cutoff.
// Returns the number of rows removed.
func (r *SQLiteRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := formatTime(cutoff)

	res, err := r.db.ExecContext(ctx, "DELETE FROM outcomes WHERE closed_at < ?", ts)
	if err != nil {
		return 0, fmt.Errorf("pruning outcomes: %w", err)
	}
	outcomes, _ := res.RowsAffected() //nolint:errcheck // sqlite3 always reports it

	res, err = r.db.ExecContext(ctx, "DELETE FROM diagnostics WHERE received_at < ?", ts)
	if err != nil {
		return outcomes, fmt.Errorf("pruning diagnostics: %w", err)
	}
	diagnostics, _ := res.RowsAffected() //nolint:errcheck // sqlite3 always reports it

	return outcomes + diagnostics, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(s scanner) (*Record, error) {
	var rec Record
	var payload sql.NullString
	var createdAt, closedAt string

	err := s.Scan(&rec.RequestID, &rec.DeviceID, &rec.Operation, &rec.State, &rec.Reason, &rec.EventType,
		&rec.TagUID, &rec.ErrorCode, &rec.ErrorMessage, &payload, &createdAt, &closedAt, &rec.DurationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning outcome: %w", err)
	}

	if payload.Valid && payload.String != "" {
		var m map[string]any
		if json.Unmarshal([]byte(payload.String), &m) == nil {
			rec.Payload = m
		}
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.ClosedAt, err = parseTime(closedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// where assembles a parameterised WHERE clause.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, arg)
}

// eq adds "column = ?" when value is non-empty.
func (w *where) eq(column, value string) {
	if value != "" {
		w.add(column+" = ?", value)
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func marshalPayload(p map[string]any) (any, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshalling outcome payload: %w", err)
	}
	return string(b), nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
	}
	return t, nil
}
