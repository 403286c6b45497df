// Package journal keeps a durable SQLite record of device manager
// lifecycle events.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hdf-devmgr/internal/event"
)

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one journaled lifecycle event.
type Entry struct {
	ID         string     `json:"id"`
	Kind       event.Kind `json:"kind"`
	HostID     uint16     `json:"host_id"`
	HostName   string     `json:"host_name,omitempty"`
	DeviceID   string     `json:"device_id,omitempty"`
	Service    string     `json:"service,omitempty"`
	Module     string     `json:"module,omitempty"`
	PID        int        `json:"pid,omitempty"`
	PowerState string     `json:"power_state,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// FromEvent converts a lifecycle event to a journal entry.
func FromEvent(e event.Event) *Entry {
	entry := &Entry{
		Kind:       e.Kind,
		HostID:     e.HostID,
		HostName:   e.HostName,
		Service:    e.Service,
		Module:     e.Module,
		PID:        e.PID,
		PowerState: e.PowerState,
		Error:      e.Err,
		CreatedAt:  e.At,
	}
	if e.DeviceID != 0 {
		entry.DeviceID = e.DeviceID.String()
	}
	return entry
}

// Filter controls which entries List returns. Zero fields match everything.
type Filter struct {
	Kind       event.Kind
	HostName   string
	DeviceID   string
	FailedOnly bool
	Since      time.Time
	Limit      int // default 50, max 500
	Offset     int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the journal operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores entries in the lifecycle_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry, generating ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "evt-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	var pid any
	if e.PID != 0 {
		pid = e.PID
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lifecycle_events
		 (id, kind, host_id, host_name, device_id, service, module, pid, power_state, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), int64(e.HostID),
		nullableString(e.HostName), nullableString(e.DeviceID),
		nullableString(e.Service), nullableString(e.Module),
		pid, nullableString(e.PowerState), nullableString(e.Error),
		e.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting lifecycle event: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.HostName != "" {
		conditions = append(conditions, "host_name = ?")
		args = append(args, filter.HostName)
	}
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.FailedOnly {
		conditions = append(conditions, "error IS NOT NULL")
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM lifecycle_events " + where //nolint:gosec // conditions are fixed strings with ? placeholders
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting lifecycle events: %w", err)
	}

	query := `SELECT id, kind, host_id, host_name, device_id, service, module, pid, power_state, error, created_at
		FROM lifecycle_events ` + where + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?` //nolint:gosec // as above
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying lifecycle events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lifecycle events: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var kind, createdAt string
	var hostID int64
	var hostName, deviceID, service, module, powerState, errText sql.NullString
	var pid sql.NullInt64
	if err := rows.Scan(&e.ID, &kind, &hostID, &hostName, &deviceID, &service, &module,
		&pid, &powerState, &errText, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning lifecycle event: %w", err)
	}

	e.Kind = event.Kind(kind)
	e.HostID = uint16(hostID) //nolint:gosec // written from a uint16
	e.HostName = hostName.String
	e.DeviceID = deviceID.String
	e.Service = service.String
	e.Module = module.String
	e.PID = int(pid.Int64)
	e.PowerState = powerState.String
	e.Error = errText.String

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing lifecycle event timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}

// Prune deletes entries older than before and reports how many went.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM lifecycle_events WHERE created_at < ?",
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning lifecycle events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning lifecycle events: %w", err)
	}
	return n, nil
}
