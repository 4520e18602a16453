package asrun

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// Repository stores as-run events.
type Repository interface {
	// Insert stores ev, filling in ID and CreatedAt. It reports false when
	// an identical event was already stored.
	Insert(ctx context.Context, ev *Event) (bool, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores events in the asrun_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new as-run repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert implements Repository.
func (r *SQLiteRepository) Insert(ctx context.Context, ev *Event) (bool, error) {
	if err := ev.validate(); err != nil {
		return false, err
	}
	ev.ID = EventID(*ev)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO asrun_events
		 (id, studio_id, rundown_id, segment_id, part_instance_id, piece_instance_id,
		  content, content2, rehearsal, timestamp, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.StudioID, ev.RundownID,
		nullableString(ev.SegmentID), nullableString(ev.PartInstanceID), nullableString(ev.PieceInstanceID),
		ev.Content, ev.Content2, boolToInt(ev.Rehearsal), ev.Timestamp,
		ev.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("inserting as-run event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting as-run event: %w", err)
	}
	return n > 0, nil
}

// List returns the events of a rundown, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.RundownID == "" {
		return nil, fmt.Errorf("%w: rundown_id is required", ErrInvalidEvent)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	conditions := []string{"rundown_id = ?"}
	args := []any{filter.RundownID}
	if filter.Content2 != "" {
		conditions = append(conditions, "content2 = ?")
		args = append(args, filter.Content2)
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM asrun_events " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting as-run events: %w", err)
	}

	query := `SELECT id, studio_id, rundown_id, segment_id, part_instance_id, piece_instance_id,
		content, content2, rehearsal, timestamp, created_at
		FROM asrun_events ` + where + ` ORDER BY timestamp DESC, id LIMIT ? OFFSET ?` //nolint:gosec // see above
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying as-run events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var segmentID, partInstanceID, pieceInstanceID sql.NullString
		var rehearsal int
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.StudioID, &ev.RundownID, &segmentID, &partInstanceID, &pieceInstanceID,
			&ev.Content, &ev.Content2, &rehearsal, &ev.Timestamp, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning as-run event: %w", err)
		}
		ev.SegmentID = segmentID.String
		ev.PartInstanceID = partInstanceID.String
		ev.PieceInstanceID = pieceInstanceID.String
		ev.Rehearsal = rehearsal != 0
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			ev.CreatedAt = t
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating as-run events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// nullableString maps "" to NULL for the optional id columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
