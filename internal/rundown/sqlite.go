package rundown

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SQLiteRepository implements Repository on the tables created by the
// playout schema migration. Each row stores the full document as JSON.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// getDoc loads and decodes a single document.
func getDoc[T any](ctx context.Context, db *sql.DB, table, id string) (*T, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT doc FROM `+table+` WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying %s by id: %w", table, err)
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", table, id, err)
	}
	return &out, nil
}

// listDocs runs query and decodes every doc column.
func listDocs[T any](ctx context.Context, db *sql.DB, table, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decoding %s row: %w", table, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", table, err)
	}
	return out, nil
}

// upsert writes a document with its key columns. cols and vals exclude id and doc.
func (r *SQLiteRepository) upsert(ctx context.Context, table, id string, doc any, cols []string, vals ...any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", table, err)
	}

	all := append([]string{"id"}, cols...)
	all = append(all, "doc")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")

	updates := make([]string, 0, len(cols)+1)
	for _, c := range append(cols, "doc") {
		updates = append(updates, c+" = excluded."+c)
	}

	query := `INSERT INTO ` + table + ` (` + strings.Join(all, ", ") + `) VALUES (` + placeholders + `)
		ON CONFLICT(id) DO UPDATE SET ` + strings.Join(updates, ", ")

	args := append([]any{id}, vals...)
	args = append(args, string(data))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving %s: %w", table, err)
	}
	return nil
}

func (r *SQLiteRepository) exec(ctx context.Context, what, query string, args ...any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// inClause returns "(?, ?, ...)" and the args for ids.
func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")", args
}

// GetRundown retrieves a rundown by id.
func (r *SQLiteRepository) GetRundown(ctx context.Context, id string) (*Rundown, error) {
	return getDoc[Rundown](ctx, r.db, "rundowns", id)
}

// ListRundowns returns every rundown ordered by id.
func (r *SQLiteRepository) ListRundowns(ctx context.Context) ([]Rundown, error) {
	return listDocs[Rundown](ctx, r.db, "rundowns", `SELECT doc FROM rundowns ORDER BY id`)
}

// SaveRundown upserts a rundown.
func (r *SQLiteRepository) SaveRundown(ctx context.Context, rd *Rundown) error {
	if rd.ID == "" || rd.StudioID == "" {
		return ErrInvalidDocument
	}
	return r.upsert(ctx, "rundowns", rd.ID, rd,
		[]string{"studio_id", "active", "modified_at"}, rd.StudioID, boolToInt(rd.Active), rd.Modified)
}

// DeleteRundown removes a rundown and every document that belongs to it.
func (r *SQLiteRepository) DeleteRundown(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	for _, table := range []string{"piece_instances", "part_instances", "adlib_pieces", "pieces", "parts", "segments"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE rundown_id = ?`, id); err != nil {
			return fmt.Errorf("deleting %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rundowns WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting rundown: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rundown delete: %w", err)
	}
	return nil
}

// ListSegments returns the segments of a rundown ordered by rank.
func (r *SQLiteRepository) ListSegments(ctx context.Context, rundownID string) ([]Segment, error) {
	return listDocs[Segment](ctx, r.db, "segments",
		`SELECT doc FROM segments WHERE rundown_id = ? ORDER BY rank, id`, rundownID)
}

// SaveSegment upserts a segment.
func (r *SQLiteRepository) SaveSegment(ctx context.Context, s *Segment) error {
	if err := validateKeys(s.ID, s.RundownID); err != nil {
		return err
	}
	return r.upsert(ctx, "segments", s.ID, s, []string{"rundown_id", "rank"}, s.RundownID, s.Rank)
}

// DeleteSegment removes a segment. Parts are removed separately by the caller.
func (r *SQLiteRepository) DeleteSegment(ctx context.Context, id string) error {
	return r.exec(ctx, "deleting segment", `DELETE FROM segments WHERE id = ?`, id)
}

// GetPart retrieves a part by id.
func (r *SQLiteRepository) GetPart(ctx context.Context, id string) (*Part, error) {
	return getDoc[Part](ctx, r.db, "parts", id)
}

// ListParts returns the parts of a rundown ordered by rank within the table.
// Use SortParts for playback order across segments.
func (r *SQLiteRepository) ListParts(ctx context.Context, rundownID string) ([]Part, error) {
	return listDocs[Part](ctx, r.db, "parts",
		`SELECT doc FROM parts WHERE rundown_id = ? ORDER BY rank, id`, rundownID)
}

// SavePart upserts a part.
func (r *SQLiteRepository) SavePart(ctx context.Context, p *Part) error {
	if err := validateKeys(p.ID, p.RundownID); err != nil {
		return err
	}
	return r.upsert(ctx, "parts", p.ID, p,
		[]string{"rundown_id", "segment_id", "rank"}, p.RundownID, p.SegmentID, p.Rank)
}

// DeletePart removes a part and its template pieces.
func (r *SQLiteRepository) DeletePart(ctx context.Context, id string) error {
	if err := r.exec(ctx, "deleting part pieces", `DELETE FROM pieces WHERE part_id = ?`, id); err != nil {
		return err
	}
	return r.exec(ctx, "deleting part", `DELETE FROM parts WHERE id = ?`, id)
}

// GetPiece retrieves a template piece by id.
func (r *SQLiteRepository) GetPiece(ctx context.Context, id string) (*Piece, error) {
	return getDoc[Piece](ctx, r.db, "pieces", id)
}

// ListPieces returns template pieces of a rundown, optionally limited to parts.
func (r *SQLiteRepository) ListPieces(ctx context.Context, rundownID string, partIDs ...string) ([]Piece, error) {
	if len(partIDs) == 0 {
		return listDocs[Piece](ctx, r.db, "pieces",
			`SELECT doc FROM pieces WHERE rundown_id = ? ORDER BY id`, rundownID)
	}
	in, args := inClause(partIDs)
	return listDocs[Piece](ctx, r.db, "pieces",
		`SELECT doc FROM pieces WHERE rundown_id = ? AND part_id IN `+in+` ORDER BY id`,
		append([]any{rundownID}, args...)...)
}

// SavePiece upserts a template piece.
func (r *SQLiteRepository) SavePiece(ctx context.Context, p *Piece) error {
	if err := validateKeys(p.ID, p.RundownID); err != nil {
		return err
	}
	return r.upsert(ctx, "pieces", p.ID, p, []string{"rundown_id", "part_id"}, p.RundownID, p.PartID)
}

// DeletePiece removes a template piece.
func (r *SQLiteRepository) DeletePiece(ctx context.Context, id string) error {
	return r.exec(ctx, "deleting piece", `DELETE FROM pieces WHERE id = ?`, id)
}

// GetAdLibPiece retrieves an ad-lib by id.
func (r *SQLiteRepository) GetAdLibPiece(ctx context.Context, id string) (*AdLibPiece, error) {
	return getDoc[AdLibPiece](ctx, r.db, "adlib_pieces", id)
}

// ListAdLibPieces returns the ad-libs of a rundown ordered by rank.
func (r *SQLiteRepository) ListAdLibPieces(ctx context.Context, rundownID string) ([]AdLibPiece, error) {
	return listDocs[AdLibPiece](ctx, r.db, "adlib_pieces",
		`SELECT doc FROM adlib_pieces WHERE rundown_id = ? ORDER BY rank, id`, rundownID)
}

// SaveAdLibPiece upserts an ad-lib.
func (r *SQLiteRepository) SaveAdLibPiece(ctx context.Context, a *AdLibPiece) error {
	if err := validateKeys(a.ID, a.RundownID); err != nil {
		return err
	}
	return r.upsert(ctx, "adlib_pieces", a.ID, a,
		[]string{"rundown_id", "part_id", "rank"}, a.RundownID, a.PartID, a.Rank)
}

// DeleteAdLibPiece removes an ad-lib.
func (r *SQLiteRepository) DeleteAdLibPiece(ctx context.Context, id string) error {
	return r.exec(ctx, "deleting adlib piece", `DELETE FROM adlib_pieces WHERE id = ?`, id)
}

// GetPartInstance retrieves a part instance by id.
func (r *SQLiteRepository) GetPartInstance(ctx context.Context, id string) (*PartInstance, error) {
	return getDoc[PartInstance](ctx, r.db, "part_instances", id)
}

// ListPartInstances returns the part instances of a rundown in creation order
// of take count.
func (r *SQLiteRepository) ListPartInstances(ctx context.Context, rundownID string, includeReset bool) ([]PartInstance, error) {
	query := `SELECT doc FROM part_instances WHERE rundown_id = ?`
	if !includeReset {
		query += ` AND reset = 0`
	}
	query += ` ORDER BY take_count, id`
	return listDocs[PartInstance](ctx, r.db, "part_instances", query, rundownID)
}

// SavePartInstance upserts a part instance. Temporary instances are rejected.
func (r *SQLiteRepository) SavePartInstance(ctx context.Context, pi *PartInstance) error {
	if pi.Temporary {
		return fmt.Errorf("%w: temporary part instance %s", ErrInvalidDocument, pi.ID)
	}
	if err := validateKeys(pi.ID, pi.RundownID); err != nil {
		return err
	}
	return r.upsert(ctx, "part_instances", pi.ID, pi,
		[]string{"rundown_id", "part_id", "segment_id", "take_count", "reset"},
		pi.RundownID, pi.Part.ID, pi.SegmentID, pi.TakeCount, boolToInt(pi.Reset))
}

// DeletePartInstance removes a part instance and its piece instances.
func (r *SQLiteRepository) DeletePartInstance(ctx context.Context, id string) error {
	if err := r.exec(ctx, "deleting piece instances", `DELETE FROM piece_instances WHERE part_instance_id = ?`, id); err != nil {
		return err
	}
	return r.exec(ctx, "deleting part instance", `DELETE FROM part_instances WHERE id = ?`, id)
}

// GetPieceInstance retrieves a piece instance by id.
func (r *SQLiteRepository) GetPieceInstance(ctx context.Context, id string) (*PieceInstance, error) {
	return getDoc[PieceInstance](ctx, r.db, "piece_instances", id)
}

// ListPieceInstances returns the piece instances of the given part instances.
func (r *SQLiteRepository) ListPieceInstances(ctx context.Context, partInstanceIDs ...string) ([]PieceInstance, error) {
	if len(partInstanceIDs) == 0 {
		return nil, nil
	}
	in, args := inClause(partInstanceIDs)
	return listDocs[PieceInstance](ctx, r.db, "piece_instances",
		`SELECT doc FROM piece_instances WHERE part_instance_id IN `+in+` ORDER BY id`, args...)
}

// SavePieceInstance upserts a piece instance.
func (r *SQLiteRepository) SavePieceInstance(ctx context.Context, pi *PieceInstance) error {
	if err := validateKeys(pi.ID, pi.RundownID); err != nil {
		return err
	}
	return r.upsert(ctx, "piece_instances", pi.ID, pi,
		[]string{"rundown_id", "part_instance_id", "piece_id", "reset"},
		pi.RundownID, pi.PartInstanceID, pi.Piece.ID, boolToInt(pi.Reset))
}

// DeletePieceInstance removes a piece instance.
func (r *SQLiteRepository) DeletePieceInstance(ctx context.Context, id string) error {
	return r.exec(ctx, "deleting piece instance", `DELETE FROM piece_instances WHERE id = ?`, id)
}

// boolToInt converts a bool to SQLite integer (0 or 1).
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
