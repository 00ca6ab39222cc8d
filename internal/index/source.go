package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/notidx/internal/apperr"
	"github.com/starford/notidx/internal/models"
)

// flagTable maps an item kind to the table carrying its index_needed column.
func flagTable(kind models.ItemKind) (string, error) {
	switch kind {
	case models.ItemNote:
		return "notes", nil
	case models.ItemResource:
		return "resources", nil
	default:
		return "", fmt.Errorf("index: unknown item kind %q", kind)
	}
}

// ListIndexNeeded returns the lids of kind whose index_needed flag is set, in lid order.
func (db *DB) ListIndexNeeded(ctx context.Context, kind models.ItemKind) ([]int64, error) {
	table, err := flagTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, `SELECT lid FROM `+table+` WHERE index_needed = 1 ORDER BY lid`)
	if err != nil {
		return nil, fmt.Errorf("index: list %s index needed: %w", kind, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var lid int64
		if err := rows.Scan(&lid); err != nil {
			return nil, err
		}
		out = append(out, lid)
	}
	return out, rows.Err()
}

// GetNote loads one note. Returns apperr.ErrNotFound for unknown lids.
func (db *DB) GetNote(ctx context.Context, lid int64) (*models.Note, error) {
	var n models.Note
	err := db.conn.QueryRowContext(ctx, `
		SELECT lid, guid, title, content, updated_at
		FROM notes WHERE lid = ?
	`, lid).Scan(&n.Lid, &n.GUID, &n.Title, &n.Content, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: note %d: %w", lid, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get note %d: %w", lid, err)
	}
	return &n, nil
}

// GetResource loads one resource and resolves its parent note lid.
func (db *DB) GetResource(ctx context.Context, lid int64) (*models.Resource, error) {
	var (
		r       models.Resource
		noteLid sql.NullInt64
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT r.lid, r.guid, r.note_guid, n.lid, r.mime, r.file_name, r.recognition
		FROM resources r
		LEFT JOIN notes n ON n.guid = r.note_guid
		WHERE r.lid = ?
	`, lid).Scan(&r.Lid, &r.GUID, &r.NoteGUID, &noteLid, &r.Mime, &r.FileName, &r.Recognition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: resource %d: %w", lid, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get resource %d: %w", lid, err)
	}
	r.NoteLid = noteLid.Int64
	return &r, nil
}

// ClearIndexNeeded resets the flag for ref outside of a flush.
func (db *DB) ClearIndexNeeded(ctx context.Context, ref models.ItemRef) error {
	return clearFlag(ctx, db.conn, ref)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func clearFlag(ctx context.Context, ex execer, ref models.ItemRef) error {
	table, err := flagTable(ref.Kind)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, `UPDATE `+table+` SET index_needed = 0 WHERE lid = ?`, ref.Lid); err != nil {
		return fmt.Errorf("index: clear %s %d: %w", ref.Kind, ref.Lid, err)
	}
	return nil
}

// UpsertNote inserts or replaces a note and marks it for indexing.
func (db *DB) UpsertNote(ctx context.Context, n models.Note) (int64, error) {
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = time.Now()
	}
	var lid int64
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO notes (guid, title, content, updated_at, index_needed)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(guid) DO UPDATE SET
			title        = excluded.title,
			content      = excluded.content,
			updated_at   = excluded.updated_at,
			index_needed = 1
		RETURNING lid
	`, n.GUID, n.Title, n.Content, n.UpdatedAt).Scan(&lid)
	if err != nil {
		return 0, fmt.Errorf("index: upsert note: %w", err)
	}
	return lid, nil
}

// UpsertResource inserts or replaces a resource and marks it for indexing.
func (db *DB) UpsertResource(ctx context.Context, r models.Resource) (int64, error) {
	var lid int64
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO resources (guid, note_guid, mime, file_name, recognition, index_needed)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(guid) DO UPDATE SET
			note_guid    = excluded.note_guid,
			mime         = excluded.mime,
			file_name    = excluded.file_name,
			recognition  = excluded.recognition,
			index_needed = 1
		RETURNING lid
	`, r.GUID, r.NoteGUID, r.Mime, r.FileName, r.Recognition).Scan(&lid)
	if err != nil {
		return 0, fmt.Errorf("index: upsert resource: %w", err)
	}
	return lid, nil
}

// MarkAllIndexNeeded flags every note and resource for re-extraction.
func (db *DB) MarkAllIndexNeeded(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `UPDATE notes SET index_needed = 1`); err != nil {
		return fmt.Errorf("index: mark notes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE resources SET index_needed = 1`); err != nil {
		return fmt.Errorf("index: mark resources: %w", err)
	}
	return tx.Commit()
}

// MarkIndexNeeded sets the flag for a single item.
func (db *DB) MarkIndexNeeded(ctx context.Context, ref models.ItemRef) error {
	table, err := flagTable(ref.Kind)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `UPDATE `+table+` SET index_needed = 1 WHERE lid = ?`, ref.Lid)
	if err != nil {
		return fmt.Errorf("index: mark %s %d: %w", ref.Kind, ref.Lid, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("index: %s %d: %w", ref.Kind, ref.Lid, apperr.ErrNotFound)
	}
	return nil
}

// IndexNeeded reports the flag for ref.
func (db *DB) IndexNeeded(ctx context.Context, ref models.ItemRef) (bool, error) {
	table, err := flagTable(ref.Kind)
	if err != nil {
		return false, err
	}
	var needed bool
	err = db.conn.QueryRowContext(ctx, `SELECT index_needed FROM `+table+` WHERE lid = ?`, ref.Lid).Scan(&needed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("index: %s %d: %w", ref.Kind, ref.Lid, apperr.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("index: read flag: %w", err)
	}
	return needed, nil
}

// PendingCounts returns how many notes and resources are waiting to be indexed.
func (db *DB) PendingCounts(ctx context.Context) (notes, resources int, err error) {
	err = db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM notes WHERE index_needed = 1),
			(SELECT count(*) FROM resources WHERE index_needed = 1)
	`).Scan(&notes, &resources)
	if err != nil {
		return 0, 0, fmt.Errorf("index: pending counts: %w", err)
	}
	return notes, resources, nil
}

// IndexRows returns the persisted search_index rows for a note, text rows first.
func (db *DB) IndexRows(ctx context.Context, lid int64) ([]models.IndexRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT lid, weight, source, content
		FROM search_index
		WHERE lid = ?
		ORDER BY CASE source WHEN 'text' THEN 0 ELSE 1 END, rowid
	`, lid)
	if err != nil {
		return nil, fmt.Errorf("index: rows for %d: %w", lid, err)
	}
	defer rows.Close()

	var out []models.IndexRow
	for rows.Next() {
		var r models.IndexRow
		if err := rows.Scan(&r.Lid, &r.Weight, &r.Source, &r.Content); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
