package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-sqlite3"
	"telegramdump/internal/models"
)

// DB wraps the SQLite message store.
type DB struct {
	*sql.DB
}

// Open connects to the SQLite file at path. Rollback journaling is kept so the
// database stays a single file that Backup can copy.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// MinMaxIDs returns the smallest and largest stored message IDs of a dialog.
// ok is false when nothing has been mirrored for it yet.
func (db *DB) MinMaxIDs(ctx context.Context, dialogID int64) (minID, maxID int, ok bool, err error) {
	var lo, hi sql.NullInt64
	err = db.QueryRowContext(ctx,
		`SELECT MIN(id), MAX(id) FROM messages WHERE dialog_id = ?`, dialogID).Scan(&lo, &hi)
	if err != nil {
		return 0, 0, false, fmt.Errorf("min/max ids for dialog %d: %w", dialogID, err)
	}
	if !lo.Valid || !hi.Valid {
		return 0, 0, false, nil
	}
	return int(lo.Int64), int(hi.Int64), true, nil
}

// DialogIDs returns every dialog that has at least one stored message.
func (db *DB) DialogIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT dialog_id FROM messages ORDER BY dialog_id`)
	if err != nil {
		return nil, fmt.Errorf("list dialog ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveMessage stores m in its own transaction. The row is inserted first,
// then attach runs with the transaction still open and may set m.Filename,
// which is written before commit. Any error rolls the whole unit back.
func (db *DB) SaveMessage(ctx context.Context, m *models.Message, attach func(*models.Message) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var mediaType sql.NullString
	if m.MediaType != nil {
		mediaType = sql.NullString{String: string(*m.MediaType), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, dialog_id, date, message, filename, media_type, json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.DialogID, m.Date.UTC(), nullString(m.Text), nullString(m.Filename), mediaType, m.Snapshot); err != nil {
		return fmt.Errorf("insert message %d/%d: %w", m.DialogID, m.ID, err)
	}

	if attach != nil {
		if err := attach(m); err != nil {
			return err
		}
	}

	if m.Filename != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET filename = ? WHERE id = ? AND dialog_id = ?`,
			*m.Filename, m.ID, m.DialogID); err != nil {
			return fmt.Errorf("set filename for message %d/%d: %w", m.DialogID, m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message %d/%d: %w", m.DialogID, m.ID, err)
	}
	return nil
}

// SaveDialog upserts the stored description of a dialog.
func (db *DB) SaveDialog(ctx context.Context, d *models.DialogMeta) error {
	updated := d.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO dialogs (id, kind, name, slug, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			slug = excluded.slug,
			updated_at = excluded.updated_at`,
		d.ID, string(d.Kind), d.Name, d.Slug, updated.UTC())
	if err != nil {
		return fmt.Errorf("save dialog %d: %w", d.ID, err)
	}
	return nil
}

// Backup copies the database file at path to path.YYYY-MM-DD. A missing
// source file is expected on the first run and yields "" without error.
func Backup(path string, now time.Time) (string, error) {
	src, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("backup: open %s: %w", path, err)
	}
	defer func() { _ = src.Close() }()

	dest := fmt.Sprintf("%s.%s", path, now.Format("2006-01-02"))
	dst, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("backup: create %s: %w", dest, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("backup: copy to %s: %w", dest, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("backup: close %s: %w", dest, err)
	}
	return dest, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// parseTime reads timestamps that SQLite hands back as text, e.g. from MAX(date).
func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	layouts := append([]string{time.RFC3339Nano}, sqlite3.SQLiteTimestampFormats...)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, ns.String, time.UTC); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
