package database

import (
	"context"
	"database/sql"
	"fmt"

	"telegramdump/internal/models"
)

// MediaStat counts stored messages of one media kind and how many of them
// have a downloaded file.
type MediaStat struct {
	Kind       string `json:"kind"`
	Messages   int    `json:"messages"`
	Downloaded int    `json:"downloaded"`
}

// ListDialogs summarizes every dialog present in the message table, newest
// activity first.
func (db *DB) ListDialogs(ctx context.Context) ([]models.DialogSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT m.dialog_id, COALESCE(d.kind, ''), COALESCE(d.name, ''), COALESCE(d.slug, ''),
			COUNT(*), MIN(m.id), MAX(m.id), MAX(m.date)
		FROM messages m
		LEFT JOIN dialogs d ON d.id = m.dialog_id
		GROUP BY m.dialog_id
		ORDER BY MAX(m.date) DESC, m.dialog_id`)
	if err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.DialogSummary
	for rows.Next() {
		var s models.DialogSummary
		var last sql.NullString
		if err := rows.Scan(&s.ID, &s.Kind, &s.Name, &s.Slug, &s.MessageCount, &s.MinID, &s.MaxID, &last); err != nil {
			return nil, err
		}
		s.LastDate = parseTime(last)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListMessages pages through a dialog's messages, newest first.
func (db *DB) ListMessages(ctx context.Context, dialogID int64, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, dialog_id, date, message, filename, media_type, COALESCE(json, '')
		FROM messages
		WHERE dialog_id = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?`, dialogID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages for dialog %d: %w", dialogID, err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var date sql.NullTime
		var text, filename, mediaType sql.NullString
		if err := rows.Scan(&m.ID, &m.DialogID, &date, &text, &filename, &mediaType, &m.Snapshot); err != nil {
			return nil, err
		}
		if date.Valid {
			m.Date = date.Time.UTC()
		}
		m.Text = stringPtr(text)
		m.Filename = stringPtr(filename)
		if mediaType.Valid {
			kind := models.MediaKind(mediaType.String)
			m.MediaType = &kind
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetDialog returns the stored description of a dialog, or nil if unknown.
func (db *DB) GetDialog(ctx context.Context, id int64) (*models.DialogMeta, error) {
	var d models.DialogMeta
	var kind string
	err := db.QueryRowContext(ctx,
		`SELECT id, kind, name, slug, updated_at FROM dialogs WHERE id = ?`, id).
		Scan(&d.ID, &kind, &d.Name, &d.Slug, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dialog %d: %w", id, err)
	}
	d.Kind = models.EntityKind(kind)
	return &d, nil
}

// MediaStats groups stored messages by media kind. Messages without an
// attachment are reported under "none".
func (db *DB) MediaStats(ctx context.Context) ([]MediaStat, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT COALESCE(media_type, 'none') AS kind, COUNT(*), COUNT(filename)
		FROM messages
		GROUP BY kind
		ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("media stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []MediaStat
	for rows.Next() {
		var s MediaStat
		if err := rows.Scan(&s.Kind, &s.Messages, &s.Downloaded); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
