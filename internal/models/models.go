package models

import (
	"strconv"
	"strings"
	"time"
)

// Message is one mirrored message row. ID is only unique within a dialog.
type Message struct {
	ID        int        `json:"id" db:"id"`
	DialogID  int64      `json:"dialog_id" db:"dialog_id"`
	Date      time.Time  `json:"date" db:"date"`
	Text      *string    `json:"message,omitempty" db:"message"`
	Filename  *string    `json:"filename,omitempty" db:"filename"`
	MediaType *MediaKind `json:"media_type,omitempty" db:"media_type"`
	Snapshot  string     `json:"-" db:"json"`
}

// RemoteMessage is a message as yielded by the remote source, before persistence.
type RemoteMessage struct {
	ID       int
	DialogID int64
	Date     time.Time
	Text     *string
	Kind     MediaKind
	Snapshot []byte

	// Attachment is an opaque handle the source uses to download media.
	Attachment any
}

// Record builds the row stored for m.
func (m *RemoteMessage) Record() *Message {
	rec := &Message{
		ID:       m.ID,
		DialogID: m.DialogID,
		Date:     m.Date,
		Text:     m.Text,
		Snapshot: string(m.Snapshot),
	}
	if m.Kind != MediaNone {
		kind := m.Kind
		rec.MediaType = &kind
	}
	return rec
}

type EntityKind string

const (
	EntityUser    EntityKind = "user"
	EntityGroup   EntityKind = "group"
	EntityChannel EntityKind = "channel"
)

// Entity describes the peer behind a dialog.
type Entity struct {
	ID        int64      `json:"id"`
	Kind      EntityKind `json:"kind"`
	Username  string     `json:"username,omitempty"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
	Title     string     `json:"title,omitempty"`
}

// DisplayName prefers the username for users, the title for groups and
// channels, and falls back to the dialog ID.
func (e Entity) DisplayName() string {
	var name string
	if e.Kind == EntityUser {
		name = e.Username
		if name == "" {
			var parts []string
			for _, p := range []string{e.FirstName, e.LastName} {
				if p != "" {
					parts = append(parts, p)
				}
			}
			name = strings.Join(parts, " ")
		}
	} else {
		name = e.Title
	}
	if name == "" {
		name = strconv.FormatInt(e.ID, 10)
	}
	return name
}

// DialogInfo is one entry of the remote dialog list.
type DialogInfo struct {
	ID   int64     `json:"id"`
	Name string    `json:"name"`
	Date time.Time `json:"date"`
}

// DialogMeta is the locally stored description of a mirrored dialog.
type DialogMeta struct {
	ID        int64      `json:"id" db:"id"`
	Kind      EntityKind `json:"kind" db:"kind"`
	Name      string     `json:"name" db:"name"`
	Slug      string     `json:"slug" db:"slug"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// DialogSummary aggregates what the store holds for a dialog.
type DialogSummary struct {
	ID           int64     `json:"id"`
	Kind         string    `json:"kind,omitempty"`
	Name         string    `json:"name,omitempty"`
	Slug         string    `json:"slug,omitempty"`
	MessageCount int       `json:"message_count"`
	MinID        int       `json:"min_id"`
	MaxID        int       `json:"max_id"`
	LastDate     time.Time `json:"last_date"`
}
