package mirror

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"telegramdump/internal/models"
)

// ErrTimeout marks a transport timeout while downloading media. Sources wrap
// it so the engine can retry.
var ErrTimeout = errors.New("transport timeout")

// Query bounds one pass over a dialog's history. MinID and MaxID are
// exclusive and ignored when zero. Limit zero means no limit.
type Query struct {
	Limit   int
	MinID   int
	MaxID   int
	Reverse bool
	Wait    time.Duration
}

// MessageIterator yields messages one at a time.
type MessageIterator interface {
	Next(ctx context.Context) bool
	Value() *models.RemoteMessage
	Err() error
}

// ProgressFunc receives byte counts while an attachment downloads.
type ProgressFunc func(received, total int64)

// Source is the remote side of a mirror.
type Source interface {
	Entity(ctx context.Context, dialogID int64) (models.Entity, error)
	Messages(ctx context.Context, dialogID int64, q Query) MessageIterator
	// Download saves the attachment of msg into dir and returns the file
	// path, or "" when the attachment has nothing to download.
	Download(ctx context.Context, msg *models.RemoteMessage, dir string, progress ProgressFunc) (string, error)
}

// Store is the local side of a mirror.
type Store interface {
	MinMaxIDs(ctx context.Context, dialogID int64) (minID, maxID int, ok bool, err error)
	DialogIDs(ctx context.Context) ([]int64, error)
	SaveDialog(ctx context.Context, d *models.DialogMeta) error
	SaveMessage(ctx context.Context, m *models.Message, attach func(*models.Message) error) error
}

// chain drains each iterator in turn.
type chain struct {
	iters []MessageIterator
	cur   *models.RemoteMessage
	err   error
}

// Chain concatenates iterators.
func Chain(iters ...MessageIterator) MessageIterator {
	return &chain{iters: iters}
}

func (c *chain) Next(ctx context.Context) bool {
	for len(c.iters) > 0 {
		it := c.iters[0]
		if it.Next(ctx) {
			c.cur = it.Value()
			return true
		}
		if err := it.Err(); err != nil {
			c.err = err
			return false
		}
		c.iters = c.iters[1:]
	}
	return false
}

func (c *chain) Value() *models.RemoteMessage { return c.cur }

func (c *chain) Err() error { return c.err }
