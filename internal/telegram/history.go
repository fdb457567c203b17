package telegram

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"telegramdump/internal/mirror"
	"telegramdump/internal/models"
)

const historyBatch = 100

// window tracks a pass over history and filters raw batches to it.
type window struct {
	q mirror.Query
	// next is the offset_id of the following request.
	next int
	done bool
}

func newWindow(q mirror.Query) *window {
	w := &window{q: q}
	if q.Reverse {
		w.next = q.MinID + 1
	} else {
		w.next = q.MaxID
	}
	return w
}

// request builds the getHistory call for the next batch of at most n.
func (w *window) request(p tg.InputPeerClass, n int) *tg.MessagesGetHistoryRequest {
	req := &tg.MessagesGetHistoryRequest{
		Peer:     p,
		OffsetID: w.next,
		Limit:    n,
	}
	if w.q.Reverse {
		// A negative add_offset returns messages at or above offset_id.
		req.AddOffset = -n
	} else {
		req.MinID = w.q.MinID
	}
	return req
}

// accept orders a raw batch for yielding, drops anything outside the pass
// bounds and advances the offset. requested is the batch size asked for.
func (w *window) accept(batch []tg.MessageClass, requested int) []tg.MessageClass {
	if len(batch) < requested {
		w.done = true
	}
	sort.Slice(batch, func(i, j int) bool {
		if w.q.Reverse {
			return batch[i].GetID() < batch[j].GetID()
		}
		return batch[i].GetID() > batch[j].GetID()
	})

	out := batch[:0]
	for _, m := range batch {
		id := m.GetID()
		if w.q.MinID != 0 && id <= w.q.MinID {
			continue
		}
		if w.q.MaxID != 0 && id >= w.q.MaxID {
			continue
		}
		if w.q.Reverse && id < w.next {
			continue
		}
		if !w.q.Reverse && w.next != 0 && id >= w.next {
			continue
		}
		out = append(out, m)
	}

	if len(out) == 0 {
		w.done = true
		return nil
	}
	last := out[len(out)-1].GetID()
	if w.q.Reverse {
		w.next = last + 1
	} else {
		w.next = last
	}
	// Descending passes end at the first message.
	if !w.q.Reverse && w.next <= 1 {
		w.done = true
	}
	return out
}

// historyIter pages through getHistory lazily.
type historyIter struct {
	c        *Client
	dialogID int64
	win      *window

	peer    tg.InputPeerClass
	buf     []*models.RemoteMessage
	cur     *models.RemoteMessage
	yielded int
	fetched bool
	err     error
}

// Messages implements mirror.Source.
func (c *Client) Messages(_ context.Context, dialogID int64, q mirror.Query) mirror.MessageIterator {
	return &historyIter{c: c, dialogID: dialogID, win: newWindow(q)}
}

func (it *historyIter) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	limit := it.win.q.Limit
	for len(it.buf) == 0 {
		if it.win.done || (limit > 0 && it.yielded >= limit) {
			return false
		}
		if err := it.fetch(ctx); err != nil {
			it.err = err
			return false
		}
	}
	if limit > 0 && it.yielded >= limit {
		return false
	}
	it.cur, it.buf = it.buf[0], it.buf[1:]
	it.yielded++
	return true
}

func (it *historyIter) Value() *models.RemoteMessage { return it.cur }

func (it *historyIter) Err() error { return it.err }

func (it *historyIter) fetch(ctx context.Context) error {
	if it.peer == nil {
		p, err := it.c.resolve(ctx, it.dialogID)
		if err != nil {
			return err
		}
		it.peer = p.input
	}
	if it.fetched && it.win.q.Wait > 0 {
		if err := sleep(ctx, it.win.q.Wait); err != nil {
			return err
		}
	}
	it.fetched = true

	n := historyBatch
	if limit := it.win.q.Limit; limit > 0 && limit-it.yielded < n {
		n = limit - it.yielded
	}

	res, err := it.c.history(ctx, it.win.request(it.peer, n))
	if err != nil {
		return errors.Wrapf(err, "get history of %d", it.dialogID)
	}

	var raw []tg.MessageClass
	switch r := res.(type) {
	case *tg.MessagesMessages:
		raw = r.Messages
		// Not a slice: this is everything there is.
		it.win.done = true
		it.c.remember(r.Users, r.Chats)
	case *tg.MessagesMessagesSlice:
		raw = r.Messages
		it.c.remember(r.Users, r.Chats)
	case *tg.MessagesChannelMessages:
		raw = r.Messages
		it.c.remember(r.Users, r.Chats)
	default:
		it.win.done = true
		return nil
	}

	for _, m := range it.win.accept(raw, n) {
		msg, ok, err := convertMessage(it.dialogID, m)
		if err != nil {
			return err
		}
		if ok {
			it.buf = append(it.buf, msg)
		}
	}
	return nil
}

// history calls getHistory, sleeping through FLOOD_WAIT responses.
func (c *Client) history(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
	for {
		res, err := c.api.MessagesGetHistory(ctx, req)
		if err == nil {
			return res, nil
		}
		d, ok := tgerr.AsFloodWait(err)
		if !ok {
			return nil, err
		}
		c.log.Warn("Flood wait", zap.Duration("wait", d))
		if err := sleep(ctx, d); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
