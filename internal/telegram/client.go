// Package telegram adapts a gotd client to the mirror's remote source.
package telegram

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"telegramdump/internal/models"
)

type Options struct {
	AppID       int
	AppHash     string
	SessionPath string
	// Phone is asked for interactively when empty.
	Phone string
	// DownloadTimeout bounds a single download attempt.
	DownloadTimeout time.Duration
	Logger          *zap.Logger
	Auth            auth.UserAuthenticator
}

type Client struct {
	opts   Options
	client *telegram.Client
	api    *tg.Client
	dl     *downloader.Downloader
	log    *zap.Logger

	mu    sync.Mutex
	peers map[int64]peer
	// scanned is set once the whole dialog list has been loaded into peers.
	scanned bool
}

func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 5 * time.Minute
	}
	if opts.Auth == nil {
		opts.Auth = NewTerminalAuth(opts.Phone)
	}
	return &Client{
		opts:  opts,
		dl:    downloader.NewDownloader(),
		log:   opts.Logger,
		peers: map[int64]peer{},
	}
}

// Run connects, signs in when the session is not authorized yet and calls f
// while the connection is up.
func (c *Client) Run(ctx context.Context, f func(ctx context.Context) error) error {
	if dir := filepath.Dir(c.opts.SessionPath); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return errors.Wrap(err, "create session directory")
		}
	}

	c.client = telegram.NewClient(c.opts.AppID, c.opts.AppHash, telegram.Options{
		Logger:         c.log.Named("telegram"),
		SessionStorage: &session.FileStorage{Path: c.opts.SessionPath},
	})

	return c.client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(c.opts.Auth, auth.SendCodeOptions{})
		if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
			return errors.Wrap(err, "auth")
		}
		c.api = c.client.API()

		self, err := c.client.Self(ctx)
		if err != nil {
			return errors.Wrap(err, "get self")
		}
		c.log.Info("Logged in", zap.Int64("user_id", self.ID), zap.String("username", self.Username))

		return f(ctx)
	})
}

// remember caches the peers seen in a response.
func (c *Client) remember(users []tg.UserClass, chats []tg.ChatClass) {
	found := peersFrom(users, chats)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range found {
		c.peers[id] = p
	}
}

func (c *Client) cached(id int64) (peer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[id]
	return p, ok
}

// resolve finds the peer behind a marked dialog ID. Users and channels need
// an access hash, which only comes with a response that mentions them, so
// an unknown ID triggers one full scan of the dialog list.
func (c *Client) resolve(ctx context.Context, dialogID int64) (peer, error) {
	if p, ok := c.cached(dialogID); ok {
		return p, nil
	}

	kind, bare := UnmarkPeer(dialogID)
	if kind == models.EntityGroup {
		res, err := c.api.MessagesGetChats(ctx, []int64{bare})
		if err == nil {
			c.remember(nil, res.GetChats())
			if p, ok := c.cached(dialogID); ok {
				return p, nil
			}
		}
	}

	c.mu.Lock()
	scanned := c.scanned
	c.mu.Unlock()
	if !scanned {
		if _, err := c.Dialogs(ctx, 0); err != nil {
			return peer{}, err
		}
		c.mu.Lock()
		c.scanned = true
		c.mu.Unlock()
		if p, ok := c.cached(dialogID); ok {
			return p, nil
		}
	}
	return peer{}, errors.Errorf("dialog %d not found", dialogID)
}

// Entity implements mirror.Source.
func (c *Client) Entity(ctx context.Context, dialogID int64) (models.Entity, error) {
	p, err := c.resolve(ctx, dialogID)
	if err != nil {
		return models.Entity{}, err
	}
	return p.entity, nil
}

// Dialogs lists up to limit dialogs (0 for all), most recent first.
func (c *Client) Dialogs(ctx context.Context, limit int) ([]models.DialogInfo, error) {
	var (
		out        []models.DialogInfo
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	)
	for {
		n := 100
		if limit > 0 && limit-len(out) < n {
			n = limit - len(out)
		}
		res, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      n,
		})
		if err != nil {
			return nil, errors.Wrap(err, "get dialogs")
		}

		var (
			dialogs  []tg.DialogClass
			messages []tg.MessageClass
			last     bool
		)
		switch d := res.(type) {
		case *tg.MessagesDialogs:
			dialogs, messages, last = d.Dialogs, d.Messages, true
			c.remember(d.Users, d.Chats)
		case *tg.MessagesDialogsSlice:
			dialogs, messages = d.Dialogs, d.Messages
			last = len(out)+len(d.Dialogs) >= d.Count
			c.remember(d.Users, d.Chats)
		default:
			return out, nil
		}

		dates := topDates(messages)
		var tail *tg.Dialog
		for _, dc := range dialogs {
			d, ok := dc.(*tg.Dialog)
			if !ok {
				continue
			}
			tail = d
			id := MarkPeer(d.Peer)
			info := models.DialogInfo{ID: id, Date: dates[topKey{id, d.TopMessage}]}
			if p, ok := c.cached(id); ok {
				info.Name = p.entity.DisplayName()
			}
			out = append(out, info)
		}

		if last || tail == nil || len(dialogs) < n || (limit > 0 && len(out) >= limit) {
			return out, nil
		}
		p, ok := c.cached(MarkPeer(tail.Peer))
		if !ok {
			return out, nil
		}
		offsetDate = int(dates[topKey{MarkPeer(tail.Peer), tail.TopMessage}].Unix())
		offsetID = tail.TopMessage
		offsetPeer = p.input
	}
}

type topKey struct {
	dialogID  int64
	messageID int
}

// topDates maps each top message of a dialog page to its date.
func topDates(messages []tg.MessageClass) map[topKey]time.Time {
	out := make(map[topKey]time.Time, len(messages))
	for _, mc := range messages {
		switch m := mc.(type) {
		case *tg.Message:
			out[topKey{MarkPeer(m.PeerID), m.ID}] = time.Unix(int64(m.Date), 0).UTC()
		case *tg.MessageService:
			out[topKey{MarkPeer(m.PeerID), m.ID}] = time.Unix(int64(m.Date), 0).UTC()
		}
	}
	return out
}
