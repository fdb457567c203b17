// Package mirror copies a dialog's remote history into the local store,
// filling the gaps on both sides of what is already mirrored.
package mirror

import (
	"context"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegramdump/internal/media"
	"telegramdump/internal/models"
)

// DefaultAttempts is how many times a timed out download is tried in total.
const DefaultAttempts = 2

// Config tunes an Engine.
type Config struct {
	// MediaRoot is the directory under which <slug>/<YYYY-MM> trees are created.
	MediaRoot string

	// Exclude lists media kinds that are recorded but never downloaded.
	Exclude map[models.MediaKind]bool

	Wait     time.Duration
	Attempts int
	Logger   *zap.Logger
	Reporter Reporter
}

// Result is the outcome of one dialog pass.
type Result struct {
	Processed int
	Counts    models.MediaCounts
}

// Engine mirrors a single dialog at a time.
type Engine struct {
	src   Source
	store Store
	cfg   Config
	log   *zap.Logger
	rep   Reporter
	now   func() time.Time
}

func NewEngine(src Source, store Store, cfg Config) *Engine {
	if cfg.Attempts < 1 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.MediaRoot == "" {
		cfg.MediaRoot = "."
	}
	e := &Engine{
		src:   src,
		store: store,
		cfg:   cfg,
		log:   cfg.Logger,
		rep:   cfg.Reporter,
		now:   time.Now,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.rep == nil {
		e.rep = NopReporter{}
	}
	return e
}

// MirrorDialog fetches up to limit messages (0 for all) on each side of the
// stored ID range of dialogID and persists them one by one. processed is the
// running count carried across dialogs; overall is only reported.
//
// The reporter is told the per-kind counts even when the pass fails.
func (e *Engine) MirrorDialog(ctx context.Context, dialogID int64, limit, overall, processed int) (res Result, err error) {
	res = Result{Processed: processed, Counts: models.MediaCounts{}}
	log := e.log.With(zap.Int64("dialog_id", dialogID))

	entity, err := e.src.Entity(ctx, dialogID)
	if err != nil {
		return res, errors.Wrapf(err, "resolve dialog %d", dialogID)
	}
	if entity.ID == 0 {
		entity.ID = dialogID
	}
	name := entity.DisplayName()
	slug := media.Slug(name, dialogID)

	if err := e.store.SaveDialog(ctx, &models.DialogMeta{
		ID:        dialogID,
		Kind:      entity.Kind,
		Name:      name,
		Slug:      slug,
		UpdatedAt: e.now().UTC(),
	}); err != nil {
		return res, errors.Wrap(err, "save dialog")
	}

	minID, maxID, ok, err := e.store.MinMaxIDs(ctx, dialogID)
	if err != nil {
		return res, errors.Wrap(err, "stored range")
	}
	cursor := Cursor{MinID: minID, MaxID: maxID, Valid: ok}

	if cursor.Valid {
		log.Info("Incremental mirror", zap.String("name", name), zap.Int("after_id", maxID), zap.Int("before_id", minID), zap.Int("limit", limit))
	} else {
		log.Info("Initial mirror", zap.String("name", name), zap.Int("limit", limit))
	}
	e.rep.DialogStarted(DialogStart{
		ID:        dialogID,
		Name:      name,
		Slug:      slug,
		Limit:     limit,
		Overall:   overall,
		Processed: processed,
		Cursor:    cursor,
	})
	defer func() {
		e.rep.DialogFinished(dialogID, res.Counts, err)
	}()

	var iters []MessageIterator
	for _, q := range Plan(cursor, limit, e.cfg.Wait) {
		iters = append(iters, e.src.Messages(ctx, dialogID, q))
	}
	it := Chain(iters...)

	for it.Next(ctx) {
		msg := it.Value()
		msg.DialogID = dialogID
		rec := msg.Record()

		var handled bool
		err := e.store.SaveMessage(ctx, rec, func(m *models.Message) error {
			var err error
			handled, err = e.attach(ctx, log, msg, m, slug)
			return err
		})
		if err != nil {
			return res, errors.Wrapf(err, "message %d", msg.ID)
		}
		// Only committed attachments count.
		if handled {
			res.Counts[msg.Kind]++
		}
		res.Processed++
		e.rep.MessageSaved(rec, res.Processed)
	}
	if err := it.Err(); err != nil {
		return res, errors.Wrap(err, "history")
	}

	log.Info("Dialog mirrored", zap.Int("processed", res.Processed-processed), zap.Int("media", res.Counts.Total()))
	return res, nil
}

// attach downloads the message's media into its month directory and records
// the resulting path on rec. It runs inside the message's transaction and
// reports whether the media was handled (downloaded or given up on).
func (e *Engine) attach(ctx context.Context, log *zap.Logger, msg *models.RemoteMessage, rec *models.Message, slug string) (bool, error) {
	if msg.Kind == models.MediaNone || e.cfg.Exclude[msg.Kind] {
		return false, nil
	}

	dir := media.Dir(e.cfg.MediaRoot, slug, msg.Date)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, errors.Wrap(err, "create media dir")
	}

	path, err := e.download(ctx, log, msg, dir)
	if err != nil {
		return false, err
	}
	if path != "" {
		rec.Filename = &path
		if err := media.StampCaptureTime(path, msg.Date); err != nil {
			log.Warn("Failed to set capture time", zap.String("file", path), zap.Error(err))
		}
	}
	return true, nil
}

// download tries the source up to cfg.Attempts times while it times out.
// Running out of attempts is not an error: the message is kept without a file.
func (e *Engine) download(ctx context.Context, log *zap.Logger, msg *models.RemoteMessage, dir string) (string, error) {
	var (
		path    string
		attempt int
	)
	progress := func(received, total int64) {
		e.rep.DownloadProgress(msg, received, total)
	}

	op := func() error {
		attempt++
		p, err := e.src.Download(ctx, msg, dir, progress)
		switch {
		case err == nil:
			path = p
			return nil
		case errors.Is(err, ErrTimeout):
			log.Warn("Download timed out", zap.Int("msg_id", msg.ID), zap.Int("attempt", attempt))
			e.rep.DownloadRetry(msg, attempt, err)
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(e.cfg.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, ErrTimeout) {
			log.Warn("Giving up on download", zap.Int("msg_id", msg.ID), zap.Int("attempts", attempt))
			return "", nil
		}
		return "", errors.Wrap(err, "download")
	}
	return path, nil
}
