package telegram

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"telegramdump/internal/media"
	"telegramdump/internal/mirror"
	"telegramdump/internal/models"
)

const stampLayout = "2006-01-02_15-04-05"

// file is a downloadable attachment.
type file struct {
	location tg.InputFileLocationClass
	name     string
	size     int64
}

// fileOf picks what to download for a message, or returns false when the
// attachment carries no file.
func fileOf(kind models.MediaKind, date time.Time, attachment any) (file, bool) {
	stamp := date.UTC().Format(stampLayout)
	switch m := attachment.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return file{}, false
		}
		return photoFile(photo, stamp)
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return file{}, false
		}
		return documentFile(doc, kind, stamp), true
	case *tg.MessageMediaWebPage:
		page, ok := m.Webpage.(*tg.WebPage)
		if !ok {
			return file{}, false
		}
		if doc, ok := page.Document.(*tg.Document); ok {
			return documentFile(doc, documentKind(doc), stamp), true
		}
		if photo, ok := page.Photo.(*tg.Photo); ok {
			return photoFile(photo, stamp)
		}
	}
	return file{}, false
}

func photoFile(photo *tg.Photo, stamp string) (file, bool) {
	var (
		best  string
		area  int
		bytes int64
	)
	for _, s := range photo.Sizes {
		switch s := s.(type) {
		case *tg.PhotoSize:
			if s.W*s.H > area {
				best, area, bytes = s.Type, s.W*s.H, int64(s.Size)
			}
		case *tg.PhotoSizeProgressive:
			if s.W*s.H > area && len(s.Sizes) > 0 {
				best, area, bytes = s.Type, s.W*s.H, int64(s.Sizes[len(s.Sizes)-1])
			}
		}
	}
	if best == "" {
		return file{}, false
	}
	return file{
		location: &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     best,
		},
		name: "photo_" + stamp + ".jpg",
		size: bytes,
	}, true
}

func documentFile(doc *tg.Document, kind models.MediaKind, stamp string) file {
	name := ""
	for _, attr := range doc.Attributes {
		if a, ok := attr.(*tg.DocumentAttributeFilename); ok {
			name = filepath.Base(a.FileName)
		}
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = string(kind) + "_" + stamp
		if mt := mimetype.Lookup(doc.MimeType); mt != nil {
			name += mt.Extension()
		}
	}
	return file{
		location: &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		},
		name: name,
		size: doc.Size,
	}
}

// progressWriter reports cumulative byte counts as chunks are written.
type progressWriter struct {
	w        io.Writer
	received int64
	total    int64
	report   mirror.ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.received += int64(n)
	if p.report != nil {
		p.report(p.received, p.total)
	}
	return n, err
}

// Download implements mirror.Source. The file is written under a temporary
// name and renamed once complete, so an interrupted download leaves nothing
// behind that looks finished.
func (c *Client) Download(ctx context.Context, msg *models.RemoteMessage, dir string, progress mirror.ProgressFunc) (string, error) {
	f, ok := fileOf(msg.Kind, msg.Date, msg.Attachment)
	if !ok {
		c.log.Debug("Nothing to download", zap.Int("msg_id", msg.ID), zap.String("kind", string(msg.Kind)))
		return "", nil
	}

	path := media.UniquePath(dir, f.name)
	part := path + ".part"
	out, err := os.Create(part)
	if err != nil {
		return "", errors.Wrap(err, "create file")
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.DownloadTimeout)
	defer cancel()

	w := &progressWriter{w: out, total: f.size, report: progress}
	_, err = c.dl.Download(c.api, f.location).Stream(attemptCtx, w)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(part)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if isTimeout(err) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return "", errors.Wrapf(mirror.ErrTimeout, "download %s: %v", f.name, err)
		}
		return "", errors.Wrapf(err, "download %s", f.name)
	}

	if filepath.Ext(path) == "" {
		if mt, err := mimetype.DetectFile(part); err == nil && mt.Extension() != "" {
			path = media.UniquePath(dir, filepath.Base(path)+mt.Extension())
		}
	}
	if err := os.Rename(part, path); err != nil {
		_ = os.Remove(part)
		return "", errors.Wrap(err, "finish download")
	}
	return path, nil
}

// isTimeout reports whether err is a transport or RPC timeout worth retrying.
func isTimeout(err error) bool {
	if rpcErr, ok := tgerr.As(err); ok {
		return rpcErr.Code == 503 || rpcErr.Code == -503 || strings.EqualFold(rpcErr.Type, "TIMEOUT")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
