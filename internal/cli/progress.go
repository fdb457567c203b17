package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"telegramdump/internal/mirror"
	"telegramdump/internal/models"
)

// termReporter prints mirror progress: status lines to out, bars to bars.
type termReporter struct {
	out  io.Writer
	bars io.Writer

	messages *progressbar.ProgressBar
	download *progressbar.ProgressBar
	// downloadID is the message the download bar belongs to.
	downloadID int
}

var _ mirror.Reporter = (*termReporter)(nil)

func newTermReporter(out, bars io.Writer) *termReporter {
	return &termReporter{out: out, bars: bars}
}

func (r *termReporter) DialogStarted(d mirror.DialogStart) {
	limit := "all"
	if d.Limit > 0 {
		limit = fmt.Sprintf("up to %d", d.Limit)
	}
	fmt.Fprintf(r.out, "Mirroring %s messages from %s (%d) to %s...\n", limit, d.Name, d.ID, d.Slug)
	if d.Cursor.Valid {
		fmt.Fprintf(r.out, "Incremental mirror after ID %d and before ID %d\n", d.Cursor.MaxID, d.Cursor.MinID)
	} else {
		fmt.Fprintln(r.out, "Initial mirror")
	}

	total := int64(-1)
	if d.Overall > 0 {
		total = int64(d.Overall)
	}
	r.messages = progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(r.bars),
		progressbar.OptionSetDescription("Messages"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	_ = r.messages.Set(d.Processed)
}

func (r *termReporter) MessageSaved(m *models.Message, processed int) {
	if r.messages == nil {
		return
	}
	r.messages.Describe("Messages " + m.Date.UTC().Format("2006-01-02 15:04"))
	_ = r.messages.Set(processed)
}

func (r *termReporter) DownloadProgress(m *models.RemoteMessage, received, total int64) {
	if r.download == nil || r.downloadID != m.ID {
		r.finishDownload()
		size := total
		if size <= 0 {
			size = -1
		}
		r.download = progressbar.NewOptions64(size,
			progressbar.OptionSetWriter(r.bars),
			progressbar.OptionSetDescription(string(m.Kind)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		r.downloadID = m.ID
	}
	_ = r.download.Set64(received)
	if total > 0 && received >= total {
		r.finishDownload()
	}
}

func (r *termReporter) finishDownload() {
	if r.download != nil {
		_ = r.download.Finish()
		r.download = nil
	}
}

func (r *termReporter) DownloadRetry(_ *models.RemoteMessage, _ int, _ error) {
	r.finishDownload()
	fmt.Fprintln(r.out, "Timeout, retrying...")
}

func (r *termReporter) DialogFinished(_ int64, counts models.MediaCounts, _ error) {
	r.finishDownload()
	if r.messages != nil {
		_ = r.messages.Finish()
		r.messages = nil
	}
	for _, kc := range counts.Sorted() {
		fmt.Fprintln(r.out, kc.Kind, kc.Count)
	}
}
