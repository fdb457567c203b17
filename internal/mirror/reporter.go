package mirror

import (
	"telegramdump/internal/models"
)

// DialogStart describes a dialog pass that is about to begin.
type DialogStart struct {
	ID        int64
	Name      string
	Slug      string
	Limit     int // 0 means all
	Overall   int // 0 means unlimited
	Processed int
	Cursor    Cursor
}

// Reporter observes mirror progress. Calls come from the mirroring goroutine.
type Reporter interface {
	DialogStarted(d DialogStart)
	MessageSaved(m *models.Message, processed int)
	DownloadProgress(m *models.RemoteMessage, received, total int64)
	DownloadRetry(m *models.RemoteMessage, attempt int, err error)
	DialogFinished(dialogID int64, counts models.MediaCounts, err error)
}

// NopReporter discards every event.
type NopReporter struct{}

func (NopReporter) DialogStarted(DialogStart)                            {}
func (NopReporter) MessageSaved(*models.Message, int)                    {}
func (NopReporter) DownloadProgress(*models.RemoteMessage, int64, int64) {}
func (NopReporter) DownloadRetry(*models.RemoteMessage, int, error)      {}
func (NopReporter) DialogFinished(int64, models.MediaCounts, error)      {}
