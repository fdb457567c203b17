package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"telegramdump/internal/mirror"
)

// ErrBusy is returned when a mirror run is requested while one is active.
var ErrBusy = errors.New("a mirror run is already in progress")

// MirrorRequest selects what a triggered run mirrors.
type MirrorRequest struct {
	DialogIDs    []int64  `json:"dialog_ids"`
	MaxN         int      `json:"max_n"`
	ExcludeTypes []string `json:"exclude_types"`
}

// MirrorFunc performs one mirror run, reporting progress to rep.
type MirrorFunc func(ctx context.Context, req MirrorRequest, rep mirror.Reporter) (mirror.Summary, error)

// MirrorStatus describes the current or last run.
type MirrorStatus struct {
	Running    bool            `json:"running"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Request    *MirrorRequest  `json:"request,omitempty"`
	Summary    *mirror.Summary `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// runner allows at most one mirror run at a time.
type runner struct {
	run MirrorFunc
	hub *Hub
	log *zap.Logger

	mu     sync.Mutex
	status MirrorStatus
	wg     sync.WaitGroup
}

func (r *runner) start(ctx context.Context, req MirrorRequest) (MirrorStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Running {
		return r.status, ErrBusy
	}
	now := time.Now().UTC()
	r.status = MirrorStatus{Running: true, StartedAt: &now, Request: &req}
	snapshot := r.status

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.log.Info("Mirror run started", zap.Int64s("dialog_ids", req.DialogIDs), zap.Int("max_n", req.MaxN))
		sum, err := r.run(ctx, req, r.hub)
		r.finish(sum, err)
	}()
	return snapshot, nil
}

func (r *runner) finish(sum mirror.Summary, err error) {
	now := time.Now().UTC()
	r.mu.Lock()
	r.status.Running = false
	r.status.FinishedAt = &now
	r.status.Summary = &sum
	r.status.Error = ""
	if err != nil {
		r.status.Error = err.Error()
	}
	r.mu.Unlock()

	running := false
	ev := Event{Type: "mirror_finished", Summary: &sum, Counts: sum.Counts.Sorted(), Running: &running}
	if err != nil {
		ev.Error = err.Error()
		r.log.Error("Mirror run failed", zap.Error(err))
	} else {
		r.log.Info("Mirror run finished", zap.Int("processed", sum.Processed), zap.Int("dialogs", sum.Dialogs))
	}
	r.hub.Broadcast(ev)
}

func (r *runner) current() MirrorStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *runner) wait() {
	r.wg.Wait()
}
