package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telegramdump/internal/models"
)

// MessageView is a stored message as served to the browser.
type MessageView struct {
	models.Message
	MediaURL string `json:"media_url,omitempty"`
}

func (s *Server) ListDialogs(c *gin.Context) {
	dialogs, err := s.archive.ListDialogs(c.Request.Context())
	if err != nil {
		s.log.Error("List dialogs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get dialogs"})
		return
	}
	if dialogs == nil {
		dialogs = []models.DialogSummary{}
	}
	c.JSON(http.StatusOK, gin.H{
		"dialogs": dialogs,
	})
}

func (s *Server) GetMessages(c *gin.Context) {
	dialogID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid dialog ID"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	ctx := c.Request.Context()
	dialog, err := s.archive.GetDialog(ctx, dialogID)
	if err != nil {
		s.log.Error("Get dialog", zap.Int64("dialog_id", dialogID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get dialog"})
		return
	}
	messages, err := s.archive.ListMessages(ctx, dialogID, limit, offset)
	if err != nil {
		s.log.Error("List messages", zap.Int64("dialog_id", dialogID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get messages"})
		return
	}
	if dialog == nil && len(messages) == 0 && offset == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Dialog not found"})
		return
	}

	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, MessageView{Message: m, MediaURL: s.mediaURL(m.Filename)})
	}
	c.JSON(http.StatusOK, gin.H{
		"dialog":   dialog,
		"messages": views,
		"limit":    limit,
		"offset":   offset,
	})
}

// mediaURL maps a stored file path to its URL under /media, or "" when the
// file lies outside the media directory.
func (s *Server) mediaURL(filename *string) string {
	if filename == nil || *filename == "" {
		return ""
	}
	root, err := filepath.Abs(s.mediaDir)
	if err != nil {
		return ""
	}
	path, err := filepath.Abs(*filename)
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return "/media/" + filepath.ToSlash(rel)
}

func (s *Server) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := s.archive.MediaStats(ctx)
	if err != nil {
		s.log.Error("Media stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}
	dialogs, err := s.archive.ListDialogs(ctx)
	if err != nil {
		s.log.Error("List dialogs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}
	total := 0
	for _, d := range dialogs {
		total += d.MessageCount
	}
	c.JSON(http.StatusOK, gin.H{
		"dialogs":  len(dialogs),
		"messages": total,
		"media":    stats,
	})
}

func (s *Server) StartMirror(c *gin.Context) {
	if s.runner == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Mirroring is not available"})
		return
	}

	var req MirrorRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.MaxN < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_n must not be negative"})
		return
	}
	if _, err := models.ParseMediaKinds(req.ExcludeTypes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := s.runner.start(s.baseCtx, req)
	if errors.Is(err, ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": status})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"status":  status,
	})
}

func (s *Server) MirrorStatus(c *gin.Context) {
	if s.runner == nil {
		c.JSON(http.StatusOK, MirrorStatus{})
		return
	}
	c.JSON(http.StatusOK, s.runner.current())
}

func (s *Server) WebSocketHandler(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("Failed to upgrade websocket", zap.Error(err))
		return
	}
	s.hub.serve(conn, s.statusEvent)
}

func (s *Server) statusEvent() Event {
	st := MirrorStatus{}
	if s.runner != nil {
		st = s.runner.current()
	}
	running := st.Running
	ev := Event{Type: "mirror_status", Running: &running, Summary: st.Summary, Error: st.Error}
	if st.Summary != nil {
		ev.Counts = st.Summary.Counts.Sorted()
	}
	return ev
}
