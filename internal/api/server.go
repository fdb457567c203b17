// Package api serves the mirrored archive over HTTP and lets a client start
// a mirror run and follow its progress over a websocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"telegramdump/internal/database"
	"telegramdump/internal/models"
)

// Archive is the read side of the message store.
type Archive interface {
	ListDialogs(ctx context.Context) ([]models.DialogSummary, error)
	ListMessages(ctx context.Context, dialogID int64, limit, offset int) ([]models.Message, error)
	GetDialog(ctx context.Context, id int64) (*models.DialogMeta, error)
	MediaStats(ctx context.Context) ([]database.MediaStat, error)
}

type Options struct {
	Archive Archive
	// Mirror runs a mirror; nil disables POST /api/v1/mirror.
	Mirror      MirrorFunc
	MediaDir    string
	CORSOrigins []string
	Logger      *zap.Logger
}

type Server struct {
	archive  Archive
	mediaDir string
	origins  []string
	log      *zap.Logger
	hub      *Hub
	runner   *runner
	upgrader websocket.Upgrader

	// baseCtx scopes background mirror runs; it ends on shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MediaDir == "" {
		opts.MediaDir = "."
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		archive:  opts.Archive,
		mediaDir: opts.MediaDir,
		origins:  opts.CORSOrigins,
		log:      log,
		hub:      NewHub(log),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	if opts.Mirror != nil {
		s.runner = &runner{run: opts.Mirror, hub: s.hub, log: log}
	}
	return s
}

// Hub exposes the progress stream so other reporters can be chained to it.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Handler builds the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/dialogs", s.ListDialogs)
		v1.GET("/dialogs/:id/messages", s.GetMessages)
		v1.GET("/stats", s.Stats)
		v1.POST("/mirror", s.StartMirror)
		v1.GET("/mirror/status", s.MirrorStatus)
		v1.GET("/ws", s.WebSocketHandler)
	}

	r.Static("/media", s.mediaDir)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowCredentials: true,
		AllowedHeaders:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
	})
	return c.Handler(r)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down and waits
// for a running mirror to stop.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("Server starting", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// Close cancels a running mirror and waits for it to return.
func (s *Server) Close() {
	s.cancel()
	if s.runner != nil {
		s.runner.wait()
	}
}
