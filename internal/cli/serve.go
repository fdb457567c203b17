package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"telegramdump/internal/api"
	"telegramdump/internal/database"
	"telegramdump/internal/mirror"
	"telegramdump/internal/models"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Browse the archive over HTTP",
		Long: "Serve exposes the mirrored dialogs, messages and media over HTTP. When API\n" +
			"credentials are configured, POST /api/v1/mirror starts a mirror run in the background.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			return a.runServe(cmd)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command) error {
	if a.cfg.Database == "" {
		return errors.New("config: db path must not be empty")
	}
	db, err := a.openStore(false)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if a.cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	opts := api.Options{
		Archive:     db,
		MediaDir:    a.cfg.MediaDir,
		CORSOrigins: a.cfg.CORSOrigins,
		Logger:      a.log.Named("api"),
	}
	if err := a.cfg.Validate(); err != nil {
		a.log.Warn("Mirroring over HTTP disabled", zap.Error(err))
	} else {
		opts.Mirror = a.mirrorFunc(db)
	}

	srv := api.NewServer(opts)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s\n", a.cfg.Database, a.cfg.Addr)
	return srv.ListenAndServe(cmd.Context(), a.cfg.Addr)
}

// mirrorFunc runs a mirror on behalf of an HTTP request.
func (a *app) mirrorFunc(db *database.DB) api.MirrorFunc {
	return func(ctx context.Context, req api.MirrorRequest, rep mirror.Reporter) (mirror.Summary, error) {
		exclude, err := models.ParseMediaKinds(req.ExcludeTypes)
		if err != nil {
			return mirror.Summary{}, err
		}
		dest, err := database.Backup(a.cfg.Database, a.now())
		if err != nil {
			return mirror.Summary{}, err
		}
		if dest != "" {
			a.log.Info("Database backed up", zap.String("path", dest))
		}

		client := a.connect(a.cfg, a.log)
		var sum mirror.Summary
		err = client.Run(ctx, func(ctx context.Context) error {
			var err error
			sum, err = runDriver(ctx, client, db, a.cfg, a.log, rep, exclude, req.DialogIDs, req.MaxN)
			return err
		})
		return sum, err
	}
}
