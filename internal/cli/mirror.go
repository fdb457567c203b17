package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"telegramdump/internal/config"
	"telegramdump/internal/database"
	"telegramdump/internal/mirror"
	"telegramdump/internal/models"
)

func newMirrorCmd(a *app) *cobra.Command {
	var (
		maxN     int
		excludes []string
	)

	cmd := &cobra.Command{
		Use:   "mirror [dialog_id ...]",
		Short: "Mirror dialogs into the database",
		Long: "Mirror copies messages newer and older than what is already stored for each dialog.\n" +
			"Without dialog IDs every dialog already in the database is updated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMirror(cmd, args, maxN, excludes)
		},
	}

	cmd.Flags().IntVar(&maxN, "max-n", 0, "process at most this many messages overall (0 for no limit)")
	cmd.Flags().StringArrayVarP(&excludes, "exclude-type", "x", nil, "media kind to skip downloading (repeatable)")
	return cmd
}

func parseDialogIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid dialog id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *app) runMirror(cmd *cobra.Command, args []string, maxN int, excludes []string) error {
	ids, err := parseDialogIDs(args)
	if err != nil {
		return err
	}
	exclude, err := models.ParseMediaKinds(excludes)
	if err != nil {
		return err
	}
	if maxN < 0 {
		return errors.New("--max-n must not be negative")
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	db, err := a.openStore(true)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	rep := newTermReporter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	client := a.connect(a.cfg, a.log)

	var sum mirror.Summary
	err = client.Run(cmd.Context(), func(ctx context.Context) error {
		var err error
		sum, err = runDriver(ctx, client, db, a.cfg, a.log, rep, exclude, ids, maxN)
		return err
	})
	fmt.Fprintf(cmd.OutOrStdout(), "Mirrored %d messages from %d dialogs.\n", sum.Processed, sum.Dialogs)
	return err
}

// openStore backs the database file up when asked, then opens and migrates it.
func (a *app) openStore(backup bool) (*database.DB, error) {
	if backup {
		dest, err := database.Backup(a.cfg.Database, a.now())
		if err != nil {
			return nil, err
		}
		if dest != "" {
			a.log.Info("Database backed up", zap.String("path", dest))
		}
	}

	db, err := database.Open(a.cfg.Database)
	if err != nil {
		return nil, err
	}
	res, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if res.Changed {
		a.log.Info("Database schema migrated", zap.Uint("version", res.Version))
	}
	return db, nil
}

// runDriver mirrors ids (or all stored dialogs) through src into db.
func runDriver(ctx context.Context, src mirror.Source, db *database.DB, cfg *config.Config, log *zap.Logger,
	rep mirror.Reporter, exclude map[models.MediaKind]bool, ids []int64, maxN int) (mirror.Summary, error) {
	engine := mirror.NewEngine(src, db, mirror.Config{
		MediaRoot: cfg.MediaDir,
		Exclude:   exclude,
		Wait:      cfg.Wait.Duration,
		Logger:    log,
		Reporter:  rep,
	})
	return mirror.NewDriver(engine).Mirror(ctx, ids, maxN)
}
