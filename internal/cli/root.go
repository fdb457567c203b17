// Package cli wires the telegram-dump commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"telegramdump/internal/config"
	"telegramdump/internal/logging"
	"telegramdump/internal/mirror"
	"telegramdump/internal/models"
	"telegramdump/internal/telegram"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// remote is the Telegram side the commands talk to.
type remote interface {
	mirror.Source
	Run(ctx context.Context, f func(ctx context.Context) error) error
	Dialogs(ctx context.Context, limit int) ([]models.DialogInfo, error)
}

// app carries what the commands share once flags and config are resolved.
type app struct {
	flags flagValues
	cfg   *config.Config
	log   *zap.Logger

	// search lists the implicit config files; tests override it.
	search  func() []string
	connect func(cfg *config.Config, log *zap.Logger) remote
	now     func() time.Time
}

func newApp() *app {
	return &app{
		search: config.SearchPaths,
		connect: func(cfg *config.Config, log *zap.Logger) remote {
			return telegram.New(telegram.Options{
				AppID:       cfg.APIID,
				AppHash:     cfg.APIHash,
				SessionPath: cfg.Session,
				Phone:       cfg.Phone,
				Logger:      log,
			})
		},
		now: time.Now,
	}
}

type flagValues struct {
	configPath string
	apiID      int
	apiHash    string
	db         string
	mediaDir   string
	session    string
	phone      string
	logLevel   string
	logFile    string
	wait       time.Duration
}

func newRootCmd(a *app) *cobra.Command {
	def := config.Default()
	cmd := &cobra.Command{
		Use:           "telegram-dump",
		Short:         "Mirror Telegram dialogs into SQLite and a media tree",
		Long:          "telegram-dump incrementally copies the messages of Telegram dialogs into a SQLite\ndatabase and downloads their media into per-dialog monthly directories.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.resolve(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	f := &a.flags
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "config file read after the default locations")
	pf.IntVar(&f.apiID, "api-id", 0, "Telegram API ID")
	pf.StringVar(&f.apiHash, "api-hash", "", "Telegram API hash")
	pf.StringVar(&f.db, "db", def.Database, "SQLite database file")
	pf.StringVar(&f.mediaDir, "media-dir", def.MediaDir, "directory media is downloaded into")
	pf.StringVar(&f.session, "session", def.Session, "Telegram session file")
	pf.StringVar(&f.phone, "phone", "", "phone number used to sign in")
	pf.StringVar(&f.logLevel, "log-level", def.LogLevel, "log level (debug, info, warn, error)")
	pf.StringVar(&f.logFile, "log-file", "", "also write JSON logs to this file")
	pf.DurationVar(&f.wait, "wait", def.Wait.Duration, "pause between history requests")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newMirrorCmd(a))
	cmd.AddCommand(newServeCmd(a))
	return cmd
}

// resolve layers config files under the flags the user actually set.
func (a *app) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configPath, a.search()...)
	if err != nil {
		return err
	}

	fs := cmd.Flags()
	f := a.flags
	if fs.Changed("api-id") {
		cfg.APIID = f.apiID
	}
	if fs.Changed("api-hash") {
		cfg.APIHash = f.apiHash
	}
	if fs.Changed("db") {
		cfg.Database = f.db
	}
	if fs.Changed("media-dir") {
		cfg.MediaDir = f.mediaDir
	}
	if fs.Changed("session") {
		cfg.Session = f.session
	}
	if fs.Changed("phone") {
		cfg.Phone = f.phone
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if fs.Changed("wait") {
		cfg.Wait = config.Duration{Duration: f.wait}
	}
	a.cfg = cfg

	log, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	a.log = log
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Skip config resolution.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "telegram-dump %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(newApp())
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}
