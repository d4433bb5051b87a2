package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/nlecoy/recheck/internal/adapter/driven/github"
	mailgunadapter "github.com/nlecoy/recheck/internal/adapter/driven/mailgun"
	"github.com/nlecoy/recheck/internal/adapter/driven/notify"
	"github.com/nlecoy/recheck/internal/adapter/driven/retrier"
	sqliteadapter "github.com/nlecoy/recheck/internal/adapter/driven/sqlite"
	"github.com/nlecoy/recheck/internal/adapter/driving/ops"
	"github.com/nlecoy/recheck/internal/application"
	"github.com/nlecoy/recheck/internal/config"
	"github.com/nlecoy/recheck/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	setupLogging()

	// Signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newRootCommand().ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	var configPath string
	var once bool

	root := &cobra.Command{
		Use:   "recheck",
		Short: "Retry failed CI checks on your open pull requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath, once)
		},
	}
	root.SilenceUsage = true
	root.SilenceErrors = true

	root.Flags().StringVarP(&configPath, "config", "c", "recheck.yaml", "Path to the configuration file")
	root.Flags().BoolVar(&once, "once", false, "Run a single triage cycle and exit")

	return root
}

func serve(ctx context.Context, configPath string, once bool) error {
	// 1. Load configuration (fail fast on an invalid file).
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"github_user", cfg.GitHub.User,
		"db_path", cfg.DBPath,
		"poll_interval", cfg.PollInterval,
		"notifier", cfg.Notifier,
		"repositories", len(cfg.Repositories),
	)

	// 2. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 3. Run migrations on the writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 4. Wire driven adapters, validating the token before the first poll.
	store := sqliteadapter.NewStateRepo(db)

	host := githubadapter.NewClient(cfg.GitHub.APIToken)
	login, err := host.ValidateToken(ctx)
	if err != nil {
		return err
	}
	if !strings.EqualFold(login, cfg.GitHub.User) {
		slog.Warn("token login differs from configured user", "login", login, "github_user", cfg.GitHub.User)
	}
	slog.Info("github token validated", "login", login)

	var mailer driven.Mailer
	if cfg.Notifier == config.NotifierMailgun {
		mailer = mailgunadapter.NewMailer(cfg.Mailgun)
	}
	notifier, err := notify.New(cfg.Notifier, mailer)
	if err != nil {
		return err
	}

	// 5. One retry strategy per configured repository, plus a comment
	// fallback for pull requests whose repository has left the file. The
	// comment strategy's cleanup removes its own directives, so it is the
	// safe choice for retiring unconfigured leftovers.
	deps := retrier.Deps{Host: host, User: cfg.GitHub.User}
	retriers := make(map[string]driven.Retrier, len(cfg.Repositories))
	for slug, rc := range cfg.Repositories {
		strategy, err := retrier.New(rc.RetrierName(), deps, slug, cfg)
		if err != nil {
			return err
		}
		retriers[strings.ToLower(slug)] = strategy
	}
	fallback, err := retrier.New(config.RetrierComment, deps, "", cfg)
	if err != nil {
		return err
	}

	// 6. Application services.
	triage := application.NewTriageService(host, store, notifier, cfg, time.Now)
	poll := application.NewPollService(host, store, triage, retriers, fallback, cfg)

	// 7. One-shot mode for cron-driven deployments.
	if once {
		return poll.Run(ctx)
	}

	// 8. Optional ops HTTP server.
	var srv *http.Server
	if cfg.ListenAddr != "" {
		handler := ops.NewServeMux(ops.NewHandler(store, slog.Default()), slog.Default())
		srv = &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			slog.Info("ops server starting", "addr", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops server error", "error", err)
			}
		}()
	}

	// 9. Poll until signalled.
	slog.Info("recheck started", "poll_interval", cfg.PollInterval)
	poll.Start(ctx)

	// 10. Graceful ops server drain.
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("ops server shutdown error", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// setupLogging installs a text slog handler on stderr with the level taken
// from RECHECK_LOG_LEVEL (debug, info, warn, error).
func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("RECHECK_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
