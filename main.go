// Command wikidot-notifier delivers scheduled digests of new forum
// posts to subscribed wiki users, by private message or email.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/zalando/go-keyring"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"wikidot-notifier/cache"
	"wikidot-notifier/config"
	"wikidot-notifier/digest"
	"wikidot-notifier/email"
	"wikidot-notifier/ingest"
	"wikidot-notifier/pkg/notify"
	"wikidot-notifier/sweep"
	"wikidot-notifier/tick"
	"wikidot-notifier/wikidot"
)

const keyringService = "wikidot"

func main() {
	configPath := flag.String("config", "config.toml", "path to the service configuration file")
	authPath := flag.String("auth", "auth.toml", "path to the database credentials file")
	now := flag.String("now", "", "comma-separated channels to run immediately (hourly,daily,weekly,monthly), then exit")
	limitWikis := flag.String("limit-wikis", "", "comma-separated wiki IDs to restrict ingestion to")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := run(context.Background(), logger, *configPath, *authPath, *now, *limitWikis); err != nil {
		logger.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, authPath, nowChannels, limitWikis string) error {
	programRoot, err := os.Executable()
	if err != nil {
		return err
	}
	programRoot = filepath.Dir(programRoot)

	cfg, err := config.Load(configPath, programRoot)
	if err != nil {
		return err
	}

	storeOpts := cache.Options{
		Driver:     cfg.Database.Driver,
		Database:   cfg.Database.DatabaseName,
		ConfigWiki: cfg.ConfigWiki,
	}
	if cfg.Database.Driver == cache.DriverMySQL {
		auth, err := config.LoadAuth(authPath)
		if err != nil {
			return err
		}
		storeOpts.Host = auth.MySQLHost
		storeOpts.Username = auth.MySQLUsername
		storeOpts.Password = auth.MySQLPassword
	}

	password, err := wikidotPassword(cfg.WikidotUsername)
	if err != nil {
		return err
	}

	store, err := cache.Open(storeOpts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close store", "error", err)
		}
	}()
	if err := store.ApplyMigrations(); err != nil {
		return err
	}

	wikis, err := store.SupportedWikis()
	if err != nil {
		return err
	}
	client, err := wikidot.New(wikis, logger)
	if err != nil {
		return err
	}

	lexicons, err := digest.LoadLexicons(cfg.Path.Lang)
	if err != nil {
		return err
	}

	mailer, err := initMailer(ctx, logger)
	if err != nil {
		return err
	}

	ticker := tick.New(tick.Options{
		Store:      store,
		Client:     client,
		Refresher:  config.NewRefresher(client, store, cfg, logger),
		Ingester:   ingest.New(client, store, logger),
		Sweeper:    sweep.New(client, store, logger),
		Composer:   digest.NewComposer(lexicons, wikis),
		Mailer:     mailer,
		Logger:     logger,
		Username:   cfg.WikidotUsername,
		Password:   password,
		LimitWikis: splitList(limitWikis),
	})

	if nowChannels != "" {
		channels, err := parseChannels(nowChannels)
		if err != nil {
			return err
		}
		return ticker.Tick(ctx, channels)
	}
	return daemon(ctx, ticker, logger)
}

// daemon runs one tick at the top of every hour until interrupted.
func daemon(ctx context.Context, ticker *tick.Ticker, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Daemon started, ticking hourly")
	for {
		now := time.Now()
		next := now.Truncate(time.Hour).Add(time.Hour)
		select {
		case <-ctx.Done():
			logger.Info("Daemon stopping")
			return nil
		case <-time.After(next.Sub(now)):
		}
		if err := ticker.Tick(ctx, nil); err != nil {
			logger.Error("Tick failed", "error", err)
		}
	}
}

// wikidotPassword reads the wiki account password from the system
// keyring, falling back to the WIKIDOT_PASSWORD environment variable.
func wikidotPassword(username string) (string, error) {
	password, err := keyring.Get(keyringService, username)
	if err == nil && password != "" {
		return password, nil
	}
	if env := os.Getenv("WIKIDOT_PASSWORD"); env != "" {
		return env, nil
	}
	if err != nil {
		return "", errors.New("wikidot password not found in keyring or WIKIDOT_PASSWORD")
	}
	return "", errors.New("wikidot password is empty")
}

// initMailer builds the email provider. Without Gmail credentials the
// mock provider is used and email digests are only logged.
func initMailer(ctx context.Context, logger *slog.Logger) (tick.Mailer, error) {
	credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON")
	if credsJSON == "" {
		logger.Info("Mock email mode enabled (no GOOGLE_CREDENTIALS_JSON)")
		return email.NewMockProvider(logger), nil
	}
	service, err := gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	if err != nil {
		return nil, err
	}
	return email.NewGmailProvider(service, logger), nil
}

func parseChannels(list string) ([]notify.Frequency, error) {
	var channels []notify.Frequency
	for _, name := range splitList(list) {
		frequency := notify.Frequency(name)
		if !slices.Contains(notify.Frequencies, frequency) {
			return nil, errors.New("unknown channel: " + name)
		}
		channels = append(channels, frequency)
	}
	return channels, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
