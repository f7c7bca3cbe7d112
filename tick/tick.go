// Package tick sequences one notification round: decide which frequency
// channels fire, refresh remote configuration, ingest new posts,
// reconcile deletions, and deliver per-user digests with watermark
// commits.
package tick

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"wikidot-notifier/pkg/notify"
)

// Channel binds a frequency to the cron expression that fires it.
type Channel struct {
	Frequency notify.Frequency
	Cron      string
}

// Channels lists every delivery channel. The scheduler runs hourly, so
// every expression fires on minute zero.
var Channels = []Channel{
	{notify.Hourly, "0 * * * *"},
	{notify.Daily, "0 0 * * *"},
	{notify.Weekly, "0 0 * * 0"},
	{notify.Monthly, "0 0 1 * *"},
}

// ActiveChannels returns the frequencies whose cron expression matches
// now, truncated to the minute.
func ActiveChannels(now time.Time) ([]notify.Frequency, error) {
	minute := now.Truncate(time.Minute)
	var active []notify.Frequency
	for _, ch := range Channels {
		sched, err := cron.ParseStandard(ch.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron for %s channel: %w", ch.Frequency, err)
		}
		if sched.Next(minute.Add(-time.Second)).Equal(minute) {
			active = append(active, ch.Frequency)
		}
	}
	return active, nil
}

// Store is the slice of the cache store the orchestrator uses.
type Store interface {
	SupportedWikis() ([]notify.Wiki, error)
	GlobalOverrides() (notify.Overrides, error)
	UserConfigs(frequency notify.Frequency) ([]*notify.UserConfig, error)
	NewPostsForUser(userID, lo, hi int64) (*notify.NewPosts, error)
	StoreUserLastNotified(userID, timestamp int64) error
}

// Client is the slice of the wiki client the orchestrator uses.
type Client interface {
	Reopen(wikis []notify.Wiki) error
	Login(ctx context.Context, username, password string) error
	SendMessage(ctx context.Context, userID int64, subject, body string) error
	Contacts(ctx context.Context) (map[string]string, error)
}

// Refresher pulls remote configuration into the store.
type Refresher interface {
	RefreshGlobalOverrides(ctx context.Context) error
	RefreshSupportedWikis(ctx context.Context) error
	RefreshUserConfigs(ctx context.Context) error
}

// Ingester pulls new posts into the store.
type Ingester interface {
	IngestAll(ctx context.Context, limitWikis []string) error
}

// Sweeper tombstones upstream deletions before delivery.
type Sweeper interface {
	Sweep(ctx context.Context, users []*notify.UserConfig, hi int64) error
}

// Composer renders a digest for one user.
type Composer interface {
	SetWikis(wikis []notify.Wiki)
	Compose(u *notify.UserConfig, posts *notify.NewPosts) (subject, body string)
}

// Mailer sends a digest to an email address.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Ticker runs notification rounds.
type Ticker struct {
	store      Store
	client     Client
	refresher  Refresher
	ingester   Ingester
	sweeper    Sweeper
	composer   Composer
	mailer     Mailer
	logger     *slog.Logger
	username   string
	password   string
	limitWikis []string
	now        func() time.Time
}

// Options collects the Ticker collaborators.
type Options struct {
	Store      Store
	Client     Client
	Refresher  Refresher
	Ingester   Ingester
	Sweeper    Sweeper
	Composer   Composer
	Mailer     Mailer
	Logger     *slog.Logger
	Username   string
	Password   string
	LimitWikis []string
}

// New creates a ticker.
func New(opts Options) *Ticker {
	return &Ticker{
		store:      opts.Store,
		client:     opts.Client,
		refresher:  opts.Refresher,
		ingester:   opts.Ingester,
		sweeper:    opts.Sweeper,
		composer:   opts.Composer,
		mailer:     opts.Mailer,
		logger:     opts.Logger,
		username:   opts.Username,
		password:   opts.Password,
		limitWikis: opts.LimitWikis,
		now:        time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (t *Ticker) SetClock(now func() time.Time) { t.now = now }

// Tick runs one notification round for the given channels. A nil
// channel list means: derive the active channels from the current time.
func (t *Ticker) Tick(ctx context.Context, channels []notify.Frequency) error {
	if channels == nil {
		var err error
		channels, err = ActiveChannels(t.now())
		if err != nil {
			return err
		}
	}
	if len(channels) == 0 {
		t.logger.Info("No channel active, nothing to do")
		return nil
	}
	t.logger.Info("Tick starting", "channels", channels)

	if err := t.refresher.RefreshGlobalOverrides(ctx); err != nil {
		return fmt.Errorf("refresh global overrides: %w", err)
	}
	if err := t.refresher.RefreshSupportedWikis(ctx); err != nil {
		return fmt.Errorf("refresh supported wikis: %w", err)
	}

	wikis, err := t.store.SupportedWikis()
	if err != nil {
		return err
	}
	if err := t.client.Reopen(wikis); err != nil {
		return fmt.Errorf("reopen wiki client: %w", err)
	}
	t.composer.SetWikis(wikis)

	if err := t.refresher.RefreshUserConfigs(ctx); err != nil {
		return fmt.Errorf("refresh user configs: %w", err)
	}

	if err := t.ingester.IngestAll(ctx, t.limitWikis); err != nil {
		return fmt.Errorf("ingest posts: %w", err)
	}

	// Everything selected from here on is bounded by this instant, so a
	// post arriving mid-delivery waits for the next tick.
	currentTimestamp := t.now().Unix()

	if err := t.client.Login(ctx, t.username, t.password); err != nil {
		return fmt.Errorf("log in to wiki: %w", err)
	}
	contacts, err := t.client.Contacts(ctx)
	if err != nil {
		return fmt.Errorf("fetch email contacts: %w", err)
	}

	overrides, err := t.store.GlobalOverrides()
	if err != nil {
		return err
	}

	for _, frequency := range channels {
		if err := t.notifyChannel(ctx, frequency, currentTimestamp, overrides, contacts); err != nil {
			return fmt.Errorf("notify %s channel: %w", frequency, err)
		}
	}
	t.logger.Info("Tick finished", "channels", channels)
	return nil
}

func (t *Ticker) notifyChannel(ctx context.Context, frequency notify.Frequency, currentTimestamp int64, overrides notify.Overrides, contacts map[string]string) error {
	users, err := t.store.UserConfigs(frequency)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return nil
	}

	if err := t.sweeper.Sweep(ctx, users, currentTimestamp); err != nil {
		return fmt.Errorf("deletion sweep: %w", err)
	}

	var notified int
	for _, u := range users {
		posts, err := t.store.NewPostsForUser(u.UserID, u.LastNotifiedTimestamp, currentTimestamp)
		if err != nil {
			return err
		}
		posts = notify.ApplyOverrides(u, posts, overrides)
		if posts.Empty() {
			continue
		}
		lastPostTimestamp := posts.LastTimestamp()

		subject, body := t.composer.Compose(u, posts)
		if !t.deliver(ctx, u, subject, body, contacts) {
			continue
		}
		if err := t.store.StoreUserLastNotified(u.UserID, lastPostTimestamp); err != nil {
			return fmt.Errorf("commit watermark for user %d: %w", u.UserID, err)
		}
		notified++
	}

	t.logger.Info("Channel notified",
		"frequency", frequency,
		"users", len(users),
		"notified", notified)
	return nil
}

// deliver sends one digest. It reports whether the watermark may be
// committed; any failure is logged and skips the user.
func (t *Ticker) deliver(ctx context.Context, u *notify.UserConfig, subject, body string, contacts map[string]string) bool {
	switch u.Delivery {
	case notify.DeliverEmail:
		address, ok := contacts[u.Username]
		if !ok {
			t.logger.Warn("No email back-contact for user, skipping",
				"user", u.Username, "user_id", u.UserID)
			return false
		}
		if err := t.mailer.Send(ctx, address, subject, body); err != nil {
			t.logger.Warn("Email delivery failed, skipping user",
				"user", u.Username, "user_id", u.UserID, "error", err)
			return false
		}
	default:
		if err := t.client.SendMessage(ctx, u.UserID, subject, body); err != nil {
			t.logger.Warn("PM delivery failed, skipping user",
				"user", u.Username, "user_id", u.UserID, "error", err)
			return false
		}
	}
	return true
}
