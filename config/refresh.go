package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"wikidot-notifier/pkg/notify"
	"wikidot-notifier/wikidot"
)

// Lister is the slice of the wiki client the refresher needs.
type Lister interface {
	Listpages(ctx context.Context, wikiID, category, moduleBody string, each func(fragment string) error) error
}

// Store is the slice of the cache store the refresher writes to.
type Store interface {
	StoreGlobalOverrides(notify.Overrides) error
	StoreSupportedWikis([]notify.Wiki) error
	StoreUserConfigs(users []*notify.UserConfig, overwriteExisting bool) error
}

// rowModuleBody renders each configuration page as a TOML document: the
// page slug followed by the page's own TOML content.
const rowModuleBody = "slug = \"%%fullname%%\"\n%%content%%"

// Refresher pulls remote configuration and stores it through the cache,
// wrapping each job in the try-cache pattern.
type Refresher struct {
	client     Lister
	store      Store
	httpClient *http.Client
	logger     *slog.Logger

	configWiki         string
	userConfigCategory string
	wikiConfigCategory string
	overridesURL       string
}

// NewRefresher wires a refresher for the given configuration wiki.
func NewRefresher(client Lister, store Store, cfg *Config, logger *slog.Logger) *Refresher {
	return &Refresher{
		client:             client,
		store:              store,
		httpClient:         &http.Client{Timeout: 30 * time.Second},
		logger:             logger,
		configWiki:         cfg.ConfigWiki,
		userConfigCategory: cfg.UserConfigCategory,
		wikiConfigCategory: cfg.WikiConfigCategory,
		overridesURL:       cfg.OverridesURL,
	}
}

// caughtRefreshErr accepts the transient failure kinds a refresh absorbs:
// connection exhaustion and upstream module failures. A stale snapshot is
// preferable to a dead tick.
func caughtRefreshErr(err error) bool {
	var me *wikidot.ModuleError
	return wikidot.IsOngoingConnectionError(err) || errors.As(err, &me)
}

// RefreshGlobalOverrides fetches the overrides document and replaces the
// stored map. A fetch failure keeps the cached map; a parse failure is
// treated as empty and not stored.
func (r *Refresher) RefreshGlobalOverrides(ctx context.Context) error {
	return TryCache(r.logger, "global overrides",
		func() (notify.Overrides, error) { return r.fetchOverrides(ctx) },
		r.store.StoreGlobalOverrides,
		caughtRefreshErr)
}

func (r *Refresher) fetchOverrides(ctx context.Context) (notify.Overrides, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.overridesURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &wikidot.OngoingConnectionError{Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			r.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, &wikidot.OngoingConnectionError{Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &wikidot.OngoingConnectionError{Err: err}
	}

	overrides, err := ParseOverrides(data)
	if err != nil {
		r.logger.Warn("Overrides document failed to parse", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDoNotStore, err)
	}
	return overrides, nil
}

// ParseOverrides decodes the global-overrides TOML document: a top-level
// map of wiki ID to override records. Records without an action are
// rejected.
func ParseOverrides(data []byte) (notify.Overrides, error) {
	var overrides notify.Overrides
	if err := toml.Unmarshal(data, &overrides); err != nil {
		return nil, err
	}
	for wikiID, list := range overrides {
		for _, o := range list {
			if o.Action == "" {
				return nil, fmt.Errorf("override for wiki %s has no action", wikiID)
			}
		}
	}
	return overrides, nil
}

// wikiConfigRow is the TOML schema of one wiki-config page.
type wikiConfigRow struct {
	Slug   string `toml:"slug"`
	ID     string `toml:"id"`
	Name   string `toml:"name"`
	Secure int    `toml:"secure"`
}

// RefreshSupportedWikis replaces the supported-wiki set from the
// configuration wiki. Rows that fail to parse are skipped with a log line.
func (r *Refresher) RefreshSupportedWikis(ctx context.Context) error {
	return TryCache(r.logger, "supported wikis",
		func() ([]notify.Wiki, error) {
			var wikis []notify.Wiki
			err := r.client.Listpages(ctx, r.configWiki, r.wikiConfigCategory, rowModuleBody,
				func(fragment string) error {
					var row wikiConfigRow
					if err := toml.Unmarshal([]byte(fragment), &row); err != nil {
						r.logger.Warn("Skipping unparsable wiki config row", "error", err)
						return nil
					}
					if row.ID == "" {
						r.logger.Warn("Skipping wiki config row without id", "slug", row.Slug)
						return nil
					}
					wikis = append(wikis, notify.Wiki{
						ID:     row.ID,
						Name:   row.Name,
						Secure: row.Secure != 0,
					})
					return nil
				})
			return wikis, err
		},
		r.store.StoreSupportedWikis,
		caughtRefreshErr)
}

// userConfigRow is the TOML schema of one user-config page.
type userConfigRow struct {
	Slug            string `toml:"slug"`
	Username        string `toml:"username"`
	UserID          int64  `toml:"user_id"`
	Frequency       string `toml:"frequency"`
	Language        string `toml:"language"`
	Delivery        string `toml:"delivery"`
	Tags            string `toml:"tags"`
	Subscriptions   string `toml:"subscriptions"`
	Unsubscriptions string `toml:"unsubscriptions"`
}

// RefreshUserConfigs replaces the stored user configs from the
// configuration wiki. Rows that fail to parse or fail the slug ownership
// check are skipped with a log line.
func (r *Refresher) RefreshUserConfigs(ctx context.Context) error {
	return TryCache(r.logger, "user configs",
		func() ([]*notify.UserConfig, error) {
			var users []*notify.UserConfig
			err := r.client.Listpages(ctx, r.configWiki, r.userConfigCategory, rowModuleBody,
				func(fragment string) error {
					user, err := ParseUserConfig(fragment)
					if err != nil {
						r.logger.Warn("Skipping user config row", "error", err)
						return nil
					}
					users = append(users, user)
					return nil
				})
			return users, err
		},
		func(users []*notify.UserConfig) error {
			return r.store.StoreUserConfigs(users, true)
		},
		caughtRefreshErr)
}

// ParseUserConfig decodes one user-config page. The page is kept only when
// the slug's suffix after ":" matches the claimed username
// case-insensitively; anyone can create a page, but only the named user
// owns their config slug.
func ParseUserConfig(fragment string) (*notify.UserConfig, error) {
	var row userConfigRow
	if err := toml.Unmarshal([]byte(fragment), &row); err != nil {
		return nil, fmt.Errorf("parse user config: %w", err)
	}
	if row.Username == "" || row.UserID == 0 {
		return nil, fmt.Errorf("user config %q missing username or user_id", row.Slug)
	}

	_, owner, found := strings.Cut(row.Slug, ":")
	if !found || !strings.EqualFold(owner, row.Username) {
		return nil, fmt.Errorf("user config slug %q does not belong to %q", row.Slug, row.Username)
	}

	frequency := notify.Frequency(row.Frequency)
	switch frequency {
	case notify.Hourly, notify.Daily, notify.Weekly, notify.Monthly:
	default:
		return nil, fmt.Errorf("user config %q has unknown frequency %q", row.Slug, row.Frequency)
	}

	delivery := row.Delivery
	if delivery != notify.DeliverPM && delivery != notify.DeliverEmail {
		return nil, fmt.Errorf("user config %q has unknown delivery %q", row.Slug, row.Delivery)
	}

	language := row.Language
	if language == "" {
		language = "en"
	}

	user := &notify.UserConfig{
		UserID:    row.UserID,
		Username:  row.Username,
		Frequency: frequency,
		Language:  language,
		Delivery:  delivery,
		Tags:      row.Tags,
	}
	user.ManualSubs = append(user.ManualSubs, ParseSubscriptionURLs(row.Subscriptions, 1)...)
	user.ManualSubs = append(user.ManualSubs, ParseSubscriptionURLs(row.Unsubscriptions, -1)...)
	return user, nil
}

var subURLRE = regexp.MustCompile(`t-(\d+)(?:\S*#post-(\d+))?`)

// ParseSubscriptionURLs extracts subscription records from a newline
// separated block of thread/post URLs. Lines without a thread ID (blank
// lines included) are skipped silently.
func ParseSubscriptionURLs(block string, sub int) []notify.Subscription {
	var subs []notify.Subscription
	for _, line := range strings.Split(block, "\n") {
		m := subURLRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		s := notify.Subscription{ThreadID: mustInt(m[1]), Sub: sub}
		if m[2] != "" {
			postID := mustInt(m[2])
			s.PostID = &postID
		}
		subs = append(subs, s)
	}
	return subs
}

func mustInt(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}
