package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"wikidot-notifier/pkg/notify"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func i64(v int64) *int64 { return &v }

func TestParseUserConfig(t *testing.T) {
	fragment := `slug = "notify:Alice"
username = "alice"
user_id = 1
frequency = "daily"
delivery = "email"
subscriptions = """
http://scp-wiki.wikidot.com/forum/t-123/some-thread
http://scp-wiki.wikidot.com/forum/t-456/other#post-789
"""
unsubscriptions = """

http://scp-wiki.wikidot.com/forum/t-999/muted
"""
`
	user, err := ParseUserConfig(fragment)
	if err != nil {
		t.Fatalf("ParseUserConfig: %v", err)
	}
	want := &notify.UserConfig{
		UserID:    1,
		Username:  "alice",
		Frequency: notify.Daily,
		Language:  "en",
		Delivery:  notify.DeliverEmail,
		ManualSubs: []notify.Subscription{
			{ThreadID: 123, Sub: 1},
			{ThreadID: 456, PostID: i64(789), Sub: 1},
			{ThreadID: 999, Sub: -1},
		},
	}
	if diff := cmp.Diff(want, user); diff != "" {
		t.Errorf("user config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseUserConfigRejectsBadRows(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
	}{
		{"slug owned by someone else", `slug = "notify:mallory"
username = "alice"
user_id = 1
frequency = "daily"
delivery = "pm"`},
		{"slug without owner suffix", `slug = "alice"
username = "alice"
user_id = 1
frequency = "daily"
delivery = "pm"`},
		{"unknown frequency", `slug = "notify:alice"
username = "alice"
user_id = 1
frequency = "fortnightly"
delivery = "pm"`},
		{"unknown delivery", `slug = "notify:alice"
username = "alice"
user_id = 1
frequency = "daily"
delivery = "fax"`},
		{"missing user_id", `slug = "notify:alice"
username = "alice"
frequency = "daily"
delivery = "pm"`},
		{"not toml at all", `[[[`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseUserConfig(tc.fragment); err == nil {
				t.Error("expected a parse error")
			}
		})
	}
}

func TestParseUserConfigSlugCaseInsensitive(t *testing.T) {
	fragment := `slug = "notify:ALICE"
username = "Alice"
user_id = 1
frequency = "hourly"
delivery = "pm"`
	if _, err := ParseUserConfig(fragment); err != nil {
		t.Errorf("case-differing slug must be accepted: %v", err)
	}
}

func TestParseSubscriptionURLsBlankLines(t *testing.T) {
	withBlanks := "\nhttp://w.wikidot.com/forum/t-1/a\n\n\nhttp://w.wikidot.com/forum/t-2/b\n\n"
	without := "http://w.wikidot.com/forum/t-1/a\nhttp://w.wikidot.com/forum/t-2/b"
	if diff := cmp.Diff(ParseSubscriptionURLs(without, 1), ParseSubscriptionURLs(withBlanks, 1)); diff != "" {
		t.Errorf("blank lines changed the result (-want +got):\n%s", diff)
	}
}

func TestParseOverrides(t *testing.T) {
	data := []byte(`[[scp-wiki]]
action = "mute"
thread_title_matches = "^Draft:"

[[scp-wiki]]
action = "mute_thread"
category_id_is = 5
`)
	got, err := ParseOverrides(data)
	if err != nil {
		t.Fatalf("ParseOverrides: %v", err)
	}
	want := notify.Overrides{
		"scp-wiki": {
			{Action: notify.ActionMute, ThreadTitleMatches: "^Draft:"},
			{Action: notify.ActionMuteThread, CategoryIDIs: i64(5)},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("overrides mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseOverrides([]byte("[[w]]\ncategory_id_is = 5\n")); err == nil {
		t.Error("override without action must be rejected")
	}
}

// overrideStore records what the refresher stores.
type overrideStore struct {
	stored []notify.Overrides
}

func (s *overrideStore) StoreGlobalOverrides(o notify.Overrides) error { s.stored = append(s.stored, o); return nil }
func (s *overrideStore) StoreSupportedWikis([]notify.Wiki) error       { return nil }
func (s *overrideStore) StoreUserConfigs([]*notify.UserConfig, bool) error {
	return nil
}

func newTestRefresher(store Store, url string) *Refresher {
	return NewRefresher(nil, store, &Config{
		ConfigWiki:         "notify-config",
		UserConfigCategory: "notify",
		WikiConfigCategory: "wiki",
		OverridesURL:       url,
	}, testLogger)
}

func TestRefreshGlobalOverrides(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("[[w]]\naction = \"mute\"\n"))
	}))
	defer srv.Close()

	store := &overrideStore{}
	r := newTestRefresher(store, srv.URL)
	if err := r.RefreshGlobalOverrides(context.Background()); err != nil {
		t.Fatalf("RefreshGlobalOverrides: %v", err)
	}
	if len(store.stored) != 1 {
		t.Fatalf("stored %d times, want 1", len(store.stored))
	}
	if len(store.stored[0]["w"]) != 1 {
		t.Errorf("stored overrides = %+v", store.stored[0])
	}
}

func TestRefreshGlobalOverridesKeepsCacheOnFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := &overrideStore{}
	r := newTestRefresher(store, srv.URL)
	// The tick must proceed on a stale snapshot, not fail.
	if err := r.RefreshGlobalOverrides(context.Background()); err != nil {
		t.Fatalf("RefreshGlobalOverrides: %v", err)
	}
	if len(store.stored) != 0 {
		t.Errorf("stored %d times on a failed fetch, want 0", len(store.stored))
	}
}

func TestRefreshGlobalOverridesSkipsStoreOnParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not toml [[["))
	}))
	defer srv.Close()

	store := &overrideStore{}
	r := newTestRefresher(store, srv.URL)
	if err := r.RefreshGlobalOverrides(context.Background()); err != nil {
		t.Fatalf("RefreshGlobalOverrides: %v", err)
	}
	if len(store.stored) != 0 {
		t.Errorf("stored %d times on a parse failure, want 0", len(store.stored))
	}
}

func TestTryCachePropagatesUncaughtErrors(t *testing.T) {
	boom := errors.New("boom")
	err := TryCache(testLogger, "thing",
		func() (int, error) { return 0, boom },
		func(int) error { t.Fatal("store must not run"); return nil },
		func(error) bool { return false })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
