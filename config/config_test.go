package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validConfig = `wikidot_username = "notify-bot"
config_wiki = "notify-config"
user_config_category = "notify"
wiki_config_category = "wiki"
overrides_url = "http://example.com/overrides.toml"
gmail_username = "bot@example.com"

[database]
driver = "sqlite"
database_name = "notifier.db"

[path]
lang = "?lang"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := Load(path, "/opt/notifier")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WikidotUsername != "notify-bot" {
		t.Errorf("wikidot_username = %q", cfg.WikidotUsername)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("database.driver = %q", cfg.Database.Driver)
	}
	// "?" resolves against the config file's directory.
	if want := filepath.Join(filepath.Dir(path), "lang"); cfg.Path.Lang != want {
		t.Errorf("path.lang = %q, want %q", cfg.Path.Lang, want)
	}
}

func TestLoadRejectsMissingKeys(t *testing.T) {
	path := writeConfig(t, `wikidot_username = "notify-bot"`)
	if _, err := Load(path, "/opt/notifier"); err == nil {
		t.Error("config without required keys must be rejected")
	}
}

func TestResolvePath(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"@lang", filepath.Join("/opt/notifier", "lang")},
		{"?lang", filepath.Join("/etc/notifier", "lang")},
		{"/abs/lang", "/abs/lang"},
		{"rel/lang", "rel/lang"},
	}
	for _, tc := range tests {
		if got := ResolvePath(tc.value, "/opt/notifier", "/etc/notifier"); got != tc.want {
			t.Errorf("ResolvePath(%q) = %q, want %q", tc.value, got, tc.want)
		}
	}
}

func TestLoadAuth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.toml")
	content := `mysql_host = "db.internal:3306"
mysql_username = "notifier"
mysql_password = "hunter2"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	auth, err := LoadAuth(path)
	if err != nil {
		t.Fatalf("LoadAuth: %v", err)
	}
	if auth.MySQLHost != "db.internal:3306" || auth.MySQLUsername != "notifier" || auth.MySQLPassword != "hunter2" {
		t.Errorf("auth = %+v", auth)
	}
}
