package cache

import (
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// A migration is a pair of up/down statement lists. The schema version in
// meta.version is the index of the last applied migration, zero-padded so
// versions sort as strings; a database without a meta table is at -1.
type migration struct {
	up   []string
	down []string
}

var migrations = []migration{
	{
		up: []string{
			`CREATE TABLE meta (
				version VARCHAR(8) NOT NULL
			)`,
			`CREATE TABLE wikis (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(256) NOT NULL,
				secure BOOLEAN NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE categories (
				id BIGINT PRIMARY KEY,
				name VARCHAR(256) NOT NULL
			)`,
			`CREATE TABLE threads (
				id BIGINT PRIMARY KEY,
				wiki_id VARCHAR(64) NOT NULL REFERENCES wikis (id),
				category_id BIGINT,
				title VARCHAR(512) NOT NULL,
				creator_username VARCHAR(128) NOT NULL,
				created_timestamp BIGINT NOT NULL,
				first_post_id BIGINT,
				is_deleted BOOLEAN NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE posts (
				id BIGINT PRIMARY KEY,
				thread_id BIGINT NOT NULL REFERENCES threads (id),
				parent_post_id BIGINT,
				posted_timestamp BIGINT NOT NULL,
				title VARCHAR(512) NOT NULL,
				snippet TEXT,
				user_id BIGINT NOT NULL,
				username VARCHAR(128) NOT NULL,
				is_deleted BOOLEAN NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX idx_posts__thread ON posts (thread_id)`,
			`CREATE INDEX idx_posts__parent ON posts (parent_post_id)`,
			`CREATE INDEX idx_posts__posted ON posts (posted_timestamp)`,
			`CREATE TABLE user_configs (
				user_id BIGINT PRIMARY KEY,
				username VARCHAR(128) NOT NULL,
				frequency VARCHAR(16) NOT NULL,
				language VARCHAR(16) NOT NULL,
				delivery VARCHAR(16) NOT NULL,
				tags TEXT,
				last_notified_timestamp BIGINT,
				base_notified_timestamp BIGINT NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE manual_subs (
				user_id BIGINT NOT NULL REFERENCES user_configs (user_id),
				thread_id BIGINT NOT NULL,
				post_id BIGINT,
				sub INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_manual_subs__user ON manual_subs (user_id)`,
			`CREATE TABLE global_overrides (
				wiki_id VARCHAR(64) NOT NULL,
				action VARCHAR(32) NOT NULL,
				category_id_is BIGINT,
				thread_id_is BIGINT,
				thread_title_matches VARCHAR(256)
			)`,
		},
		down: []string{
			`DROP TABLE global_overrides`,
			`DROP TABLE manual_subs`,
			`DROP TABLE user_configs`,
			`DROP TABLE posts`,
			`DROP TABLE threads`,
			`DROP TABLE categories`,
			`DROP TABLE wikis`,
			`DROP TABLE meta`,
		},
	},
}

// formatVersion renders a migration index as the zero-padded meta.version
// string ("000", "001", ...).
func formatVersion(n int) string {
	return fmt.Sprintf("%03d", n)
}

// version reads the current schema version, or -1 when the meta table does
// not exist yet.
func (s *Store) version() (int, error) {
	var raw string
	if err := s.db.Table("meta").Select("version").Limit(1).Scan(&raw).Error; err != nil {
		// A missing meta table means a virgin database. GORM surfaces
		// the driver error as-is, so detect it by message.
		if isMissingTableErr(err) {
			return -1, nil
		}
		return -1, fmt.Errorf("read schema version: %w", err)
	}
	if raw == "" {
		return -1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1, fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	return n, nil
}

func isMissingTableErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such table") || // sqlite
		strings.Contains(msg, "doesn't exist") // mysql 1146
}

// ApplyMigrations brings the schema up to the latest version. Each
// migration and its version bump run in a single transaction.
func (s *Store) ApplyMigrations() error {
	current, err := s.version()
	if err != nil {
		return err
	}
	for i := current + 1; i < len(migrations); i++ {
		s.logger.Info("Applying migration", "version", formatVersion(i))
		err := s.db.Transaction(func(tx *gorm.DB) error {
			for _, stmt := range migrations[i].up {
				if err := tx.Exec(stmt).Error; err != nil {
					return fmt.Errorf("migration %s: %w", formatVersion(i), err)
				}
			}
			return writeVersion(tx, i)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func writeVersion(tx *gorm.DB, n int) error {
	if err := tx.Exec(`DELETE FROM meta`).Error; err != nil {
		return fmt.Errorf("clear schema version: %w", err)
	}
	if err := tx.Exec(`INSERT INTO meta (version) VALUES (?)`, formatVersion(n)).Error; err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

// Scrub tears the schema down to version -1 and rebuilds it. Refuses to
// run unless the database name ends in "_test".
func (s *Store) Scrub() error {
	if !strings.HasSuffix(strings.TrimSuffix(s.name, ".db"), "_test") {
		return fmt.Errorf("refusing to scrub non-test database %q", s.name)
	}
	current, err := s.version()
	if err != nil {
		return err
	}
	for i := current; i >= 0; i-- {
		s.logger.Info("Reverting migration", "version", formatVersion(i))
		err := s.db.Transaction(func(tx *gorm.DB) error {
			for _, stmt := range migrations[i].down {
				if err := tx.Exec(stmt).Error; err != nil {
					return fmt.Errorf("revert migration %s: %w", formatVersion(i), err)
				}
			}
			if i == 0 {
				// meta is gone with migration 0; nothing to record.
				return nil
			}
			return writeVersion(tx, i-1)
		})
		if err != nil {
			return err
		}
	}
	return s.ApplyMigrations()
}
