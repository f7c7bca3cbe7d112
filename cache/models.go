// Package cache implements the durable relational store behind the
// notification pipeline: wikis, threads, posts, user configs, manual
// subscriptions, global overrides and per-user watermarks. It is backed by
// GORM with a MySQL-class driver in production and a pure-Go SQLite driver
// in tests.
package cache

import "wikidot-notifier/pkg/notify"

// Row types mapped by GORM. The schema itself is created by the versioned
// migrations in migrations.go, not by AutoMigrate; these structs only
// describe the column mapping.

type wikiRow struct {
	ID     string `gorm:"column:id;primaryKey"`
	Name   string `gorm:"column:name"`
	Secure bool   `gorm:"column:secure"`
}

func (wikiRow) TableName() string { return "wikis" }

type categoryRow struct {
	ID   int64  `gorm:"column:id;primaryKey"`
	Name string `gorm:"column:name"`
}

func (categoryRow) TableName() string { return "categories" }

type threadRow struct {
	ID               int64  `gorm:"column:id;primaryKey"`
	WikiID           string `gorm:"column:wiki_id"`
	CategoryID       *int64 `gorm:"column:category_id"`
	Title            string `gorm:"column:title"`
	CreatorUsername  string `gorm:"column:creator_username"`
	CreatedTimestamp int64  `gorm:"column:created_timestamp"`
	FirstPostID      *int64 `gorm:"column:first_post_id"`
	IsDeleted        bool   `gorm:"column:is_deleted"`
}

func (threadRow) TableName() string { return "threads" }

type postRow struct {
	ID              int64  `gorm:"column:id;primaryKey"`
	ThreadID        int64  `gorm:"column:thread_id"`
	ParentPostID    *int64 `gorm:"column:parent_post_id"`
	PostedTimestamp int64  `gorm:"column:posted_timestamp"`
	Title           string `gorm:"column:title"`
	Snippet         string `gorm:"column:snippet"`
	UserID          int64  `gorm:"column:user_id"`
	Username        string `gorm:"column:username"`
	IsDeleted       bool   `gorm:"column:is_deleted"`
}

func (postRow) TableName() string { return "posts" }

type userConfigRow struct {
	UserID                int64  `gorm:"column:user_id;primaryKey"`
	Username              string `gorm:"column:username"`
	Frequency             string `gorm:"column:frequency"`
	Language              string `gorm:"column:language"`
	Delivery              string `gorm:"column:delivery"`
	Tags                  string `gorm:"column:tags"`
	LastNotifiedTimestamp *int64 `gorm:"column:last_notified_timestamp"`
	BaseNotifiedTimestamp int64  `gorm:"column:base_notified_timestamp"`
}

func (userConfigRow) TableName() string { return "user_configs" }

type manualSubRow struct {
	UserID   int64  `gorm:"column:user_id"`
	ThreadID int64  `gorm:"column:thread_id"`
	PostID   *int64 `gorm:"column:post_id"`
	Sub      int    `gorm:"column:sub"`
}

func (manualSubRow) TableName() string { return "manual_subs" }

type overrideRow struct {
	WikiID             string `gorm:"column:wiki_id"`
	Action             string `gorm:"column:action"`
	CategoryIDIs       *int64 `gorm:"column:category_id_is"`
	ThreadIDIs         *int64 `gorm:"column:thread_id_is"`
	ThreadTitleMatches string `gorm:"column:thread_title_matches"`
}

func (overrideRow) TableName() string { return "global_overrides" }

func threadToRow(t *notify.Thread) *threadRow {
	return &threadRow{
		ID:               t.ID,
		WikiID:           t.WikiID,
		CategoryID:       t.CategoryID,
		Title:            t.Title,
		CreatorUsername:  t.CreatorUsername,
		CreatedTimestamp: t.CreatedTimestamp,
		FirstPostID:      t.FirstPostID,
		IsDeleted:        t.IsDeleted,
	}
}

func postToRow(p *notify.Post) *postRow {
	return &postRow{
		ID:              p.ID,
		ThreadID:        p.ThreadID,
		ParentPostID:    p.ParentPostID,
		PostedTimestamp: p.PostedTimestamp,
		Title:           p.Title,
		Snippet:         p.Snippet,
		UserID:          p.UserID,
		Username:        p.Username,
		IsDeleted:       p.IsDeleted,
	}
}
