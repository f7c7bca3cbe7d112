package cache

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wikidot-notifier/pkg/notify"
)

// FindNewPosts returns the subset of ids not yet present in the cache.
// Tombstoned posts count as present, so deleted posts are never
// re-ingested.
func (s *Store) FindNewPosts(ids []int64) ([]int64, error) {
	return s.findNew("posts", ids)
}

// FindNewThreads returns the subset of ids with no cached thread.
func (s *Store) FindNewThreads(ids []int64) ([]int64, error) {
	return s.findNew("threads", ids)
}

func (s *Store) findNew(table string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var known []int64
	if err := s.db.Table(table).Where("id IN ?", ids).Pluck("id", &known).Error; err != nil {
		return nil, fmt.Errorf("find new %s: %w", table, err)
	}
	seen := make(map[int64]bool, len(known))
	for _, id := range known {
		seen[id] = true
	}
	var fresh []int64
	for _, id := range ids {
		if !seen[id] {
			fresh = append(fresh, id)
			seen[id] = true
		}
	}
	return fresh, nil
}

// StoreThread upserts a thread. A previously set deletion tombstone is
// never cleared.
func (s *Store) StoreThread(t *notify.Thread) error {
	row := threadToRow(t)
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"wiki_id", "category_id", "title", "creator_username", "created_timestamp",
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("store thread %d: %w", t.ID, err)
	}
	return nil
}

// StorePost upserts a post. Idempotent: storing the same post twice is
// equivalent to storing it once. The tombstone column is never cleared.
func (s *Store) StorePost(p *notify.Post) error {
	row := postToRow(p)
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"thread_id", "parent_post_id", "posted_timestamp", "title", "snippet",
			"user_id", "username",
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("store post %d: %w", p.ID, err)
	}
	return nil
}

// StoreThreadFirstPost records which post opened a thread. Authorship of
// the first post drives automatic thread subscriptions.
func (s *Store) StoreThreadFirstPost(threadID, postID int64) error {
	err := s.db.Table("threads").Where("id = ?", threadID).
		Update("first_post_id", postID).Error
	if err != nil {
		return fmt.Errorf("store first post of thread %d: %w", threadID, err)
	}
	return nil
}

// Thread returns a cached thread, or nil when absent.
func (s *Store) Thread(id int64) (*notify.Thread, error) {
	var row threadRow
	err := s.db.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load thread %d: %w", id, err)
	}
	return &notify.Thread{
		ID:               row.ID,
		WikiID:           row.WikiID,
		CategoryID:       row.CategoryID,
		Title:            row.Title,
		CreatorUsername:  row.CreatorUsername,
		CreatedTimestamp: row.CreatedTimestamp,
		FirstPostID:      row.FirstPostID,
		IsDeleted:        row.IsDeleted,
	}, nil
}

// MarkThreadAsDeleted tombstones a thread. Idempotent; the tombstone is
// monotonic and suppresses every post of the thread from future digests.
func (s *Store) MarkThreadAsDeleted(threadID int64) error {
	err := s.db.Table("threads").Where("id = ?", threadID).
		Update("is_deleted", true).Error
	if err != nil {
		return fmt.Errorf("mark thread %d deleted: %w", threadID, err)
	}
	return nil
}

// MarkPostAsDeleted tombstones a post and, transitively, every descendant
// reply. The walk is an iterative breadth-first sweep over parent_post_id
// inside one transaction.
func (s *Store) MarkPostAsDeleted(postID int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		frontier := []int64{postID}
		for len(frontier) > 0 {
			if err := tx.Table("posts").Where("id IN ?", frontier).
				Update("is_deleted", true).Error; err != nil {
				return fmt.Errorf("mark posts deleted: %w", err)
			}
			var children []int64
			if err := tx.Table("posts").Where("parent_post_id IN ?", frontier).
				Pluck("id", &children).Error; err != nil {
				return fmt.Errorf("collect child posts: %w", err)
			}
			frontier = children
		}
		return nil
	})
}

// Post returns a cached post, or nil when absent.
func (s *Store) Post(id int64) (*notify.Post, error) {
	var row postRow
	err := s.db.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load post %d: %w", id, err)
	}
	p := notify.Post(row)
	return &p, nil
}
