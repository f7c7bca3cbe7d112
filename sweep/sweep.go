// Package sweep reconciles the cache with upstream deletions before a
// notification round: every post a user is about to be told about is
// verified to still exist, and vanished threads and posts are tombstoned.
package sweep

import (
	"context"
	"fmt"
	"log/slog"

	"wikidot-notifier/pkg/notify"
	"wikidot-notifier/wikidot"
)

// Checker is the slice of the wiki client the sweeper needs.
type Checker interface {
	Thread(ctx context.Context, wikiID string, threadID int64, postID *int64) (*wikidot.ThreadMeta, wikidot.PostStream, error)
}

// Store is the slice of the cache store the sweeper uses.
type Store interface {
	NewPostsForUser(userID int64, lo, hi int64) (*notify.NewPosts, error)
	MarkThreadAsDeleted(threadID int64) error
	MarkPostAsDeleted(postID int64) error
}

// Sweeper verifies candidate posts against the live wiki.
type Sweeper struct {
	client Checker
	store  Store
	logger *slog.Logger
}

// New creates a sweeper.
func New(client Checker, store Store, logger *slog.Logger) *Sweeper {
	return &Sweeper{client: client, store: store, logger: logger}
}

// check is one pending existence probe.
type check struct {
	wikiID   string
	threadID int64
	postID   int64
}

// Sweep checks every post the given users would be notified about in the
// window ending at hi. A post confirmed once is not checked again within
// the same sweep, and a thread found deleted skips all its other posts.
func (s *Sweeper) Sweep(ctx context.Context, users []*notify.UserConfig, hi int64) error {
	confirmed := make(map[int64]bool)
	deletedThreads := make(map[int64]bool)

	var checks []check
	queued := make(map[int64]bool)
	for _, u := range users {
		posts, err := s.store.NewPostsForUser(u.UserID, u.LastNotifiedTimestamp, hi)
		if err != nil {
			return fmt.Errorf("select candidate posts: %w", err)
		}
		for _, p := range append(posts.ThreadPosts, posts.PostReplies...) {
			if queued[p.ID] {
				continue
			}
			queued[p.ID] = true
			checks = append(checks, check{wikiID: p.WikiID, threadID: p.ThreadID, postID: p.ID})
		}
	}

	var tombstonedPosts, tombstonedThreads int
	for _, c := range checks {
		if confirmed[c.postID] || deletedThreads[c.threadID] {
			continue
		}
		pid := c.postID
		_, posts, err := s.client.Thread(ctx, c.wikiID, c.threadID, &pid)
		if err != nil {
			if wikidot.IsThreadNotExists(err) {
				if err := s.store.MarkThreadAsDeleted(c.threadID); err != nil {
					return err
				}
				deletedThreads[c.threadID] = true
				tombstonedThreads++
				s.logger.Info("Thread deleted upstream, tombstoned",
					"wiki", c.wikiID, "thread_id", c.threadID)
				continue
			}
			return fmt.Errorf("verify post %d: %w", c.postID, err)
		}

		found := false
		for {
			p, ok, perr := posts.Next()
			if perr != nil {
				return fmt.Errorf("verify post %d: %w", c.postID, perr)
			}
			if !ok {
				break
			}
			confirmed[p.ID] = true
			found = true
		}
		if !found {
			// The page that would contain the post has no posts at
			// all: the post itself is gone.
			if err := s.store.MarkPostAsDeleted(c.postID); err != nil {
				return err
			}
			tombstonedPosts++
			s.logger.Info("Post deleted upstream, tombstoned",
				"wiki", c.wikiID, "thread_id", c.threadID, "post_id", c.postID)
		}
	}

	if tombstonedPosts > 0 || tombstonedThreads > 0 {
		s.logger.Info("Deletion sweep finished",
			"checked", len(checks),
			"posts_tombstoned", tombstonedPosts,
			"threads_tombstoned", tombstonedThreads)
	}
	return nil
}
