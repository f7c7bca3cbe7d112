// Package ingest turns each supported wiki's new-posts RSS feed into fully
// contextualised thread and post records, walking just enough thread pages
// to capture every new post.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"wikidot-notifier/pkg/notify"
	"wikidot-notifier/wikidot"
)

// Walker is the slice of the wiki client the ingester needs.
type Walker interface {
	NewPostsFeed(ctx context.Context, wikiID string) ([]wikidot.FeedPost, error)
	Thread(ctx context.Context, wikiID string, threadID int64, postID *int64) (*wikidot.ThreadMeta, wikidot.PostStream, error)
}

// Store is the slice of the cache store the ingester writes to.
type Store interface {
	SupportedWikis() ([]notify.Wiki, error)
	FindNewPosts(ids []int64) ([]int64, error)
	FindNewThreads(ids []int64) ([]int64, error)
	StoreCategory(c *notify.Category) error
	StoreThread(t *notify.Thread) error
	StorePost(p *notify.Post) error
	StoreThreadFirstPost(threadID, postID int64) error
}

// Ingester reads new posts from every supported wiki into the cache.
type Ingester struct {
	client Walker
	store  Store
	logger *slog.Logger
}

// New creates an ingester.
func New(client Walker, store Store, logger *slog.Logger) *Ingester {
	return &Ingester{client: client, store: store, logger: logger}
}

// IngestAll processes every supported wiki. limitWikis, when non-empty,
// is an allow-list: only the named wikis are processed. A failing wiki is
// logged and skipped so the rest proceed.
func (i *Ingester) IngestAll(ctx context.Context, limitWikis []string) error {
	wikis, err := i.store.SupportedWikis()
	if err != nil {
		return fmt.Errorf("list supported wikis: %w", err)
	}
	for _, wiki := range wikis {
		if len(limitWikis) > 0 && !slices.Contains(limitWikis, wiki.ID) {
			continue
		}
		if err := i.IngestWiki(ctx, wiki.ID); err != nil {
			i.logger.Warn("Wiki ingestion failed, skipping", "wiki", wiki.ID, "error", err)
		}
	}
	return nil
}

// walkItem is one queued thread-page fetch: a full walk for an uncached
// thread, or a single page targeting one new post.
type walkItem struct {
	threadID int64
	postID   int64
	full     bool
}

// IngestWiki ingests one wiki's new posts.
func (i *Ingester) IngestWiki(ctx context.Context, wikiID string) error {
	feed, err := i.client.NewPostsFeed(ctx, wikiID)
	if err != nil {
		return fmt.Errorf("fetch new-posts feed: %w", err)
	}

	postIDs := make([]int64, 0, len(feed))
	for _, fp := range feed {
		postIDs = append(postIDs, fp.PostID)
	}
	newPostIDs, err := i.store.FindNewPosts(postIDs)
	if err != nil {
		return err
	}
	isNewPost := toSet(newPostIDs)

	var threadIDs []int64
	for _, fp := range feed {
		if isNewPost[fp.PostID] {
			threadIDs = append(threadIDs, fp.ThreadID)
		}
	}
	newThreadIDs, err := i.store.FindNewThreads(threadIDs)
	if err != nil {
		return err
	}
	needsFullWalk := toSet(newThreadIDs)

	// Full-thread walks run first: a full walk captures every post on the
	// thread, so later single-page fetches for the same thread can be
	// skipped entirely.
	var work []walkItem
	for _, fp := range feed {
		if !isNewPost[fp.PostID] {
			continue
		}
		work = append(work, walkItem{
			threadID: fp.ThreadID,
			postID:   fp.PostID,
			full:     needsFullWalk[fp.ThreadID],
		})
	}
	slices.SortStableFunc(work, func(a, b walkItem) int {
		switch {
		case a.full == b.full:
			return 0
		case a.full:
			return -1
		default:
			return 1
		}
	})

	postsSeen := make(map[int64]bool)
	threadsSeenFull := make(map[int64]bool)
	var stored int

	for _, item := range work {
		if item.full && threadsSeenFull[item.threadID] {
			continue
		}
		if !item.full && postsSeen[item.postID] {
			continue
		}

		var target *int64
		if !item.full {
			pid := item.postID
			target = &pid
		}
		meta, posts, err := i.client.Thread(ctx, wikiID, item.threadID, target)
		if err != nil {
			// A thread deleted mid-ingest is transient here; the
			// deletion sweep owns tombstoning.
			if wikidot.IsThreadNotExists(err) {
				i.logger.Info("Thread vanished during ingestion, skipping",
					"wiki", wikiID, "thread_id", item.threadID)
				continue
			}
			return err
		}

		if meta.CategoryID != nil && meta.CategoryName != "" {
			if err := i.store.StoreCategory(&notify.Category{
				ID:   *meta.CategoryID,
				Name: meta.CategoryName,
			}); err != nil {
				return err
			}
		}
		if err := i.store.StoreThread(&notify.Thread{
			ID:               meta.ID,
			WikiID:           wikiID,
			CategoryID:       meta.CategoryID,
			Title:            meta.Title,
			CreatorUsername:  meta.CreatorUsername,
			CreatedTimestamp: meta.CreatedTimestamp,
		}); err != nil {
			return err
		}

		first := true
		for {
			p, ok, err := posts.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := i.store.StorePost(p); err != nil {
				return err
			}
			postsSeen[p.ID] = true
			stored++
			if first && item.full {
				if err := i.store.StoreThreadFirstPost(item.threadID, p.ID); err != nil {
					return err
				}
			}
			first = false
		}
		if item.full {
			threadsSeenFull[item.threadID] = true
		}
	}

	i.logger.Info("Wiki ingested",
		"wiki", wikiID,
		"feed_entries", len(feed),
		"new_posts", len(newPostIDs),
		"new_threads", len(newThreadIDs),
		"posts_stored", stored)
	return nil
}

func toSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
