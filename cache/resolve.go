package cache

import (
	"fmt"

	"wikidot-notifier/pkg/notify"
)

// candidateRow is the flat scan target for the resolver queries: a post
// plus its thread context.
type candidateRow struct {
	ID               int64
	ThreadID         int64
	ParentPostID     *int64
	PostedTimestamp  int64
	Title            string
	Snippet          string
	UserID           int64
	Username         string
	WikiID           string
	ThreadTitle      string
	ThreadCategoryID *int64
	ParentPostTitle  string
}

func (r *candidateRow) info() *notify.PostInfo {
	return &notify.PostInfo{
		Post: notify.Post{
			ID:              r.ID,
			ThreadID:        r.ThreadID,
			ParentPostID:    r.ParentPostID,
			PostedTimestamp: r.PostedTimestamp,
			Title:           r.Title,
			Snippet:         r.Snippet,
			UserID:          r.UserID,
			Username:        r.Username,
		},
		WikiID:           r.WikiID,
		ThreadTitle:      r.ThreadTitle,
		ThreadCategoryID: r.ThreadCategoryID,
		ParentPostTitle:  r.ParentPostTitle,
	}
}

// threadPostsQuery selects posts in threads the user is subscribed to,
// either by an explicit thread-level subscription or by having authored
// the thread's first post, excluding explicitly unsubscribed threads, the
// user's own posts, posts the user already replied to, and tombstones.
const threadPostsQuery = `
	SELECT p.id, p.thread_id, p.parent_post_id, p.posted_timestamp,
	       p.title, p.snippet, p.user_id, p.username,
	       t.wiki_id, t.title AS thread_title, t.category_id AS thread_category_id,
	       '' AS parent_post_title
	FROM posts p
	JOIN threads t ON t.id = p.thread_id
	WHERE (
		EXISTS (
			SELECT 1 FROM manual_subs ms
			WHERE ms.user_id = @user AND ms.thread_id = p.thread_id
			AND ms.post_id IS NULL AND ms.sub = 1
		)
		OR EXISTS (
			SELECT 1 FROM posts fp
			WHERE fp.id = t.first_post_id AND fp.user_id = @user
		)
	)
	AND NOT EXISTS (
		SELECT 1 FROM manual_subs mu
		WHERE mu.user_id = @user AND mu.thread_id = p.thread_id
		AND mu.post_id IS NULL AND mu.sub = -1
	)
	AND p.posted_timestamp > @lo AND p.posted_timestamp <= @hi
	AND p.user_id <> @user
	AND NOT EXISTS (
		SELECT 1 FROM posts r
		WHERE r.parent_post_id = p.id AND r.user_id = @user
	)
	AND p.is_deleted = 0 AND t.is_deleted = 0
	ORDER BY p.posted_timestamp, p.id`

// postRepliesQuery selects replies to posts the user is subscribed to,
// either by an explicit post-level subscription or by having authored the
// parent post, with the same window, own-post, already-replied and
// tombstone exclusions. A post-level unsubscription on the parent mutes
// its replies; a thread-level unsubscription does not.
const postRepliesQuery = `
	SELECT p.id, p.thread_id, p.parent_post_id, p.posted_timestamp,
	       p.title, p.snippet, p.user_id, p.username,
	       t.wiki_id, t.title AS thread_title, t.category_id AS thread_category_id,
	       parent.title AS parent_post_title
	FROM posts p
	JOIN threads t ON t.id = p.thread_id
	JOIN posts parent ON parent.id = p.parent_post_id
	WHERE (
		EXISTS (
			SELECT 1 FROM manual_subs ms
			WHERE ms.user_id = @user AND ms.thread_id = p.thread_id
			AND ms.post_id = p.parent_post_id AND ms.sub = 1
		)
		OR parent.user_id = @user
	)
	AND NOT EXISTS (
		SELECT 1 FROM manual_subs mu
		WHERE mu.user_id = @user AND mu.thread_id = p.thread_id
		AND mu.post_id = p.parent_post_id AND mu.sub = -1
	)
	AND p.posted_timestamp > @lo AND p.posted_timestamp <= @hi
	AND p.user_id <> @user
	AND NOT EXISTS (
		SELECT 1 FROM posts r
		WHERE r.parent_post_id = p.id AND r.user_id = @user
	)
	AND p.is_deleted = 0 AND t.is_deleted = 0
	ORDER BY p.posted_timestamp, p.id`

// NewPostsForUser resolves the posts to notify the user about inside the
// half-open window (lo, hi]. A post qualifying both as a thread post and
// as a reply is kept only in PostReplies.
func (s *Store) NewPostsForUser(userID, lo, hi int64) (*notify.NewPosts, error) {
	args := map[string]any{"user": userID, "lo": lo, "hi": hi}

	var threadRows []candidateRow
	if err := s.db.Raw(threadPostsQuery, args).Scan(&threadRows).Error; err != nil {
		return nil, fmt.Errorf("select thread posts: %w", err)
	}
	var replyRows []candidateRow
	if err := s.db.Raw(postRepliesQuery, args).Scan(&replyRows).Error; err != nil {
		return nil, fmt.Errorf("select post replies: %w", err)
	}

	out := &notify.NewPosts{}
	inReplies := make(map[int64]bool, len(replyRows))
	for i := range replyRows {
		inReplies[replyRows[i].ID] = true
		out.PostReplies = append(out.PostReplies, replyRows[i].info())
	}
	for i := range threadRows {
		if inReplies[threadRows[i].ID] {
			continue
		}
		out.ThreadPosts = append(out.ThreadPosts, threadRows[i].info())
	}
	return out, nil
}
