package sweep

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"wikidot-notifier/pkg/notify"
	"wikidot-notifier/wikidot"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type postSlice struct {
	posts []*notify.Post
	next  int
}

func (s *postSlice) Next() (*notify.Post, bool, error) {
	if s.next >= len(s.posts) {
		return nil, false, nil
	}
	p := s.posts[s.next]
	s.next++
	return p, true, nil
}

type fakeChecker struct {
	// pages maps thread ID to the posts returned for any page of it; a
	// missing entry means the thread does not exist upstream.
	pages map[int64][]*notify.Post
	calls int
}

func (c *fakeChecker) Thread(_ context.Context, _ string, threadID int64, _ *int64) (*wikidot.ThreadMeta, wikidot.PostStream, error) {
	c.calls++
	posts, ok := c.pages[threadID]
	if !ok {
		return nil, nil, &wikidot.ThreadNotExistsError{ThreadID: threadID}
	}
	return &wikidot.ThreadMeta{ID: threadID}, &postSlice{posts: posts}, nil
}

type fakeStore struct {
	candidates     map[int64]*notify.NewPosts
	deletedThreads []int64
	deletedPosts   []int64
}

func (s *fakeStore) NewPostsForUser(userID, _, _ int64) (*notify.NewPosts, error) {
	if posts, ok := s.candidates[userID]; ok {
		return posts, nil
	}
	return &notify.NewPosts{}, nil
}

func (s *fakeStore) MarkThreadAsDeleted(threadID int64) error {
	s.deletedThreads = append(s.deletedThreads, threadID)
	return nil
}

func (s *fakeStore) MarkPostAsDeleted(postID int64) error {
	s.deletedPosts = append(s.deletedPosts, postID)
	return nil
}

func info(wikiID string, threadID, postID, ts int64) *notify.PostInfo {
	return &notify.PostInfo{
		Post:   notify.Post{ID: postID, ThreadID: threadID, PostedTimestamp: ts, UserID: 2},
		WikiID: wikiID,
	}
}

func TestSweepTombstonesDeletedPost(t *testing.T) {
	checker := &fakeChecker{pages: map[int64][]*notify.Post{
		// The page that would contain post 99 has no posts left.
		9: {},
	}}
	store := &fakeStore{candidates: map[int64]*notify.NewPosts{
		5: {ThreadPosts: []*notify.PostInfo{info("w", 9, 99, 10)}},
	}}
	users := []*notify.UserConfig{{UserID: 5, Username: "eve"}}

	if err := New(checker, store, testLogger).Sweep(context.Background(), users, 100); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(store.deletedPosts) != 1 || store.deletedPosts[0] != 99 {
		t.Errorf("deleted posts = %v, want [99]", store.deletedPosts)
	}
	if len(store.deletedThreads) != 0 {
		t.Errorf("deleted threads = %v, want none", store.deletedThreads)
	}
}

func TestSweepTombstonesDeletedThread(t *testing.T) {
	checker := &fakeChecker{pages: map[int64][]*notify.Post{}}
	store := &fakeStore{candidates: map[int64]*notify.NewPosts{
		5: {ThreadPosts: []*notify.PostInfo{
			info("w", 9, 99, 10),
			info("w", 9, 98, 20),
		}},
	}}
	users := []*notify.UserConfig{{UserID: 5, Username: "eve"}}

	if err := New(checker, store, testLogger).Sweep(context.Background(), users, 100); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(store.deletedThreads) != 1 || store.deletedThreads[0] != 9 {
		t.Errorf("deleted threads = %v, want [9]", store.deletedThreads)
	}
	// The second post of the dead thread must not trigger another fetch.
	if checker.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", checker.calls)
	}
}

func TestSweepConfirmedPostsCheckedOnce(t *testing.T) {
	checker := &fakeChecker{pages: map[int64][]*notify.Post{
		1: {
			{ID: 11, ThreadID: 1, PostedTimestamp: 10, UserID: 2},
			{ID: 12, ThreadID: 1, PostedTimestamp: 20, UserID: 3},
		},
	}}
	store := &fakeStore{candidates: map[int64]*notify.NewPosts{
		// Both users are about to be told about posts on the same page.
		5: {ThreadPosts: []*notify.PostInfo{info("w", 1, 11, 10)}},
		6: {ThreadPosts: []*notify.PostInfo{info("w", 1, 12, 20)}},
	}}
	users := []*notify.UserConfig{
		{UserID: 5, Username: "eve"},
		{UserID: 6, Username: "mallory"},
	}

	if err := New(checker, store, testLogger).Sweep(context.Background(), users, 100); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if checker.calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (post 12 confirmed by the first page)", checker.calls)
	}
	if len(store.deletedPosts) != 0 || len(store.deletedThreads) != 0 {
		t.Errorf("tombstones = posts %v threads %v, want none", store.deletedPosts, store.deletedThreads)
	}
}
