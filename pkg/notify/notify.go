// Package notify contains the core domain types for the wikidot forum
// notification service.
package notify

// Frequency is a notification cadence. Each frequency is driven by its own
// cron expression in the tick orchestrator.
type Frequency string

// Supported frequencies, from most to least often.
const (
	Hourly  Frequency = "hourly"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Frequencies lists all frequencies in firing-priority order.
var Frequencies = []Frequency{Hourly, Daily, Weekly, Monthly}

// Delivery methods for a digest.
const (
	DeliverPM    = "pm"
	DeliverEmail = "email"
)

// Wiki is a Wikidot site posts are ingested from. The ID is the subdomain
// ("scp-wiki" in scp-wiki.wikidot.com); Secure selects HTTPS over HTTP.
type Wiki struct {
	ID     string
	Name   string
	Secure bool
}

// Thread is a forum thread on a wiki.
type Thread struct {
	ID               int64
	WikiID           string
	CategoryID       *int64
	Title            string
	CreatorUsername  string
	CreatedTimestamp int64
	FirstPostID      *int64
	IsDeleted        bool
}

// Post is a single forum post. ParentPostID is nil for top-level posts;
// when set it references another post in the same thread, so posts form a
// forest within their thread.
type Post struct {
	ID              int64
	ThreadID        int64
	ParentPostID    *int64
	PostedTimestamp int64
	Title           string
	Snippet         string
	UserID          int64
	Username        string
	IsDeleted       bool
}

// Category is a forum category a thread belongs to.
type Category struct {
	ID   int64
	Name string
}

// Subscription is an explicit user-provided subscription record. PostID is
// nil for a thread-level record. Sub is +1 for a subscription and -1 for an
// unsubscription; an explicit -1 overrides any implicit subscription.
type Subscription struct {
	ThreadID int64
	PostID   *int64
	Sub      int
}

// UserConfig is one user's notification configuration, as parsed from their
// page on the configuration wiki.
type UserConfig struct {
	UserID                int64
	Username              string
	Frequency             Frequency
	Language              string
	Delivery              string
	Tags                  string
	LastNotifiedTimestamp int64 // 0 means never notified
	BaseNotifiedTimestamp int64 // watermark assumed when a user is first seen
	ManualSubs            []Subscription

	// AutoSubs are the implicit subscriptions derived from authorship:
	// a thread-level record for every thread the user opened and a
	// post-level record for every post they authored. Computed by the
	// cache store, never persisted.
	AutoSubs []Subscription
}

// Subscribed reports whether the user has an explicit record with the given
// sign for the thread (postID nil) or post.
func (u *UserConfig) Subscribed(threadID int64, postID *int64, sub int) bool {
	for _, s := range u.ManualSubs {
		if s.Sub != sub || s.ThreadID != threadID {
			continue
		}
		switch {
		case s.PostID == nil && postID == nil:
			return true
		case s.PostID != nil && postID != nil && *s.PostID == *postID:
			return true
		}
	}
	return false
}

// PostInfo is a post joined with its thread context, as selected for a
// user's digest.
type PostInfo struct {
	Post
	WikiID           string
	ThreadTitle      string
	ThreadCategoryID *int64
	ParentPostTitle  string
}

// NewPosts is the resolver output for one user: posts in threads the user
// is subscribed to, and replies to posts the user is subscribed to. A post
// qualifying as both is kept only in PostReplies.
type NewPosts struct {
	ThreadPosts []*PostInfo
	PostReplies []*PostInfo
}

// Empty reports whether there is nothing to notify about.
func (n *NewPosts) Empty() bool {
	return len(n.ThreadPosts) == 0 && len(n.PostReplies) == 0
}

// LastTimestamp returns the maximum posted timestamp across both lists,
// or 0 when empty. The tick orchestrator commits this as the user's new
// watermark after delivery.
func (n *NewPosts) LastTimestamp() int64 {
	var last int64
	for _, p := range n.ThreadPosts {
		if p.PostedTimestamp > last {
			last = p.PostedTimestamp
		}
	}
	for _, p := range n.PostReplies {
		if p.PostedTimestamp > last {
			last = p.PostedTimestamp
		}
	}
	return last
}
