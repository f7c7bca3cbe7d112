package notify

import "regexp"

// Override actions.
const (
	ActionMute       = "mute"        // suppress both thread posts and replies
	ActionMuteThread = "mute_thread" // suppress thread posts only
)

// Override is an admin-provided predicate that mutes matching
// notifications. All present predicates must hold for the override to
// apply; absent predicates are skipped.
type Override struct {
	Action             string `toml:"action"`
	CategoryIDIs       *int64 `toml:"category_id_is"`
	ThreadIDIs         *int64 `toml:"thread_id_is"`
	ThreadTitleMatches string `toml:"thread_title_matches"`
}

// Overrides maps a wiki ID to the override records configured for it.
type Overrides map[string][]Override

// matches reports whether every present predicate holds for the post.
func (o *Override) matches(p *PostInfo) bool {
	if o.CategoryIDIs != nil {
		if p.ThreadCategoryID == nil || *p.ThreadCategoryID != *o.CategoryIDIs {
			return false
		}
	}
	if o.ThreadIDIs != nil && *o.ThreadIDIs != p.ThreadID {
		return false
	}
	if o.ThreadTitleMatches != "" {
		re, err := regexp.Compile(o.ThreadTitleMatches)
		if err != nil || !re.MatchString(p.ThreadTitle) {
			return false
		}
	}
	return true
}

// Muted reports whether a candidate post should be suppressed for the user.
// threadPost distinguishes thread-post candidates from reply candidates:
// mute_thread overrides apply only to the former.
//
// Precedence: an explicit unsubscription (without a matching subscription)
// always mutes; an explicit subscription never mutes; otherwise the wiki's
// overrides decide.
func Muted(u *UserConfig, p *PostInfo, overrides Overrides, threadPost bool) bool {
	// Thread posts are keyed on the thread, replies on the parent post.
	postKey := p.ParentPostID
	if threadPost {
		postKey = nil
	}
	subbed := u.Subscribed(p.ThreadID, postKey, 1)
	unsubbed := u.Subscribed(p.ThreadID, postKey, -1)
	if !subbed && unsubbed {
		return true
	}
	if subbed {
		return false
	}
	for _, o := range overrides[p.WikiID] {
		switch o.Action {
		case ActionMute:
		case ActionMuteThread:
			if !threadPost {
				continue
			}
		default:
			continue
		}
		if o.matches(p) {
			return true
		}
	}
	return false
}

// ApplyOverrides returns a filtered copy of the resolver output with
// every candidate that Muted rejects dropped. The input is not modified.
func ApplyOverrides(u *UserConfig, posts *NewPosts, overrides Overrides) *NewPosts {
	out := &NewPosts{}
	for _, p := range posts.ThreadPosts {
		if !Muted(u, p, overrides, true) {
			out.ThreadPosts = append(out.ThreadPosts, p)
		}
	}
	for _, p := range posts.PostReplies {
		if !Muted(u, p, overrides, false) {
			out.PostReplies = append(out.PostReplies, p)
		}
	}
	return out
}
