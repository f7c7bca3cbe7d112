package wikidot

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"wikidot-notifier/pkg/notify"
)

// ThreadMeta is the thread-level context parsed from the first fetched
// page of a thread walk.
type ThreadMeta struct {
	ID               int64
	WikiID           string
	Title            string
	CategoryID       *int64
	CategoryName     string
	CreatorUsername  string
	CreatedTimestamp int64
	PageCount        int
}

// PostStream yields the posts of a thread walk one at a time.
type PostStream interface {
	Next() (p *notify.Post, ok bool, err error)
}

// PostIterator lazily yields the posts of a thread walk, fetching further
// pages on demand. When the walk targets a single post, only the page
// containing that post is visited.
type PostIterator struct {
	pages    *PageIterator
	threadID int64
	buf      []*notify.Post
	done     bool
}

// Next returns the next post. ok is false once the walk is exhausted.
func (it *PostIterator) Next() (p *notify.Post, ok bool, err error) {
	for len(it.buf) == 0 {
		if it.done {
			return nil, false, nil
		}
		doc, more, err := it.pages.Next()
		if err != nil {
			return nil, false, err
		}
		if !more {
			it.done = true
			return nil, false, nil
		}
		it.buf = parseThreadPosts(doc, it.threadID)
	}
	p = it.buf[0]
	it.buf = it.buf[1:]
	return p, true, nil
}

// Thread walks a forum thread. The thread metadata precedes the posts;
// the iterator then yields every post page by page. When postID is set,
// only the single page containing that post is walked; otherwise all
// pages are. Fails with ThreadNotExistsError when the thread is gone.
func (c *Client) Thread(ctx context.Context, wikiID string, threadID int64, postID *int64) (*ThreadMeta, PostStream, error) {
	args := map[string]string{"t": strconv.FormatInt(threadID, 10)}
	if postID != nil {
		args["postId"] = strconv.FormatInt(*postID, 10)
	}

	it := c.Paginated(ctx, wikiID, "forum/ForumViewThreadModule", args, "pageNo")
	doc, ok, err := it.Next()
	if err != nil {
		if IsThreadNotExists(err) {
			return nil, nil, &ThreadNotExistsError{WikiID: wikiID, ThreadID: threadID}
		}
		return nil, nil, err
	}
	if !ok {
		return nil, nil, &ThreadNotExistsError{WikiID: wikiID, ThreadID: threadID}
	}

	meta := parseThreadMeta(doc, wikiID, threadID)
	meta.PageCount = it.Total()

	posts := &PostIterator{pages: it, threadID: threadID}
	posts.buf = parseThreadPosts(doc, threadID)
	if postID != nil {
		// Single-page walk: the requested page is already buffered.
		posts.done = true
	}
	return meta, posts, nil
}

var (
	categoryHrefRE = regexp.MustCompile(`/forum/c-(\d+)`)
	odateClassRE   = regexp.MustCompile(`time_(\d+)`)
	userInfoRE     = regexp.MustCompile(`userInfo\((\d+)\)`)
)

// parseThreadMeta extracts thread-level fields from a rendered thread
// page: the title and category from the breadcrumbs, the creator and
// creation time from the statistics block.
func parseThreadMeta(doc *goquery.Document, wikiID string, threadID int64) *ThreadMeta {
	meta := &ThreadMeta{ID: threadID, WikiID: wikiID}

	crumbs := doc.Find("div.forum-breadcrumbs").First()
	if raw := crumbs.Text(); raw != "" {
		parts := strings.Split(raw, "»")
		meta.Title = strings.TrimSpace(parts[len(parts)-1])
	}
	crumbs.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if m := categoryHrefRE.FindStringSubmatch(href); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				meta.CategoryID = &id
				meta.CategoryName = strings.TrimSpace(s.Text())
			}
		}
	})

	stats := doc.Find("div.statistics").First()
	meta.CreatorUsername = strings.TrimSpace(stats.Find("span.printuser a").Last().Text())
	if class, ok := stats.Find("span.odate").First().Attr("class"); ok {
		if m := odateClassRE.FindStringSubmatch(class); m != nil {
			meta.CreatedTimestamp, _ = strconv.ParseInt(m[1], 10, 64)
		}
	}
	return meta
}

// parseThreadPosts extracts every post on a rendered thread page. The
// reply structure comes from container nesting: a post's parent is the
// post of the closest enclosing post-container.
func parseThreadPosts(doc *goquery.Document, threadID int64) []*notify.Post {
	var posts []*notify.Post
	doc.Find("div.post").Each(func(_ int, s *goquery.Selection) {
		idAttr, ok := s.Attr("id")
		if !ok || !strings.HasPrefix(idAttr, "post-") {
			return
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(idAttr, "post-"), 10, 64)
		if err != nil {
			return
		}

		p := &notify.Post{
			ID:       id,
			ThreadID: threadID,
			Title:    strings.TrimSpace(s.Find("div.title").First().Text()),
			Snippet:  snippet(s.Find("div.content").First().Text()),
		}

		author := s.Find("span.printuser a").First()
		p.Username = strings.TrimSpace(author.Text())
		if onclick, ok := author.Attr("onclick"); ok {
			if m := userInfoRE.FindStringSubmatch(onclick); m != nil {
				p.UserID, _ = strconv.ParseInt(m[1], 10, 64)
			}
		}

		if class, ok := s.Find("span.odate").First().Attr("class"); ok {
			if m := odateClassRE.FindStringSubmatch(class); m != nil {
				p.PostedTimestamp, _ = strconv.ParseInt(m[1], 10, 64)
			}
		}

		// fpc-<id> is the container of post <id>; the enclosing container
		// above our own belongs to the parent post.
		enclosing := s.Closest("div.post-container").Parent().Closest("div.post-container")
		if containerID, ok := enclosing.Attr("id"); ok && strings.HasPrefix(containerID, "fpc-") {
			if parentID, err := strconv.ParseInt(strings.TrimPrefix(containerID, "fpc-"), 10, 64); err == nil {
				p.ParentPostID = &parentID
			}
		}

		posts = append(posts, p)
	})
	return posts
}

const snippetLen = 200

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= snippetLen {
		return s
	}
	cut := string(runes[:snippetLen])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}
