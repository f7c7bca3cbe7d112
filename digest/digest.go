package digest

import (
	"fmt"
	"strings"

	"wikidot-notifier/pkg/notify"
)

// Composer renders digests. It needs the supported-wiki list to build
// absolute post URLs.
type Composer struct {
	lexicons Lexicons
	wikis    map[string]notify.Wiki
}

// NewComposer creates a composer over the given wiki list.
func NewComposer(lexicons Lexicons, wikis []notify.Wiki) *Composer {
	c := &Composer{lexicons: lexicons}
	c.SetWikis(wikis)
	return c
}

// SetWikis replaces the wiki list after a supported-wikis refresh.
func (c *Composer) SetWikis(wikis []notify.Wiki) {
	m := make(map[string]notify.Wiki, len(wikis))
	for _, w := range wikis {
		m[w.ID] = w
	}
	c.wikis = m
}

// Compose renders the digest for one user. The body format follows the
// user's delivery channel: HTML for email, wiki markup for PMs.
func (c *Composer) Compose(u *notify.UserConfig, posts *notify.NewPosts) (subject, body string) {
	lex := c.lexicons.For(u.Language)
	total := len(posts.ThreadPosts) + len(posts.PostReplies)
	subject = lex.subject(total)
	if u.Delivery == notify.DeliverEmail {
		body = c.composeHTML(lex, posts)
	} else {
		body = c.composeWikiMarkup(lex, posts)
	}
	return subject, body
}

// postURL builds the canonical permalink of a post.
func (c *Composer) postURL(p *notify.PostInfo) string {
	scheme := "http"
	if w, ok := c.wikis[p.WikiID]; ok && w.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s.wikidot.com/forum/t-%d#post-%d", scheme, p.WikiID, p.ThreadID, p.ID)
}

func (c *Composer) wikiName(id string) string {
	if w, ok := c.wikis[id]; ok && w.Name != "" {
		return w.Name
	}
	return id
}

func (c *Composer) composeHTML(lex *Lexicon, posts *notify.NewPosts) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	b.WriteString("h2 { font-size: 1.1em; border-bottom: 2px solid #901; padding-bottom: 6px; }\n")
	b.WriteString(".post { margin-bottom: 24px; }\n")
	b.WriteString(".meta { color: #7f8c8d; font-size: 0.9em; }\n")
	b.WriteString(".snippet { margin: 8px 0 0 0; color: #555; }\n")
	b.WriteString(".footer { margin-top: 30px; padding-top: 15px; border-top: 1px solid #ddd; font-size: 0.9em; color: #7f8c8d; }\n")
	b.WriteString("a { color: #901; text-decoration: none; }\n")
	b.WriteString("a:hover { text-decoration: underline; }\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	write := func(header string, list []*notify.PostInfo) {
		if len(list) == 0 {
			return
		}
		b.WriteString(fmt.Sprintf("<h2>%s</h2>\n", escapeHTML(header)))
		for _, p := range list {
			b.WriteString("<div class=\"post\">\n")
			b.WriteString(fmt.Sprintf("<a href=\"%s\"><strong>%s</strong></a>\n",
				escapeHTML(c.postURL(p)), escapeHTML(c.postTitle(lex, p))))
			b.WriteString(fmt.Sprintf("<div class=\"meta\">%s &bull; %s &bull; %s</div>\n",
				escapeHTML(fmt.Sprintf(lex.ByAuthor, p.Username)),
				escapeHTML(fmt.Sprintf(lex.InThread, p.ThreadTitle)),
				escapeHTML(c.wikiName(p.WikiID))))
			if p.Snippet != "" {
				b.WriteString(fmt.Sprintf("<p class=\"snippet\">%s</p>\n", escapeHTML(p.Snippet)))
			}
			b.WriteString("</div>\n")
		}
	}
	write(lex.ThreadPostsIntro, posts.ThreadPosts)
	write(lex.PostRepliesIntro, posts.PostReplies)

	if lex.Footer != "" {
		b.WriteString(fmt.Sprintf("<div class=\"footer\">%s</div>\n", escapeHTML(lex.Footer)))
	}
	b.WriteString("</body>\n</html>")
	return b.String()
}

func (c *Composer) composeWikiMarkup(lex *Lexicon, posts *notify.NewPosts) string {
	var b strings.Builder

	write := func(header string, list []*notify.PostInfo) {
		if len(list) == 0 {
			return
		}
		b.WriteString(fmt.Sprintf("+ %s\n\n", header))
		for _, p := range list {
			b.WriteString(fmt.Sprintf("* [%s %s] //%s// (%s)\n",
				c.postURL(p),
				c.postTitle(lex, p),
				fmt.Sprintf(lex.ByAuthor, p.Username),
				fmt.Sprintf(lex.InThread, p.ThreadTitle)))
			if p.Snippet != "" {
				b.WriteString(fmt.Sprintf(" > %s\n", p.Snippet))
			}
		}
		b.WriteString("\n")
	}
	write(lex.ThreadPostsIntro, posts.ThreadPosts)
	write(lex.PostRepliesIntro, posts.PostReplies)

	if lex.Footer != "" {
		b.WriteString(lex.Footer)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// postTitle picks the post's own title, falling back to the parent post
// or thread title, then to the localized untitled marker.
func (c *Composer) postTitle(lex *Lexicon, p *notify.PostInfo) string {
	switch {
	case p.Title != "":
		return p.Title
	case p.ParentPostTitle != "":
		return "Re: " + p.ParentPostTitle
	case p.ThreadTitle != "":
		return "Re: " + p.ThreadTitle
	default:
		return lex.Untitled
	}
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
