package digest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wikidot-notifier/pkg/notify"
)

func testLexicons() Lexicons {
	return Lexicons{
		"en": {
			Subject:          "%d new forum posts",
			SubjectOne:       "1 new forum post",
			ThreadPostsIntro: "New posts in threads you follow",
			PostRepliesIntro: "New replies to your posts",
			ByAuthor:         "by %s",
			InThread:         "in %s",
			Untitled:         "(untitled)",
			Footer:           "Edit your settings page to unsubscribe.",
		},
		"de": {
			Subject:          "%d neue Forenbeiträge",
			SubjectOne:       "1 neuer Forenbeitrag",
			ThreadPostsIntro: "Neue Beiträge in deinen Threads",
			PostRepliesIntro: "Neue Antworten auf deine Beiträge",
			ByAuthor:         "von %s",
			InThread:         "in %s",
			Untitled:         "(ohne Titel)",
		},
	}
}

func testWikis() []notify.Wiki {
	return []notify.Wiki{
		{ID: "sandbox", Name: "Sandbox"},
		{ID: "vault", Name: "The Vault", Secure: true},
	}
}

func post(wikiID string, threadID, postID int64, title, username, threadTitle, snippet string) *notify.PostInfo {
	return &notify.PostInfo{
		Post: notify.Post{
			ID:       postID,
			ThreadID: threadID,
			Title:    title,
			Username: username,
			Snippet:  snippet,
		},
		WikiID:      wikiID,
		ThreadTitle: threadTitle,
	}
}

func TestComposeWikiMarkup(t *testing.T) {
	c := NewComposer(testLexicons(), testWikis())
	u := &notify.UserConfig{Language: "en", Delivery: notify.DeliverPM}
	posts := &notify.NewPosts{
		ThreadPosts: []*notify.PostInfo{
			post("sandbox", 42, 10, "Rules discussion", "alice", "Rules discussion", "Opening post."),
		},
		PostReplies: []*notify.PostInfo{
			post("vault", 7, 70, "", "bob", "Old thread", ""),
		},
	}

	subject, body := c.Compose(u, posts)
	if subject != "2 new forum posts" {
		t.Errorf("subject = %q, want %q", subject, "2 new forum posts")
	}
	wantLines := []string{
		"+ New posts in threads you follow",
		"* [http://sandbox.wikidot.com/forum/t-42#post-10 Rules discussion] //by alice// (in Rules discussion)",
		" > Opening post.",
		"+ New replies to your posts",
		"* [https://vault.wikidot.com/forum/t-7#post-70 Re: Old thread] //by bob// (in Old thread)",
		"Edit your settings page to unsubscribe.",
	}
	for _, line := range wantLines {
		if !strings.Contains(body, line) {
			t.Errorf("body lacks line %q\nbody:\n%s", line, body)
		}
	}
	if strings.Contains(body, "<") {
		t.Errorf("PM body contains HTML:\n%s", body)
	}
}

func TestComposeEmailHTML(t *testing.T) {
	c := NewComposer(testLexicons(), testWikis())
	u := &notify.UserConfig{Language: "en", Delivery: notify.DeliverEmail}
	posts := &notify.NewPosts{
		ThreadPosts: []*notify.PostInfo{
			post("sandbox", 42, 10, `Ampers&nd <special> "quotes"`, "alice", "Rules", "A & B"),
		},
	}

	subject, body := c.Compose(u, posts)
	if subject != "1 new forum post" {
		t.Errorf("subject = %q, want %q", subject, "1 new forum post")
	}
	if !strings.HasPrefix(body, "<!DOCTYPE html>") {
		t.Errorf("email body is not HTML:\n%.80s", body)
	}
	if !strings.Contains(body, `href="http://sandbox.wikidot.com/forum/t-42#post-10"`) {
		t.Errorf("body lacks the post permalink:\n%s", body)
	}
	if !strings.Contains(body, "Ampers&amp;nd &lt;special&gt; &quot;quotes&quot;") {
		t.Errorf("title is not escaped:\n%s", body)
	}
	if !strings.Contains(body, "A &amp; B") {
		t.Errorf("snippet is not escaped:\n%s", body)
	}
	if strings.Contains(body, "New replies to your posts") {
		t.Error("empty reply section rendered")
	}
}

func TestComposeLanguageFallback(t *testing.T) {
	c := NewComposer(testLexicons(), testWikis())
	posts := &notify.NewPosts{
		ThreadPosts: []*notify.PostInfo{post("sandbox", 1, 2, "x", "a", "t", "")},
	}

	tests := []struct {
		lang        string
		wantSubject string
	}{
		{"de", "1 neuer Forenbeitrag"},
		{"en", "1 new forum post"},
		{"tlh", "1 new forum post"}, // unknown language falls back to English
	}
	for _, tc := range tests {
		u := &notify.UserConfig{Language: tc.lang, Delivery: notify.DeliverPM}
		subject, _ := c.Compose(u, posts)
		if subject != tc.wantSubject {
			t.Errorf("lang %q: subject = %q, want %q", tc.lang, subject, tc.wantSubject)
		}
	}
}

func TestPostTitleFallbacks(t *testing.T) {
	c := NewComposer(testLexicons(), testWikis())
	lex := testLexicons()["en"]
	tests := []struct {
		name string
		p    *notify.PostInfo
		want string
	}{
		{
			"own title wins",
			&notify.PostInfo{Post: notify.Post{Title: "Mine"}, ParentPostTitle: "Parent", ThreadTitle: "Thread"},
			"Mine",
		},
		{
			"parent post title",
			&notify.PostInfo{ParentPostTitle: "Parent", ThreadTitle: "Thread"},
			"Re: Parent",
		},
		{
			"thread title",
			&notify.PostInfo{ThreadTitle: "Thread"},
			"Re: Thread",
		},
		{
			"untitled marker",
			&notify.PostInfo{},
			"(untitled)",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.postTitle(lex, tc.p); got != tc.want {
				t.Errorf("postTitle = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPostURLUnknownWikiDefaultsToHTTP(t *testing.T) {
	c := NewComposer(testLexicons(), testWikis())
	p := post("elsewhere", 3, 4, "", "", "", "")
	if got := c.postURL(p); got != "http://elsewhere.wikidot.com/forum/t-3#post-4" {
		t.Errorf("postURL = %q", got)
	}
}

func TestLoadLexicons(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("en.toml", "subject = \"%d new posts\"\nuntitled = \"(untitled)\"\n")
	write("fr.toml", "subject = \"%d nouveaux messages\"\n")
	write("notes.txt", "ignored")

	lexicons, err := LoadLexicons(dir)
	if err != nil {
		t.Fatalf("LoadLexicons: %v", err)
	}
	if len(lexicons) != 2 {
		t.Errorf("loaded %d lexicons, want 2", len(lexicons))
	}
	if got := lexicons.For("fr").Subject; got != "%d nouveaux messages" {
		t.Errorf("fr subject = %q", got)
	}
	if got := lexicons.For("missing").Untitled; got != "(untitled)" {
		t.Errorf("fallback untitled = %q", got)
	}
}

func TestLoadLexiconsRequiresEnglish(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "de.toml"), []byte("subject = \"%d\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLexicons(dir); err == nil {
		t.Fatal("want error for missing en.toml")
	}
}
