// Package digest composes the notification message a user receives:
// a localized subject line plus a body listing new thread posts and
// replies, rendered as HTML for email or wiki markup for private
// messages.
package digest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Lexicon holds the translatable strings of one language. Strings with
// a %s or %d verb are fmt templates.
type Lexicon struct {
	Subject          string `toml:"subject"`            // "%d new forum posts"
	SubjectOne       string `toml:"subject_one"`        // "1 new forum post"
	ThreadPostsIntro string `toml:"thread_posts_intro"` // "New posts in threads you follow:"
	PostRepliesIntro string `toml:"post_replies_intro"` // "New replies to your posts:"
	ByAuthor         string `toml:"by_author"`          // "by %s"
	InThread         string `toml:"in_thread"`          // "in %s"
	Untitled         string `toml:"untitled"`           // "(untitled)"
	Footer           string `toml:"footer"`             // trailing how-to-unsubscribe note
}

// Lexicons maps a language code to its lexicon.
type Lexicons map[string]*Lexicon

// LoadLexicons reads every <lang>.toml file in dir. The "en" lexicon
// must be present; it is the fallback for unknown languages.
func LoadLexicons(dir string) (Lexicons, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read lexicon dir: %w", err)
	}
	lexicons := make(Lexicons)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".toml") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read lexicon %s: %w", name, err)
		}
		lex := &Lexicon{}
		if err := toml.Unmarshal(raw, lex); err != nil {
			return nil, fmt.Errorf("parse lexicon %s: %w", name, err)
		}
		lexicons[strings.TrimSuffix(name, ".toml")] = lex
	}
	if _, ok := lexicons["en"]; !ok {
		return nil, fmt.Errorf("lexicon dir %s has no en.toml", dir)
	}
	return lexicons, nil
}

// For returns the lexicon for lang, falling back to English.
func (l Lexicons) For(lang string) *Lexicon {
	if lex, ok := l[lang]; ok {
		return lex
	}
	return l["en"]
}

func (lex *Lexicon) subject(n int) string {
	if n == 1 && lex.SubjectOne != "" {
		return lex.SubjectOne
	}
	return fmt.Sprintf(lex.Subject, n)
}
