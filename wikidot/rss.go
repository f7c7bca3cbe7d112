package wikidot

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/mmcdole/gofeed"
)

// FeedPost is one entry of a wiki's new-posts RSS feed.
type FeedPost struct {
	ThreadID        int64
	PostID          int64
	PostedTimestamp int64
}

var (
	feedThreadRE = regexp.MustCompile(`/t-(\d+)`)
	feedPostRE   = regexp.MustCompile(`#post-(\d+)`)
)

// NewPostsFeed fetches and parses a wiki's new-posts RSS feed
// (<base>/feed/forum/posts.xml). Entries without a recognisable thread
// and post ID are skipped.
func (c *Client) NewPostsFeed(ctx context.Context, wikiID string) ([]FeedPost, error) {
	c.pace()
	feedURL := c.BaseURL(wikiID) + "/feed/forum/posts.xml"

	var feed *gofeed.Feed
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Warn("Feed request failed, will retry", "wiki", wikiID, "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}
			feed, err = gofeed.NewParser().Parse(resp.Body)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("parse feed: %w", err))
			}
			return nil
		},
		retry.Attempts(moduleAttempts),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying feed fetch after error", "wiki", wikiID, "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, &OngoingConnectionError{Err: err}
	}

	var posts []FeedPost
	for _, item := range feed.Items {
		link := item.GUID
		if link == "" {
			link = item.Link
		}
		tm := feedThreadRE.FindStringSubmatch(link)
		pm := feedPostRE.FindStringSubmatch(link)
		if tm == nil || pm == nil {
			c.logger.Debug("Skipping feed entry without thread/post IDs", "wiki", wikiID, "link", link)
			continue
		}
		fp := FeedPost{
			ThreadID: mustInt(tm[1]),
			PostID:   mustInt(pm[1]),
		}
		if item.PublishedParsed != nil {
			fp.PostedTimestamp = item.PublishedParsed.Unix()
		}
		posts = append(posts, fp)
	}
	c.logger.Info("New-posts feed fetched", "wiki", wikiID, "entries", len(posts))
	return posts, nil
}

func mustInt(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}
