// Package wikidot is the client for the upstream wiki platform: paginated
// AJAX module calls, forum thread walking, the new-posts RSS feed, private
// messages and the back-contacts list. Every upstream call is serialised
// through a single session and rate-paced by the pagination delay.
package wikidot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"wikidot-notifier/pkg/notify"
)

const (
	// PaginationDelay is the mandatory pause between consecutive upstream
	// requests.
	PaginationDelay = time.Second

	moduleAttempts = 3
)

// Client talks to the wiki platform. It holds one HTTP session (cookie
// jar); Reopen replaces the session and the wiki list at the start of a
// tick.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	wikis      map[string]notify.Wiki
	token      string

	// sleep pauses between upstream requests; tests replace it.
	sleep func(time.Duration)

	lastRequest time.Time
}

// New creates a client over the given wiki list.
func New(wikis []notify.Wiki, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second, Jar: jar},
		logger:     logger,
		token:      hex.EncodeToString(buf),
		sleep:      time.Sleep,
	}
	c.setWikis(wikis)
	return c, nil
}

// Reopen replaces the wiki list and drops the current session.
func (c *Client) Reopen(wikis []notify.Wiki) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}
	c.httpClient.Jar = jar
	c.setWikis(wikis)
	return nil
}

func (c *Client) setWikis(wikis []notify.Wiki) {
	c.wikis = make(map[string]notify.Wiki, len(wikis)+1)
	for _, w := range wikis {
		c.wikis[w.ID] = w
	}
	if _, ok := c.wikis["www"]; !ok {
		c.wikis["www"] = notify.Wiki{ID: "www", Name: "Wikidot", Secure: true}
	}
}

// BaseURL returns the scheme+host for a wiki, honouring its secure flag.
func (c *Client) BaseURL(wikiID string) string {
	scheme := "http"
	if w, ok := c.wikis[wikiID]; ok && w.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s.wikidot.com", scheme, wikiID)
}

// pace sleeps out the remainder of the pagination delay since the last
// upstream request. Calls are serialised through one session, so no
// locking is needed.
func (c *Client) pace() {
	if !c.lastRequest.IsZero() {
		if wait := PaginationDelay - time.Since(c.lastRequest); wait > 0 {
			c.sleep(wait)
		}
	}
	c.lastRequest = time.Now()
}

// ModuleResponse is the decoded payload of an AJAX module call.
type ModuleResponse struct {
	Status  string `json:"status"`
	Body    string `json:"body"`
	Message string `json:"message"`
}

// Module POSTs to a wiki's module endpoint and decodes the response.
// Retries up to 3 attempts with exponentially growing delays. A 200
// response with a non-ok status is fatal to the enclosing operation;
// no_thread maps to ThreadNotExistsError, and exhausted retries surface
// as OngoingConnectionError.
func (c *Client) Module(ctx context.Context, wikiID, moduleName string, args map[string]string) (*ModuleResponse, error) {
	c.pace()
	endpoint := c.BaseURL(wikiID) + "/ajax-module-connector.php"

	form := url.Values{}
	form.Set("moduleName", moduleName)
	form.Set("wikidot_token7", c.token)
	for k, v := range args {
		form.Set(k, v)
	}

	var parsed ModuleResponse
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
				strings.NewReader(form.Encode()))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.AddCookie(&http.Cookie{Name: "wikidot_token7", Value: c.token})

			startTime := time.Now()
			resp, err := c.httpClient.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				c.logger.Warn("Module request failed, will retry",
					"wiki", wikiID,
					"module", moduleName,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				c.logger.Warn("Module request returned non-OK status, will retry",
					"wiki", wikiID, "module", moduleName, "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			if err := json.Unmarshal(data, &parsed); err != nil {
				return fmt.Errorf("decode module response: %w", err)
			}

			if parsed.Status != "ok" {
				if parsed.Status == "no_thread" {
					return retry.Unrecoverable(&ThreadNotExistsError{WikiID: wikiID})
				}
				return retry.Unrecoverable(&ModuleError{Status: parsed.Status, Message: parsed.Message})
			}

			c.logger.Debug("Module request completed",
				"wiki", wikiID,
				"module", moduleName,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(moduleAttempts),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying module call after error",
				"wiki", wikiID, "module", moduleName, "attempt", n, "error", err)
		}),
	)
	if err != nil {
		var me *ModuleError
		if IsThreadNotExists(err) || errors.As(err, &me) {
			return nil, err
		}
		return nil, &OngoingConnectionError{Err: err}
	}
	return &parsed, nil
}
