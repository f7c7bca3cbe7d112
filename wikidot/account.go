package wikidot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

const loginURL = "https://www.wikidot.com/default--flow/login__LoginPopupScreen"

// Login authenticates the session against the platform. Called once per
// tick, after ingestion and before delivery.
func (c *Client) Login(ctx context.Context, username, password string) error {
	c.pace()
	form := url.Values{}
	form.Set("login", username)
	form.Set("password", password)
	form.Set("action", "Login2Action")
	form.Set("event", "login")
	form.Set("wikidot_token7", c.token)

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL,
				strings.NewReader(form.Encode()))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.AddCookie(&http.Cookie{Name: "wikidot_token7", Value: c.token})

			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Warn("Login request failed, will retry", "error", err)
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
			return nil
		},
		retry.Attempts(moduleAttempts),
		retry.Delay(time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying login after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return &OngoingConnectionError{Err: err}
	}
	c.logger.Info("Logged in to wiki platform", "username", username)
	return nil
}

// SendMessage delivers a private message on the platform. Rejection due
// to the recipient's inbox preferences surfaces as RestrictedInboxError.
func (c *Client) SendMessage(ctx context.Context, userID int64, subject, body string) error {
	_, err := c.Module(ctx, "www", "Empty", map[string]string{
		"action":     "DashboardMessageAction",
		"event":      "send",
		"to_user_id": strconv.FormatInt(userID, 10),
		"subject":    subject,
		"source":     body,
	})
	if err != nil {
		var me *ModuleError
		if errors.As(err, &me) && me.Status == "no_permission" {
			return &RestrictedInboxError{UserID: userID}
		}
		return fmt.Errorf("send message to user %d: %w", userID, err)
	}
	c.logger.Info("Private message sent", "user_id", userID, "subject", subject)
	return nil
}

// Contacts fetches the account's back-contacts: the users who added this
// account as a contact, with the email address they exposed. Email
// delivery is only possible for users in this map.
func (c *Client) Contacts(ctx context.Context) (map[string]string, error) {
	resp, err := c.Module(ctx, "www", "dashboard/messages/DMContactsModule", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse contacts: %w", err)
	}

	contacts := make(map[string]string)
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		username := strings.TrimSpace(row.Find("span.printuser a").Last().Text())
		if username == "" {
			return
		}
		row.Find("td").Each(func(_ int, cell *goquery.Selection) {
			text := strings.TrimSpace(cell.Text())
			if strings.Contains(text, "@") && !strings.Contains(text, " ") {
				contacts[username] = text
			}
		})
	})
	c.logger.Info("Contacts fetched", "count", len(contacts))
	return contacts, nil
}
