// Package email delivers composed digests to a user's email address via
// a pluggable provider.
package email

import "context"

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send sends an email with the given parameters.
	Send(ctx context.Context, to, subject, htmlBody string) error
}
