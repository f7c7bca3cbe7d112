package email

import (
	"context"
	"log/slog"
)

// MockProvider is a mock email provider for local development. It logs
// instead of sending and remembers what it was asked to send.
type MockProvider struct {
	logger *slog.Logger

	// Sent records every delivery for test assertions.
	Sent []MockMessage
}

// MockMessage is one recorded delivery.
type MockMessage struct {
	To      string
	Subject string
	Body    string
}

// NewMockProvider creates a new mock email provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Send logs the email instead of sending it.
func (m *MockProvider) Send(_ context.Context, to, subject, htmlBody string) error {
	m.Sent = append(m.Sent, MockMessage{To: to, Subject: subject, Body: htmlBody})
	m.logger.Info("MOCK EMAIL",
		"to", to,
		"subject", subject,
		"body_length", len(htmlBody))
	return nil
}
