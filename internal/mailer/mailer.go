// Package mailer delivers transactional email through the Resend HTTP API.
// Without an API key it logs the message instead, so local runs never need
// credentials.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/fareshare/internal/observability"
)

const resendAPI = "https://api.resend.com/emails"

type Mailer struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func New(apiKey, from string, logger *slog.Logger) *Mailer {
	return &Mailer{
		apiKey:   apiKey,
		from:     from,
		endpoint: resendAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

type payload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Html    string `json:"html"`
	Text    string `json:"text,omitempty"`
}

func (m *Mailer) send(ctx context.Context, kind, to, subject, html, text string) error {
	if m.apiKey == "" {
		m.logger.Info("mock email", "kind", kind, "to", to, "subject", subject)
		observability.MailsSent.WithLabelValues(kind, "mock").Inc()
		return nil
	}

	body, _ := json.Marshal(payload{From: m.from, To: to, Subject: subject, Html: html, Text: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		observability.MailsSent.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		observability.MailsSent.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("mail API error: %s", resp.Status)
	}
	observability.MailsSent.WithLabelValues(kind, "ok").Inc()
	return nil
}

// Verification sends the email-verification link minted at registration.
func (m *Mailer) Verification(ctx context.Context, to, name, link string) error {
	html := fmt.Sprintf(`
		<h2>Welcome to FareShare, %s!</h2>
		<p>Confirm your email address to start booking rides:</p>
		<p><a href="%s">Verify my email</a></p>
		<p>The link expires in 48 hours. If you didn't sign up, ignore this message.</p>
	`, name, link)
	return m.send(ctx, "verification", to, "Verify your FareShare email", html, "Verify your email: "+link)
}

// DirectMessage relays a rider-to-rider message without exposing the
// sender's address.
func (m *Mailer) DirectMessage(ctx context.Context, to, senderName, rideLabel, message string) error {
	about := ""
	if rideLabel != "" {
		about = fmt.Sprintf("<p>About your ride: <b>%s</b></p>", rideLabel)
	}
	html := fmt.Sprintf(`
		<h2>New message from %s</h2>
		%s
		<blockquote>%s</blockquote>
		<p>Reply from your FareShare inbox; email addresses stay private.</p>
	`, senderName, about, message)
	return m.send(ctx, "direct_message", to, fmt.Sprintf("FareShare: message from %s", senderName), html, message)
}

// BookingUpdate tells a passenger their booking changed state.
func (m *Mailer) BookingUpdate(ctx context.Context, to, rideLabel, status string) error {
	html := fmt.Sprintf(`
		<h2>Booking update</h2>
		<p>Your booking for <b>%s</b> is now <b>%s</b>.</p>
	`, rideLabel, status)
	return m.send(ctx, "booking_update", to, "Your FareShare booking is "+status, html, "")
}

// DataExport confirms a privacy data export request was received.
func (m *Mailer) DataExport(ctx context.Context, to, name string) error {
	html := fmt.Sprintf(`
		<h2>Data export requested</h2>
		<p>Hi %s, we received your request for a copy of your FareShare data.
		We'll email the archive within 30 days.</p>
	`, name)
	return m.send(ctx, "data_export", to, "Your FareShare data export request", html, "")
}
