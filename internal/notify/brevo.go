// Package notify delivers sign-in codes and invitations by email through
// the Brevo transactional API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"flatfund.org/internal/auth"
)

const defaultEndpoint = "https://api.brevo.com/v3/smtp/email"

// Brevo sends transactional email via the Brevo HTTP API.
type Brevo struct {
	apiKey      string
	senderName  string
	senderEmail string
	endpoint    string
	client      *http.Client
}

// Option configures the Brevo client.
type Option func(*Brevo)

// WithEndpoint overrides the API endpoint (tests point it at a local server).
func WithEndpoint(url string) Option {
	return func(b *Brevo) {
		if url != "" {
			b.endpoint = url
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Brevo) {
		if c != nil {
			b.client = c
		}
	}
}

// NewBrevo constructs the mailer. The API key and sender address must be
// supplied by configuration.
func NewBrevo(apiKey, senderName, senderEmail string, opts ...Option) (*Brevo, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("notify: brevo api key is not configured")
	}
	if strings.TrimSpace(senderEmail) == "" {
		return nil, errors.New("notify: sender email is not configured")
	}
	b := &Brevo{
		apiKey:      apiKey,
		senderName:  senderName,
		senderEmail: senderEmail,
		endpoint:    defaultEndpoint,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

var _ auth.Notifier = (*Brevo)(nil)

func (b *Brevo) SendOTP(ctx context.Context, email, apartmentName, code string, ttl time.Duration) error {
	body, err := renderOTP(emailParams{
		Email:         email,
		ApartmentName: apartmentName,
		Code:          code,
		ValidFor:      formatTTL(ttl),
	})
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Your FlatFund access code for %s", apartmentName)
	return b.send(ctx, email, subject, body)
}

func (b *Brevo) SendInvitation(ctx context.Context, email, apartmentName, flatNumber, floor, code string, ttl time.Duration) error {
	body, err := renderInvitation(emailParams{
		Email:         email,
		ApartmentName: apartmentName,
		FlatNumber:    flatNumber,
		Floor:         floor,
		Code:          code,
		ValidFor:      formatTTL(ttl),
	})
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("You're invited to join %s on FlatFund", apartmentName)
	return b.send(ctx, email, subject, body)
}

func (b *Brevo) SendWelcome(ctx context.Context, email, apartmentName, flatNumber, floor string, role auth.Role) error {
	body, err := renderWelcome(emailParams{
		Email:         email,
		ApartmentName: apartmentName,
		FlatNumber:    flatNumber,
		Floor:         floor,
		Role:          string(role),
	})
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Welcome to %s on FlatFund", apartmentName)
	return b.send(ctx, email, subject, body)
}

type brevoMessage struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	TextContent string         `json:"textContent"`
}

type brevoAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

func (b *Brevo) send(ctx context.Context, to, subject, textBody string) error {
	payload, err := json.Marshal(brevoMessage{
		Sender:      brevoAddress{Name: b.senderName, Email: b.senderEmail},
		To:          []brevoAddress{{Email: to}},
		Subject:     subject,
		TextContent: textBody,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: brevo responded %d", resp.StatusCode)
	}
	return nil
}
