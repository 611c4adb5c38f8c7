package gmailclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jakechorley/campus-rota/internal/config"
	"github.com/jakechorley/campus-rota/pkg/utils"
)

// DefaultSendInterval keeps sends under the Gmail API per-user rate limit
const DefaultSendInterval = 3 * time.Second

// Client wraps the Gmail API client
type Client struct {
	service      *gmail.Service
	userID       string
	sender       string
	interval     time.Duration
	lastSendTime time.Time
	sendMutex    sync.Mutex
}

// NewClient creates a new Gmail client using an existing OAuth token
func NewClient(ctx context.Context, oauthCfg *config.OAuthClientConfig, token *oauth2.Token, gmailCfg config.GmailConfig) (*Client, error) {
	oauthConfig, err := utils.GetOAuthConfig(oauthCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth config: %w", err)
	}

	httpClient := oauthConfig.Client(ctx, token)

	service, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	return NewClientWithService(service, gmailCfg.UserID, gmailCfg.Sender, DefaultSendInterval), nil
}

// NewClientWithService creates a client around an existing service.
// An empty userID uses "me"; a zero interval disables throttling.
func NewClientWithService(service *gmail.Service, userID, sender string, interval time.Duration) *Client {
	if userID == "" {
		userID = "me"
	}
	return &Client{
		service:  service,
		userID:   userID,
		sender:   sender,
		interval: interval,
	}
}

// SendEmail sends a plain text email.
// Throttles requests to respect Gmail API rate limits. Rejections that retrying cannot fix
// (malformed address, bad request) are returned as permanent errors.
func (c *Client) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := validateRecipient(to); err != nil {
		return backoff.Permanent(err)
	}

	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	if err := c.throttle(ctx); err != nil {
		return err
	}

	gmailMessage := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(buildMessage(c.sender, to, subject, body))),
	}

	_, err := c.service.Users.Messages.Send(c.userID, gmailMessage).Context(ctx).Do()
	c.lastSendTime = time.Now()
	if err != nil {
		err = fmt.Errorf("failed to send email: %w", err)
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return nil
}

func (c *Client) throttle(ctx context.Context) error {
	if c.interval <= 0 || c.lastSendTime.IsZero() {
		return nil
	}
	elapsed := time.Since(c.lastSendTime)
	if elapsed >= c.interval {
		return nil
	}

	timer := time.NewTimer(c.interval - elapsed)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isPermanent reports whether the API rejected the request itself. Rate limiting and
// server errors are worth retrying.
func isPermanent(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code >= 400 && apiErr.Code < 500 &&
		apiErr.Code != http.StatusTooManyRequests &&
		apiErr.Code != http.StatusUnauthorized
}

// validateRecipient rejects addresses that would not survive as a single To header
func validateRecipient(to string) error {
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient address %q: contains a line break", to)
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return fmt.Errorf("invalid recipient address %q: %w", to, err)
	}
	return nil
}

// buildMessage builds an RFC 2822 message. Non-ASCII subjects are Q-encoded.
func buildMessage(from, to, subject, body string) string {
	var b strings.Builder
	if from != "" {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
