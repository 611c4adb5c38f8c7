package channelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	DefaultSendTimeout  = 30 * time.Second
	DefaultPollInterval = 5 * time.Second

	defaultBreakerFailures = 5
	defaultBreakerOpenFor  = 30 * time.Second
	adminCallTimeout       = 10 * time.Second
)

// SendError is returned when the channel rejects or fails a send.
// Message carries the remote error text when the channel provided one.
type SendError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SendError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("channel send failed with status %d: %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("channel send failed: %s: %v", e.Message, e.Err)
	default:
		return fmt.Sprintf("channel send failed: %s", e.Message)
	}
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Config configures the channel client
type Config struct {
	BaseURL     string
	SendTimeout time.Duration
	PollTimeout time.Duration // Bounds each status poll and health check

	// Consecutive send failures that open the circuit, and how long it stays open
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
}

// Client talks to the external messaging channel and holds the cached view of its state
type Client struct {
	baseURL     string
	httpClient  *http.Client
	sendTimeout time.Duration
	pollTimeout time.Duration
	breaker     *gobreaker.CircuitBreaker
	state       atomic.Pointer[State]
	logger      *zap.Logger
}

// NewClient creates a channel client. The cached state starts disconnected until the first poll.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollInterval
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = defaultBreakerOpenFor
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: max(cfg.SendTimeout, cfg.PollTimeout, adminCallTimeout)},
		sendTimeout: cfg.SendTimeout,
		pollTimeout: cfg.PollTimeout,
		logger:      logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "channel-send",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// A recipient rejected by the channel says nothing about the channel's health
		IsSuccessful: func(err error) bool {
			var sendErr *SendError
			if errors.As(err, &sendErr) && sendErr.StatusCode >= 400 && sendErr.StatusCode < 500 {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Channel circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	c.state.Store(&State{})
	return c
}

// State returns the latest cached snapshot
func (c *Client) State() State {
	return *c.state.Load()
}

// IsUsable reports whether the channel was connected at the last poll. It never touches the network.
func (c *Client) IsUsable() bool {
	return c.state.Load().Connected
}

// ConnectionState returns the cached connectivity
func (c *Client) ConnectionState() ConnectionState {
	return c.state.Load().ConnectionState()
}

type statusResponse struct {
	Connected bool `json:"connected"`
	HasQR     bool `json:"hasQR"`
}

type qrResponse struct {
	QRCode string `json:"qrCode"`
}

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Refresh polls the channel's status (and QR code when one is pending) and replaces the cached snapshot.
// Any failure, including the poll timeout expiring, stores a disconnected snapshot instead of returning an error.
func (c *Client) Refresh(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	next := State{LastPollAt: time.Now()}

	var status statusResponse
	if err := c.getJSON(ctx, "/status", &status); err != nil {
		next.LastError = err.Error()
		c.storeState(next)
		return next
	}
	next.Connected = status.Connected

	if !status.Connected && status.HasQR {
		var qr qrResponse
		if err := c.getJSON(ctx, "/qr", &qr); err != nil {
			c.logger.Debug("Failed to fetch QR code", zap.Error(err))
		} else {
			next.QRCode = qr.QRCode
		}
	}

	c.storeState(next)
	return next
}

func (c *Client) storeState(next State) {
	prev := c.state.Swap(&next)
	if prev.ConnectionState() != next.ConnectionState() {
		c.logger.Info("Channel connection state changed",
			zap.String("from", string(prev.ConnectionState())),
			zap.String("to", string(next.ConnectionState())),
			zap.String("last_error", next.LastError))
	}
}

// Health checks that the channel service is reachable
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("channel health check returned status %d", resp.StatusCode)
	}
	return nil
}

// QRCode fetches the pending authorization artifact directly from the channel
func (c *Client) QRCode(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	var qr qrResponse
	if err := c.getJSON(ctx, "/qr", &qr); err != nil {
		return "", err
	}
	return qr.QRCode, nil
}

// Send delivers body to the recipient handle, bounded by the send timeout.
// Failures are returned as *SendError.
func (c *Client) Send(ctx context.Context, handle, body string) error {
	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.send(ctx, handle, body)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &SendError{Message: "channel circuit open", Err: err}
	}
	return err
}

func (c *Client) send(ctx context.Context, handle, body string) error {
	payload, err := json.Marshal(sendRequest{Phone: handle, Message: body})
	if err != nil {
		return &SendError{Message: "failed to encode request", Err: err}
	}

	resp, err := c.do(ctx, http.MethodPost, "/send", payload)
	if err != nil {
		return &SendError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var decoded sendResponse
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendError{StatusCode: resp.StatusCode, Message: remoteErrorText(decoded, raw, resp.Status)}
	}
	if !decoded.OK && decoded.Error != "" {
		return &SendError{Message: decoded.Error}
	}
	return nil
}

func remoteErrorText(decoded sendResponse, raw []byte, status string) string {
	if decoded.Error != "" {
		return decoded.Error
	}
	if decoded.Message != "" {
		return decoded.Message
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return status
}

// Disconnect asks the channel to end its session and marks the cache disconnected
func (c *Client) Disconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, adminCallTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/disconnect", nil)
	if err != nil {
		return fmt.Errorf("failed to disconnect channel: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("channel disconnect returned status %d", resp.StatusCode)
	}

	c.storeState(State{LastPollAt: time.Now()})
	return nil
}

// Reconnect asks the channel to start a new session. It returns immediately; the outcome is logged
// and becomes visible through the cached state on a later poll.
func (c *Client) Reconnect() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), adminCallTimeout)
		defer cancel()

		resp, err := c.do(ctx, http.MethodPost, "/reconnect", nil)
		if err != nil {
			c.logger.Warn("Channel reconnect request failed", zap.Error(err))
			return
		}
		resp.Body.Close()
		c.logger.Info("Channel reconnect requested", zap.Int("status", resp.StatusCode))
	}()
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}
