package gmailclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

type fakeGmail struct {
	mu     sync.Mutex
	status int
	paths  []string
	raw    []string
}

func (f *fakeGmail) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.paths = append(f.paths, r.URL.Path)

	var msg gmail.Message
	_ = json.NewDecoder(r.Body).Decode(&msg)
	decoded, _ := base64.URLEncoding.DecodeString(msg.Raw)
	f.raw = append(f.raw, string(decoded))

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 && f.status != http.StatusOK {
		w.WriteHeader(f.status)
		fmt.Fprintf(w, `{"error":{"code":%d,"message":"rejected"}}`, f.status)
		return
	}
	_, _ = w.Write([]byte(`{"id":"msg-1"}`))
}

func newTestClient(t *testing.T, fake *fakeGmail, interval time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)

	service, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	return NewClientWithService(service, "", "Campus Rota <rota@example.com>", interval)
}

func TestSendEmail(t *testing.T) {
	fake := &fakeGmail{}
	client := newTestClient(t, fake, 0)

	err := client.SendEmail(context.Background(), "alice@example.com", "Reminder: Sunday Service", "Hi Alice")
	require.NoError(t, err)

	require.Len(t, fake.raw, 1)
	assert.True(t, strings.HasSuffix(fake.paths[0], "/users/me/messages/send"), fake.paths[0])
	assert.Contains(t, fake.raw[0], "From: Campus Rota <rota@example.com>\r\n")
	assert.Contains(t, fake.raw[0], "To: alice@example.com\r\n")
	assert.Contains(t, fake.raw[0], "Subject: Reminder: Sunday Service\r\n")
	assert.True(t, strings.HasSuffix(fake.raw[0], "\r\n\r\nHi Alice"))
}

func TestSendEmail_BadRequestIsPermanent(t *testing.T) {
	fake := &fakeGmail{status: http.StatusBadRequest}
	client := newTestClient(t, fake, 0)

	err := client.SendEmail(context.Background(), "alice@example.com", "s", "b")
	require.Error(t, err)

	var permanent *backoff.PermanentError
	assert.ErrorAs(t, err, &permanent)
}

func TestSendEmail_RejectsMalformedRecipient(t *testing.T) {
	tests := []struct {
		name string
		to   string
	}{
		{"header injection", "alice@example.com\r\nBcc: everyone@example.com"},
		{"bare newline", "alice@example.com\nSubject: spoofed"},
		{"not an address", "not-an-address"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeGmail{}
			client := newTestClient(t, fake, 0)

			err := client.SendEmail(context.Background(), tt.to, "s", "b")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid recipient address")

			var permanent *backoff.PermanentError
			assert.ErrorAs(t, err, &permanent)
			assert.Empty(t, fake.raw, "nothing should reach the API")
		})
	}
}

func TestSendEmail_ServerErrorIsRetryable(t *testing.T) {
	fake := &fakeGmail{status: http.StatusServiceUnavailable}
	client := newTestClient(t, fake, 0)

	err := client.SendEmail(context.Background(), "alice@example.com", "s", "b")
	require.Error(t, err)

	var permanent *backoff.PermanentError
	assert.False(t, errors.As(err, &permanent))
}

func TestSendEmail_Throttles(t *testing.T) {
	fake := &fakeGmail{}
	client := newTestClient(t, fake, 150*time.Millisecond)

	start := time.Now()
	require.NoError(t, client.SendEmail(context.Background(), "a@example.com", "s", "b"))
	require.NoError(t, client.SendEmail(context.Background(), "b@example.com", "s", "b"))

	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Len(t, fake.raw, 2)
}

func TestSendEmail_ThrottleHonoursContext(t *testing.T) {
	fake := &fakeGmail{}
	client := newTestClient(t, fake, time.Hour)

	require.NoError(t, client.SendEmail(context.Background(), "a@example.com", "s", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.SendEmail(ctx, "b@example.com", "s", "b")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, fake.raw, 1)
}

func TestBuildMessage_EncodesNonASCIISubject(t *testing.T) {
	msg := buildMessage("", "a@example.com", "Café rota", "body")

	assert.NotContains(t, msg, "From:")
	assert.Contains(t, msg, "Subject: =?utf-8?q?Caf=C3=A9_rota?=\r\n")
}
