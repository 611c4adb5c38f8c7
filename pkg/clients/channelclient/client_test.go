package channelclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeChannel is a scriptable stand-in for the external channel service
type fakeChannel struct {
	mu         sync.Mutex
	connected  bool
	hasQR      bool
	qrCode     string
	sendStatus int
	sendBody   string
	sent       []sendRequest
	reconnects int32
}

func (f *fakeChannel) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(statusResponse{Connected: f.connected, HasQR: f.hasQR})
	})
	mux.HandleFunc("/qr", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(qrResponse{QRCode: f.qrCode})
	})
	mux.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sent = append(f.sent, req)
		if f.sendStatus != 0 {
			w.WriteHeader(f.sendStatus)
			_, _ = w.Write([]byte(f.sendBody))
			return
		}
		_ = json.NewEncoder(w).Encode(sendResponse{OK: true})
	})
	mux.HandleFunc("/disconnect", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.connected = false
	})
	mux.HandleFunc("/reconnect", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.reconnects, 1)
	})
	return mux
}

func (f *fakeChannel) sentRequests() []sendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendRequest(nil), f.sent...)
}

func newTestClient(t *testing.T, fake *fakeChannel) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL + "/", SendTimeout: 2 * time.Second}, zap.NewNop()), server
}

func TestClient_StartsDisconnected(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())

	assert.False(t, client.IsUsable())
	assert.Equal(t, StateDisconnected, client.ConnectionState())
}

func TestRefresh_Connected(t *testing.T) {
	client, _ := newTestClient(t, &fakeChannel{connected: true})

	state := client.Refresh(context.Background())

	assert.True(t, state.Connected)
	assert.False(t, state.LastPollAt.IsZero())
	assert.True(t, client.IsUsable())
	assert.Equal(t, StateConnected, client.ConnectionState())
}

func TestRefresh_AwaitingAuthorization(t *testing.T) {
	client, _ := newTestClient(t, &fakeChannel{hasQR: true, qrCode: "qr-data"})

	state := client.Refresh(context.Background())

	assert.Equal(t, "qr-data", state.QRCode)
	assert.False(t, client.IsUsable())
	assert.Equal(t, StateAwaitingAuthorization, client.ConnectionState())
}

func TestRefresh_UnreachableDegradesToDisconnected(t *testing.T) {
	fake := &fakeChannel{connected: true}
	client, server := newTestClient(t, fake)

	client.Refresh(context.Background())
	require.True(t, client.IsUsable())

	server.Close()
	state := client.Refresh(context.Background())

	assert.False(t, client.IsUsable())
	assert.Equal(t, StateDisconnected, client.ConnectionState())
	assert.NotEmpty(t, state.LastError)
}

func TestRefresh_UnresponsiveChannelIsBoundedByPollTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	client := NewClient(Config{BaseURL: server.URL, PollTimeout: 50 * time.Millisecond}, zap.NewNop())

	done := make(chan State, 1)
	go func() { done <- client.Refresh(context.Background()) }()

	select {
	case state := <-done:
		assert.False(t, state.Connected)
		assert.NotEmpty(t, state.LastError)
		assert.Equal(t, StateDisconnected, client.ConnectionState())
	case <-time.After(2 * time.Second):
		t.Fatal("Refresh did not return after the poll timeout")
	}

	start := time.Now()
	assert.Error(t, client.Health(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPoller_TracksChannelWithinOneInterval(t *testing.T) {
	fake := &fakeChannel{connected: true}
	client, server := newTestClient(t, fake)

	poller := NewPoller(client, zap.NewNop(), 20*time.Millisecond)
	poller.Start()
	defer poller.Stop()

	assert.Eventually(t, client.IsUsable, time.Second, 5*time.Millisecond)

	server.Close()

	assert.Eventually(t, func() bool { return !client.IsUsable() }, time.Second, 5*time.Millisecond)
}

func TestSend_Success(t *testing.T) {
	fake := &fakeChannel{connected: true}
	client, _ := newTestClient(t, fake)

	err := client.Send(context.Background(), "447700900001", "hello")

	require.NoError(t, err)
	sent := fake.sentRequests()
	require.Len(t, sent, 1)
	assert.Equal(t, "447700900001", sent[0].Phone)
	assert.Equal(t, "hello", sent[0].Message)
}

func TestSend_RemoteErrorText(t *testing.T) {
	fake := &fakeChannel{sendStatus: http.StatusBadRequest, sendBody: `{"ok":false,"error":"number not on channel"}`}
	client, _ := newTestClient(t, fake)

	err := client.Send(context.Background(), "000", "hello")

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, http.StatusBadRequest, sendErr.StatusCode)
	assert.Equal(t, "number not on channel", sendErr.Message)
}

func TestSend_PlainTextError(t *testing.T) {
	fake := &fakeChannel{sendStatus: http.StatusInternalServerError, sendBody: "client not ready"}
	client, _ := newTestClient(t, fake)

	err := client.Send(context.Background(), "447700900001", "hello")

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, "client not ready", sendErr.Message)
}

func TestSend_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, SendTimeout: 50 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	err := client.Send(context.Background(), "447700900001", "hello")

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Zero(t, sendErr.StatusCode)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestSend_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	fake := &fakeChannel{sendStatus: http.StatusServiceUnavailable, sendBody: "down"}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, BreakerFailures: 2, BreakerOpenFor: time.Minute}, zap.NewNop())

	for i := 0; i < 2; i++ {
		require.Error(t, client.Send(context.Background(), "1", "x"))
	}
	err := client.Send(context.Background(), "1", "x")

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, "channel circuit open", sendErr.Message)
	assert.Len(t, fake.sentRequests(), 2, "open breaker should not reach the channel")
}

func TestSend_RecipientRejectionsDoNotOpenBreaker(t *testing.T) {
	fake := &fakeChannel{sendStatus: http.StatusBadRequest, sendBody: `{"error":"invalid number"}`}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, BreakerFailures: 2}, zap.NewNop())

	for i := 0; i < 4; i++ {
		_ = client.Send(context.Background(), "1", "x")
	}

	assert.Len(t, fake.sentRequests(), 4)
}

func TestDisconnect_MarksCacheDisconnected(t *testing.T) {
	fake := &fakeChannel{connected: true}
	client, _ := newTestClient(t, fake)
	client.Refresh(context.Background())
	require.True(t, client.IsUsable())

	require.NoError(t, client.Disconnect(context.Background()))

	assert.False(t, client.IsUsable())
}

func TestReconnect_DoesNotBlock(t *testing.T) {
	fake := &fakeChannel{}
	client, _ := newTestClient(t, fake)

	client.Reconnect()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fake.reconnects) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHealthAndQRCode(t *testing.T) {
	client, _ := newTestClient(t, &fakeChannel{hasQR: true, qrCode: "abc"})

	require.NoError(t, client.Health(context.Background()))
	qr, err := client.QRCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", qr)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+44 7700 900001", "447700900001"},
		{"0044 7700-900001", "447700900001"},
		{"(020) 7946 0000", "02079460000"},
		{"", ""},
		{"n/a", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.in))
		})
	}
}

func TestStateConnectionState(t *testing.T) {
	assert.Equal(t, StateConnected, State{Connected: true, QRCode: "stale"}.ConnectionState())
	assert.Equal(t, StateAwaitingAuthorization, State{QRCode: "qr"}.ConnectionState())
	assert.Equal(t, StateDisconnected, State{}.ConnectionState())
}
