package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestQueue builds a queue whose Redis client is never dialled by these tests
func newTestQueue(cfg Config) *Queue {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	return NewQueue(rdb, cfg, zap.NewNop())
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{10, 30 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, retryDelay(tt.attempt, 30*time.Second, 30*time.Minute), "attempt %d", tt.attempt)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, DefaultPrefix, cfg.Prefix)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Minute, cfg.MaxBackoff)
	assert.Equal(t, 30*time.Second, cfg.LeaseTTL)
	assert.NotNil(t, cfg.Location)
}

func TestKeys(t *testing.T) {
	q := newTestQueue(Config{})

	assert.Equal(t, "campus-rota:jobs:send-email", q.readyKey(TypeSendEmail))
	assert.Equal(t, "campus-rota:jobs:send-email:processing:"+q.workerID, q.processingKey(TypeSendEmail))
	assert.Equal(t, "campus-rota:jobs:send-email:delayed", q.delayedKey(TypeSendEmail))
	assert.Equal(t, "campus-rota:jobs:send-email:failed", q.failedKey(TypeSendEmail))
}

func TestExecute_Outcomes(t *testing.T) {
	q := newTestQueue(Config{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Minute})
	q.Process("ok", func(ctx context.Context, payload json.RawMessage) error { return nil })
	q.Process("flaky", func(ctx context.Context, payload json.RawMessage) error { return errors.New("smtp timeout") })
	q.Process("bad", func(ctx context.Context, payload json.RawMessage) error {
		return backoff.Permanent(errors.New("malformed"))
	})
	q.Process("panics", func(ctx context.Context, payload json.RawMessage) error { panic("boom") })
	ctx := context.Background()

	event := q.execute(ctx, Envelope{ID: "j1", Type: "ok"})
	assert.Equal(t, OutcomeCompleted, event.Outcome)
	assert.Equal(t, 1, event.Attempt)
	assert.NoError(t, event.Err)

	event = q.execute(ctx, Envelope{ID: "j2", Type: "flaky", Attempt: 1})
	assert.Equal(t, OutcomeRetrying, event.Outcome)
	assert.Equal(t, 2, event.Attempt)
	assert.Equal(t, 2*time.Second, event.Delay)

	event = q.execute(ctx, Envelope{ID: "j3", Type: "flaky", Attempt: 2})
	assert.Equal(t, OutcomeFailed, event.Outcome)
	assert.EqualError(t, event.Err, "smtp timeout")

	event = q.execute(ctx, Envelope{ID: "j4", Type: "bad"})
	assert.Equal(t, OutcomeFailed, event.Outcome)

	event = q.execute(ctx, Envelope{ID: "j5", Type: "panics"})
	assert.Equal(t, OutcomeRetrying, event.Outcome)
	assert.Contains(t, event.Err.Error(), "panicked")

	event = q.execute(ctx, Envelope{ID: "j6", Type: "unknown"})
	assert.Equal(t, OutcomeFailed, event.Outcome)
}

func TestEnqueue_RepeatRegistersCronEntry(t *testing.T) {
	q := newTestQueue(Config{Location: time.UTC})

	id, err := q.Enqueue(context.Background(), TypeScheduleReminders, nil, EnqueueOptions{Repeat: "0 0 9 * * *"})

	require.NoError(t, err)
	assert.Contains(t, id, "repeat:schedule-reminders:")
	require.Len(t, q.cron.Entries(), 1)
}

func TestEnqueue_RepeatRejectsInvalidSpec(t *testing.T) {
	q := newTestQueue(Config{})

	_, err := q.Enqueue(context.Background(), TypeScheduleReminders, nil, EnqueueOptions{Repeat: "every day at nine"})

	require.Error(t, err)
	assert.Empty(t, q.cron.Entries())
}

func TestValidateRepeatSpec(t *testing.T) {
	assert.NoError(t, ValidateRepeatSpec("0 0 9 * * *"))
	assert.NoError(t, ValidateRepeatSpec("@daily"))
	assert.Error(t, ValidateRepeatSpec("0 9 * * *"))
}

func TestRun_RequiresHandlers(t *testing.T) {
	q := newTestQueue(Config{})

	err := q.Run(context.Background())

	assert.EqualError(t, err, "no job handlers registered")
}

func TestEncodePayload(t *testing.T) {
	raw, err := encodePayload(EmailPayload{To: "a@example.com", Subject: "Hi", Body: "Body"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"to":"a@example.com","subject":"Hi","body":"Body"}`, string(raw))

	raw, err = encodePayload(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)
}
