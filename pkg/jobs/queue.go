package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPrefix      = "campus-rota:jobs"
	DefaultMaxAttempts = 5

	defaultInitialBackoff  = 30 * time.Second
	defaultMaxBackoff      = 30 * time.Minute
	defaultPollTimeout     = 2 * time.Second
	defaultPromoteInterval = time.Second
	defaultLeaseTTL        = 30 * time.Second
	repeatLockTTL          = time.Hour
)

// cronParser accepts specs with a leading seconds field, e.g. "0 0 9 * * *"
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Handler executes one job. Returning an error hands the job back to the queue's retry policy,
// so handlers must be safe to run more than once. Errors wrapped with backoff.Permanent fail the
// job without retrying.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Envelope is the persisted form of a job
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	LastError  string          `json:"lastError,omitempty"`
}

// EnqueueOptions controls how a job is enqueued
type EnqueueOptions struct {
	// Repeat is a seconds-first cron spec. When set, the job is enqueued on every tick instead of once.
	Repeat string
}

// Outcome is how a job execution ended
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeFailed    Outcome = "failed"
)

// Event describes a finished job execution. Events are informational only.
type Event struct {
	JobID   string
	Type    string
	Attempt int
	Outcome Outcome
	Delay   time.Duration // Set when Outcome is OutcomeRetrying
	Err     error
}

// Config configures the queue
type Config struct {
	Prefix          string
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	PollTimeout     time.Duration
	PromoteInterval time.Duration
	LeaseTTL        time.Duration  // How long a worker's claim survives without a heartbeat
	Location        *time.Location // Time zone for repeat specs
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.PromoteInterval <= 0 {
		c.PromoteInterval = defaultPromoteInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Queue is a Redis-backed job queue.
//
// Each job type has a ready list, one processing list per worker holding the jobs that worker has
// claimed, a delayed sorted set scored by the time a retry becomes due, and a failed list for jobs
// that ran out of attempts. A job stays in its worker's processing list until its outcome is
// settled. Workers hold a lease renewed by a heartbeat; once a worker's lease lapses, any live
// worker moves its processing lists back onto the ready lists.
type Queue struct {
	rdb      *redis.Client
	cfg      Config
	logger   *zap.Logger
	cron     *cron.Cron
	workerID string
	mu       sync.RWMutex
	handlers map[string]Handler
	now      func() time.Time

	// OnEvent receives every job outcome. It defaults to logging.
	OnEvent func(Event)
}

// NewQueue creates a queue on top of a Redis client
func NewQueue(rdb *redis.Client, cfg Config, logger *zap.Logger) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{
		rdb:      rdb,
		cfg:      cfg,
		logger:   logger,
		cron:     cron.New(cron.WithParser(cronParser), cron.WithLocation(cfg.Location)),
		workerID: uuid.New().String(),
		handlers: make(map[string]Handler),
		now:      time.Now,
	}
	q.OnEvent = q.logEvent
	return q
}

// ValidateRepeatSpec checks a seconds-first cron spec
func ValidateRepeatSpec(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid repeat spec %q: %w", spec, err)
	}
	return nil
}

func (q *Queue) readyKey(jobType string) string      { return q.cfg.Prefix + ":" + jobType }
func (q *Queue) processingKey(jobType string) string { return q.processingKeyOf(jobType, q.workerID) }
func (q *Queue) delayedKey(jobType string) string    { return q.cfg.Prefix + ":" + jobType + ":delayed" }
func (q *Queue) failedKey(jobType string) string     { return q.cfg.Prefix + ":" + jobType + ":failed" }
func (q *Queue) workersKey() string                  { return q.cfg.Prefix + ":workers" }
func (q *Queue) leaseKey(workerID string) string     { return q.cfg.Prefix + ":worker:" + workerID }

func (q *Queue) processingKeyOf(jobType, workerID string) string {
	return q.cfg.Prefix + ":" + jobType + ":processing:" + workerID
}

func (q *Queue) repeatLockKey(jobType string, tick time.Time) string {
	return q.cfg.Prefix + ":" + jobType + ":repeat:" + strconv.FormatInt(tick.Unix(), 10)
}

// Process registers the handler for a job type. Register handlers before calling Run.
func (q *Queue) Process(jobType string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

// Enqueue persists a job and returns its id without waiting for it to run.
// With opts.Repeat set it registers a recurring entry instead and returns the entry's id.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload interface{}, opts EnqueueOptions) (string, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	if opts.Repeat != "" {
		return q.registerRepeat(jobType, raw, opts.Repeat)
	}

	env := Envelope{
		ID:         uuid.New().String(),
		Type:       jobType,
		Payload:    raw,
		EnqueuedAt: q.now().UTC(),
	}
	if err := q.push(ctx, env); err != nil {
		return "", err
	}

	q.logger.Debug("Job enqueued", zap.String("job_id", env.ID), zap.String("type", jobType))
	return env.ID, nil
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}
	return raw, nil
}

func (q *Queue) push(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.readyKey(env.Type), data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", env.Type, err)
	}
	return nil
}

func (q *Queue) registerRepeat(jobType string, payload json.RawMessage, spec string) (string, error) {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return "", fmt.Errorf("invalid repeat spec %q: %w", spec, err)
	}

	entryID := q.cron.Schedule(schedule, cron.FuncJob(func() {
		q.enqueueTick(jobType, payload)
	}))

	q.logger.Info("Registered repeating job",
		zap.String("type", jobType),
		zap.String("spec", spec),
		zap.String("location", q.cfg.Location.String()))
	return fmt.Sprintf("repeat:%s:%d", jobType, entryID), nil
}

// enqueueTick enqueues one occurrence of a repeating job. Every worker process runs the same cron
// entries, so a short-lived lock per tick keeps the occurrence from being enqueued more than once.
func (q *Queue) enqueueTick(jobType string, payload json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tick := q.now().Truncate(time.Second)
	acquired, err := q.rdb.SetNX(ctx, q.repeatLockKey(jobType, tick), 1, repeatLockTTL).Result()
	if err != nil {
		q.logger.Error("Failed to acquire repeat lock", zap.String("type", jobType), zap.Error(err))
		return
	}
	if !acquired {
		q.logger.Debug("Repeating job already enqueued for this tick", zap.String("type", jobType))
		return
	}

	if _, err := q.Enqueue(ctx, jobType, payload, EnqueueOptions{}); err != nil {
		q.logger.Error("Failed to enqueue repeating job", zap.String("type", jobType), zap.Error(err))
	}
}

func (q *Queue) jobTypes() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	types := make([]string, 0, len(q.handlers))
	for t := range q.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Run consumes jobs for every registered type, promotes due retries and fires repeating entries
// until ctx is cancelled
func (q *Queue) Run(ctx context.Context) error {
	types := q.jobTypes()
	if len(types) == 0 {
		return errors.New("no job handlers registered")
	}

	if err := q.renewLease(ctx); err != nil {
		return err
	}
	if err := q.reclaimExpired(ctx, types); err != nil {
		return err
	}

	q.cron.Start()
	q.logger.Info("Job runner started", zap.Strings("types", types), zap.String("worker_id", q.workerID))

	g, gctx := errgroup.WithContext(ctx)
	for _, jobType := range types {
		jobType := jobType
		g.Go(func() error { return q.consume(gctx, jobType) })
	}
	g.Go(func() error { return q.promote(gctx, types) })
	g.Go(func() error { return q.heartbeat(gctx, types) })

	err := g.Wait()
	<-q.cron.Stop().Done()
	q.release(types)
	q.logger.Info("Job runner stopped")
	return err
}

// renewLease marks this worker alive for another LeaseTTL
func (q *Queue) renewLease(ctx context.Context) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.leaseKey(q.workerID), q.now().UTC().Format(time.RFC3339), q.cfg.LeaseTTL)
		pipe.SAdd(ctx, q.workersKey(), q.workerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to renew worker lease: %w", err)
	}
	return nil
}

// heartbeat renews the lease and reclaims jobs from workers whose lease has lapsed
func (q *Queue) heartbeat(ctx context.Context, types []string) error {
	ticker := time.NewTicker(q.cfg.LeaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := q.renewLease(ctx); err != nil && ctx.Err() == nil {
			q.logger.Error("Failed to renew worker lease", zap.Error(err))
		}
		if err := q.reclaimExpired(ctx, types); err != nil && ctx.Err() == nil {
			q.logger.Error("Failed to reclaim jobs", zap.Error(err))
		}
	}
}

// reclaimExpired requeues the processing lists of every worker whose lease has lapsed.
// Jobs claimed by live workers are never touched.
func (q *Queue) reclaimExpired(ctx context.Context, types []string) error {
	workers, err := q.rdb.SMembers(ctx, q.workersKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list workers: %w", err)
	}

	for _, workerID := range workers {
		if workerID == q.workerID {
			continue
		}
		alive, err := q.rdb.Exists(ctx, q.leaseKey(workerID)).Result()
		if err != nil {
			return fmt.Errorf("failed to check lease of worker %s: %w", workerID, err)
		}
		if alive > 0 {
			continue
		}

		for _, jobType := range types {
			if err := q.requeueStranded(ctx, jobType, workerID); err != nil {
				return err
			}
		}
		if err := q.rdb.SRem(ctx, q.workersKey(), workerID).Err(); err != nil {
			return fmt.Errorf("failed to forget worker %s: %w", workerID, err)
		}
	}
	return nil
}

// requeueStranded moves jobs left in a worker's processing list back to the ready list
func (q *Queue) requeueStranded(ctx context.Context, jobType, workerID string) error {
	processing := q.processingKeyOf(jobType, workerID)
	count := 0
	for {
		err := q.rdb.RPopLPush(ctx, processing, q.readyKey(jobType)).Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to requeue stranded %s jobs: %w", jobType, err)
		}
		count++
	}
	if count > 0 {
		q.logger.Warn("Requeued stranded jobs",
			zap.String("type", jobType),
			zap.String("worker_id", workerID),
			zap.Int("count", count))
	}
	return nil
}

// release hands back jobs interrupted by shutdown and drops this worker's lease
func (q *Queue) release(types []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, jobType := range types {
		if err := q.requeueStranded(ctx, jobType, q.workerID); err != nil {
			q.logger.Error("Failed to release jobs", zap.String("type", jobType), zap.Error(err))
			// Keep the lease registered so another worker reclaims the jobs once it lapses
			return
		}
	}
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, q.leaseKey(q.workerID))
		pipe.SRem(ctx, q.workersKey(), q.workerID)
		return nil
	})
	if err != nil {
		q.logger.Error("Failed to drop worker lease", zap.Error(err))
	}
}

func (q *Queue) consume(ctx context.Context, jobType string) error {
	for {
		raw, err := q.rdb.BRPopLPush(ctx, q.readyKey(jobType), q.processingKey(jobType), q.cfg.PollTimeout).Result()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			q.logger.Error("Failed to poll job queue", zap.String("type", jobType), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(q.cfg.PollTimeout):
			}
			continue
		}

		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			q.logger.Error("Discarding undecodable job", zap.String("type", jobType), zap.Error(err))
			q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LPush(ctx, q.failedKey(jobType), raw)
				pipe.LRem(ctx, q.processingKey(jobType), 1, raw)
				return nil
			})
			continue
		}

		event := q.execute(ctx, env)
		if ctx.Err() != nil && event.Outcome != OutcomeCompleted {
			// Left in the processing list; handed back by release
			return nil
		}
		if err := q.settle(ctx, raw, env, event); err != nil {
			q.logger.Error("Failed to settle job", zap.String("job_id", env.ID), zap.Error(err))
		}
		q.OnEvent(event)
	}
}

// execute runs the handler for env and decides the outcome
func (q *Queue) execute(ctx context.Context, env Envelope) Event {
	event := Event{JobID: env.ID, Type: env.Type, Attempt: env.Attempt + 1}

	q.mu.RLock()
	handler, ok := q.handlers[env.Type]
	q.mu.RUnlock()

	var err error
	if !ok {
		err = fmt.Errorf("no handler registered for job type %s", env.Type)
	} else {
		err = runHandler(ctx, handler, env.Payload)
	}

	switch {
	case err == nil:
		event.Outcome = OutcomeCompleted
	case !ok || isPermanent(err) || event.Attempt >= q.cfg.MaxAttempts:
		event.Outcome = OutcomeFailed
		event.Err = err
	default:
		event.Outcome = OutcomeRetrying
		event.Err = err
		event.Delay = retryDelay(event.Attempt, q.cfg.InitialBackoff, q.cfg.MaxBackoff)
	}
	return event
}

func isPermanent(err error) bool {
	var permanent *backoff.PermanentError
	return errors.As(err, &permanent)
}

func runHandler(ctx context.Context, handler Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, payload)
}

// retryDelay returns the wait before retry number attempt (1-based), doubling from initial up to maxDelay
func retryDelay(attempt int, initial, maxDelay time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (q *Queue) settle(ctx context.Context, raw string, env Envelope, event Event) error {
	processing := q.processingKey(env.Type)

	switch event.Outcome {
	case OutcomeCompleted:
		return q.rdb.LRem(ctx, processing, 1, raw).Err()

	case OutcomeRetrying:
		env.Attempt = event.Attempt
		env.LastError = event.Err.Error()
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		due := q.now().Add(event.Delay)
		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, q.delayedKey(env.Type), &redis.Z{Score: float64(due.UnixMilli()), Member: string(data)})
			pipe.LRem(ctx, processing, 1, raw)
			return nil
		})
		return err

	default:
		env.Attempt = event.Attempt
		if event.Err != nil {
			env.LastError = event.Err.Error()
		}
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LPush(ctx, q.failedKey(env.Type), string(data))
			pipe.LRem(ctx, processing, 1, raw)
			return nil
		})
		return err
	}
}

// promote moves retries whose delay has elapsed back onto their ready lists
func (q *Queue) promote(ctx context.Context, types []string) error {
	ticker := time.NewTicker(q.cfg.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		maxScore := strconv.FormatInt(q.now().UnixMilli(), 10)
		for _, jobType := range types {
			due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(jobType), &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
			if err != nil {
				if ctx.Err() == nil {
					q.logger.Error("Failed to read delayed jobs", zap.String("type", jobType), zap.Error(err))
				}
				continue
			}
			for _, member := range due {
				// Only the worker whose ZREM succeeds moves the job
				removed, err := q.rdb.ZRem(ctx, q.delayedKey(jobType), member).Result()
				if err != nil || removed == 0 {
					continue
				}
				if err := q.rdb.LPush(ctx, q.readyKey(jobType), member).Err(); err != nil {
					q.logger.Error("Failed to promote delayed job", zap.String("type", jobType), zap.Error(err))
				}
			}
		}
	}
}

// Failed returns up to limit jobs of a type that ran out of attempts, newest first
func (q *Queue) Failed(ctx context.Context, jobType string, limit int64) ([]Envelope, error) {
	raws, err := q.rdb.LRange(ctx, q.failedKey(jobType), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read failed %s jobs: %w", jobType, err)
	}
	envs := make([]Envelope, 0, len(raws))
	for _, raw := range raws {
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (q *Queue) logEvent(e Event) {
	fields := []zap.Field{
		zap.String("job_id", e.JobID),
		zap.String("type", e.Type),
		zap.Int("attempt", e.Attempt),
		zap.String("outcome", string(e.Outcome)),
	}
	switch e.Outcome {
	case OutcomeCompleted:
		q.logger.Info("Job completed", fields...)
	case OutcomeRetrying:
		q.logger.Warn("Job failed, will retry", append(fields, zap.Duration("delay", e.Delay), zap.Error(e.Err))...)
	default:
		q.logger.Error("Job failed permanently", append(fields, zap.Error(e.Err))...)
	}
}
