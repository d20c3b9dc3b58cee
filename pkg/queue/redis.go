package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"Backtest/pkg/logger"
)

// deadLetterCap bounds the dead-letter list; older entries are trimmed.
const deadLetterCap = 1000

// RedisQueue is a list-backed job queue. Pending messages live in
// <prefix>:messages, delayed retries in the <prefix>:retry sorted set scored
// by due time, and exhausted messages in <prefix>:dlq.
type RedisQueue struct {
	log    *logger.Logger
	client *redis.Client
	prefix string
	cfg    Config

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*RedisQueue)

// WithKeyPrefix namespaces every key the queue touches.
func WithKeyPrefix(prefix string) Option {
	return func(r *RedisQueue) {
		r.prefix = prefix
	}
}

func newRedisQueue(log *logger.Logger, client *redis.Client, cfg *Config, opts ...Option) *RedisQueue {
	if log == nil {
		log = logger.Nop()
	}
	r := &RedisQueue{
		log:    log,
		client: client,
		prefix: "backtest:queue",
		cfg:    cfg.withDefaults(),
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRedisPublisher returns a queue that only enqueues. It needs no Start.
func NewRedisPublisher(log *logger.Logger, client *redis.Client, opts ...Option) *RedisQueue {
	return newRedisQueue(log, client, nil, opts...)
}

// NewRedisConsumer returns a queue that runs jobs once started.
func NewRedisConsumer(log *logger.Logger, cfg *Config, client *redis.Client, jobs []Job, opts ...Option) *RedisQueue {
	r := newRedisQueue(log, client, cfg, opts...)
	for _, j := range jobs {
		r.Register(j)
	}
	return r
}

// Register binds job to its message type. The first registration wins.
func (r *RedisQueue) Register(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.jobs[job.Type()]; ok {
		r.log.Warn("job type already registered",
			logger.String("type", job.Type()), logger.String("job", prev.Name()))
		return
	}
	r.jobs[job.Type()] = job
}

// PublishMessage encodes payload and pushes it onto the pending list.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: raw, EnqueuedAt: time.Now().UTC()}
	if err := r.push(ctx, r.key("messages"), msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	r.log.Debug("message enqueued", logger.String("id", msg.ID), logger.String("type", msgType))
	return nil
}

// Start checks the connection and launches the workers and the retry mover.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := r.client.Ping(ctx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	r.cancel = stop
	r.running = true
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.work(runCtx, i)
	}
	r.wg.Add(1)
	go r.promoteRetries(runCtx)

	r.log.Info("queue consumer started",
		logger.Int("workers", r.cfg.Workers),
		logger.String("prefix", r.prefix),
		logger.Strings("types", r.types()))
	return nil
}

// Stop cancels in-flight jobs and waits for the workers until ctx expires.
// Publishers have nothing to stop.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("queue consumer stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for queue workers: %w", ctx.Err())
	}
}

func (r *RedisQueue) work(ctx context.Context, id int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		msg, ok := r.next(ctx)
		if ok {
			r.run(ctx, msg)
		}
	}
	r.log.Debug("queue worker exited", logger.Int("worker", id))
}

// next blocks for up to PollTimeout waiting for a message.
func (r *RedisQueue) next(ctx context.Context) (Message, bool) {
	res, err := r.client.BRPop(ctx, r.cfg.PollTimeout, r.key("messages")).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !isCancel(err) {
			r.log.Error("queue pop", logger.Error(err))
			sleep(ctx, r.cfg.PollTimeout)
		}
		return Message{}, false
	}
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		r.log.Error("undecodable message dropped", logger.Error(err))
		return Message{}, false
	}
	return msg, true
}

func (r *RedisQueue) run(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	log := r.log.With(logger.String("id", msg.ID), logger.String("type", msg.Type))
	if !ok {
		log.Error("no job for message type")
		r.deadLetter(msg)
		return
	}

	start := time.Now()
	err := job.Handle(ctx, msg.Payload)
	log = log.With(logger.String("job", job.Name()), logger.Duration("elapsed", time.Since(start)))

	switch settle(msg, r.cfg.RetryLimit, err, ctx.Err() != nil) {
	case outcomeDone:
		log.Debug("message handled")
	case outcomeAbandoned:
		// shutdown interrupted the job; hand the message back untouched
		log.Warn("message interrupted, requeueing")
		if err := r.push(context.Background(), r.key("messages"), msg); err != nil {
			log.Error("requeue interrupted message", logger.Error(err))
		}
	case outcomeRetry:
		msg.Attempts++
		msg.LastError = err.Error()
		due := time.Now().Add(r.cfg.RetryDelay)
		log.Warn("message failed, retry scheduled", logger.Int("attempt", msg.Attempts),
			logger.Time("due", due), logger.Error(err))
		r.scheduleRetry(msg, due)
	case outcomeDead:
		msg.LastError = err.Error()
		log.Error("message failed, retries exhausted", logger.Int("attempts", msg.Attempts+1), logger.Error(err))
		r.deadLetter(msg)
	}
}

func (r *RedisQueue) scheduleRetry(msg Message, due time.Time) {
	raw, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("encode retry", logger.Error(err))
		return
	}
	z := redis.Z{Score: float64(due.UnixMilli()), Member: raw}
	if err := r.client.ZAdd(context.Background(), r.key("retry"), z).Err(); err != nil {
		r.log.Error("schedule retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(msg Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("encode dead letter", logger.Error(err))
		return
	}
	ctx := context.Background()
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key("dlq"), raw)
	pipe.LTrim(ctx, r.key("dlq"), 0, deadLetterCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("dead letter", logger.String("id", msg.ID), logger.Error(err))
	}
}

// promoteRetries moves due retries back to the pending list. ZRem decides
// which consumer owns a member, so concurrent consumers never double-push.
func (r *RedisQueue) promoteRetries(ctx context.Context) {
	defer r.wg.Done()
	every := r.cfg.RetryDelay / 2
	if every < 100*time.Millisecond {
		every = 100 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		due, err := r.client.ZRangeByScore(ctx, r.key("retry"), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(time.Now().UnixMilli(), 10),
		}).Result()
		if err != nil {
			if !isCancel(err) {
				r.log.Error("load due retries", logger.Error(err))
			}
			continue
		}
		for _, member := range due {
			removed, err := r.client.ZRem(ctx, r.key("retry"), member).Result()
			if err != nil || removed == 0 {
				continue
			}
			if err := r.client.LPush(ctx, r.key("messages"), member).Err(); err != nil {
				r.log.Error("promote retry", logger.Error(err))
			}
		}
	}
}

func (r *RedisQueue) push(ctx context.Context, key string, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.LPush(ctx, key, raw).Err()
}

func (r *RedisQueue) types() []string {
	out := make([]string, 0, len(r.jobs))
	for t := range r.jobs {
		out = append(out, t)
	}
	return out
}

func (r *RedisQueue) key(name string) string {
	return r.prefix + ":" + name
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
