// Package task is a small in-memory work dispatcher with per-group serialized
// execution, idempotent enqueue and retry with exponential backoff. Panelcore
// routes audit writes and periodic maintenance through it.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/small-frappuccino/panelcore/pkg/log"
)

// Handler processes a task payload.
type Handler func(ctx context.Context, payload any) error

// Options configures how a task is dispatched and executed.
type Options struct {
	// GroupKey serializes execution for tasks sharing the same group. Empty
	// means the global group.
	GroupKey string

	// IdempotencyKey deduplicates tasks enqueued within the idempotency TTL
	// window.
	IdempotencyKey string

	// MaxAttempts caps retries on handler error. 0 uses the queue default.
	MaxAttempts int
}

// Task is one unit of work.
type Task struct {
	Type    string
	Payload any
	Options Options
}

// Config tunes the queue.
type Config struct {
	DefaultMaxAttempts int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	IdempotencyTTL     time.Duration
	GroupBuffer        int
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		DefaultMaxAttempts: 3,
		InitialBackoff:     time.Second,
		MaxBackoff:         30 * time.Second,
		IdempotencyTTL:     time.Minute,
		GroupBuffer:        64,
	}
}

var (
	ErrClosed      = errors.New("task queue is closed")
	ErrUnknownType = errors.New("unknown task type")
	ErrDuplicate   = errors.New("duplicate task (idempotency key present)")
)

const globalGroup = "_global"

// Queue dispatches tasks to per-group workers. Each group runs its tasks in
// enqueue order; retries happen in place so ordering survives failures.
type Queue struct {
	mu       sync.Mutex
	handlers map[string]Handler
	groups   map[string]chan job
	dedupe   map[string]time.Time
	closed   bool

	cfg      Config
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

type job struct {
	task    Task
	handler Handler
}

// NewQueue creates a Queue, filling zero config fields from Defaults.
func NewQueue(cfg Config) *Queue {
	def := Defaults()
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	if cfg.GroupBuffer <= 0 {
		cfg.GroupBuffer = def.GroupBuffer
	}

	return &Queue{
		handlers: make(map[string]Handler),
		groups:   make(map[string]chan job),
		dedupe:   make(map[string]time.Time),
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// RegisterHandler binds a handler to a task type.
func (q *Queue) RegisterHandler(taskType string, h Handler) {
	q.mu.Lock()
	q.handlers[taskType] = h
	q.mu.Unlock()
}

// Enqueue submits a task. It returns ErrUnknownType when no handler is
// registered and ErrDuplicate when a live idempotency key matches.
func (q *Queue) Enqueue(ctx context.Context, t Task) error {
	// The lock is held through the channel send so Close cannot close a group
	// channel mid-enqueue. Workers never take the lock.
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	h, ok := q.handlers[t.Type]
	if !ok || h == nil {
		return ErrUnknownType
	}

	if key := t.Options.IdempotencyKey; key != "" {
		now := time.Now()
		for k, expiry := range q.dedupe {
			if now.After(expiry) {
				delete(q.dedupe, k)
			}
		}
		if expiry, exists := q.dedupe[key]; exists && now.Before(expiry) {
			return ErrDuplicate
		}
		q.dedupe[key] = now.Add(q.cfg.IdempotencyTTL)
	}

	groupKey := t.Options.GroupKey
	if groupKey == "" {
		groupKey = globalGroup
	}
	ch, ok := q.groups[groupKey]
	if !ok {
		ch = make(chan job, q.cfg.GroupBuffer)
		q.groups[groupKey] = ch
		q.wg.Add(1)
		go q.worker(groupKey, ch)
	}

	select {
	case ch <- job{task: t, handler: h}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker(groupKey string, ch chan job) {
	defer q.wg.Done()
	for j := range ch {
		q.run(groupKey, j.task, j.handler)
	}
}

func (q *Queue) run(groupKey string, t Task, h Handler) {
	maxAttempts := t.Options.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.DefaultMaxAttempts
	}

	backoff := q.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := h(context.Background(), t.Payload)
		if err == nil {
			return
		}
		if attempt >= maxAttempts {
			log.ApplicationLogger().Error("Task gave up after retries",
				"type", t.Type, "group", groupKey, "attempts", attempt, "err", err)
			return
		}

		select {
		case <-time.After(backoff):
		case <-q.stopCh:
			return
		}
		backoff = min(backoff*2, q.cfg.MaxBackoff)
	}
}

// ScheduleEvery enqueues the task at the given interval until canceled. The
// first dispatch happens one interval from now.
func (q *Queue) ScheduleEvery(interval time.Duration, t Task) func() {
	cancelCh := make(chan struct{})
	var once sync.Once

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := q.Enqueue(context.Background(), t); err != nil && !errors.Is(err, ErrDuplicate) {
					log.ApplicationLogger().Warn("Scheduled task enqueue failed", "type", t.Type, "err", err)
				}
			case <-cancelCh:
				return
			case <-q.stopCh:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(cancelCh) }) }
}

// ScheduleDailyAtUTC enqueues the task at the next hour:minute UTC and every
// 24 hours after that.
func (q *Queue) ScheduleDailyAtUTC(hour, minute int, t Task) func() {
	cancelCh := make(chan struct{})
	var once sync.Once

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		now := time.Now().UTC()
		target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
		if !now.Before(target) {
			target = target.Add(24 * time.Hour)
		}

		timer := time.NewTimer(time.Until(target))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-cancelCh:
			return
		case <-q.stopCh:
			return
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if err := q.Enqueue(context.Background(), t); err != nil && !errors.Is(err, ErrDuplicate) {
				log.ApplicationLogger().Warn("Scheduled task enqueue failed", "type", t.Type, "err", err)
			}
			select {
			case <-ticker.C:
			case <-cancelCh:
				return
			case <-q.stopCh:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(cancelCh) }) }
}

// Close stops schedulers and group workers, waiting for in-flight tasks.
// Tasks still buffered in group channels are drained before workers exit.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		for _, ch := range q.groups {
			close(ch)
		}
		q.mu.Unlock()
		close(q.stopCh)
		q.wg.Wait()
	})
}
