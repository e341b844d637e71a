package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinScreen/pkg/logger"
)

// MemoryQueue is an in-process queue for background work that does not
// need to survive a restart: periodic maintenance and locally deferred
// jobs. It mirrors the RedisQueue surface so jobs run on either.
type MemoryQueue struct {
	logger *logger.Logger
	config *QueueConfig

	mu        sync.RWMutex
	jobs      map[string]Job
	schedules []schedule
	isRunning bool

	ch     chan Message
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type schedule struct {
	msgType string
	every   time.Duration
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue(lgr *logger.Logger, config *QueueConfig) *MemoryQueue {
	if config == nil {
		config = &QueueConfig{}
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &MemoryQueue{
		logger: lgr,
		config: config,
		jobs:   make(map[string]Job),
		ch:     make(chan Message, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterJobs registers multiple jobs.
func (q *MemoryQueue) RegisterJobs(jobs []Job) {
	for _, job := range jobs {
		q.RegisterJob(job)
	}
}

// RegisterJob registers a single job.
func (q *MemoryQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}

	q.jobs[job.Type()] = job
	q.logger.Info("job registered",
		logger.String("job", job.Name()),
		logger.String("type", job.Type()))
}

// Schedule enqueues an empty message of msgType every interval once the
// queue is started. The first run happens one interval after Start.
func (q *MemoryQueue) Schedule(msgType string, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", msgType)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.jobs[msgType]; !exists {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}
	if q.isRunning {
		return fmt.Errorf("schedule %s: queue already running", msgType)
	}

	q.schedules = append(q.schedules, schedule{msgType: msgType, every: every})
	return nil
}

// Start launches the worker pool and the periodic tickers.
func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	q.isRunning = true
	schedules := make([]schedule, len(q.schedules))
	copy(schedules, q.schedules)
	q.mu.Unlock()

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	for _, s := range schedules {
		q.wg.Add(1)
		go q.ticker(s)
	}

	q.logger.Info("memory queue started",
		logger.Int("workers", q.config.Workers),
		logger.Int("schedules", len(schedules)))
	return nil
}

// Stop drains the workers. Messages still buffered are dropped.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.mu.Unlock()

	q.cancel()

	doneCh := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		q.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		q.logger.Info("memory queue stopped gracefully")
		return nil
	}
}

// Enqueue adds a message to the queue. A full buffer fails fast rather
// than blocking the producer.
func (q *MemoryQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	q.mu.RLock()
	running := q.isRunning
	_, registered := q.jobs[msgType]
	q.mu.RUnlock()

	if !running {
		return fmt.Errorf("queue not running")
	}
	if !registered {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}

	msg := Message{
		ID:        newMessageID(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("queue full")
	}
}

// PublishMessage publishes a message (implements QueueService).
func (q *MemoryQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return q.Enqueue(ctx, msgType, payload)
}

func (q *MemoryQueue) worker(id int) {
	defer q.wg.Done()
	q.logger.Debug("queue worker started", logger.Int("worker_id", id))

	for {
		select {
		case <-q.ctx.Done():
			q.logger.Debug("queue worker stopping", logger.Int("worker_id", id))
			return
		case msg := <-q.ch:
			q.processMessage(msg)
		}
	}
}

func (q *MemoryQueue) ticker(s schedule) {
	defer q.wg.Done()

	t := time.NewTicker(s.every)
	defer t.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-t.C:
			if err := q.Enqueue(q.ctx, s.msgType, nil); err != nil {
				q.logger.Warn("scheduled enqueue failed",
					logger.String("type", s.msgType),
					logger.Error(err))
			}
		}
	}
}

func (q *MemoryQueue) processMessage(msg Message) {
	q.mu.RLock()
	job, exists := q.jobs[msg.Type]
	q.mu.RUnlock()

	if !exists {
		q.logger.Error("no job found",
			logger.String("type", msg.Type),
			logger.String("id", msg.ID))
		return
	}

	start := time.Now()
	err := job.Handle(q.ctx, msg.Payload)
	elapsed := time.Since(start)

	if err == nil {
		return
	}
	if q.ctx.Err() != nil {
		q.logger.Warn("message cancelled",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int64("elapsed_ms", elapsed.Milliseconds()))
		return
	}

	q.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	if msg.Attempts >= q.config.RetryLimit {
		q.logger.Error("max retries reached, dropping message",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()))
		return
	}

	msg.Attempts++
	q.wg.Add(1)
	go func(m Message) {
		defer q.wg.Done()
		select {
		case <-q.ctx.Done():
		case <-time.After(q.config.RetryDelay):
			select {
			case q.ch <- m:
			default:
				q.logger.Error("retry dropped, queue full", logger.String("id", m.ID))
			}
		}
	}(msg)
}

var _ QueueService = (*MemoryQueue)(nil)
