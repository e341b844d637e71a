package kafka

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// MessageHandler consumes messages from one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

const (
	pollTimeout    = 3 * time.Second
	commitTimeout  = 2 * time.Second
	commitAttempts = 3
)

// Consumer fans messages from per-topic readers into a shared worker pool.
// Handling is serialized per (topic, partition), so partition order is kept
// even with many workers.
type Consumer struct {
	cfg      *ConsumerConfig
	readers  map[string]*kafka.Reader
	handlers map[string]MessageHandler
	dlq      *kafka.Writer
	hook     ConsumerHook

	intake   chan *envelope
	quit     chan struct{}
	readerWG sync.WaitGroup
	workerWG sync.WaitGroup
	stopOnce sync.Once

	gatesMu sync.Mutex
	gates   map[string]map[int]*sync.Mutex
}

// envelope carries one fetched message through the worker pool.
type envelope struct {
	topic string
	raw   []byte
	src   kafka.Message
}

// NewConsumer builds a consumer. At least one broker is required; handlers
// are attached with RegisterHandler before Start.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:         "finscreen-workers",
		AutoOffsetReset: "earliest",
		WorkerCount:     2,
		BufferSize:      16,
		RetryMax:        3,
		BackoffMin:      100 * time.Millisecond,
		BackoffMax:      5 * time.Second,
		MinBytes:        1,
		MaxBytes:        10 << 20,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := &Consumer{
		cfg:      cfg,
		readers:  make(map[string]*kafka.Reader),
		handlers: make(map[string]MessageHandler),
		intake:   make(chan *envelope, cfg.BufferSize),
		quit:     make(chan struct{}),
		gates:    make(map[string]map[int]*sync.Mutex),
		hook:     noopHook{},
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}

	consumerMetricsOnce.Do(registerConsumerMetrics)
	return c, nil
}

// RegisterHandler attaches a handler for its topic. The first registration
// per topic wins.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, dup := c.handlers[topic]; dup {
		log.Printf("kafka consumer: handler for topic %s already registered", topic)
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook installs lifecycle hooks around message handling.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start opens a reader per registered topic and launches the worker pool.
func (c *Consumer) Start() error {
	for topic := range c.handlers {
		startOffset := kafka.FirstOffset
		if c.cfg.AutoOffsetReset == "latest" {
			startOffset = kafka.LastOffset
		}
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: startOffset,
		})
		log.Printf("kafka consumer: listening topic=%s group=%s", topic, c.cfg.GroupID)
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.workerWG.Add(1)
		go c.worker()
	}
	for topic, reader := range c.readers {
		c.readerWG.Add(1)
		go c.readLoop(topic, reader)
	}

	log.Printf("kafka consumer: started topics=%d workers=%d", len(c.readers), c.cfg.WorkerCount)
	return nil
}

// Stop drains readers first, then workers, so no goroutine is left sending
// on a closed channel. Bounded by ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		log.Println("kafka consumer: draining")
		close(c.quit)

		if stopErr = await(ctx, &c.readerWG); stopErr != nil {
			stopErr = fmt.Errorf("drain readers: %w", stopErr)
			return
		}
		close(c.intake)
		if err := await(ctx, &c.workerWG); err != nil {
			stopErr = fmt.Errorf("drain workers: %w", err)
		}

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				log.Printf("kafka consumer: close reader %s: %v", topic, err)
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				log.Printf("kafka consumer: close dlq writer: %v", err)
			}
		}
		if stopErr == nil {
			log.Println("kafka consumer: stopped")
		}
	})
	return stopErr
}

func await(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// readLoop fetches without committing; offsets are committed by the worker
// after handling, so a crash mid-handle redelivers instead of losing the
// message.
func (c *Consumer) readLoop(topic string, reader *kafka.Reader) {
	defer c.readerWG.Done()
	for {
		select {
		case <-c.quit:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		msg, err := reader.FetchMessage(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				log.Printf("kafka consumer: fetch topic=%s: %v", topic, err)
			}
			continue
		}
		if !c.enqueue(&envelope{topic: topic, raw: msg.Value, src: msg}) {
			return
		}
	}
}

// enqueue blocks until the intake channel accepts the message, easing off
// when it runs hot. Returns false once shutdown begins.
func (c *Consumer) enqueue(env *envelope) bool {
	for {
		select {
		case c.intake <- env:
			intakeDepth.WithLabelValues(env.topic).Set(float64(len(c.intake)))
			intakeFullness.WithLabelValues(env.topic).Set(fullness(c.intake))
			return true
		case <-c.quit:
			return false
		default:
			full := fullness(c.intake)
			intakeFullness.WithLabelValues(env.topic).Set(full)
			if full > 0.8 {
				time.Sleep(10 * time.Millisecond)
			} else {
				runtime.Gosched()
			}
		}
	}
}

func fullness(ch chan *envelope) float64 {
	return float64(len(ch)) / float64(cap(ch))
}

func (c *Consumer) worker() {
	defer c.workerWG.Done()
	for env := range c.intake {
		c.process(env)
	}
}

func (c *Consumer) process(env *envelope) {
	handler, ok := c.handlers[env.topic]
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("kafka consumer: handler panic topic=%s: %v", env.topic, r)
		}
	}()

	// One in-flight message per (topic, partition).
	gate := c.partitionGate(env.topic, env.src.Partition)
	gate.Lock()
	defer gate.Unlock()

	start := time.Now()
	err := c.deliver(handler, env)
	if err != nil {
		c.hook.OnError(context.Background(), env.topic, env.src, env.raw, err)
		log.Printf("kafka consumer: giving up topic=%s after %d retries: %v", env.topic, c.cfg.RetryMax, err)
		if c.dlq != nil {
			if dlqErr := c.deadLetter(env, err); dlqErr != nil {
				log.Printf("kafka consumer: dead-letter to %s: %v", c.cfg.DLQTopic, dlqErr)
			} else {
				c.commit(env)
			}
		}
	} else {
		c.commit(env)
	}
	handleLatency.WithLabelValues(env.topic).Observe(time.Since(start).Seconds())
}

// deliver runs the handler with hook wrapping and bounded retries.
func (c *Consumer) deliver(handler MessageHandler, env *envelope) error {
	for attempt := 1; ; attempt++ {
		hctx, hmsg, hdata, err := c.hook.BeforeHandle(context.Background(), env.topic, env.src, env.raw)
		if err != nil {
			return err
		}

		err = handler.Handle(hctx, hdata)
		c.hook.AfterHandle(hctx, env.topic, hmsg, hdata, err)
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}

		c.hook.OnError(hctx, env.topic, hmsg, hdata, err)
		select {
		case <-time.After(jitteredBackoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		case <-c.quit:
			return err
		}
	}
}

// deadLetter forwards an exhausted message with its origin and failure
// cause in the headers.
func (c *Consumer) deadLetter(env *envelope, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   env.src.Key,
		Value: env.raw,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "origin_topic", Value: []byte(env.topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
}

func (c *Consumer) commit(env *envelope) {
	reader := c.readers[env.topic]
	if reader == nil {
		return
	}
	var err error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
		err = reader.CommitMessages(ctx, env.src)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(jitteredBackoff(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	log.Printf("kafka consumer: commit topic=%s partition=%d: %v", env.topic, env.src.Partition, err)
}

func (c *Consumer) partitionGate(topic string, partition int) *sync.Mutex {
	c.gatesMu.Lock()
	defer c.gatesMu.Unlock()
	byPartition, ok := c.gates[topic]
	if !ok {
		byPartition = make(map[int]*sync.Mutex)
		c.gates[topic] = byPartition
	}
	gate, ok := byPartition[partition]
	if !ok {
		gate = &sync.Mutex{}
		byPartition[partition] = gate
	}
	return gate
}

// jitteredBackoff doubles from min up to max and subtracts up to half as
// jitter, so retrying consumers do not fall into lockstep.
func jitteredBackoff(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	backoff := min << uint(attempt-1)
	if backoff > max || backoff <= 0 {
		backoff = max
	}
	return backoff - time.Duration(rand.Int63n(int64(backoff)/2))
}

var (
	consumerMetricsOnce sync.Once
	intakeDepth         *prometheus.GaugeVec
	intakeFullness      *prometheus.GaugeVec
	handleLatency       *prometheus.HistogramVec
)

func registerConsumerMetrics() {
	intakeDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "finscreen_kafka_consumer_queue_depth", Help: "Messages waiting for a worker"},
		[]string{"topic"},
	)
	intakeFullness = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "finscreen_kafka_consumer_queue_fullness", Help: "Intake utilization (len/cap)"},
		[]string{"topic"},
	)
	handleLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Name: "finscreen_kafka_consumer_handle_seconds", Help: "Handling time per message"},
		[]string{"topic"},
	)
}
