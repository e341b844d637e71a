package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Producer publishes screening requests, results and audit events. One
// writer serves all topics; the topic travels on each message.
type Producer struct {
	writer      *kafka.Writer
	compression string
}

// NewProducer builds a producer. At least one broker is required.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		RequiredAcks: -1,
		Compression:  "gzip",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		BatchSize:    100,
		BatchBytes:   1 << 20,
		BatchTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.HashByKey {
		balancer = &kafka.Hash{}
	}

	producerMetricsOnce.Do(registerProducerMetrics)

	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     balancer,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  compressionCodec(cfg.Compression),
			MaxAttempts:  cfg.MaxAttempts,
			WriteTimeout: cfg.WriteTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			BatchSize:    cfg.BatchSize,
			BatchBytes:   int64(cfg.BatchBytes),
			BatchTimeout: cfg.BatchTimeout,
			Async:        cfg.Async,
		},
		compression: cfg.Compression,
	}, nil
}

// Publish sends one message. Byte and string values go out as-is, anything
// else is JSON encoded.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	payload, err := encodePayload(value)
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: payload,
		Time:  start,
	})
	observePublish(topic, p.compression, int64(len(payload)), 1, time.Since(start), err)
	return err
}

// Message pairs a partition key with a payload for batch publishing.
type Message struct {
	Key   []byte
	Value interface{}
}

// PublishBatch sends several messages to one topic in a single write.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	batch := make([]kafka.Message, 0, len(messages))
	var totalBytes int64
	now := time.Now()
	for _, m := range messages {
		payload, err := encodePayload(m.Value)
		if err != nil {
			return err
		}
		batch = append(batch, kafka.Message{
			Topic: topic,
			Key:   m.Key,
			Value: payload,
			Time:  now,
		})
		totalBytes += int64(len(payload))
	}

	start := time.Now()
	err := p.writer.WriteMessages(ctx, batch...)
	observePublish(topic, p.compression, totalBytes, len(messages), time.Since(start), err)
	return err
}

// Close flushes pending batches and releases connections.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encodePayload(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		return data, nil
	}
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}

var (
	producerMetricsOnce sync.Once
	publishTotal        *prometheus.CounterVec
	publishErrors       *prometheus.CounterVec
	publishBytes        *prometheus.CounterVec
	publishLatency      *prometheus.HistogramVec
)

func registerProducerMetrics() {
	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finscreen_kafka_producer_messages_total",
			Help: "Messages published, by topic and outcome",
		},
		[]string{"topic", "compression", "result"},
	)
	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finscreen_kafka_producer_errors_total",
			Help: "Failed publishes",
		},
		[]string{"topic"},
	)
	publishBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finscreen_kafka_producer_bytes_total",
			Help: "Payload bytes published",
		},
		[]string{"topic", "compression"},
	)
	publishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finscreen_kafka_producer_publish_seconds",
			Help:    "Publish round-trip latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
}

func observePublish(topic, compression string, bytes int64, count int, elapsed time.Duration, err error) {
	if publishTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		publishErrors.WithLabelValues(topic).Inc()
	}
	publishTotal.WithLabelValues(topic, compression, result).Add(float64(count))
	publishBytes.WithLabelValues(topic, compression).Add(float64(bytes))
	publishLatency.WithLabelValues(topic).Observe(elapsed.Seconds())
}
