package logger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Publisher ships a batch of digests to an external sink.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// CollectionConfig tunes the error aggregator.
type CollectionConfig struct {
	TimeInterval   time.Duration // flush cadence
	CountThreshold int           // distinct entries that force an early flush
	Topic          string        // sink topic for flushed batches
	Publisher      Publisher
}

// LogDigest is one deduplicated error with its occurrence window.
type LogDigest struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// Collector deduplicates error entries by fingerprint and ships them in
// batches, so an error storm becomes one digest with a count instead of a
// flood.
type Collector struct {
	config *CollectionConfig

	mu      sync.Mutex
	entries map[string]*LogDigest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newCollector(config *CollectionConfig) *Collector {
	if config.TimeInterval <= 0 {
		config.TimeInterval = 30 * time.Second
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		config:  config,
		entries: make(map[string]*LogDigest),
		ctx:     ctx,
		cancel:  cancel,
	}

	c.wg.Add(1)
	go c.flushLoop()
	return c
}

// Record folds one entry into the current batch.
func (c *Collector) Record(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := fingerprint(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, seen := c.entries[key]; seen {
		entry.Count++
		entry.LastSeen = now
	} else {
		c.entries[key] = &LogDigest{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(c.entries) >= c.config.CountThreshold {
		c.flushLocked()
	}
}

// fingerprint hashes the identity of an entry; occurrence counts and
// timestamps stay out so repeats collapse onto one digest.
func fingerprint(level, message string, fields map[string]interface{}, caller string) string {
	identity := struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
		Caller  string                 `json:"caller"`
	}{level, message, fields, caller}

	data, _ := json.Marshal(identity)
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
		case <-c.ctx.Done():
			// Final flush so buffered digests survive shutdown.
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
			return
		}
	}
}

// flushLocked hands the current batch to the publisher. Caller holds mu.
func (c *Collector) flushLocked() {
	if len(c.entries) == 0 {
		return
	}

	batch := make([]LogDigest, 0, len(c.entries))
	for _, entry := range c.entries {
		batch = append(batch, *entry)
	}
	c.entries = make(map[string]*LogDigest)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.config.Publisher.PublishMessage(ctx, c.config.Topic, batch); err != nil {
			log.Printf("log collector: publish digests: %v", err)
		}
	}()
}

// Close flushes what is buffered and stops the loop.
func (c *Collector) Close() {
	c.cancel()
	c.wg.Wait()
}
