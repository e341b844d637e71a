package cache

import (
	"container/list"
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// entry is a single cached value with metadata.
type entry struct {
	key       string
	value     interface{}
	createdAt time.Time
	expiresAt time.Time // zero means never expires
	sizeBytes int64
}

// expired reports whether the entry has passed its expiry at now.
func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache implements Service with TTL expiration and LRU eviction under
// a byte budget. Expiry is evaluated lazily on read; a background sweep
// reclaims entries nobody reads anymore.
type MemoryCache struct {
	mutex sync.Mutex
	items map[string]*list.Element
	lru   *list.List // front = most recently used
	size  int64
	cfg   MemoryConfig
	stats Stats
	done  chan struct{}
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSizeBytes:    1 << 30, // 1 GiB
		DefaultTTL:      time.Hour,
		CleanupInterval: 5 * time.Minute,
		Enabled:         true,
	}

	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	mc := &MemoryCache{
		items: make(map[string]*list.Element),
		lru:   list.New(),
		cfg:   *cfg,
		done:  make(chan struct{}),
	}

	go mc.sweepExpired(cfg.CleanupInterval)
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	if !mc.cfg.Enabled {
		return nil
	}

	if ttl == 0 {
		ttl = mc.cfg.DefaultTTL
	}

	now := time.Now()
	e := &entry{
		key:       key,
		value:     value,
		createdAt: now,
		sizeBytes: EstimateSize(value),
	}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if elem, ok := mc.items[key]; ok {
		mc.removeLocked(elem)
	}

	// An entry bigger than the whole budget can never fit; dropping it
	// keeps total size within budget after every Set.
	if e.sizeBytes > mc.cfg.MaxSizeBytes {
		return nil
	}

	for mc.size+e.sizeBytes > mc.cfg.MaxSizeBytes && mc.lru.Len() > 0 {
		mc.removeLocked(mc.lru.Back())
		mc.stats.Evictions++
	}

	mc.items[key] = mc.lru.PushFront(e)
	mc.size += e.sizeBytes
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	if !mc.cfg.Enabled {
		return ErrCacheMiss
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	elem, ok := mc.items[key]
	if !ok {
		mc.stats.Misses++
		return ErrCacheMiss
	}

	e := elem.Value.(*entry)
	if e.expired(time.Now()) {
		mc.removeLocked(elem)
		mc.stats.Expirations++
		mc.stats.Misses++
		return ErrCacheMiss
	}

	mc.lru.MoveToFront(elem)
	mc.stats.Hits++
	return assign(dest, e.value)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) (int, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	removed := 0
	for _, key := range keys {
		if elem, ok := mc.items[key]; ok {
			mc.removeLocked(elem)
			removed++
		}
	}
	return removed, nil
}

func (mc *MemoryCache) DeletePrefix(_ context.Context, prefix string) (int, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	removed := 0
	for key, elem := range mc.items {
		if strings.HasPrefix(key, prefix) {
			mc.removeLocked(elem)
			removed++
		}
	}
	return removed, nil
}

func (mc *MemoryCache) Clear(_ context.Context) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	mc.items = make(map[string]*list.Element)
	mc.lru.Init()
	mc.size = 0
	return nil
}

// Stats returns a snapshot of the counters. Hit/miss/eviction/expiration
// counters are cumulative; entries and size reflect the current state.
func (mc *MemoryCache) Stats() Stats {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	s := mc.stats
	s.Entries = mc.lru.Len()
	s.SizeBytes = mc.size
	return s
}

// Close stops the background sweep.
func (mc *MemoryCache) Close() error {
	select {
	case <-mc.done:
	default:
		close(mc.done)
	}
	return nil
}

// removeLocked unlinks an element and adjusts the size. Caller holds mutex.
func (mc *MemoryCache) removeLocked(elem *list.Element) {
	e := mc.lru.Remove(elem).(*entry)
	delete(mc.items, e.key)
	mc.size -= e.sizeBytes
}

func (mc *MemoryCache) sweepExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			mc.mutex.Lock()
			for elem := mc.lru.Back(); elem != nil; {
				prev := elem.Prev()
				if elem.Value.(*entry).expired(now) {
					mc.removeLocked(elem)
					mc.stats.Expirations++
				}
				elem = prev
			}
			mc.mutex.Unlock()
		case <-mc.done:
			return
		}
	}
}

var _ Service = (*MemoryCache)(nil)

// assign writes value into dest, which must be a non-nil pointer to a type
// the stored value is assignable to.
func assign(dest, value interface{}) error {
	if p, ok := dest.(*interface{}); ok {
		*p = value
		return nil
	}

	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("cache: dest must be a non-nil pointer, got %T", dest)
	}

	ev := reflect.ValueOf(value)
	if !ev.IsValid() {
		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
		return nil
	}
	if !ev.Type().AssignableTo(rv.Elem().Type()) {
		return fmt.Errorf("cache: cannot assign %T to %T", value, dest)
	}
	rv.Elem().Set(ev)
	return nil
}

// deref unwraps a destination pointer back into its value.
func deref(dest interface{}) interface{} {
	rv := reflect.ValueOf(dest)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		return rv.Elem().Interface()
	}
	return dest
}
