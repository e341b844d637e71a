package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"FinScreen/internal/domain/models"
	domrepo "FinScreen/internal/domain/repository"
	applogger "FinScreen/pkg/logger"
)

// DefaultMaxAge is how long a snapshot stays referenceable before pruning.
const DefaultMaxAge = time.Hour

// Manager keeps point-in-time snapshot records in memory. A snapshot only
// tags results for reproducibility; it never gates provider reads.
type Manager struct {
	logger *applogger.Logger

	mutex     sync.Mutex
	snapshots map[string]domrepo.SnapshotInfo
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(lgr *applogger.Logger, opts ...Option) *Manager {
	m := &Manager{
		logger:    lgr,
		snapshots: make(map[string]domrepo.SnapshotInfo),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Register(ctx context.Context, correlationID string, req models.ScreeningRequest) (domrepo.SnapshotInfo, error) {
	if err := ctx.Err(); err != nil {
		return domrepo.SnapshotInfo{}, err
	}

	info := domrepo.SnapshotInfo{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		Class:         req.Class,
		AsOf:          req.AsOf,
		CreatedAt:     m.now(),
	}

	m.mutex.Lock()
	m.snapshots[info.ID] = info
	m.mutex.Unlock()

	m.logger.Debug("snapshot registered",
		applogger.String("snapshot_id", info.ID),
		applogger.String("correlation_id", correlationID),
		applogger.String("class", string(req.Class)),
	)
	return info, nil
}

func (m *Manager) Get(id string) (domrepo.SnapshotInfo, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info, ok := m.snapshots[id]
	return info, ok
}

// Prune drops snapshots older than maxAge, returning the number removed.
func (m *Manager) Prune(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := m.now().Add(-maxAge)

	m.mutex.Lock()
	removed := 0
	for id, info := range m.snapshots {
		if info.CreatedAt.Before(cutoff) {
			delete(m.snapshots, id)
			removed++
		}
	}
	m.mutex.Unlock()

	if removed > 0 {
		m.logger.Info("snapshots pruned", applogger.Int("removed", removed))
	}
	return removed
}

// Len returns the number of live snapshots.
func (m *Manager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.snapshots)
}

var _ domrepo.SnapshotManager = (*Manager)(nil)
