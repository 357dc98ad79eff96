package catalog

import (
	"context"
	"sync"
	"time"

	"storefront-service/internal/domain"
	"storefront-service/internal/metrics"
)

// Querier is the part of Engine that Latest drives.
type Querier interface {
	Query(ctx context.Context, q domain.CatalogQuery) (Result, error)
}

// Latest serializes catalog queries by issuance: starting a query cancels the one
// still in flight, and only the most recently issued query may deliver a result.
type Latest struct {
	engine  Querier
	metrics *metrics.Metrics

	mu       sync.Mutex
	seq      uint64
	cancel   context.CancelFunc
	lastUsed time.Time
}

func NewLatest(engine Querier, m *metrics.Metrics) *Latest {
	return &Latest{engine: engine, metrics: m}
}

// Query runs q. ok is false when a newer query was issued before this one
// finished, or when ctx ended; the result must then be discarded.
func (l *Latest) Query(ctx context.Context, q domain.CatalogQuery) (Result, bool) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.seq++
	issued := l.seq
	l.cancel = cancel
	l.lastUsed = time.Now()
	l.mu.Unlock()

	res, err := l.engine.Query(runCtx, q)

	l.mu.Lock()
	current := l.seq == issued
	if current {
		l.cancel = nil
	}
	l.mu.Unlock()

	if !current {
		l.metrics.QuerySuperseded()
		return Result{}, false
	}
	if err != nil {
		return Result{}, false
	}
	return res, true
}

func (l *Latest) idleSince() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUsed
}

// DefaultMaxSessions bounds how many sessions Sessions tracks at once.
const DefaultMaxSessions = 1024

// Sessions keeps one Latest per client session key.
type Sessions struct {
	engine  Querier
	metrics *metrics.Metrics
	max     int

	mu       sync.Mutex
	sessions map[string]*Latest
}

// NewSessions creates a Sessions holding at most maxSessions entries; the least
// recently used one is dropped to make room. maxSessions <= 0 selects DefaultMaxSessions.
func NewSessions(engine Querier, m *metrics.Metrics, maxSessions int) *Sessions {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Sessions{engine: engine, metrics: m, max: maxSessions, sessions: make(map[string]*Latest)}
}

// For returns the Latest bound to key, creating it on first use.
func (s *Sessions) For(key string) *Latest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.sessions[key]; ok {
		return l
	}
	if len(s.sessions) >= s.max {
		s.evictOldest()
	}
	l := NewLatest(s.engine, s.metrics)
	s.sessions[key] = l
	return l
}

// Len returns the number of tracked sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Sessions) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, l := range s.sessions {
		used := l.idleSince()
		if first || used.Before(oldest) {
			oldestKey, oldest, first = key, used, false
		}
	}
	if !first {
		delete(s.sessions, oldestKey)
	}
}
