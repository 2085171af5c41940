package executor

import (
	"sync"
	"time"
)

// metrics tracks monotonic statement counters. All access goes through the
// mutex; repositories may issue statements concurrently and the counters
// are the only shared mutable state in this layer.
type metrics struct {
	mu sync.Mutex

	totalQueries      uint64
	successfulQueries uint64
	failedQueries     uint64
	slowQueries       uint64
	connectionErrors  uint64

	successDuration time.Duration
	lastError       string
	lastErrorAt     time.Time
}

// Snapshot is an immutable copy of the executor metrics at one instant.
type Snapshot struct {
	TotalQueries      uint64
	SuccessfulQueries uint64
	FailedQueries     uint64
	SlowQueries       uint64
	ConnectionErrors  uint64

	// AvgQueryTime is the running average duration of successful
	// statements.
	AvgQueryTime time.Duration

	LastError   string
	LastErrorAt time.Time
}

// observe records one physical statement attempt.
func (m *metrics) observe(err error, elapsed time.Duration, slow bool, transient bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalQueries++
	if slow {
		m.slowQueries++
	}
	if err == nil {
		m.successfulQueries++
		m.successDuration += elapsed
		return
	}

	m.failedQueries++
	if transient {
		m.connectionErrors++
	}
	m.lastError = err.Error()
	m.lastErrorAt = time.Now()
}

func (m *metrics) snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		TotalQueries:      m.totalQueries,
		SuccessfulQueries: m.successfulQueries,
		FailedQueries:     m.failedQueries,
		SlowQueries:       m.slowQueries,
		ConnectionErrors:  m.connectionErrors,
		LastError:         m.lastError,
		LastErrorAt:       m.lastErrorAt,
	}
	if m.successfulQueries > 0 {
		s.AvgQueryTime = m.successDuration / time.Duration(m.successfulQueries)
	}
	return s
}

func (m *metrics) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalQueries = 0
	m.successfulQueries = 0
	m.failedQueries = 0
	m.slowQueries = 0
	m.connectionErrors = 0
	m.successDuration = 0
	m.lastError = ""
	m.lastErrorAt = time.Time{}
}
