package pipeline

import (
	"sync"
	"time"
)

// Metrics tracks compilation activity.
type Metrics struct {
	TotalCompilations      int64         `json:"total_compilations"`
	SuccessfulCompilations int64         `json:"successful_compilations"`
	FailedCompilations     int64         `json:"failed_compilations"`
	Removals               int64         `json:"removals"`
	Coalesced              int64         `json:"coalesced"`
	AverageDuration        time.Duration `json:"average_duration"`
	TotalDuration          time.Duration `json:"total_duration"`
	mutex                  sync.RWMutex
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordCompilation records one Process call.
func (m *Metrics) RecordCompilation(duration time.Duration, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.TotalCompilations++
	m.TotalDuration += duration

	if err != nil {
		m.FailedCompilations++
	} else {
		m.SuccessfulCompilations++
	}

	if m.TotalCompilations > 0 {
		m.AverageDuration = m.TotalDuration / time.Duration(m.TotalCompilations)
	}
}

// RecordRemoval records a removed entry.
func (m *Metrics) RecordRemoval() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.Removals++
}

// RecordCoalesced records an event that replaced a pending one.
func (m *Metrics) RecordCoalesced() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.Coalesced++
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() Metrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	// Return a copy without the mutex to avoid lock copying issues
	return Metrics{
		TotalCompilations:      m.TotalCompilations,
		SuccessfulCompilations: m.SuccessfulCompilations,
		FailedCompilations:     m.FailedCompilations,
		Removals:               m.Removals,
		Coalesced:              m.Coalesced,
		AverageDuration:        m.AverageDuration,
		TotalDuration:          m.TotalDuration,
	}
}

// Reset resets all metrics
func (m *Metrics) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.TotalCompilations = 0
	m.SuccessfulCompilations = 0
	m.FailedCompilations = 0
	m.Removals = 0
	m.Coalesced = 0
	m.AverageDuration = 0
	m.TotalDuration = 0
}

// SuccessRate returns the fraction of compilations that succeeded.
func (m *Metrics) SuccessRate() float64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.TotalCompilations == 0 {
		return 0
	}
	return float64(m.SuccessfulCompilations) / float64(m.TotalCompilations)
}
