// Package progress turns a running byte counter into periodic progress
// samples with a windowed speed estimate.
package progress

import (
	"sync"
	"time"
)

const (
	DefaultReportInterval = 500 * time.Millisecond
	DefaultSpeedWindow    = 2 * time.Second
)

// Sample is one progress report. Periodic samples carry the latest
// windowed speed; the final sample has Completed set and carries the
// whole-transfer average and elapsed time.
type Sample struct {
	Bytes      int64
	Total      int64
	SpeedBps   float64
	Percent    float64
	ETA        time.Duration
	Completed  bool
	AverageBps float64
	Elapsed    time.Duration
}

// Meter samples a single transfer. It is safe for concurrent use, but a
// transfer normally drives it from one chunk loop.
type Meter struct {
	mu             sync.Mutex
	now            func() time.Time
	reportInterval time.Duration
	speedWindow    time.Duration

	total      int64
	done       int64
	startedAt  time.Time
	lastReport time.Time
	speedAt    time.Time
	speedBytes int64
	speedBps   float64
}

// NewMeter returns a meter using the default intervals and wall clock.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{
		now:            now,
		reportInterval: DefaultReportInterval,
		speedWindow:    DefaultSpeedWindow,
	}
}

// SetIntervals overrides the report and speed intervals. Non-positive
// values keep the current setting.
func (m *Meter) SetIntervals(report, speed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if report > 0 {
		m.reportInterval = report
	}
	if speed > 0 {
		m.speedWindow = speed
	}
}

// Start resets the meter for a transfer of totalBytes.
func (m *Meter) Start(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.total = totalBytes
	m.done = 0
	m.startedAt = now
	m.lastReport = now
	m.speedAt = now
	m.speedBytes = 0
	m.speedBps = 0
}

// Add records n more bytes. It returns a sample and true when at least one
// report interval has passed since the previous report.
func (m *Meter) Add(n int) (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.done += int64(n)
	}

	now := m.now()
	if now.Sub(m.lastReport) < m.reportInterval {
		return Sample{}, false
	}
	m.lastReport = now

	if elapsed := now.Sub(m.speedAt); elapsed >= m.speedWindow {
		m.speedBps = float64(m.done-m.speedBytes) / elapsed.Seconds()
		m.speedAt = now
		m.speedBytes = m.done
	}
	return m.sampleLocked(), true
}

// Finish returns the final sample for the transfer.
func (m *Meter) Finish() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sampleLocked()
	s.Completed = true
	s.Elapsed = m.now().Sub(m.startedAt)
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.AverageBps = float64(m.done) / secs
	}
	s.SpeedBps = s.AverageBps
	s.ETA = 0
	return s
}

// Snapshot returns the current state without affecting report timing.
func (m *Meter) Snapshot() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sampleLocked()
}

func (m *Meter) sampleLocked() Sample {
	s := Sample{
		Bytes:    m.done,
		Total:    m.total,
		SpeedBps: m.speedBps,
	}
	if m.total > 0 {
		s.Percent = float64(m.done) / float64(m.total) * 100
	}
	if m.speedBps > 0 && m.total > m.done {
		remaining := float64(m.total - m.done)
		s.ETA = time.Duration(remaining / m.speedBps * float64(time.Second))
	}
	return s
}
