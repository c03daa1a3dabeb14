package ffmpeg

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// defaultMonitorInterval is used when a monitor is created with a non-positive interval.
const defaultMonitorInterval = 5 * time.Second

// ProcessStats summarises the resource usage of a transcoder process.
type ProcessStats struct {
	PID int `json:"pid"`
	// CPUPercent is the last sampled CPU usage (100 = one full core).
	CPUPercent float64 `json:"cpu_percent"`
	// PeakCPUPercent is the highest sampled CPU usage.
	PeakCPUPercent float64 `json:"peak_cpu_percent"`
	// RSSBytes is the last sampled resident set size.
	RSSBytes uint64 `json:"rss_bytes"`
	// PeakRSSBytes is the largest sampled resident set size.
	PeakRSSBytes uint64        `json:"peak_rss_bytes"`
	Samples      int           `json:"samples"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// ProcessMonitor samples CPU and memory of a process at a fixed interval.
type ProcessMonitor struct {
	pid      int
	interval time.Duration

	mu    sync.Mutex
	proc  *process.Process
	stats ProcessStats

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProcessMonitor creates a monitor for pid.
func NewProcessMonitor(pid int, interval time.Duration) *ProcessMonitor {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	return &ProcessMonitor{
		pid:      pid,
		interval: interval,
		stats:    ProcessStats{PID: pid, StartedAt: time.Now()},
	}
}

// Start begins sampling in the background. Sampling stops when ctx is done
// or Stop is called. An initial sample is taken immediately.
func (m *ProcessMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.Sample(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sample(ctx)
			}
		}
	}()
}

// Stop ends sampling and returns the final stats.
func (m *ProcessMonitor) Stop() ProcessStats {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	return m.Stats()
}

// Stats returns a snapshot of the collected stats.
func (m *ProcessMonitor) Stats() ProcessStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Duration = time.Since(s.StartedAt)
	return s
}

// Sample takes one measurement. It reports false when the process could not
// be inspected, typically because it already exited.
func (m *ProcessMonitor) Sample(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proc == nil {
		p, err := process.NewProcessWithContext(ctx, int32(m.pid)) //nolint:gosec // pids fit in int32
		if err != nil {
			return false
		}
		m.proc = p
	}

	mem, err := m.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return false
	}
	cpu, err := m.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return false
	}

	m.stats.Samples++
	m.stats.RSSBytes = mem.RSS
	m.stats.CPUPercent = cpu
	m.stats.PeakRSSBytes = max(m.stats.PeakRSSBytes, mem.RSS)
	m.stats.PeakCPUPercent = max(m.stats.PeakCPUPercent, cpu)
	return true
}
