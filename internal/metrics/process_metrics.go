package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics holds CPU and memory metrics sampled from one service
// record's live process at a point in time.
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	MemorySwap uint64    `json:"memory_swap,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
}

// ProcessMetricsHistory stores a bounded window of samples for one record,
// as a circular buffer.
type ProcessMetricsHistory struct {
	ProcessName string
	mu          sync.RWMutex
	Metrics     []ProcessMetrics
	MaxSize     int
	startIdx    int
	count       int
}

// ProcessMetricsCollector periodically samples CPU/memory/thread/FD usage
// for every record internal/supervisor.Driver currently has a live PID for,
// and exposes the samples both as Prometheus gauges and as bounded
// in-memory history queryable through GetMetrics/GetHistory/GetAllMetrics.
type ProcessMetricsCollector struct {
	enabled    bool
	interval   time.Duration
	history    map[string]*ProcessMetricsHistory // record name -> history
	historyMu  sync.RWMutex
	maxHistory int
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	processCPUPercent *prometheus.GaugeVec
	processMemoryMB   *prometheus.GaugeVec
	processNumThreads *prometheus.GaugeVec
	processNumFDs     *prometheus.GaugeVec
}

// ProcessMetricsConfig holds configuration for process metrics collection.
type ProcessMetricsConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	MaxHistory  int           `mapstructure:"max_history"`
	HistorySize int           `mapstructure:"history_size"` // alias for MaxHistory
}

// NewProcessMetricsCollector creates a new process metrics collector.
func NewProcessMetricsCollector(config ProcessMetricsConfig) *ProcessMetricsCollector {
	maxHistory := config.MaxHistory
	if maxHistory == 0 {
		maxHistory = config.HistorySize
	}
	if maxHistory == 0 {
		maxHistory = 100
	}

	interval := config.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}

	return &ProcessMetricsCollector{
		enabled:    config.Enabled,
		interval:   interval,
		history:    make(map[string]*ProcessMetricsHistory),
		maxHistory: maxHistory,
		stopCh:     make(chan struct{}),
		processCPUPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dinitgo",
				Subsystem: "record",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage for a process-backed service record.",
			}, []string{"name"},
		),
		processMemoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dinitgo",
				Subsystem: "record",
				Name:      "memory_mb",
				Help:      "Memory usage in MB for a process-backed service record.",
			}, []string{"name"},
		),
		processNumThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dinitgo",
				Subsystem: "record",
				Name:      "num_threads",
				Help:      "Number of threads for a process-backed service record.",
			}, []string{"name"},
		),
		processNumFDs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dinitgo",
				Subsystem: "record",
				Name:      "num_fds",
				Help:      "Number of open file descriptors for a process-backed service record (Unix only).",
			}, []string{"name"},
		),
	}
}

// RegisterMetrics registers the process metrics with the provided registerer.
func (c *ProcessMetricsCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}

	collectors := []prometheus.Collector{
		c.processCPUPercent,
		c.processMemoryMB,
		c.processNumThreads,
	}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.processNumFDs)
	}

	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}

	return nil
}

// Start begins periodic collection. getRecords should return the current
// name -> PID map of every record with a live process (internal/supervisor.
// Driver.RunningPIDs).
func (c *ProcessMetricsCollector) Start(ctx context.Context, getRecords func() map[string]int32) error {
	if !c.enabled {
		return nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collectMetrics(getRecords())
			}
		}
	}()

	return nil
}

// Stop stops the metrics collection.
func (c *ProcessMetricsCollector) Stop() {
	if !c.enabled {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// collectMetrics samples CPU and memory for every record currently running.
func (c *ProcessMetricsCollector) collectMetrics(records map[string]int32) {
	timestamp := time.Now()

	sampled := make(map[string]ProcessMetrics, len(records))
	for name, pid := range records {
		if pid <= 0 {
			continue
		}
		m, err := c.getProcessMetrics(name, pid, timestamp)
		if err != nil {
			slog.Debug("failed to collect metrics for record", "name", name, "pid", pid, "error", err)
			continue
		}
		sampled[name] = *m
	}

	for name, m := range sampled {
		c.processCPUPercent.WithLabelValues(name).Set(m.CPUPercent)
		c.processMemoryMB.WithLabelValues(name).Set(m.MemoryMB)
		c.processNumThreads.WithLabelValues(name).Set(float64(m.NumThreads))
		if runtime.GOOS != "windows" && m.NumFDs > 0 {
			c.processNumFDs.WithLabelValues(name).Set(float64(m.NumFDs))
		}
		c.addToHistory(name, m)
	}

	c.cleanupMetrics(records)
}

// getProcessMetrics retrieves CPU and memory metrics for a single record's process.
func (c *ProcessMetricsCollector) getProcessMetrics(name string, pid int32, timestamp time.Time) (*ProcessMetrics, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to create process handle: %w", err)
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		slog.Debug("failed to get CPU percent", "name", name, "pid", pid, "error", err)
		cpuPercent = 0
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory info: %w", err)
	}

	numThreads, err := proc.NumThreads()
	if err != nil {
		slog.Debug("failed to get thread count", "name", name, "pid", pid, "error", err)
		numThreads = 0
	}

	m := &ProcessMetrics{
		PID:        pid,
		Name:       name,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		Timestamp:  timestamp,
		NumThreads: numThreads,
	}
	if memInfo.Swap > 0 {
		m.MemorySwap = memInfo.Swap
	}
	if runtime.GOOS != "windows" {
		if numFDs, err := proc.NumFDs(); err == nil {
			m.NumFDs = numFDs
		}
	}
	return m, nil
}

// addToHistory adds metrics to the historical data using a circular buffer.
func (c *ProcessMetricsCollector) addToHistory(name string, m ProcessMetrics) {
	c.historyMu.Lock()
	h, exists := c.history[name]
	if !exists {
		h = &ProcessMetricsHistory{ProcessName: name, Metrics: make([]ProcessMetrics, c.maxHistory), MaxSize: c.maxHistory}
		c.history[name] = h
	}
	c.historyMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count < h.MaxSize {
		h.Metrics[h.count] = m
		h.count++
	} else {
		h.Metrics[h.startIdx] = m
		h.startIdx = (h.startIdx + 1) % h.MaxSize
	}
}

// cleanupMetrics removes history and Prometheus series for records that are
// no longer running.
func (c *ProcessMetricsCollector) cleanupMetrics(active map[string]int32) {
	c.historyMu.RLock()
	var stale []string
	for name := range c.history {
		if _, ok := active[name]; !ok {
			stale = append(stale, name)
		}
	}
	c.historyMu.RUnlock()
	if len(stale) == 0 {
		return
	}

	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	for _, name := range stale {
		delete(c.history, name)
		c.processCPUPercent.DeleteLabelValues(name)
		c.processMemoryMB.DeleteLabelValues(name)
		c.processNumThreads.DeleteLabelValues(name)
		if runtime.GOOS != "windows" {
			c.processNumFDs.DeleteLabelValues(name)
		}
	}
}

// GetMetrics returns the latest metrics for a specific record.
func (c *ProcessMetricsCollector) GetMetrics(name string) (ProcessMetrics, bool) {
	if !c.enabled {
		return ProcessMetrics{}, false
	}
	c.historyMu.RLock()
	h, exists := c.history[name]
	c.historyMu.RUnlock()
	if !exists {
		return ProcessMetrics{}, false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return ProcessMetrics{}, false
	}
	var latestIdx int
	if h.count < h.MaxSize {
		latestIdx = h.count - 1
	} else {
		latestIdx = (h.startIdx - 1 + h.MaxSize) % h.MaxSize
	}
	return h.Metrics[latestIdx], true
}

// GetHistory returns the historical metrics for a specific record, oldest first.
func (c *ProcessMetricsCollector) GetHistory(name string) ([]ProcessMetrics, bool) {
	if !c.enabled {
		return nil, false
	}
	c.historyMu.RLock()
	h, exists := c.history[name]
	c.historyMu.RUnlock()
	if !exists {
		return nil, false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return nil, false
	}
	result := make([]ProcessMetrics, h.count)
	if h.count < h.MaxSize {
		copy(result, h.Metrics[:h.count])
	} else {
		n1 := copy(result, h.Metrics[h.startIdx:])
		copy(result[n1:], h.Metrics[:h.startIdx])
	}
	return result, true
}

// GetAllMetrics returns the latest metrics for every record currently tracked.
func (c *ProcessMetricsCollector) GetAllMetrics() map[string]ProcessMetrics {
	if !c.enabled {
		return make(map[string]ProcessMetrics)
	}
	c.historyMu.RLock()
	defer c.historyMu.RUnlock()

	result := make(map[string]ProcessMetrics, len(c.history))
	for name, h := range c.history {
		h.mu.RLock()
		if h.count > 0 {
			var latestIdx int
			if h.count < h.MaxSize {
				latestIdx = h.count - 1
			} else {
				latestIdx = (h.startIdx - 1 + h.MaxSize) % h.MaxSize
			}
			result[name] = h.Metrics[latestIdx]
		}
		h.mu.RUnlock()
	}
	return result
}

// IsEnabled returns whether metrics collection is enabled.
func (c *ProcessMetricsCollector) IsEnabled() bool { return c.enabled }

// SetEnabled enables or disables metrics collection.
func (c *ProcessMetricsCollector) SetEnabled(enabled bool) { c.enabled = enabled }

// AddToHistoryForTesting adds metrics to history for testing purposes.
func (c *ProcessMetricsCollector) AddToHistoryForTesting(name string, m ProcessMetrics) {
	c.addToHistory(name, m)
}

var (
	defaultCollectorMu sync.Mutex
	defaultCollector   *ProcessMetricsCollector
)

// RegisterWithProcessMetrics registers the package-level record/start/stop
// counters (Register) together with a default ProcessMetricsCollector built
// from config, and registers the collector's gauges too. Safe to call more
// than once; later calls reuse the existing default collector. The default
// collector is retrieved with GetProcessMetricsCollector, so a daemon can
// Start it against internal/supervisor.Driver.RunningPIDs once it has one.
func RegisterWithProcessMetrics(r prometheus.Registerer, config ProcessMetricsConfig) error {
	if err := Register(r); err != nil {
		return err
	}
	defaultCollectorMu.Lock()
	defer defaultCollectorMu.Unlock()
	if defaultCollector == nil {
		defaultCollector = NewProcessMetricsCollector(config)
	}
	return defaultCollector.RegisterMetrics(r)
}

// GetProcessMetricsCollector returns the collector built by
// RegisterWithProcessMetrics, or nil if that hasn't been called yet.
func GetProcessMetricsCollector() *ProcessMetricsCollector {
	defaultCollectorMu.Lock()
	defer defaultCollectorMu.Unlock()
	return defaultCollector
}
