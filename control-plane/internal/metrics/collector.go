package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Pinger checks a dependency's connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DepthProvider reports a queue backlog.
type DepthProvider interface {
	Len(ctx context.Context) (int64, error)
}

// ErrorReporter exposes a component's last captured error.
type ErrorReporter interface {
	LastError() error
}

// Health is the control plane health report served by /api/v1/health.
type Health struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Process    ProcessHealth              `json:"process"`
	Database   DependencyHealth           `json:"database"`
	Redis      *DependencyHealth          `json:"redis,omitempty"`
	Buffer     *BufferHealth              `json:"audit_buffer,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ProcessHealth describes the control plane process.
type ProcessHealth struct {
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// DependencyHealth describes one external dependency.
type DependencyHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// BufferHealth describes the audit write-behind buffer.
type BufferHealth struct {
	Connected  bool  `json:"connected"`
	QueueDepth int64 `json:"queue_depth"`
}

// ComponentHealth carries a component's last captured error, if any.
type ComponentHealth struct {
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

// Collector builds health reports. Reports are cached briefly so a busy
// dashboard does not ping the database on every poll.
type Collector struct {
	database   Pinger
	redis      Pinger
	buffer     DepthProvider
	components map[string]ErrorReporter
	metrics    *Metrics

	startTime time.Time

	mu            sync.Mutex
	cached        *Health
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewCollector creates a collector. redis and buffer may be nil.
func NewCollector(database, redis Pinger, buffer DepthProvider, m *Metrics) *Collector {
	return &Collector{
		database:      database,
		redis:         redis,
		buffer:        buffer,
		components:    make(map[string]ErrorReporter),
		metrics:       m,
		startTime:     time.Now(),
		cacheDuration: 5 * time.Second,
	}
}

// Register adds a component whose LastError is reported.
func (c *Collector) Register(name string, r ErrorReporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = r
}

// Health returns the current health report.
func (c *Collector) Health(ctx context.Context) Health {
	c.mu.Lock()
	if c.cached != nil && time.Now().Before(c.cacheExpiry) {
		h := *c.cached
		c.mu.Unlock()
		return h
	}
	components := make(map[string]ErrorReporter, len(c.components))
	for k, v := range c.components {
		components[k] = v
	}
	c.mu.Unlock()

	h := c.collect(ctx, components)

	c.mu.Lock()
	c.cached = &h
	c.cacheExpiry = time.Now().Add(c.cacheDuration)
	c.mu.Unlock()
	return h
}

func (c *Collector) collect(ctx context.Context, components map[string]ErrorReporter) Health {
	h := Health{
		Status:     "healthy",
		Timestamp:  time.Now().UTC(),
		Process:    c.collectProcess(),
		Database:   ping(ctx, c.database),
		Components: make(map[string]ComponentHealth, len(components)),
	}
	if h.Database.Status != "healthy" {
		h.Status = "unhealthy"
	}

	if c.redis != nil {
		r := ping(ctx, c.redis)
		h.Redis = &r
		if r.Status != "healthy" && h.Status == "healthy" {
			h.Status = "degraded"
		}
	}

	if c.buffer != nil {
		b := &BufferHealth{}
		if n, err := c.buffer.Len(ctx); err == nil {
			b.Connected = true
			b.QueueDepth = n
			c.metrics.SetAuditBufferDepth(n)
		}
		h.Buffer = b
	}

	for name, r := range components {
		ch := ComponentHealth{Status: "ok"}
		if err := r.LastError(); err != nil {
			ch.Status = "error"
			ch.LastError = err.Error()
			if h.Status == "healthy" {
				h.Status = "degraded"
			}
		}
		h.Components[name] = ch
	}

	if h.Process.MemoryPercent > 90 || h.Process.CPUPercent > 90 {
		if h.Status == "healthy" {
			h.Status = "degraded"
		}
	}
	return h
}

func (c *Collector) collectProcess() ProcessHealth {
	p := ProcessHealth{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return p
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		p.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		p.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	if memPct, err := proc.MemoryPercent(); err == nil {
		p.MemoryPercent = float64(memPct)
	}
	return p
}

func ping(ctx context.Context, p Pinger) DependencyHealth {
	if p == nil {
		return DependencyHealth{Status: "unconfigured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return DependencyHealth{Status: "error", Error: err.Error()}
	}
	return DependencyHealth{Status: "healthy"}
}
