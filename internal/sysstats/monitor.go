// Package sysstats samples process and host resource usage while a
// pipeline runs.
package sysstats

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/ajitpratap0/aether/pkg/errors"
)

// ResourceUsage contains resource usage information
type ResourceUsage struct {
	// CPUPercent is process CPU time over wall time since the monitor
	// started. It exceeds 100 when several threads are busy.
	CPUPercent            float64 `json:"cpu_percent"`
	HostCPUPercent        float64 `json:"host_cpu_percent"`
	MemoryRSS             uint64  `json:"memory_rss"`
	SystemMemoryPercent   float64 `json:"system_memory_percent"`
	SystemMemoryAvailable uint64  `json:"system_memory_available"`
	GoroutineCount        int     `json:"goroutines"`
	ThreadCount           int32   `json:"threads"`
}

// Fields returns the usage as zap fields.
func (u *ResourceUsage) Fields() []zap.Field {
	return []zap.Field{
		zap.Float64("cpu_pct", u.CPUPercent),
		zap.Float64("host_cpu_pct", u.HostCPUPercent),
		zap.Uint64("rss_bytes", u.MemoryRSS),
		zap.Int("goroutines", u.GoroutineCount),
		zap.Int32("threads", u.ThreadCount),
	}
}

// ResourceMonitor monitors the current process
type ResourceMonitor struct {
	process      *process.Process
	startCPUTime float64
	startTime    time.Time
	mu           sync.Mutex
}

// NewResourceMonitor creates a resource monitor for the current process
func NewResourceMonitor() (*ResourceMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to open process")
	}
	cpuTime, err := proc.Times()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read process times")
	}

	return &ResourceMonitor{
		process:      proc,
		startCPUTime: cpuTime.Total(),
		startTime:    time.Now(),
	}, nil
}

// Usage returns current resource usage. Individual probes that fail leave
// their fields at zero.
func (rm *ResourceMonitor) Usage() *ResourceUsage {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	usage := &ResourceUsage{}

	if cpuTime, err := rm.process.Times(); err == nil {
		if elapsed := time.Since(rm.startTime).Seconds(); elapsed > 0 {
			usage.CPUPercent = ((cpuTime.Total() - rm.startCPUTime) / elapsed) * 100
		}
	}

	if hostCPU, err := cpu.Percent(0, false); err == nil && len(hostCPU) > 0 {
		usage.HostCPUPercent = hostCPU[0]
	}

	if memInfo, err := rm.process.MemoryInfo(); err == nil {
		usage.MemoryRSS = memInfo.RSS
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		usage.SystemMemoryPercent = vmStat.UsedPercent
		usage.SystemMemoryAvailable = vmStat.Available
	}

	usage.GoroutineCount = runtime.NumGoroutine()
	usage.ThreadCount, _ = rm.process.NumThreads()

	return usage
}

// Sample logs usage every interval until stop is closed.
func (rm *ResourceMonitor) Sample(interval time.Duration, log *zap.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Info("resource usage", rm.Usage().Fields()...)
		case <-stop:
			return
		}
	}
}
