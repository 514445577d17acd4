package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// IntegrationTestSuite provides base functionality for end-to-end tests
type IntegrationTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()

	tempDir, err := os.MkdirTemp("", "aether-test-*")
	require.NoError(s.T(), err)
	s.tempDir = tempDir

	s.T().Logf("Integration test suite started in %s", s.tempDir)
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	s.cancel()

	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}

	s.T().Logf("Integration test suite completed in %v", time.Since(s.startTime))
}

// Context returns the test context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// Logger returns a logger bound to the currently running test
func (s *IntegrationTestSuite) Logger() *zap.Logger {
	return zaptest.NewLogger(s.T())
}

// TempDir returns the temporary directory path
func (s *IntegrationTestSuite) TempDir() string {
	return s.tempDir
}

// CreateTempFile creates a temporary file with content
func (s *IntegrationTestSuite) CreateTempFile(name string, content []byte) string {
	path := filepath.Join(s.tempDir, name)
	err := os.WriteFile(path, content, 0644)
	require.NoError(s.T(), err)
	return path
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// PerformanceTest checks throughput and memory of a pipeline run
type PerformanceTest struct {
	t         *testing.T
	name      string
	threshold struct {
		minThroughput float64 // items/sec
		maxMemory     int64   // bytes
	}
}

// NewPerformanceTest creates a new performance test
func NewPerformanceTest(t *testing.T, name string) *PerformanceTest {
	return &PerformanceTest{
		t:    t,
		name: name,
	}
}

// WithThroughputTarget sets minimum throughput requirement
func (p *PerformanceTest) WithThroughputTarget(itemsPerSec float64) *PerformanceTest {
	p.threshold.minThroughput = itemsPerSec
	return p
}

// WithMemoryTarget sets maximum memory growth
func (p *PerformanceTest) WithMemoryTarget(maxBytes int64) *PerformanceTest {
	p.threshold.maxMemory = maxBytes
	return p
}

// Run executes fn and checks its results against the targets
func (p *PerformanceTest) Run(fn func() (itemsProcessed int64, duration time.Duration)) {
	p.t.Helper()

	initialMem := CaptureMemoryProfile()
	items, duration := fn()
	finalMem := CaptureMemoryProfile()

	if items == 0 || duration <= 0 {
		p.t.Errorf("Performance test %s processed nothing", p.name)
		return
	}

	throughput := float64(items) / duration.Seconds()
	memoryUsed := int64(finalMem.AllocBytes) - int64(initialMem.AllocBytes)

	p.t.Logf("Performance Test: %s", p.name)
	p.t.Logf("  Items: %d", items)
	p.t.Logf("  Duration: %v", duration)
	p.t.Logf("  Throughput: %.0f items/sec", throughput)
	p.t.Logf("  Memory Delta: %s", formatBytes(memoryUsed))

	if p.threshold.minThroughput > 0 && throughput < p.threshold.minThroughput {
		p.t.Errorf("Throughput %.0f items/sec below target %.0f items/sec",
			throughput, p.threshold.minThroughput)
	}

	if p.threshold.maxMemory > 0 && memoryUsed > p.threshold.maxMemory {
		p.t.Errorf("Memory usage %s exceeds target %s",
			formatBytes(memoryUsed), formatBytes(p.threshold.maxMemory))
	}
}

// MemoryProfile captures memory statistics
type MemoryProfile struct {
	AllocBytes uint64
	TotalAlloc uint64
	Mallocs    uint64
	Frees      uint64
	HeapInuse  uint64
}

// CaptureMemoryProfile captures current memory profile
func CaptureMemoryProfile() *MemoryProfile {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &MemoryProfile{
		AllocBytes: m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Mallocs:    m.Mallocs,
		Frees:      m.Frees,
		HeapInuse:  m.HeapInuse,
	}
}

// formatBytes formats bytes into human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < 0 {
		return "-" + formatBytes(-bytes)
	}
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
