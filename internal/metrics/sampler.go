package metrics

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Fleet is the sampler's view of the supervisor: which processes are live,
// where they keep their files, and where to put the results.
type Fleet interface {
	RunningPIDs() map[string]int32
	WorkDir(id string) (string, bool)
	SetProcessMetrics(id string, cpu, cpuNorm float64, memory uint64)
	SetDiskUsage(id string, bytes uint64)
}

// SamplerConfig tunes the collection cadence. The CPU/memory interval must
// not outpace the OS's CPU accounting refresh or every read comes back zero;
// the disk walk is O(files) and runs on its own, much coarser interval.
type SamplerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	DiskInterval time.Duration `mapstructure:"disk_interval"`
}

// Sampler periodically reads per-process CPU and resident memory for every
// running server and, less eagerly, sums each server's working directory.
type Sampler struct {
	fleet        Fleet
	interval     time.Duration
	diskInterval time.Duration
}

func NewSampler(fleet Fleet, cfg SamplerConfig) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.DiskInterval <= 0 {
		cfg.DiskInterval = time.Minute
	}
	return &Sampler{fleet: fleet, interval: cfg.Interval, diskInterval: cfg.DiskInterval}
}

// Run blocks until ctx is done. A failed sample keeps the previous cached
// value; it is never fatal.
func (s *Sampler) Run(ctx context.Context) {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	diskTick := time.NewTicker(s.diskInterval)
	defer diskTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.sampleProcesses()
		case <-diskTick.C:
			s.sampleDisk()
		}
	}
}

func (s *Sampler) sampleProcesses() {
	cores := float64(runtime.NumCPU())
	for id, pid := range s.fleet.RunningPIDs() {
		proc, err := process.NewProcess(pid)
		if err != nil {
			slog.Debug("sampler: no process handle", "server", id, "pid", pid, "error", err)
			continue
		}
		cpu, err := proc.CPUPercent()
		if err != nil {
			slog.Debug("sampler: cpu read failed", "server", id, "error", err)
			continue
		}
		mem, err := proc.MemoryInfo()
		if err != nil {
			slog.Debug("sampler: memory read failed", "server", id, "error", err)
			continue
		}
		s.fleet.SetProcessMetrics(id, cpu, cpu/cores, mem.RSS)
		SetServerUsage(id, cpu, mem.RSS)
	}
}

func (s *Sampler) sampleDisk() {
	for id := range s.fleet.RunningPIDs() {
		dir, ok := s.fleet.WorkDir(id)
		if !ok || dir == "" {
			continue
		}
		size, err := DirSize(dir)
		if err != nil {
			slog.Debug("sampler: disk walk failed", "server", id, "dir", dir, "error", err)
			continue
		}
		s.fleet.SetDiskUsage(id, uint64(size))
		SetServerDisk(id, uint64(size))
	}
}
