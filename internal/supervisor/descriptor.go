package supervisor

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/gamewarden/gamewarden/internal/broadcast"
	"github.com/gamewarden/gamewarden/internal/gamescan"
)

// State is a managed server's lifecycle state. It is not persisted; it is
// reconstructed from OS reality every time a process is spawned.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateInstalling
	StateKilled // transient, between SIGKILL and reap
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateInstalling:
		return "installing"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// descriptor tracks one managed server while it is live (running or
// installing). At most one exists per server identity; it is dropped once the
// process exits or the install pipeline finishes.
type descriptor struct {
	id       string
	workDir  string
	patterns *gamescan.Patterns

	// broadcaster lives from registration to removal; Remove closes it.
	broadcaster *broadcast.Broadcaster

	mu            sync.Mutex
	state         State
	authRequired  bool // overlay; orthogonal to state
	cmd           *exec.Cmd
	pid           int32
	startedAt     time.Time
	players       map[string]struct{}
	cancelInstall context.CancelFunc
	waitDone      chan struct{} // closed once the process is reaped and both readers joined
	console       io.WriteCloser

	// stdin has exactly one writer at a time; stdinMu serializes command
	// injection so partial writes never interleave.
	stdinMu sync.Mutex
	stdin   io.WriteCloser

	// metric cells are written by the sampler and read by API callers;
	// a separate mutex keeps those writes from blocking log reads.
	metricsMu sync.Mutex
	cpu       float64
	cpuNorm   float64
	memory    uint64
	disk      uint64
}

func (d *descriptor) currentState() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *descriptor) addPlayer(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateRunning {
		return len(d.players)
	}
	d.players[name] = struct{}{}
	return len(d.players)
}

func (d *descriptor) removePlayer(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.players, name)
	return len(d.players)
}

func (d *descriptor) playerList() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.players))
	for name := range d.players {
		out = append(out, name)
	}
	return out
}

func (d *descriptor) setMetrics(cpu, cpuNorm float64, memory uint64) {
	d.metricsMu.Lock()
	d.cpu = cpu
	d.cpuNorm = cpuNorm
	d.memory = memory
	d.metricsMu.Unlock()
}

func (d *descriptor) setDisk(bytes uint64) {
	d.metricsMu.Lock()
	d.disk = bytes
	d.metricsMu.Unlock()
}

func (d *descriptor) metricsSnapshot() (cpu, cpuNorm float64, memory, disk uint64) {
	d.metricsMu.Lock()
	defer d.metricsMu.Unlock()
	return d.cpu, d.cpuNorm, d.memory, d.disk
}
