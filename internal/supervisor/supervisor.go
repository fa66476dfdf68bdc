// Package supervisor is the process-orchestration engine: it owns the map of
// managed game servers, spawns and reaps their OS processes, fans their
// console output out to subscribers, and maintains per-server player rosters
// and cached resource metrics.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gamewarden/gamewarden/internal/broadcast"
	"github.com/gamewarden/gamewarden/internal/gamescan"
	"github.com/gamewarden/gamewarden/internal/logger"
	"github.com/gamewarden/gamewarden/internal/metrics"
)

// DefaultGracePeriod bounds the wait between the graceful stop command and
// SIGKILL escalation.
const DefaultGracePeriod = 10 * time.Second

// Config tunes a Supervisor instance.
type Config struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
	Log         logger.Config `mapstructure:"log"`
}

// Supervisor is the registry of managed servers. It is safe for concurrent
// use by any number of callers; the identity-to-descriptor map favors
// concurrent readers since status queries vastly outnumber lifecycle writes.
type Supervisor struct {
	cfg Config

	mu      sync.RWMutex
	servers map[string]*descriptor
}

func New(cfg Config) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Supervisor{cfg: cfg, servers: make(map[string]*descriptor)}
}

func (s *Supervisor) get(id string) *descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servers[id]
}

// Start spawns the server process and wires its output into the broadcaster
// and the player scanner. It fails with ErrAlreadyRunning when a live
// descriptor exists for id; it never double-spawns.
func (s *Supervisor) Start(id string, launch LaunchSpec) error {
	cmd, err := launch.BuildCommand()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	cmd.Dir = launch.WorkDir
	configureSysProcAttrs(cmd)

	d := &descriptor{
		id:          id,
		workDir:     launch.WorkDir,
		patterns:    gamescan.ForGameType(launch.GameType),
		broadcaster: broadcast.New(),
		state:       StateStarting,
		players:     make(map[string]struct{}),
		waitDone:    make(chan struct{}),
	}

	s.mu.Lock()
	if _, exists := s.servers[id]; exists {
		s.mu.Unlock()
		d.broadcaster.Close()
		return ErrAlreadyRunning
	}
	s.servers[id] = d
	s.mu.Unlock()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.Remove(id)
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.Remove(id)
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.Remove(id)
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		s.Remove(id)
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	d.mu.Lock()
	d.cmd = cmd
	d.pid = int32(cmd.Process.Pid)
	d.startedAt = time.Now()
	d.stdin = stdin
	d.console = s.cfg.Log.ConsoleWriter(id)
	// A Kill or Stop may have raced the spawn; their transition wins, and
	// the fresh process must not outlive it.
	aborted := d.state != StateStarting
	if !aborted {
		d.state = StateRunning
	}
	d.mu.Unlock()
	if aborted {
		_ = killProcessGroup(cmd.Process.Pid)
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go s.pumpOutput(d, stdout, &readers)
	go s.pumpOutput(d, stderr, &readers)
	go s.waitAndReap(d, &readers)

	metrics.IncStart(id)
	slog.Info("server started", "server", id, "pid", cmd.Process.Pid, "game", launch.GameType)
	return nil
}

// pumpOutput forwards each line of one output stream to the broadcaster, the
// rotating console log, and the player scanner.
func (s *Supervisor) pumpOutput(d *descriptor, r io.Reader, readers *sync.WaitGroup) {
	defer readers.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		s.consumeLine(d, sc.Text())
	}
}

func (s *Supervisor) consumeLine(d *descriptor, line string) {
	d.broadcaster.Publish(line)
	if d.console != nil {
		_, _ = d.console.Write(append([]byte(line), '\n'))
	}
	switch ev := d.patterns.Scan(line); ev.Kind {
	case gamescan.EventJoin:
		n := d.addPlayer(ev.Player)
		metrics.SetOnlinePlayers(d.id, n)
		slog.Info("player joined", "server", d.id, "player", ev.Player)
	case gamescan.EventLeave:
		n := d.removePlayer(ev.Player)
		metrics.SetOnlinePlayers(d.id, n)
		slog.Info("player left", "server", d.id, "player", ev.Player)
	case gamescan.EventReady:
		slog.Info("server ready", "server", d.id)
	case gamescan.EventAuthRequired:
		s.SetAuthRequired(d.id, true)
	}
}

// waitAndReap joins both output readers, reaps the process, and drops the
// descriptor. Both readers must be done before the exit transition so no
// buffered output is lost.
func (s *Supervisor) waitAndReap(d *descriptor, readers *sync.WaitGroup) {
	readers.Wait()
	err := d.cmd.Wait()

	d.mu.Lock()
	d.state = StateStopped
	d.players = make(map[string]struct{})
	d.startedAt = time.Time{}
	d.mu.Unlock()

	// Drop the descriptor before signaling the exit so a caller unblocked
	// by waitDone can immediately start the same id again.
	s.Remove(d.id)
	close(d.waitDone)
	metrics.IncStop(d.id)
	if err != nil {
		slog.Info("server exited", "server", d.id, "error", err)
	} else {
		slog.Info("server exited", "server", d.id)
	}
}

// Stop injects the game's save-and-stop command, waits up to the grace
// period, then escalates to SIGKILL. It returns once the exit is observed.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	d := s.get(id)
	if d == nil {
		return ErrNotRunning
	}
	d.mu.Lock()
	if d.state != StateRunning && d.state != StateStarting {
		d.mu.Unlock()
		return ErrNotRunning
	}
	d.state = StateStopping
	stopCmd := d.patterns.StopCommand
	done := d.waitDone
	d.mu.Unlock()

	// Best effort: a wedged process won't read this, the kill path covers it.
	if err := d.writeLine(stopCmd); err != nil {
		slog.Debug("graceful stop command not delivered", "server", id, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.GracePeriod):
	}

	// Re-read the pid: it is zero until the spawn completes, and pid 0
	// addresses the caller's own process group.
	d.mu.Lock()
	pid := d.pid
	d.mu.Unlock()
	slog.Warn("grace period expired, killing", "server", id, "pid", pid)
	if pid > 0 {
		_ = killProcessGroup(int(pid))
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return fmt.Errorf("server %s did not exit after kill", id)
	}
}

// Kill terminates immediately with no grace period. Idempotent when already
// stopped.
func (s *Supervisor) Kill(id string) error {
	d := s.get(id)
	if d == nil {
		return nil
	}
	d.mu.Lock()
	switch d.state {
	case StateRunning, StateStarting, StateStopping:
		d.state = StateKilled
	default:
		d.mu.Unlock()
		return nil
	}
	pid := d.pid
	done := d.waitDone
	d.mu.Unlock()

	// pid 0 means the spawn has not finished; the state transition above
	// makes the starter kill the process itself, never signal group 0.
	if pid > 0 {
		_ = killProcessGroup(int(pid))
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		// best-effort
	}
	return nil
}

// Restart is stop (errors ignored) followed by start with the same launch
// parameters.
func (s *Supervisor) Restart(ctx context.Context, id string, launch LaunchSpec) error {
	if err := s.Stop(ctx, id); err != nil {
		slog.Debug("restart: stop phase", "server", id, "error", err)
	}
	return s.Start(id, launch)
}

// SendCommand writes one line to the server's input stream. Writes are
// serialized; partial writes never interleave.
func (s *Supervisor) SendCommand(id, text string) error {
	d := s.get(id)
	if d == nil {
		return ErrNotRunning
	}
	d.mu.Lock()
	live := d.state == StateRunning || d.state == StateStarting
	d.mu.Unlock()
	if !live {
		return ErrNotRunning
	}
	return d.writeLine(text)
}

func (d *descriptor) writeLine(text string) error {
	d.stdinMu.Lock()
	defer d.stdinMu.Unlock()
	if d.stdin == nil {
		return ErrCommandFailed
	}
	if _, err := io.WriteString(d.stdin, text+"\n"); err != nil {
		return fmt.Errorf("%w: %v", ErrCommandFailed, err)
	}
	return nil
}

// SubscribeLogs returns a new forward-only subscription to the server's
// console feed. It works for running and installing servers alike.
func (s *Supervisor) SubscribeLogs(id string) (*broadcast.Subscription, error) {
	d := s.get(id)
	if d == nil {
		return nil, ErrNotRunning
	}
	return d.broadcaster.Subscribe(), nil
}

// BroadcastLog pushes a line that did not come from the process's own output
// (install pipeline progress, operator notices). No-op without a descriptor.
func (s *Supervisor) BroadcastLog(id, text string) {
	if d := s.get(id); d != nil {
		d.broadcaster.Publish(text)
	}
}

// RegisterInstalling creates a descriptor in Installing state bound to the
// pipeline's cancellation handle.
func (s *Supervisor) RegisterInstalling(id, workDir string, cancel context.CancelFunc) error {
	d := &descriptor{
		id:            id,
		workDir:       workDir,
		patterns:      gamescan.ForGameType(""),
		broadcaster:   broadcast.New(),
		state:         StateInstalling,
		players:       make(map[string]struct{}),
		cancelInstall: cancel,
		waitDone:      make(chan struct{}),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.servers[id]; exists {
		d.broadcaster.Close()
		return ErrAlreadyRunning
	}
	s.servers[id] = d
	return nil
}

// CancelInstall fires the abort handle registered for an installing server.
func (s *Supervisor) CancelInstall(id string) error {
	d := s.get(id)
	if d == nil {
		return ErrNotRunning
	}
	d.mu.Lock()
	cancel := d.cancelInstall
	installing := d.state == StateInstalling
	d.mu.Unlock()
	if !installing || cancel == nil {
		return ErrNotRunning
	}
	cancel()
	return nil
}

// Remove forcibly drops the descriptor and closes its broadcaster so
// subscribers see end-of-stream rather than hanging forever.
func (s *Supervisor) Remove(id string) {
	s.mu.Lock()
	d := s.servers[id]
	delete(s.servers, id)
	s.mu.Unlock()
	if d == nil {
		return
	}
	d.broadcaster.Close()
	d.mu.Lock()
	console := d.console
	d.console = nil
	d.mu.Unlock()
	if console != nil {
		_ = console.Close()
	}
	metrics.DeleteServer(id)
}

// --- synchronous descriptor reads; all return zero values for unknown ids ---

func (s *Supervisor) IsRunning(id string) bool {
	d := s.get(id)
	if d == nil {
		return false
	}
	st := d.currentState()
	return st == StateRunning || st == StateStarting || st == StateStopping
}

func (s *Supervisor) IsInstalling(id string) bool {
	d := s.get(id)
	return d != nil && d.currentState() == StateInstalling
}

func (s *Supervisor) IsAuthRequired(id string) bool {
	d := s.get(id)
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.authRequired
}

// SetAuthRequired flips the authentication overlay flag; independent of the
// lifecycle state.
func (s *Supervisor) SetAuthRequired(id string, v bool) {
	d := s.get(id)
	if d == nil {
		return
	}
	d.mu.Lock()
	changed := d.authRequired != v
	d.authRequired = v
	d.mu.Unlock()
	if changed && v {
		slog.Warn("server requires authentication", "server", id)
	}
}

// OnlinePlayers returns the current roster, or false when the server is not
// running.
func (s *Supervisor) OnlinePlayers(id string) ([]string, bool) {
	d := s.get(id)
	if d == nil {
		return nil, false
	}
	if st := d.currentState(); st != StateRunning && st != StateStarting && st != StateStopping {
		return nil, false
	}
	return d.playerList(), true
}

// TotalOnlinePlayers sums the rosters across all managed servers.
func (s *Supervisor) TotalOnlinePlayers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, d := range s.servers {
		d.mu.Lock()
		total += len(d.players)
		d.mu.Unlock()
	}
	return total
}

// StartedAt returns the spawn timestamp while the process is live.
func (s *Supervisor) StartedAt(id string) (time.Time, bool) {
	d := s.get(id)
	if d == nil {
		return time.Time{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startedAt.IsZero() {
		return time.Time{}, false
	}
	return d.startedAt, true
}

// PID returns the OS process id while the process is live.
func (s *Supervisor) PID(id string) (int32, bool) {
	d := s.get(id)
	if d == nil {
		return 0, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pid == 0 || d.startedAt.IsZero() {
		return 0, false
	}
	return d.pid, true
}

// State reports the lifecycle state, StateStopped for unknown ids.
func (s *Supervisor) State(id string) State {
	d := s.get(id)
	if d == nil {
		return StateStopped
	}
	return d.currentState()
}

// RunningPIDs snapshots the live processes for the metrics sampler.
func (s *Supervisor) RunningPIDs() map[string]int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int32, len(s.servers))
	for id, d := range s.servers {
		d.mu.Lock()
		if d.state == StateRunning && d.pid > 0 {
			out[id] = d.pid
		}
		d.mu.Unlock()
	}
	return out
}

// WorkDir reports the server's working directory for disk sampling.
func (s *Supervisor) WorkDir(id string) (string, bool) {
	d := s.get(id)
	if d == nil {
		return "", false
	}
	return d.workDir, true
}

// SetProcessMetrics writes the sampler's CPU/memory results into the
// descriptor's cached cells.
func (s *Supervisor) SetProcessMetrics(id string, cpu, cpuNorm float64, memory uint64) {
	if d := s.get(id); d != nil {
		d.setMetrics(cpu, cpuNorm, memory)
	}
}

// SetDiskUsage writes the sampler's directory-walk result.
func (s *Supervisor) SetDiskUsage(id string, bytes uint64) {
	if d := s.get(id); d != nil {
		d.setDisk(bytes)
	}
}

// MetricsData returns the cached snapshot, zeros when unknown.
func (s *Supervisor) MetricsData(id string) (cpu, cpuNorm float64, memory, disk uint64) {
	d := s.get(id)
	if d == nil {
		return 0, 0, 0, 0
	}
	return d.metricsSnapshot()
}

// Shutdown stops every running server, bounded by ctx.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.servers))
	for id := range s.servers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.Stop(ctx, id); err != nil {
				slog.Debug("shutdown stop", "server", id, "error", err)
			}
		}(id)
	}
	wg.Wait()
}
