// Package scheduler runs the two periodic loops of the daemon: a status loop
// publishing the fleet dashboard to the configured notifier, and a task loop
// evaluating persisted schedule entries once per minute.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/gamewarden/gamewarden/internal/backup"
	"github.com/gamewarden/gamewarden/internal/metrics"
	"github.com/gamewarden/gamewarden/internal/notify"
	"github.com/gamewarden/gamewarden/internal/store"
	"github.com/gamewarden/gamewarden/internal/supervisor"
)

const (
	DefaultStatusInterval = 20 * time.Second
	DefaultTaskInterval   = time.Minute
)

// Registry is the slice of the supervisor the scheduler drives.
type Registry interface {
	Start(id string, launch supervisor.LaunchSpec) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string, launch supervisor.LaunchSpec) error
	IsRunning(id string) bool
	OnlinePlayers(id string) ([]string, bool)
	StartedAt(id string) (time.Time, bool)
	MetricsData(id string) (cpu, cpuNorm float64, memory, disk uint64)
}

// Config tunes the scheduler loops.
type Config struct {
	StatusInterval time.Duration `mapstructure:"status_interval"`
	TaskInterval   time.Duration `mapstructure:"task_interval"`
	BackupDir      string        `mapstructure:"backup_dir"`
}

// Scheduler owns the periodic loops. Construct with New and drive with Run.
type Scheduler struct {
	cfg      Config
	st       store.Store
	reg      Registry
	notifier notify.Notifier
	parser   cron.Parser
}

func New(cfg Config, st store.Store, reg Registry, notifier notify.Notifier) *Scheduler {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.TaskInterval <= 0 {
		cfg.TaskInterval = DefaultTaskInterval
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = "backups"
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Scheduler{
		cfg:      cfg,
		st:       st,
		reg:      reg,
		notifier: notifier,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Run blocks until ctx is cancelled, driving both loops. The first status
// update is delayed a few seconds so the fleet has a chance to come up.
func (s *Scheduler) Run(ctx context.Context) {
	statusTicker := time.NewTicker(s.cfg.StatusInterval)
	defer statusTicker.Stop()
	taskTicker := time.NewTicker(s.cfg.TaskInterval)
	defer taskTicker.Stop()

	select {
	case <-time.After(5 * time.Second):
		s.statusTick(ctx)
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-statusTicker.C:
			s.statusTick(ctx)
		case now := <-taskTicker.C:
			s.taskTick(ctx, now)
		}
	}
}

// taskTick evaluates every enabled schedule against now and runs the matched
// ones. Failures of one task never block the rest.
func (s *Scheduler) taskTick(ctx context.Context, now time.Time) {
	schedules, err := s.st.EnabledSchedules(ctx)
	if err != nil {
		slog.Error("failed to load schedules", "error", err)
		return
	}
	for _, sc := range schedules {
		if !s.matches(sc, now) {
			continue
		}
		slog.Info("running scheduled task", "task", sc.Name, "server", sc.ServerID, "action", sc.Action)
		err := s.runAction(ctx, sc)
		metrics.IncScheduledAction(sc.Action, err == nil)
		if err != nil {
			slog.Error("scheduled task failed", "task", sc.Name, "server", sc.ServerID, "error", err)
			_ = s.notifier.Notify(ctx, "Scheduled task failed",
				fmt.Sprintf("Task %q (%s) on server %s: %v", sc.Name, sc.Action, sc.ServerID, err),
				notify.ColorError)
		}
		if sc.DeleteAfter {
			if err := s.st.DeleteSchedule(ctx, sc.ID); err != nil {
				slog.Error("failed to delete one-shot schedule", "schedule", sc.ID, "error", err)
			}
		}
	}
}

// matches reports whether the schedule fires in the minute containing now.
func (s *Scheduler) matches(sc store.Schedule, now time.Time) bool {
	switch sc.TaskType {
	case store.TaskBasic:
		return sc.Time != "" && sc.Time == now.Format("15:04")
	case store.TaskCron:
		sched, err := s.parser.Parse(sc.CronExpr)
		if err != nil {
			return false
		}
		// Evaluate from the start of the minute so ticker skew within the
		// minute still matches.
		minute := now.Truncate(time.Minute)
		next := sched.Next(minute.Add(-1 * time.Second))
		return !next.Before(minute) && next.Before(minute.Add(time.Minute))
	default:
		return false
	}
}

func (s *Scheduler) runAction(ctx context.Context, sc store.Schedule) error {
	srv, err := s.st.GetServer(ctx, sc.ServerID)
	if err != nil {
		return err
	}
	switch sc.Action {
	case store.ActionStart:
		return s.reg.Start(srv.ID, launchSpec(srv))
	case store.ActionStop:
		return s.reg.Stop(ctx, srv.ID)
	case store.ActionRestart:
		return s.reg.Restart(ctx, srv.ID, launchSpec(srv))
	case store.ActionBackup:
		return s.runBackup(ctx, srv)
	default:
		return fmt.Errorf("unknown action %q", sc.Action)
	}
}

func (s *Scheduler) runBackup(ctx context.Context, srv store.Server) error {
	filename := backup.ArchiveName(srv.ID, time.Now().UTC())
	dst := filepath.Join(backup.Dir(s.cfg.BackupDir, srv.ID), filename)
	size, err := backup.CreateArchive(srv.WorkingDir, dst)
	if err != nil {
		return err
	}
	return s.st.AddBackup(ctx, store.Backup{
		ID:        uuid.New().String(),
		ServerID:  srv.ID,
		Filename:  filename,
		SizeBytes: size,
	})
}

// launchSpec maps a persisted server row onto the supervisor's launch spec.
func launchSpec(srv store.Server) supervisor.LaunchSpec {
	return supervisor.LaunchSpec{
		Executable: srv.ExecutablePath,
		WorkDir:    srv.WorkingDir,
		JavaPath:   srv.JavaPath,
		MinMemory:  srv.MinMemory,
		MaxMemory:  srv.MaxMemory,
		ExtraArgs:  srv.ExtraArgs,
		GameType:   srv.GameType,
	}
}

// statusTick gathers host and fleet stats and publishes the dashboard embed.
func (s *Scheduler) statusTick(ctx context.Context) {
	servers, err := s.st.ListServers(ctx)
	if err != nil {
		slog.Error("failed to list servers for status update", "error", err)
		return
	}
	embed := s.buildStatusEmbed(servers, time.Now())
	if err := s.notifier.PublishStatus(ctx, embed); err != nil {
		slog.Warn("failed to publish status", "error", err)
	}
}

func (s *Scheduler) buildStatusEmbed(servers []store.Server, now time.Time) notify.Embed {
	const gb = 1024 * 1024 * 1024

	var hostCPU float64
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		hostCPU = pcts[0]
	}
	var ramUsed, ramTotal float64
	if vm, err := mem.VirtualMemory(); err == nil {
		ramUsed = float64(vm.Used) / gb
		ramTotal = float64(vm.Total) / gb
	}
	var diskUsed, diskTotal float64
	if du, err := disk.Usage("/"); err == nil {
		diskUsed = float64(du.Used) / gb
		diskTotal = float64(du.Total) / gb
	}

	online := 0
	var lines []string
	for _, srv := range servers {
		if !s.reg.IsRunning(srv.ID) {
			lines = append(lines, fmt.Sprintf("🔴 **%s**", srv.Name))
			continue
		}
		online++
		players, _ := s.reg.OnlinePlayers(srv.ID)
		maxPlayers := srv.MaxPlayers
		if maxPlayers <= 0 {
			maxPlayers = 100
		}
		detail := fmt.Sprintf("👥 %d/%d", len(players), maxPlayers)
		if startedAt, ok := s.reg.StartedAt(srv.ID); ok {
			up := now.Sub(startedAt)
			detail += fmt.Sprintf(" • ⏱️ %dh%dm", int(up.Hours()), int(up.Minutes())%60)
		}
		cpuPct, _, memBytes, _ := s.reg.MetricsData(srv.ID)
		memMB := float64(memBytes) / (1024 * 1024)
		if memMB >= 1024 {
			detail += fmt.Sprintf(" • 📊 CPU: %.1f%% RAM: %.1f GB", cpuPct, memMB/1024)
		} else {
			detail += fmt.Sprintf(" • 📊 CPU: %.1f%% RAM: %.0f MB", cpuPct, memMB)
		}
		lines = append(lines, fmt.Sprintf("🟢 **%s**\n╰ %s", srv.Name, detail))
	}

	serverList := "No servers configured."
	if len(lines) > 0 {
		serverList = strings.Join(lines, "\n\n")
		if len(serverList) > 1000 {
			serverList = serverList[:1000] + "\n..."
		}
	}

	return notify.Embed{
		Title: "📊 System Status",
		Color: notify.ColorInfo,
		Fields: []notify.EmbedField{
			{
				Name: "Host",
				Value: fmt.Sprintf("CPU: **%.1f%%**\nRAM: **%.1f/%.1f GB**\nDisk: **%.1f/%.1f GB**",
					hostCPU, ramUsed, ramTotal, diskUsed, diskTotal),
			},
			{
				Name:  fmt.Sprintf("Servers (%d/%d)", online, len(servers)),
				Value: serverList,
			},
		},
		Footer: &notify.EmbedFooter{
			Text: "Last update • " + now.Format("15:04"),
		},
	}
}
