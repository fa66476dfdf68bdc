// Package gamewarden exposes the embeddable surface of the daemon: the
// process supervisor, install pipeline, scheduler and HTTP router, with the
// internal types re-exported as zero-cost aliases.
package gamewarden

import (
	"context"
	"net/http"
	"time"

	"github.com/gamewarden/gamewarden/internal/broadcast"
	"github.com/gamewarden/gamewarden/internal/config"
	"github.com/gamewarden/gamewarden/internal/install"
	"github.com/gamewarden/gamewarden/internal/logger"
	"github.com/gamewarden/gamewarden/internal/metrics"
	"github.com/gamewarden/gamewarden/internal/notify"
	"github.com/gamewarden/gamewarden/internal/scheduler"
	iapi "github.com/gamewarden/gamewarden/internal/server"
	"github.com/gamewarden/gamewarden/internal/store"
	"github.com/gamewarden/gamewarden/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.

type LaunchSpec = supervisor.LaunchSpec

type State = supervisor.State

type LogMessage = broadcast.Message

type LogSubscription = broadcast.Subscription

type Server = store.Server

type Schedule = store.Schedule

type Backup = store.Backup

type Config = config.File

// Lifecycle errors.
var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrNotRunning     = supervisor.ErrNotRunning
)

// Fleet is a thin facade over the internal supervisor. It provides a stable
// public API for embedding.
type Fleet struct{ inner *supervisor.Supervisor }

func New() *Fleet {
	return &Fleet{inner: supervisor.New(supervisor.Config{})}
}

func NewWithConfig(gracePeriod time.Duration, log logger.Config) *Fleet {
	return &Fleet{inner: supervisor.New(supervisor.Config{GracePeriod: gracePeriod, Log: log})}
}

func (f *Fleet) Start(id string, launch LaunchSpec) error { return f.inner.Start(id, launch) }
func (f *Fleet) Stop(ctx context.Context, id string) error {
	return f.inner.Stop(ctx, id)
}
func (f *Fleet) Restart(ctx context.Context, id string, launch LaunchSpec) error {
	return f.inner.Restart(ctx, id, launch)
}
func (f *Fleet) Kill(id string) error               { return f.inner.Kill(id) }
func (f *Fleet) SendCommand(id, text string) error  { return f.inner.SendCommand(id, text) }
func (f *Fleet) IsRunning(id string) bool           { return f.inner.IsRunning(id) }
func (f *Fleet) State(id string) State              { return f.inner.State(id) }
func (f *Fleet) OnlinePlayers(id string) ([]string, bool) {
	return f.inner.OnlinePlayers(id)
}
func (f *Fleet) TotalOnlinePlayers() int { return f.inner.TotalOnlinePlayers() }
func (f *Fleet) SubscribeLogs(id string) (*LogSubscription, error) {
	return f.inner.SubscribeLogs(id)
}
func (f *Fleet) Shutdown(ctx context.Context) { f.inner.Shutdown(ctx) }

// Installer returns the install pipeline bound to this fleet.
func (f *Fleet) Installer(log logger.Config) *install.Installer {
	return install.New(f.inner, log)
}

// Scheduler facade.
type Scheduler struct{ inner *scheduler.Scheduler }

func NewScheduler(cfg scheduler.Config, st store.Store, f *Fleet, n notify.Notifier) *Scheduler {
	return &Scheduler{inner: scheduler.New(cfg, st, f.inner, n)}
}

func (s *Scheduler) Run(ctx context.Context) { s.inner.Run(ctx) }

// NewRouter builds the HTTP API handler for this fleet.
func NewRouter(f *Fleet, st store.Store, installer *install.Installer, basePath string) http.Handler {
	return iapi.NewRouter(f.inner, st, installer, basePath).Handler()
}

// OpenStore opens the persistence backend named by cfg.
func OpenStore(cfg store.Config) (store.Store, error) { return store.Open(cfg) }

// RegisterMetrics registers the Prometheus collectors on r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (Config, error) { return config.Load(path) }
