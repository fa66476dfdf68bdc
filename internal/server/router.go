// Package server exposes the daemon's HTTP API: server CRUD backed by the
// store, lifecycle and console operations backed by the supervisor, schedule
// and backup management, and the Prometheus metrics endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gamewarden/gamewarden/internal/install"
	"github.com/gamewarden/gamewarden/internal/metrics"
	"github.com/gamewarden/gamewarden/internal/notify"
	"github.com/gamewarden/gamewarden/internal/store"
	"github.com/gamewarden/gamewarden/internal/supervisor"
)

type Router struct {
	sup       *supervisor.Supervisor
	st        store.Store
	installer *install.Installer
	notifier  notify.Notifier
	basePath  string
}

func NewRouter(sup *supervisor.Supervisor, st store.Store, installer *install.Installer, basePath string) *Router {
	return &Router{sup: sup, st: st, installer: installer, notifier: notify.Nop{}, basePath: sanitizeBase(basePath)}
}

// SetNotifier routes lifecycle announcements (start, stop, restart) to n.
func (r *Router) SetNotifier(n notify.Notifier) {
	if n != nil {
		r.notifier = n
	}
}

func (r *Router) announce(title, message string, color int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.notifier.Notify(ctx, title, message, color); err != nil {
			slog.Debug("lifecycle notification failed", "error", err)
		}
	}()
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)

	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	group.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := group.Group("/api")
	api.GET("/servers", r.handleListServers)
	api.POST("/servers", r.handleUpsertServer)
	api.GET("/servers/:id", r.handleGetServer)
	api.DELETE("/servers/:id", r.handleDeleteServer)

	api.POST("/servers/:id/start", r.handleStart)
	api.POST("/servers/:id/stop", r.handleStop)
	api.POST("/servers/:id/restart", r.handleRestart)
	api.POST("/servers/:id/kill", r.handleKill)
	api.POST("/servers/:id/command", r.handleCommand)
	api.GET("/servers/:id/players", r.handlePlayers)
	api.GET("/servers/:id/console", r.handleConsole)

	api.POST("/servers/:id/install", r.handleInstall)
	api.POST("/servers/:id/reinstall", r.handleReinstall)
	api.POST("/servers/:id/install/cancel", r.handleCancelInstall)

	api.GET("/servers/:id/schedules", r.handleListSchedules)
	api.POST("/servers/:id/schedules", r.handleAddSchedule)
	api.PATCH("/schedules/:id", r.handleSetScheduleEnabled)
	api.DELETE("/schedules/:id", r.handleDeleteSchedule)

	api.GET("/servers/:id/backups", r.handleListBackups)

	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// serverStatus is the runtime view returned alongside the persisted row.
type serverStatus struct {
	store.Server
	State        string     `json:"state"`
	Running      bool       `json:"running"`
	Installing   bool       `json:"installing"`
	AuthRequired bool       `json:"auth_required"`
	PID          int32      `json:"pid,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	Players      []string   `json:"players"`
	CPUPercent   float64    `json:"cpu_percent"`
	MemoryBytes  uint64     `json:"memory_bytes"`
	DiskBytes    uint64     `json:"disk_bytes"`
}

func (r *Router) status(srv store.Server) serverStatus {
	st := serverStatus{
		Server:       srv,
		State:        r.sup.State(srv.ID).String(),
		Running:      r.sup.IsRunning(srv.ID),
		Installing:   r.sup.IsInstalling(srv.ID),
		AuthRequired: r.sup.IsAuthRequired(srv.ID),
		Players:      []string{},
	}
	if players, ok := r.sup.OnlinePlayers(srv.ID); ok && players != nil {
		st.Players = players
	}
	if pid, ok := r.sup.PID(srv.ID); ok {
		st.PID = pid
	}
	if at, ok := r.sup.StartedAt(srv.ID); ok {
		st.StartedAt = &at
	}
	cpu, _, memBytes, diskBytes := r.sup.MetricsData(srv.ID)
	st.CPUPercent = cpu
	st.MemoryBytes = memBytes
	st.DiskBytes = diskBytes
	return st
}

func (r *Router) handleListServers(c *gin.Context) {
	servers, err := r.st.ListServers(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	out := make([]serverStatus, 0, len(servers))
	for _, srv := range servers {
		out = append(out, r.status(srv))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleUpsertServer(c *gin.Context) {
	var srv store.Server
	if err := c.ShouldBindJSON(&srv); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if srv.ID == "" {
		srv.ID = uuid.New().String()
	}
	if !isSafeID(srv.ID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid id: allowed [A-Za-z0-9._-]"})
		return
	}
	if srv.Name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	if srv.WorkingDir == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "working_dir required"})
		return
	}
	if err := r.st.UpsertServer(c.Request.Context(), srv); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, srv)
}

func (r *Router) lookup(c *gin.Context) (store.Server, bool) {
	srv, err := r.st.GetServer(c.Request.Context(), c.Param("id"))
	if err != nil {
		var nf *store.NotFoundError
		if errors.As(err, &nf) {
			writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		} else {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		}
		return store.Server{}, false
	}
	return srv, true
}

func (r *Router) handleGetServer(c *gin.Context) {
	srv, ok := r.lookup(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r.status(srv))
}

func (r *Router) handleDeleteServer(c *gin.Context) {
	srv, ok := r.lookup(c)
	if !ok {
		return
	}
	if r.sup.IsRunning(srv.ID) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		if err := r.sup.Stop(ctx, srv.ID); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
			writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
			return
		}
	}
	if err := r.st.DeleteServer(c.Request.Context(), srv.ID); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	srv, ok := r.lookup(c)
	if !ok {
		return
	}
	if srv.ExecutablePath == "" {
		writeJSON(c, http.StatusConflict, errorResp{Error: "server is not installed"})
		return
	}
	err := r.sup.Start(srv.ID, supervisor.LaunchSpec{
		Executable: srv.ExecutablePath,
		WorkDir:    srv.WorkingDir,
		JavaPath:   srv.JavaPath,
		MinMemory:  srv.MinMemory,
		MaxMemory:  srv.MaxMemory,
		ExtraArgs:  srv.ExtraArgs,
		GameType:   srv.GameType,
	})
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			code = http.StatusConflict
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	r.announce("Server starting", srv.Name+" is starting up", notify.ColorInfo)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	srv, ok := r.lookup(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := r.sup.Stop(ctx, srv.ID); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, supervisor.ErrNotRunning) {
			code = http.StatusConflict
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	r.announce("Server stopped", srv.Name+" has been stopped", notify.ColorWarning)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	srv, ok := r.lookup(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()
	err := r.sup.Restart(ctx, srv.ID, supervisor.LaunchSpec{
		Executable: srv.ExecutablePath,
		WorkDir:    srv.WorkingDir,
		JavaPath:   srv.JavaPath,
		MinMemory:  srv.MinMemory,
		MaxMemory:  srv.MaxMemory,
		ExtraArgs:  srv.ExtraArgs,
		GameType:   srv.GameType,
	})
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	r.announce("Server restarting", srv.Name+" is restarting", notify.ColorInfo)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleKill(c *gin.Context) {
	if err := r.sup.Kill(c.Param("id")); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCommand(c *gin.Context) {
	var body struct {
		Command string `json:"command"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Command == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	if err := r.sup.SendCommand(c.Param("id"), body.Command); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, supervisor.ErrNotRunning) {
			code = http.StatusConflict
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handlePlayers(c *gin.Context) {
	players, ok := r.sup.OnlinePlayers(c.Param("id"))
	if !ok {
		writeJSON(c, http.StatusOK, []string{})
		return
	}
	if players == nil {
		players = []string{}
	}
	writeJSON(c, http.StatusOK, players)
}

func (r *Router) handleInstall(c *gin.Context) {
	srv, ok := r.lookup(c)
	if !ok {
		return
	}
	if err := r.installer.Begin(context.Background(), srv.ID, srv.WorkingDir); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleReinstall(c *gin.Context) {
	srv, ok := r.lookup(c)
	if !ok {
		return
	}
	if err := r.installer.Reinstall(context.Background(), srv.ID, srv.WorkingDir); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCancelInstall(c *gin.Context) {
	if err := r.sup.CancelInstall(c.Param("id")); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleListSchedules(c *gin.Context) {
	schedules, err := r.st.ListSchedules(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if schedules == nil {
		schedules = []store.Schedule{}
	}
	writeJSON(c, http.StatusOK, schedules)
}

func (r *Router) handleAddSchedule(c *gin.Context) {
	var sc store.Schedule
	if err := c.ShouldBindJSON(&sc); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	sc.ServerID = c.Param("id")
	if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	switch sc.TaskType {
	case store.TaskBasic:
		if sc.Time == "" {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "time required for basic schedule"})
			return
		}
	case store.TaskCron:
		if sc.CronExpr == "" {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "cron_expression required for cron schedule"})
			return
		}
	default:
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "task_type must be basic or cron"})
		return
	}
	switch sc.Action {
	case store.ActionStart, store.ActionStop, store.ActionRestart, store.ActionBackup:
	default:
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "unknown action"})
		return
	}
	if err := r.st.AddSchedule(c.Request.Context(), sc); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, sc)
}

func (r *Router) handleSetScheduleEnabled(c *gin.Context) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.st.SetScheduleEnabled(c.Request.Context(), c.Param("id"), body.Enabled); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleDeleteSchedule(c *gin.Context) {
	if err := r.st.DeleteSchedule(c.Request.Context(), c.Param("id")); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleListBackups(c *gin.Context) {
	backups, err := r.st.ListBackups(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if backups == nil {
		backups = []store.Backup{}
	}
	writeJSON(c, http.StatusOK, backups)
}
