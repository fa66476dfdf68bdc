package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamewarden/gamewarden/internal/store"
	"github.com/gamewarden/gamewarden/internal/supervisor"
)

// fakeStore implements store.Store in memory for scheduler tests.
type fakeStore struct {
	servers   map[string]store.Server
	schedules map[string]store.Schedule
	backups   []store.Backup
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		servers:   make(map[string]store.Server),
		schedules: make(map[string]store.Schedule),
	}
}

func (f *fakeStore) EnsureSchema(context.Context) error { return nil }
func (f *fakeStore) Close() error                       { return nil }

func (f *fakeStore) UpsertServer(_ context.Context, s store.Server) error {
	f.servers[s.ID] = s
	return nil
}

func (f *fakeStore) GetServer(_ context.Context, id string) (store.Server, error) {
	s, ok := f.servers[id]
	if !ok {
		return store.Server{}, &store.NotFoundError{Kind: "server", ID: id}
	}
	return s, nil
}

func (f *fakeStore) ListServers(context.Context) ([]store.Server, error) {
	out := make([]store.Server, 0, len(f.servers))
	for _, s := range f.servers {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) DeleteServer(_ context.Context, id string) error {
	delete(f.servers, id)
	return nil
}

func (f *fakeStore) SetExecutablePath(_ context.Context, id, path string) error {
	s := f.servers[id]
	s.ExecutablePath = path
	f.servers[id] = s
	return nil
}

func (f *fakeStore) AddSchedule(_ context.Context, s store.Schedule) error {
	f.schedules[s.ID] = s
	return nil
}

func (f *fakeStore) ListSchedules(_ context.Context, serverID string) ([]store.Schedule, error) {
	var out []store.Schedule
	for _, s := range f.schedules {
		if s.ServerID == serverID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) EnabledSchedules(context.Context) ([]store.Schedule, error) {
	var out []store.Schedule
	for _, s := range f.schedules {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) SetScheduleEnabled(_ context.Context, id string, enabled bool) error {
	s := f.schedules[id]
	s.Enabled = enabled
	f.schedules[id] = s
	return nil
}

func (f *fakeStore) DeleteSchedule(_ context.Context, id string) error {
	delete(f.schedules, id)
	return nil
}

func (f *fakeStore) AddBackup(_ context.Context, b store.Backup) error {
	f.backups = append(f.backups, b)
	return nil
}

func (f *fakeStore) ListBackups(_ context.Context, serverID string) ([]store.Backup, error) {
	var out []store.Backup
	for _, b := range f.backups {
		if b.ServerID == serverID {
			out = append(out, b)
		}
	}
	return out, nil
}

// fakeRegistry records lifecycle calls.
type fakeRegistry struct {
	calls     []string
	running   map[string]bool
	startedAt time.Time
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{running: make(map[string]bool)}
}

func (f *fakeRegistry) Start(id string, _ supervisor.LaunchSpec) error {
	f.calls = append(f.calls, "start:"+id)
	f.running[id] = true
	return nil
}

func (f *fakeRegistry) Stop(_ context.Context, id string) error {
	f.calls = append(f.calls, "stop:"+id)
	f.running[id] = false
	return nil
}

func (f *fakeRegistry) Restart(_ context.Context, id string, _ supervisor.LaunchSpec) error {
	f.calls = append(f.calls, "restart:"+id)
	f.running[id] = true
	return nil
}

func (f *fakeRegistry) IsRunning(id string) bool { return f.running[id] }

func (f *fakeRegistry) OnlinePlayers(string) ([]string, bool) { return []string{"Alice"}, true }

func (f *fakeRegistry) StartedAt(string) (time.Time, bool) {
	if f.startedAt.IsZero() {
		return time.Time{}, false
	}
	return f.startedAt, true
}

func (f *fakeRegistry) MetricsData(string) (float64, float64, uint64, uint64) {
	return 12.5, 3.1, 256 * 1024 * 1024, 0
}

func at(hhmm string) time.Time {
	ts, err := time.ParseInLocation("2006-01-02 15:04", "2026-03-10 "+hhmm, time.Local)
	if err != nil {
		panic(err)
	}
	return ts
}

func TestBasicScheduleMatchesExactMinute(t *testing.T) {
	s := New(Config{}, newFakeStore(), newFakeRegistry(), nil)
	sc := store.Schedule{TaskType: store.TaskBasic, Time: "03:00"}

	assert.True(t, s.matches(sc, at("03:00")))
	assert.False(t, s.matches(sc, at("02:59")))
	assert.False(t, s.matches(sc, at("03:01")))
}

func TestBasicScheduleFiresOncePerDay(t *testing.T) {
	s := New(Config{}, newFakeStore(), newFakeRegistry(), nil)
	sc := store.Schedule{TaskType: store.TaskBasic, Time: "03:00"}

	fired := 0
	now := at("00:00")
	for i := 0; i < 24*60; i++ {
		if s.matches(sc, now) {
			fired++
		}
		now = now.Add(time.Minute)
	}
	assert.Equal(t, 1, fired)
}

func TestCronScheduleMatching(t *testing.T) {
	s := New(Config{}, newFakeStore(), newFakeRegistry(), nil)
	every5 := store.Schedule{TaskType: store.TaskCron, CronExpr: "*/5 * * * *"}

	assert.True(t, s.matches(every5, at("10:00")))
	assert.True(t, s.matches(every5, at("10:05")))
	assert.False(t, s.matches(every5, at("10:03")))

	// Ticker skew within the minute still matches.
	assert.True(t, s.matches(every5, at("10:05").Add(17*time.Second)))

	daily := store.Schedule{TaskType: store.TaskCron, CronExpr: "30 4 * * *"}
	fired := 0
	now := at("00:00")
	for i := 0; i < 24*60; i++ {
		if s.matches(daily, now) {
			fired++
		}
		now = now.Add(time.Minute)
	}
	assert.Equal(t, 1, fired)
}

func TestInvalidCronNeverMatches(t *testing.T) {
	s := New(Config{}, newFakeStore(), newFakeRegistry(), nil)
	sc := store.Schedule{TaskType: store.TaskCron, CronExpr: "not a cron"}
	assert.False(t, s.matches(sc, at("10:00")))
}

func TestTaskTickRunsActions(t *testing.T) {
	st := newFakeStore()
	reg := newFakeRegistry()
	s := New(Config{}, st, reg, nil)
	ctx := context.Background()

	require.NoError(t, st.UpsertServer(ctx, store.Server{
		ID: "alpha", Name: "Alpha", WorkingDir: "/srv/alpha", ExecutablePath: "Server/HytaleServer.jar",
	}))
	require.NoError(t, st.AddSchedule(ctx, store.Schedule{
		ID: "s1", ServerID: "alpha", Name: "morning start",
		TaskType: store.TaskBasic, Action: store.ActionStart, Time: "08:00", Enabled: true,
	}))
	require.NoError(t, st.AddSchedule(ctx, store.Schedule{
		ID: "s2", ServerID: "alpha", Name: "not now",
		TaskType: store.TaskBasic, Action: store.ActionStop, Time: "22:00", Enabled: true,
	}))

	s.taskTick(ctx, at("08:00"))
	assert.Equal(t, []string{"start:alpha"}, reg.calls)
	assert.True(t, reg.running["alpha"])

	// The schedule is recurring and still present.
	assert.Contains(t, st.schedules, "s1")
}

func TestTaskTickDisabledSchedulesSkipped(t *testing.T) {
	st := newFakeStore()
	reg := newFakeRegistry()
	s := New(Config{}, st, reg, nil)
	ctx := context.Background()

	require.NoError(t, st.UpsertServer(ctx, store.Server{ID: "alpha", Name: "Alpha", WorkingDir: "/srv"}))
	require.NoError(t, st.AddSchedule(ctx, store.Schedule{
		ID: "s1", ServerID: "alpha", TaskType: store.TaskBasic, Action: store.ActionStop, Time: "08:00", Enabled: false,
	}))

	s.taskTick(ctx, at("08:00"))
	assert.Empty(t, reg.calls)
}

func TestTaskTickDeleteAfter(t *testing.T) {
	st := newFakeStore()
	reg := newFakeRegistry()
	s := New(Config{}, st, reg, nil)
	ctx := context.Background()

	require.NoError(t, st.UpsertServer(ctx, store.Server{ID: "alpha", Name: "Alpha", WorkingDir: "/srv"}))
	require.NoError(t, st.AddSchedule(ctx, store.Schedule{
		ID: "once", ServerID: "alpha", Name: "one-shot stop",
		TaskType: store.TaskBasic, Action: store.ActionStop, Time: "23:30", Enabled: true, DeleteAfter: true,
	}))

	s.taskTick(ctx, at("23:30"))
	assert.Equal(t, []string{"stop:alpha"}, reg.calls)
	assert.NotContains(t, st.schedules, "once")

	// A second tick at the same wall time finds nothing.
	s.taskTick(ctx, at("23:30"))
	assert.Len(t, reg.calls, 1)
}

func TestTaskTickMissingServer(t *testing.T) {
	st := newFakeStore()
	reg := newFakeRegistry()
	s := New(Config{}, st, reg, nil)
	ctx := context.Background()

	require.NoError(t, st.AddSchedule(ctx, store.Schedule{
		ID: "s1", ServerID: "ghost", TaskType: store.TaskBasic, Action: store.ActionStart, Time: "12:00",
		Enabled: true, DeleteAfter: true,
	}))

	s.taskTick(ctx, at("12:00"))
	assert.Empty(t, reg.calls)
	// One-shot cleanup applies even when the action fails.
	assert.NotContains(t, st.schedules, "s1")
}

func TestBackupAction(t *testing.T) {
	st := newFakeStore()
	reg := newFakeRegistry()
	backupDir := t.TempDir()
	s := New(Config{BackupDir: backupDir}, st, reg, nil)
	ctx := context.Background()

	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "world.dat"), []byte("universe state"), 0o644))
	require.NoError(t, st.UpsertServer(ctx, store.Server{ID: "alpha", Name: "Alpha", WorkingDir: workDir}))
	require.NoError(t, st.AddSchedule(ctx, store.Schedule{
		ID: "b", ServerID: "alpha", Name: "nightly backup",
		TaskType: store.TaskBasic, Action: store.ActionBackup, Time: "04:00", Enabled: true,
	}))

	s.taskTick(ctx, at("04:00"))

	require.Len(t, st.backups, 1)
	rec := st.backups[0]
	assert.Equal(t, "alpha", rec.ServerID)
	assert.Positive(t, rec.SizeBytes)
	archive := filepath.Join(backupDir, "alpha", rec.Filename)
	info, err := os.Stat(archive)
	require.NoError(t, err)
	assert.Equal(t, rec.SizeBytes, info.Size())
}

func TestStatusEmbedContents(t *testing.T) {
	st := newFakeStore()
	reg := newFakeRegistry()
	s := New(Config{}, st, reg, nil)
	ctx := context.Background()

	require.NoError(t, st.UpsertServer(ctx, store.Server{ID: "alpha", Name: "Alpha", WorkingDir: "/srv", MaxPlayers: 64}))
	require.NoError(t, st.UpsertServer(ctx, store.Server{ID: "beta", Name: "Beta", WorkingDir: "/srv"}))
	reg.running["alpha"] = true

	// Uptime renders from fixed timestamps, independent of the test clock.
	now := at("12:00")
	reg.startedAt = now.Add(-90 * time.Minute)

	servers, err := st.ListServers(ctx)
	require.NoError(t, err)
	embed := s.buildStatusEmbed(servers, now)

	require.Len(t, embed.Fields, 2)
	assert.Contains(t, embed.Fields[1].Name, "(1/2)")
	assert.Contains(t, embed.Fields[1].Value, "Alpha")
	assert.Contains(t, embed.Fields[1].Value, "Beta")
	assert.Contains(t, embed.Fields[1].Value, "1/64")
	assert.Contains(t, embed.Fields[1].Value, "1h30m")
	require.NotNil(t, embed.Footer)
}

func TestUnknownActionFails(t *testing.T) {
	st := newFakeStore()
	reg := newFakeRegistry()
	s := New(Config{}, st, reg, nil)
	ctx := context.Background()

	require.NoError(t, st.UpsertServer(ctx, store.Server{ID: "alpha", Name: "Alpha", WorkingDir: "/srv"}))
	err := s.runAction(ctx, store.Schedule{ServerID: "alpha", Action: "explode"})
	assert.Error(t, err)
	assert.Empty(t, reg.calls)
}
