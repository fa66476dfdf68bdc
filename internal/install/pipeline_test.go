//go:build !windows

package install

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamewarden/gamewarden/internal/logger"
	"github.com/gamewarden/gamewarden/internal/supervisor"
)

// fakeInstallRegistry records the installer's interactions.
type fakeInstallRegistry struct {
	mu           sync.Mutex
	registered   bool
	removed      bool
	authRequired bool
	running      bool
	stopped      bool
	lines        []string
	cancel       context.CancelFunc
}

func (f *fakeInstallRegistry) RegisterInstalling(_, _ string, cancel context.CancelFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = true
	f.cancel = cancel
	return nil
}

func (f *fakeInstallRegistry) BroadcastLog(_, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, text)
}

func (f *fakeInstallRegistry) SetAuthRequired(_ string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authRequired = v
}

func (f *fakeInstallRegistry) Remove(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
}

func (f *fakeInstallRegistry) IsRunning(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeInstallRegistry) Stop(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.running = false
	return nil
}

func (f *fakeInstallRegistry) logText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.lines, "\n")
}

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newTestInstaller(t *testing.T, reg Registry) *Installer {
	t.Helper()
	in := New(reg, logger.Config{Dir: t.TempDir()})
	in.DownloadURL = "https://example.invalid/hytale-downloader.zip"
	return in
}

func TestRunFailsWhenDownloadFails(t *testing.T) {
	reg := &fakeInstallRegistry{}
	in := newTestInstaller(t, reg)
	in.CurlPath = "/bin/false"
	in.UnzipPath = writeStub(t, t.TempDir(), "unzip-must-not-run", `echo "unzip ran" && exit 1`)

	err := in.run(context.Background(), "srv", t.TempDir())
	require.ErrorIs(t, err, supervisor.ErrInstallStepFailed)
	assert.Contains(t, reg.logText(), "Download failed")
	assert.NotContains(t, reg.logText(), "unzip ran", "extraction must not run after a failed download")
	assert.NotContains(t, reg.logText(), "Extraction complete")
}

func TestRunFullPipeline(t *testing.T) {
	reg := &fakeInstallRegistry{}
	in := newTestInstaller(t, reg)
	stubDir := t.TempDir()
	workDir := t.TempDir()

	// curl -L -o <dest> <url>: drop a placeholder archive.
	in.CurlPath = writeStub(t, stubDir, "curl", `echo "fetching $4"
echo zipdata > "$3"
`)
	// unzip -o <zip> -d <dir>: pretend the archive held the downloader
	// binary, which itself asks for auth and drops the server bundle.
	in.UnzipPath = writeStub(t, stubDir, "unzip", `cat > "$4/hytale-downloader-linux-amd64" <<'INNER'
#!/bin/sh
echo "Run /auth login to authenticate"
mkdir -p Server
echo jar > Server/HytaleServer.jar
INNER
`)

	var completedWith string
	in.OnComplete = func(_ context.Context, _, execPath string) error {
		completedWith = execPath
		return nil
	}

	require.NoError(t, in.run(context.Background(), "srv", workDir))

	assert.Equal(t, ServerJarPath, completedWith)
	assert.True(t, reg.authRequired, "auth prompt in downloader output must set the flag")
	assert.Contains(t, reg.logText(), "Installation complete")
	assert.FileExists(t, filepath.Join(workDir, "Server", "HytaleServer.jar"))
	// Temporary artifacts are cleaned up.
	assert.NoFileExists(t, filepath.Join(workDir, downloaderZip))
}

func TestRunFailsWithoutServerJar(t *testing.T) {
	reg := &fakeInstallRegistry{}
	in := newTestInstaller(t, reg)
	stubDir := t.TempDir()

	in.CurlPath = writeStub(t, stubDir, "curl", `echo zipdata > "$3"`)
	// The downloader produces nothing.
	in.UnzipPath = writeStub(t, stubDir, "unzip", `cat > "$4/hytale-downloader-linux-amd64" <<'INNER'
#!/bin/sh
echo "nothing to do"
INNER
`)

	err := in.run(context.Background(), "srv", t.TempDir())
	require.ErrorIs(t, err, supervisor.ErrInstallStepFailed)
	assert.Contains(t, reg.logText(), "HytaleServer.jar not found")
}

func TestBeginRegistersAndRemoves(t *testing.T) {
	reg := &fakeInstallRegistry{}
	in := newTestInstaller(t, reg)
	in.CurlPath = "/bin/false"
	in.UnzipPath = "/bin/false"

	require.NoError(t, in.Begin(context.Background(), "srv", t.TempDir()))
	assert.True(t, reg.registered)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		reg.mu.Lock()
		removed := reg.removed
		reg.mu.Unlock()
		if removed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("registry entry was not removed after pipeline failure")
}

func TestReinstallWipesBinariesKeepsUserData(t *testing.T) {
	reg := &fakeInstallRegistry{running: true}
	in := newTestInstaller(t, reg)
	in.CurlPath = "/bin/false"
	in.UnzipPath = "/bin/false"

	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "Server"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "universe"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "Server", "HytaleServer.jar"), []byte("jar"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "HytaleServer.aot"), []byte("aot"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "universe", "world.dat"), []byte("keep me"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "config.json"), []byte("{}"), 0o644))

	require.NoError(t, in.Reinstall(context.Background(), "srv", workDir))

	assert.True(t, reg.stopped, "a running server is stopped before reinstall")
	assert.NoDirExists(t, filepath.Join(workDir, "Server"))
	assert.NoFileExists(t, filepath.Join(workDir, "HytaleServer.aot"))
	assert.FileExists(t, filepath.Join(workDir, "universe", "world.dat"))
	assert.FileExists(t, filepath.Join(workDir, "config.json"))

	// Wait for the background pipeline goroutine started by Reinstall to
	// finish (Remove is its final action) so it cannot race with the
	// testing package's TempDir cleanup.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		reg.mu.Lock()
		removed := reg.removed
		reg.mu.Unlock()
		if removed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("registry entry was not removed after reinstall pipeline failure")
}
