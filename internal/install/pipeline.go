// Package install drives the game-server installation pipeline: download the
// vendor downloader, unpack it, run it inside the server's working directory,
// unpack whatever bundles it fetched, and verify the server jar landed.
// Progress is streamed through the process registry's log broadcaster so
// consoles attached during installation see every step.
package install

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gamewarden/gamewarden/internal/gamescan"
	"github.com/gamewarden/gamewarden/internal/logger"
	"github.com/gamewarden/gamewarden/internal/supervisor"
)

const (
	// DefaultDownloadURL is where the vendor's downloader bundle lives.
	DefaultDownloadURL = "https://downloader.hytale.com/hytale-downloader.zip"

	downloaderZip   = "hytale-downloader.zip"
	downloaderLinux = "hytale-downloader-linux-amd64"
	downloaderWin   = "hytale-downloader-windows-amd64.exe"
	assetsZip       = "Assets.zip"

	// ServerJarPath is the executable path recorded once installation
	// succeeds, relative to the working directory.
	ServerJarPath = "Server/HytaleServer.jar"
)

// binaryArtifacts are the files a reinstall wipes before starting over.
// Everything else in the working directory (worlds, configs, logs) survives.
var binaryArtifacts = []string{
	"HytaleServer.jar",
	"HytaleServer.aot",
	"lib",
	assetsZip,
	downloaderZip,
	"QUICKSTART.md",
	downloaderLinux,
	downloaderWin,
	"start.bat",
	"start.sh",
	"Server",
}

// Registry is the slice of the supervisor the installer needs: registration
// of the transient installing entry, log fan-out, and teardown.
type Registry interface {
	RegisterInstalling(id, workDir string, cancel context.CancelFunc) error
	BroadcastLog(id, text string)
	SetAuthRequired(id string, v bool)
	Remove(id string)
	IsRunning(id string) bool
	Stop(ctx context.Context, id string) error
}

// Installer runs installations against a Registry. Zero value is not usable;
// construct with New.
type Installer struct {
	reg Registry
	log logger.Config

	// DownloadURL, CurlPath and UnzipPath are overridable for tests.
	DownloadURL string
	CurlPath    string
	UnzipPath   string

	// OnComplete is invoked with the relative server jar path after a
	// successful install, before the registry entry is removed.
	OnComplete func(ctx context.Context, id, execPath string) error
}

func New(reg Registry, log logger.Config) *Installer {
	return &Installer{
		reg:         reg,
		log:         log,
		DownloadURL: DefaultDownloadURL,
		CurlPath:    "curl",
		UnzipPath:   "unzip",
	}
}

// Begin registers id as installing and runs the pipeline on a new goroutine.
// It returns immediately; failure of the pipeline itself is reported through
// the broadcast log and the registry entry is always removed at the end.
func (in *Installer) Begin(ctx context.Context, id, workDir string) error {
	runCtx, cancel := context.WithCancel(ctx)
	if err := in.reg.RegisterInstalling(id, workDir, cancel); err != nil {
		cancel()
		return err
	}
	go func() {
		defer in.reg.Remove(id)
		if err := in.run(runCtx, id, workDir); err != nil {
			slog.Error("installation failed", "server", id, "error", err)
		}
	}()
	return nil
}

// Reinstall stops the server if running, wipes the known binary artifacts
// from its working directory, and starts a fresh install. User data is left
// in place.
func (in *Installer) Reinstall(ctx context.Context, id, workDir string) error {
	if in.reg.IsRunning(id) {
		slog.Info("stopping server for reinstallation", "server", id)
		stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := in.reg.Stop(stopCtx, id)
		cancel()
		if err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
			return err
		}
		time.Sleep(2 * time.Second)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}
	slog.Info("cleaning server binaries, preserving user data", "dir", workDir)
	for _, name := range binaryArtifacts {
		_ = os.RemoveAll(filepath.Join(workDir, name))
	}
	return in.Begin(ctx, id, workDir)
}

// run executes the pipeline synchronously. The registry entry for id must
// already exist.
func (in *Installer) run(ctx context.Context, id, workDir string) error {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}
	logFile := in.log.InstallWriter(id)
	defer func() { _ = logFile.Close() }()

	say := func(format string, args ...any) {
		line := fmt.Sprintf(format, args...)
		if gamescan.AuthRequired(line) {
			in.reg.SetAuthRequired(id, true)
		}
		in.reg.BroadcastLog(id, line)
		_, _ = io.WriteString(logFile, line+"\n")
	}

	say("Starting server installation...")

	zipPath := filepath.Join(workDir, downloaderZip)
	say("Downloading %s...", in.DownloadURL)
	if err := in.runStep(ctx, id, logFile,
		exec.CommandContext(ctx, in.CurlPath, "-L", "-o", zipPath, in.DownloadURL)); err != nil {
		say("Download failed: %v", err)
		return fmt.Errorf("%w: download: %v", supervisor.ErrInstallStepFailed, err)
	}
	say("Download complete.")

	say("Extracting archive...")
	if err := in.runStep(ctx, id, logFile,
		exec.CommandContext(ctx, in.UnzipPath, "-o", zipPath, "-d", workDir)); err != nil {
		say("Extraction failed: %v", err)
		return fmt.Errorf("%w: extract: %v", supervisor.ErrInstallStepFailed, err)
	}
	say("Extraction complete.")

	_ = os.Remove(zipPath)
	_ = os.Remove(filepath.Join(workDir, "QUICKSTART.md"))

	bin := downloaderLinux
	if runtime.GOOS == "windows" {
		bin = downloaderWin
		_ = os.Remove(filepath.Join(workDir, downloaderLinux))
	} else {
		_ = os.Remove(filepath.Join(workDir, downloaderWin))
		if runtime.GOOS == "darwin" {
			say("Warning: macOS detected, the downloader binary may not run natively.")
		}
	}
	binPath := filepath.Join(workDir, bin)
	if runtime.GOOS != "windows" {
		if err := os.Chmod(binPath, 0o755); err != nil {
			say("Failed to mark downloader executable: %v", err)
			return fmt.Errorf("%w: chmod: %v", supervisor.ErrInstallStepFailed, err)
		}
	}

	say("Running downloader (%s) to fetch the server...", bin)
	say("IMPORTANT: the downloader may ask you to authenticate via a URL.")
	dl := exec.CommandContext(ctx, binPath)
	dl.Dir = workDir
	if err := in.runStep(ctx, id, logFile, dl); err != nil {
		say("Downloader failed: %v", err)
	} else {
		say("Downloader finished successfully.")
	}

	in.unpackBundles(ctx, id, say, logFile, workDir)

	// The vendor bundle ships launcher scripts we do not use.
	_ = os.Remove(filepath.Join(workDir, "start.bat"))
	_ = os.Remove(filepath.Join(workDir, "start.sh"))
	_ = os.Remove(filepath.Join(workDir, "Server", "start.bat"))
	_ = os.Remove(filepath.Join(workDir, "Server", "start.sh"))

	if _, err := os.Stat(filepath.Join(workDir, filepath.FromSlash(ServerJarPath))); err != nil {
		say("Warning: HytaleServer.jar not found after installation.")
		return fmt.Errorf("%w: server jar missing", supervisor.ErrInstallStepFailed)
	}
	say("HytaleServer.jar present. Installation complete.")
	if in.OnComplete != nil {
		if err := in.OnComplete(ctx, id, ServerJarPath); err != nil {
			slog.Error("failed to record executable path", "server", id, "error", err)
		}
	}
	return nil
}

// unpackBundles extracts any zip the downloader dropped into the working
// directory, except the downloader archive itself and the asset pack.
func (in *Installer) unpackBundles(ctx context.Context, id string, say func(string, ...any), logFile io.Writer, workDir string) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".zip") || name == downloaderZip || name == assetsZip {
			continue
		}
		say("Unpacking server bundle %s...", name)
		path := filepath.Join(workDir, name)
		if err := in.runStep(ctx, id, logFile,
			exec.CommandContext(ctx, in.UnzipPath, "-o", path, "-d", workDir)); err != nil {
			say("Failed to unpack %s: %v", name, err)
			continue
		}
		say("Unpacked %s.", name)
		_ = os.Remove(path)
	}
}

// runStep runs one pipeline subprocess, streaming its combined output line by
// line into the broadcast log and the install log file.
func (in *Installer) runStep(ctx context.Context, id string, logFile io.Writer, cmd *exec.Cmd) error {
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				continue
			}
			if gamescan.AuthRequired(line) {
				in.reg.SetAuthRequired(id, true)
			}
			in.reg.BroadcastLog(id, line)
			_, _ = io.WriteString(logFile, line+"\n")
		}
	}()
	err := cmd.Wait()
	_ = pw.Close()
	<-done
	if ctx.Err() != nil {
		return supervisor.ErrCancelled
	}
	return err
}
