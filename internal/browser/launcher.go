// Package browser starts a local Chromium with remote debugging enabled so
// the CDP history backends have a tab to attach to.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

// Config holds browser launch configuration.
type Config struct {
	CDPAddress   string
	CDPPort      int
	StartURL     string
	ProfileDir   string
	LogFileDir   string
	CrashDumpDir string
	Headless     bool
	WindowSize   string
	ReadyTimeout time.Duration
}

// Version is the subset of /json/version the launcher reports.
type Version struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Launcher manages the lifecycle of a browser process.
type Launcher struct {
	cfg     Config
	cmd     *exec.Cmd
	running bool
	lookup  func() (string, error)
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1280,800"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 15 * time.Second
	}
	return &Launcher{cfg: cfg, lookup: detectBrowser}
}

func detectBrowser() (string, error) {
	candidates := []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("browser: no supported binary found (tried %v)", candidates)
}

func (l *Launcher) hostPort() string {
	return net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
}

func (l *Launcher) portInUse() bool {
	conn, err := net.DialTimeout("tcp", l.hostPort(), time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (l *Launcher) args() []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(l.cfg.CDPPort),
		"--remote-debugging-address=" + l.cfg.CDPAddress,
		"--user-data-dir=" + l.cfg.ProfileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--disable-breakpad",
		"--window-size=" + l.cfg.WindowSize,
	}
	if l.cfg.Headless {
		args = append(args, "--headless=new")
	}
	if l.cfg.CrashDumpDir != "" {
		args = append(args, "--crash-dumps-dir="+l.cfg.CrashDumpDir)
	}
	return append(args, l.cfg.StartURL)
}

// Launch starts the browser unless something already listens on the CDP
// port, then waits for the DevTools endpoint.
func (l *Launcher) Launch(ctx context.Context) (Version, error) {
	if l.portInUse() {
		slog.Info("browser already running, skipping launch", "cdp", l.hostPort())
		return l.waitForCDP(ctx)
	}

	browserPath, err := l.lookup()
	if err != nil {
		return Version{}, err
	}
	slog.Info("detected browser", "path", browserPath)

	for _, dir := range []string{l.cfg.ProfileDir, l.cfg.LogFileDir, l.cfg.CrashDumpDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Version{}, fmt.Errorf("browser: create %s: %w", dir, err)
		}
	}

	l.cmd = exec.Command(browserPath, l.args()...)
	if l.cfg.LogFileDir != "" {
		logFile, err := os.OpenFile(l.cfg.LogFileDir+"/chromium.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return Version{}, fmt.Errorf("browser: open log: %w", err)
		}
		l.cmd.Stdout = logFile
		l.cmd.Stderr = logFile
	}

	if err := l.cmd.Start(); err != nil {
		return Version{}, fmt.Errorf("browser: start: %w", err)
	}
	l.running = true
	slog.Info("browser process started", "pid", l.cmd.Process.Pid, "start_url", l.cfg.StartURL)

	v, err := l.waitForCDP(ctx)
	if err != nil {
		l.Stop()
		return Version{}, fmt.Errorf("browser: waiting for CDP: %w", err)
	}
	return v, nil
}

// waitForCDP polls /json/version until it answers.
func (l *Launcher) waitForCDP(ctx context.Context) (Version, error) {
	url := "http://" + l.hostPort() + "/json/version"
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	client := &http.Client{Timeout: time.Second}

	for {
		if v, err := fetchVersion(ctx, client, url); err == nil {
			slog.Info("CDP endpoint ready", "cdp", l.hostPort(), "browser", v.Browser, "protocol", v.ProtocolVersion)
			return v, nil
		}
		select {
		case <-ctx.Done():
			return Version{}, fmt.Errorf("CDP not ready at %s: %w", url, ctx.Err())
		case <-ticker.C:
		}
	}
}

func fetchVersion(ctx context.Context, client *http.Client, url string) (Version, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Version{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Version{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Version{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var v Version
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Version{}, err
	}
	return v, nil
}

// Running reports whether this launcher spawned a browser process.
func (l *Launcher) Running() bool {
	return l.running
}

// Stop terminates the browser process with SIGTERM, falling back to SIGKILL.
func (l *Launcher) Stop() {
	if l.cmd == nil || l.cmd.Process == nil || !l.running {
		return
	}
	slog.Info("stopping browser", "pid", l.cmd.Process.Pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = l.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("browser stopped gracefully")
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit, sending SIGKILL")
		_ = l.cmd.Process.Kill()
		<-done
	}
	l.running = false
}
