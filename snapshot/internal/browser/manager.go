// CLAUDE:SUMMARY Manages the Chrome lifecycle for captures: launch or connect, health and time-based recycling, crash recovery.
// Package browser drives Chrome through Rod for page captures. The Manager
// owns the process; a Tab is one page implementing capture.Renderer.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// StealthLevel controls the browser automation mode.
type StealthLevel int

const (
	LevelPlain    StealthLevel = 0 // Rod headless, no stealth patches
	LevelHeadless StealthLevel = 1 // Rod headless + stealth
	LevelHeadful  StealthLevel = 2 // Rod headful + Xvfb
)

// ParseStealth maps a config name to a level.
func ParseStealth(s string) (StealthLevel, error) {
	switch s {
	case "plain":
		return LevelPlain, nil
	case "", "headless", "stealth":
		return LevelHeadless, nil
	case "headful", "show":
		return LevelHeadful, nil
	}
	return LevelHeadless, fmt.Errorf("browser: unknown stealth level %q", s)
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Bin is the Chrome binary. Empty lets the launcher find or download one.
	Bin string

	// NoSandbox disables the Chrome sandbox (containers running as root).
	NoSandbox bool

	// MemoryLimit in bytes. Recycle Chrome when exceeded. Default: 1GB.
	MemoryLimit int64

	// RecycleInterval is the maximum lifetime of a Chrome process. Default: 4h.
	RecycleInterval time.Duration

	// CheckInterval is the period of the health monitor. Default: 30s.
	CheckInterval time.Duration

	// Stealth sets the default stealth level. Default: LevelHeadless.
	Stealth StealthLevel

	// XvfbDisplay for headful mode. Default: ":99". When UseDisplay is set
	// the existing DISPLAY is used and no Xvfb is started.
	XvfbDisplay string
	UseDisplay  bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30 // 1GB
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager manages Chrome lifecycle. Recycling never happens while a tab
// is open; it is deferred to the next monitor tick.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	closed  bool
	busy    int
	stop    context.CancelFunc
}

// NewManager creates a browser Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance) and starts the
// monitor goroutine. The monitor stops with Close or when ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return nil
	}

	b, err := m.launch()
	if err != nil {
		return err
	}
	m.browser = b
	m.startAt = time.Now()

	mctx, cancel := context.WithCancel(ctx)
	m.stop = cancel
	go m.monitorLoop(mctx)
	return nil
}

// Browser returns the current Rod browser handle. Thread-safe.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Busy returns the number of open tabs.
func (m *Manager) Busy() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.busy
}

// acquire returns the browser and marks one tab as open, relaunching
// Chrome first when it died since the last capture.
func (m *Manager) acquire() (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser == nil || !alive(m.browser) {
		m.cfg.Logger.Warn("browser: not running, relaunching")
		if err := m.recycleLocked(); err != nil {
			return nil, err
		}
	}
	m.busy++
	return m.browser, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	if m.busy > 0 {
		m.busy--
	}
	m.mu.Unlock()
}

// Recycle kills Chrome and restarts it.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	return m.recycleLocked()
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.stop != nil {
		m.stop()
	}
	return m.cleanup()
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger
	headful := m.cfg.Stealth == LevelHeadful

	if headful && !m.cfg.UseDisplay && m.cfg.RemoteURL == "" {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	var wsURL string

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := m.launcher()
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "stealth", m.cfg.Stealth)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}

	return b, nil
}

func (m *Manager) launcher() *launcher.Launcher {
	l := launcher.New()
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	if m.cfg.Stealth == LevelHeadful {
		l = l.Headless(false)
		if !m.cfg.UseDisplay {
			l = l.Env("DISPLAY=" + m.cfg.XvfbDisplay)
		}
	} else {
		l = l.Headless(true)
	}
	if m.cfg.NoSandbox {
		l = l.NoSandbox(true)
	}

	// Anti-detection flags.
	l = l.Set("disable-blink-features", "AutomationControlled")
	// Captures must not depend on the host's display scaling.
	l = l.Set("force-device-scale-factor", "1")
	l = l.Set("hide-scrollbars")
	return l
}

func (m *Manager) recycleLocked() error {
	log := m.cfg.Logger
	if !m.startAt.IsZero() {
		log.Info("browser: recycling", "uptime", time.Since(m.startAt))
	}

	if err := m.cleanup(); err != nil {
		log.Warn("browser: cleanup during recycle", "error", err)
	}

	b, err := m.launch()
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()

	log.Info("browser: recycled successfully")
	return nil
}

func (m *Manager) cleanup() error {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
	return nil
}

func (m *Manager) monitorLoop(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			if m.closed {
				m.mu.RUnlock()
				return
			}
			b, startAt, busy := m.browser, m.startAt, m.busy
			m.mu.RUnlock()

			if busy > 0 {
				continue
			}

			reason := ""
			switch {
			case b == nil || !alive(b):
				reason = "unresponsive"
			case time.Since(startAt) > m.cfg.RecycleInterval:
				reason = "interval"
			default:
				used, err := getJSHeapUsage(b)
				if err != nil {
					log.Debug("browser: heap check failed", "error", err)
				} else if used > m.cfg.MemoryLimit {
					log.Info("browser: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
					reason = "memory"
				}
			}
			if reason == "" {
				continue
			}

			m.mu.Lock()
			if m.busy == 0 && !m.closed {
				log.Info("browser: recycle", "reason", reason)
				if err := m.recycleLocked(); err != nil {
					log.Error("browser: recycle failed", "error", err)
				}
			}
			m.mu.Unlock()
		}
	}
}

// alive pings the browser over CDP.
func alive(b *rod.Browser) bool {
	_, err := b.Version()
	return err == nil
}

// getJSHeapUsage queries the JS heap of the first open page.
func getJSHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil || len(pages) == 0 {
		return 0, fmt.Errorf("no pages for heap check")
	}

	res, err := pages[0].Eval(`() => {
		if (performance.memory) {
			return performance.memory.usedJSHeapSize;
		}
		return 0;
	}`)
	if err != nil {
		return 0, err
	}

	return int64(res.Value.Int()), nil
}
