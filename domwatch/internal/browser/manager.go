// Package browser runs the Chrome process domwatch drives: launch or
// connect, stealth tabs, resource blocking, and recycling when the process
// is too old or its pages use too much heap.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

var ErrClosed = errors.New("browser: manager closed")

// Config configures a Manager.
type Config struct {
	// Remote is the DevTools WebSocket URL of a running Chrome. Empty
	// launches a local one.
	Remote   string
	Bin      string
	Headless bool
	// MemoryLimit is the summed JS heap of all pages, in bytes, above which
	// Chrome is recycled. Default 1 GiB.
	MemoryLimit     int64
	RecycleInterval time.Duration
	CheckInterval   time.Duration
	// Block lists resource types never loaded: images, fonts, media,
	// stylesheets, or any CDP resource type name.
	Block       []string
	XvfbDisplay string
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
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

// Manager owns one Chrome process at a time.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	browser   *rod.Browser
	launcher  *launcher.Launcher
	xvfb      *xvfbProc
	startedAt time.Time
	closed    bool
	onRecycle []func(*rod.Browser)
}

func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg, logger: cfg.Logger}
}

// OnRecycle registers fn to run with the new browser after every recycle.
// Tabs of the old browser are gone by then.
func (m *Manager) OnRecycle(fn func(*rod.Browser)) {
	m.mu.Lock()
	m.onRecycle = append(m.onRecycle, fn)
	m.mu.Unlock()
}

// Start brings Chrome up and monitors it until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := m.launch(); err != nil {
		return err
	}
	go m.monitor(ctx)
	return nil
}

// Browser returns the current browser, nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle replaces the Chrome process.
func (m *Manager) Recycle(reason string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.logger.Info("browser: recycling", "reason", reason, "uptime", time.Since(m.startedAt).Round(time.Second))
	m.shutdown()
	if err := m.launch(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	b := m.browser
	hooks := append([]func(*rod.Browser)(nil), m.onRecycle...)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(b)
	}
	return nil
}

// Close stops Chrome and Xvfb. The manager cannot be restarted.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.shutdown()
	return nil
}

// launch runs under m.mu.
func (m *Manager) launch() error {
	controlURL := m.cfg.Remote
	if controlURL == "" {
		if !m.cfg.Headless {
			if err := m.startXvfb(); err != nil {
				return fmt.Errorf("browser: xvfb: %w", err)
			}
		}
		l := launcher.New().
			Headless(m.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if !m.cfg.Headless {
			l = l.Env("DISPLAY=" + m.cfg.XvfbDisplay)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		m.launcher = l
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect %s: %w", controlURL, err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		m.logger.Warn("browser: ignore cert errors", "error", err)
	}
	m.browser = b
	m.startedAt = time.Now()
	m.logger.Info("browser: connected", "url", controlURL, "headless", m.cfg.Headless)
	return nil
}

// shutdown runs under m.mu.
func (m *Manager) shutdown() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.launcher != nil {
		m.launcher.Cleanup()
		m.launcher = nil
	}
	m.stopXvfb()
}

func (m *Manager) monitor(ctx context.Context) {
	t := time.NewTicker(m.cfg.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		m.mu.RLock()
		b, started, closed := m.browser, m.startedAt, m.closed
		m.mu.RUnlock()
		if closed {
			return
		}
		if b == nil {
			continue
		}

		used, err := heapUsage(b)
		if err != nil {
			m.logger.Debug("browser: heap check", "error", err)
		}
		if reason := m.recycleReason(time.Since(started), used); reason != "" {
			if err := m.Recycle(reason); err != nil {
				m.logger.Error("browser: recycle failed", "error", err)
			}
		}
	}
}

func (m *Manager) recycleReason(uptime time.Duration, heap int64) string {
	switch {
	case uptime > m.cfg.RecycleInterval:
		return "interval"
	case heap > m.cfg.MemoryLimit:
		return "memory"
	}
	return ""
}

// heapUsage sums JSHeapUsedSize over every open page.
func heapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, fmt.Errorf("browser: list pages: %w", err)
	}
	var total int64
	for _, p := range pages {
		if err := (proto.PerformanceEnable{}).Call(p); err != nil {
			return total, fmt.Errorf("browser: Performance.enable: %w", err)
		}
		res, err := proto.PerformanceGetMetrics{}.Call(p)
		if err != nil {
			return total, fmt.Errorf("browser: Performance.getMetrics: %w", err)
		}
		total += heapUsed(res.Metrics)
	}
	return total, nil
}

func heapUsed(metrics []*proto.PerformanceMetric) int64 {
	for _, mt := range metrics {
		if mt.Name == "JSHeapUsedSize" {
			return int64(mt.Value)
		}
	}
	return 0
}
