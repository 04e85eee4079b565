package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	x11SocketDir  = "/tmp/.X11-unix"
	xvfbReadyWait = 5 * time.Second
	xvfbPollEvery = 50 * time.Millisecond
)

var errXvfbExited = errors.New("xvfb exited before its display was ready")

// xvfbProc is a running virtual display. exited is closed once the process
// has been reaped.
type xvfbProc struct {
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

// displaySocket maps an X display name such as ":99" or ":99.0" to the unix
// socket the server listens on.
func displaySocket(display string) (string, error) {
	num, ok := strings.CutPrefix(display, ":")
	if !ok {
		return "", fmt.Errorf("display %q: only local displays are supported", display)
	}
	num, _, _ = strings.Cut(num, ".")
	if _, err := strconv.Atoi(num); err != nil {
		return "", fmt.Errorf("display %q: %w", display, err)
	}
	return x11SocketDir + "/X" + num, nil
}

// waitSocket polls for path until it exists, exited is closed, or timeout
// elapses.
func waitSocket(path string, exited <-chan struct{}, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(xvfbPollEvery)
	defer tick.Stop()
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-exited:
			return errXvfbExited
		case <-deadline.C:
			return fmt.Errorf("%s not ready after %s", path, timeout)
		case <-tick.C:
		}
	}
}

// startXvfb runs under m.mu.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	sock, err := displaySocket(m.cfg.XvfbDisplay)
	if err != nil {
		return err
	}
	if _, err := os.Stat(sock); err == nil {
		m.logger.Warn("browser: display socket already present, reusing it", "display", m.cfg.XvfbDisplay)
		return nil
	}

	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb %s: %w", m.cfg.XvfbDisplay, err)
	}
	p := &xvfbProc{cmd: cmd, exited: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.exited)
	}()

	start := time.Now()
	if err := waitSocket(sock, p.exited, xvfbReadyWait); err != nil {
		cmd.Process.Kill()
		<-p.exited
		if p.err != nil {
			err = fmt.Errorf("%w: %v", err, p.err)
		}
		return fmt.Errorf("xvfb %s: %w", m.cfg.XvfbDisplay, err)
	}
	m.xvfb = p
	m.logger.Info("browser: xvfb started", "display", m.cfg.XvfbDisplay,
		"pid", cmd.Process.Pid, "ready_in", time.Since(start))
	return nil
}

// stopXvfb runs under m.mu.
func (m *Manager) stopXvfb() {
	p := m.xvfb
	if p == nil {
		return
	}
	m.xvfb = nil
	select {
	case <-p.exited:
		m.logger.Warn("browser: xvfb had already exited", "error", p.err)
		return
	default:
	}
	p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		p.cmd.Process.Kill()
		<-p.exited
	}
	m.logger.Info("browser: xvfb stopped")
}
