// CLAUDE:SUMMARY Runs an Xvfb display for headful captures and waits for its X socket.
package browser

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// xvfbScreen must be larger than any viewport a capture asks for, or the
// window manager clamps the headful window.
const xvfbScreen = "2560x1600x24"

// xvfbSocket returns the X11 socket path for a display like ":99".
func xvfbSocket(display string) string {
	n := strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(n, '.'); i >= 0 {
		n = n[:i]
	}
	return "/tmp/.X11-unix/X" + n
}

func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	display := m.cfg.XvfbDisplay
	cmd := exec.Command("Xvfb", display, "-screen", "0", xvfbScreen, "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}

	sock := xvfbSocket(display)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			cmd.Process.Kill()
			cmd.Wait()
			return fmt.Errorf("xvfb %s: socket %s did not appear", display, sock)
		}
		time.Sleep(50 * time.Millisecond)
	}
	m.xvfb = cmd
	m.cfg.Logger.Info("browser: xvfb ready", "display", display, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if p := m.xvfb.Process; p != nil {
		p.Kill()
		m.xvfb.Wait()
	}
	m.cfg.Logger.Info("browser: xvfb stopped")
	m.xvfb = nil
}
