//go:build unix

package audit

import (
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// processGroup runs the tool in its own process group so that cancellation
// reaches the browser it spawns, not only the direct child.
type processGroup struct {
	mu    sync.Mutex
	timer *time.Timer
	cmd   *exec.Cmd
}

// supervise must be called before cmd starts. On cancel the group gets
// SIGINT, which lets Lighthouse stop Chrome, and SIGKILL after grace.
func supervise(cmd *exec.Cmd, grace time.Duration) *processGroup {
	g := &processGroup{cmd: cmd}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.timer == nil {
			g.timer = time.AfterFunc(grace, g.kill)
		}
		return g.signal(syscall.SIGINT)
	}
	return g
}

// reap kills whatever is left of the group after the command returned.
func (g *processGroup) reap() {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
	}
	g.mu.Unlock()
	g.kill()
}

func (g *processGroup) kill() {
	_ = g.signal(syscall.SIGKILL)
}

func (g *processGroup) signal(sig syscall.Signal) error {
	if g.cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-g.cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
