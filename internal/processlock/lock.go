// Package processlock provides the advisory lock the Profile Store uses to
// guard concurrent writers (§4.1), adapted from the teacher's
// internal/processlock/lock.go. The teacher's version also reserved a
// listen port for the tray's local dashboard; the gateway has no listen
// port (it speaks line-delimited JSON over stdio), so that half is dropped.
package processlock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

const defaultPIDFile = "gateway.pid"

// ProcessLock is a reentrant, PID-file-backed advisory lock: a single
// process may Acquire it repeatedly (each write transaction in the Profile
// Store acquires/releases around its critical section), but a second
// process attempting to Acquire while the first is live fails.
type ProcessLock struct {
	mu      sync.Mutex
	pidFile string
	logger  *zap.Logger
	depth   int
}

// New creates a ProcessLock whose PID file lives under dataDir.
func New(dataDir string, logger *zap.Logger) *ProcessLock {
	return &ProcessLock{
		pidFile: filepath.Join(dataDir, defaultPIDFile),
		logger:  logger,
	}
}

// Acquire takes the lock. Safe to call repeatedly from the same process
// (reentrant, guarded by depth); fails if another live process holds it.
func (p *ProcessLock) Acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.depth > 0 {
		p.depth++
		return nil
	}

	if pid, err := p.readPID(); err == nil {
		if pid == os.Getpid() {
			// Stale file from an earlier run in this same process; fine.
		} else if p.isProcessRunning(pid) {
			return fmt.Errorf("another gateway instance is already running (PID: %d)", pid)
		} else {
			p.logger.Warn("removing stale lock file from dead process",
				zap.Int("pid", pid), zap.String("pid_file", p.pidFile))
		}
	}

	if err := p.writePID(); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	p.depth = 1
	return nil
}

// Release releases one level of the reentrant lock.
func (p *ProcessLock) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.depth == 0 {
		return nil
	}
	p.depth--
	if p.depth > 0 {
		return nil
	}

	if err := os.Remove(p.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}

func (p *ProcessLock) readPID() (int, error) {
	data, err := os.ReadFile(p.pidFile)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid pid in lock file: %s", pidStr)
	}
	return pid, nil
}

func (p *ProcessLock) writePID() error {
	if err := os.MkdirAll(filepath.Dir(p.pidFile), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p.pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func (p *ProcessLock) isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
