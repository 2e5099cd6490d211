// Package lockfile guards a TrackPipe state directory against a second running instance.
//
// The lock is an flock(2) on a file inside the directory, so the kernel drops it
// when the owning process exits, however it exits.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file created inside the state directory.
const FileName = "trackpipe.lock"

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	Started time.Time
	Running bool
}

func (o Owner) String() string {
	if o.PID == 0 {
		return "unknown owner"
	}
	state := "not running, stale"
	if o.Running {
		state = "running"
	}
	if o.Started.IsZero() {
		return fmt.Sprintf("PID %d (%s)", o.PID, state)
	}
	return fmt.Sprintf("PID %d started %s (%s)", o.PID, o.Started.Format(time.RFC3339), state)
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock for dir, creating dir if needed. It fails fast
// with a *HeldError when another process holds it.
func Acquire(dir string) (*Lock, error) {
	path := filepath.Join(dir, FileName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", dir, err)
	}

	// O_TRUNC is deferred until the lock is ours so a holder's info stays readable.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		owner := ReadOwner(path)
		slog.Error("lockfile.Acquire: state directory is locked", "path", path, "owner", owner.String())
		return nil, &HeldError{Path: path, Owner: owner, Err: err}
	}

	if err := writeOwner(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}

	slog.Info("lockfile.Acquire: acquired", "path", path, "pid", os.Getpid())
	return &Lock{file: f, path: path}, nil
}

func writeOwner(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writeOwner: sync failed", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release: unlock failed", "path", l.path, "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Warn("lockfile.Release: close failed", "path", l.path, "error", err)
	}
	l.file = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file %s: %w", l.path, err)
	}
	slog.Info("lockfile.Release: released", "path", l.path)
	return nil
}

// HeldError reports that another process owns the lock.
type HeldError struct {
	Path  string
	Owner Owner
	Err   error
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("state directory is locked by another TrackPipe instance (%s); "+
		"if that process is gone, remove %s and retry", e.Owner, e.Path)
}

func (e *HeldError) Unwrap() error { return e.Err }

// ReadOwner parses the lock file at path. Missing or malformed fields are left zero.
func ReadOwner(path string) Owner {
	f, err := os.Open(path)
	if err != nil {
		return Owner{}
	}
	defer f.Close()
	return parseOwner(bufio.NewScanner(f))
}

func parseOwner(sc *bufio.Scanner) Owner {
	var o Owner
	for sc.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(val); err == nil && pid > 0 {
				o.PID = pid
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				o.Started = t
			}
		}
	}
	if o.PID > 0 {
		o.Running = processAlive(o.PID)
	}
	return o
}

// processAlive sends signal 0, which checks existence without delivering anything.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
