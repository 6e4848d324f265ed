package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// lockStaleAfter is how old a heartbeat may be before the lock's owner is
// presumed dead and the lock can be taken over.
const lockStaleAfter = 5 * time.Minute

// SessionLock is a liveness marker on disk. Exactly one engine instance
// may trade an account at a time; a second instance finds the lock with a
// fresh heartbeat and refuses to start.
type SessionLock struct {
	path      string
	startedAt time.Time
	done      chan struct{}
}

type lockRecord struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Heartbeat time.Time `json:"heartbeat"`
}

// AcquireLock claims the lock file under dir, beating its heartbeat in the
// background until Release. A live lock held by another process is an
// error; a stale one (dead PID or old heartbeat) is taken over.
func AcquireLock(dir string) (*SessionLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	path := filepath.Join(dir, "daybot.lock")

	if existing, err := readLock(path); err == nil {
		if existing.alive() {
			return nil, fmt.Errorf("another instance (pid %d, heartbeat %s) holds %s",
				existing.PID, existing.Heartbeat.Format(time.RFC3339), path)
		}
	}

	l := &SessionLock{path: path, startedAt: time.Now(), done: make(chan struct{})}
	if err := l.write(); err != nil {
		return nil, err
	}
	go l.beat()
	return l, nil
}

// Release stops the heartbeat and removes the lock file.
func (l *SessionLock) Release() {
	close(l.done)
	os.Remove(l.path)
}

func (l *SessionLock) beat() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.write(); err != nil {
				// Nothing to do beyond trying again next beat.
				continue
			}
		}
	}
}

func (l *SessionLock) write() error {
	rec := lockRecord{PID: os.Getpid(), StartedAt: l.startedAt, Heartbeat: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing lock: %w", err)
	}
	return os.Rename(tmp, l.path)
}

func readLock(path string) (lockRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockRecord{}, err
	}
	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return lockRecord{}, err
	}
	return rec, nil
}

// alive reports whether the lock's owner still looks like a running
// engine: the heartbeat is recent and the process exists.
func (r lockRecord) alive() bool {
	if time.Since(r.Heartbeat) > lockStaleAfter {
		return false
	}
	proc, err := os.FindProcess(r.PID)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without touching the process.
	return proc.Signal(syscall.Signal(0)) == nil
}
