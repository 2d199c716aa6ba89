// Package logging provides the rotating file writer wired into the
// slog MultiWriter at startup.
package logging

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// RotableLogger is an io.Writer over a log file that can be rotated
// in place. Rotation renames the current file with a timestamp suffix
// and reopens a fresh one.
type RotableLogger struct {
	mu   sync.Mutex
	path string
	fd   *os.File
}

func NewRotableLogger(path string) (*RotableLogger, error) {
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &RotableLogger{path: path, fd: fd}, nil
}

func (l *RotableLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fd.Write(p)
}

// Rotate moves the current file aside and starts a new one.
func (l *RotableLogger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fd.Close(); err != nil {
		return err
	}

	rotated := fmt.Sprintf("%s.%s", l.path, time.Now().Format("2006-01-02"))
	if err := os.Rename(l.path, rotated); err != nil && !os.IsNotExist(err) {
		return err
	}

	fd, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.fd = fd
	return nil
}

func (l *RotableLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fd.Close()
}
