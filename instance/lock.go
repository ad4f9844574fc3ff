// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning reports that another launch holds the instance's
// advisory lock. Surfaced immediately; launches are never queued.
var ErrAlreadyRunning = errors.New("instance already running")

// Lock is an acquired instance lock. Release it on every exit path;
// the kernel also releases it if the holding process dies.
type Lock struct {
	file *os.File
	once sync.Once
}

// Lock takes the instance's advisory lock without blocking. It must
// be held from before configuration resolution until the sandbox
// exits, so two concurrent launches cannot race on the configuration
// file and compile divergent launch plans. Contention reports
// ErrAlreadyRunning and leaves the holder's lock state untouched.
func (i *Instance) Lock() (*Lock, error) {
	path := filepath.Join(i.path, lockFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock for %s: %w", i.name, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, i.name)
		}
		return nil, fmt.Errorf("lock %s: %w", i.name, err)
	}
	return &Lock{file: file}, nil
}

// Release drops the lock. Safe to call more than once.
func (l *Lock) Release() {
	l.once.Do(func() {
		unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
		l.file.Close()
	})
}
