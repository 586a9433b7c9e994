/*
Copyright The CloudNativePG Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package lock implements the catalog's advisory file locks: for any
// (server, operation_kind) pair there is at most one holder, enforced
// via flock(2) on a well-known lock file.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
)

// Kind is one of the operation kinds a catalog lock guards.
type Kind string

// The operation kinds a catalog lock may guard.
const (
	KindBackup       Kind = "backup"
	KindArchiveWAL   Kind = "archive-wal"
	KindReceiveWAL   Kind = "receive-wal"
	KindDelete       Kind = "delete"
	KindRecover      Kind = "recover"
	KindServerXlogDB Kind = "server-xlogdb"
)

// Lock is a held advisory file lock. Release must be called exactly once.
type Lock struct {
	file *os.File
	path string
}

func lockFileName(kind Kind) string {
	if kind == "" {
		return ".server.lock"
	}
	return "." + string(kind) + ".lock"
}

// Acquire takes the named lock under home non-blocking: if another process
// already holds it, it returns a KindLockBusy error describing the holder
// (best-effort, from the lock file's recorded pid) instead of blocking.
func Acquire(home string, kind Kind, server string) (*Lock, error) {
	path := filepath.Join(home, lockFileName(kind))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640) //nolint:gosec
	if err != nil {
		return nil, barmanerrors.New(barmanerrors.KindCatalogCorrupt, "opening lock file", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := readHolder(f)
		f.Close()
		return nil, barmanerrors.LockBusy(server, string(kind), holder)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.Seek(0, 0)
		fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
		_ = f.Sync()
	}

	return &Lock{file: f, path: path}, nil
}

// AcquireTimeout retries Acquire until it succeeds or timeout elapses,
// honoring "a timeout variant is allowed".
func AcquireTimeout(home string, kind Kind, server string, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	for {
		l, err := Acquire(home, kind, server)
		if err == nil {
			return l, nil
		}
		var barmanErr *barmanerrors.Error
		isBusy := errors.As(err, &barmanErr) && barmanErr.Kind == barmanerrors.KindLockBusy
		if !isBusy || time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// Release unlocks and closes the lock file. It is safe to call at most
// once; the lock file itself is left in place (its presence is not
// meaningful, only the flock held on it).
func (l *Lock) Release() error {
	defer l.file.Close()
	return syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
}

func readHolder(f *os.File) string {
	data := make([]byte, 256)
	_, _ = f.Seek(0, 0)
	n, _ := f.Read(data)
	lines := strings.SplitN(strings.TrimSpace(string(data[:n])), "\n", 2)
	if len(lines) == 0 || lines[0] == "" {
		return "unknown"
	}
	if _, err := strconv.Atoi(lines[0]); err != nil {
		return "unknown"
	}
	if len(lines) == 2 {
		return fmt.Sprintf("pid %s since %s", lines[0], lines[1])
	}
	return "pid " + lines[0]
}
