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

// Package walstreamer supervises the per-server long-lived receiver
// process that speaks the database's streaming replication protocol and
// writes .partial files into streaming/. The receiver itself is an
// external OS process (one independent process per server); this
// package owns its lifecycle, PID-file bookkeeping, and crash/backoff
// policy, and plugs it into a suture supervision tree for automatic
// restart.
package walstreamer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanctx"
	"github.com/cloudnative-pg/barman-host-manager/internal/logging"
)

// State is a receiver's lifecycle state.
type State string

// The recognized receiver states.
const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateCrashed  State = "crashed"
)

// Backoff policy constants: base 1s, cap 60s, reset after 5 minutes of
// continuous healthy running.
const (
	backoffBase           = time.Second
	backoffCap            = 60 * time.Second
	healthyResetThreshold = 5 * time.Minute
)

func backoffDelay(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}
	shift := consecutiveFailures - 1
	if shift > 6 { // 1s*2^6 = 64s already saturates the 60s cap
		shift = 6
	}
	d := backoffBase * time.Duration(int64(1)<<uint(shift))
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// Receiver is a suture.Service managing one server's streaming receiver
// subprocess. It is safe to Add to a suture.Supervisor directly: a
// non-nil return from Serve tells suture to restart it, which this type
// uses to implement its own backoff curve (sleeping inside Serve before
// returning the error), rather than relying on suture's generic backoff.
type Receiver struct {
	Server  string
	Home    string
	Command []string // argv of the streaming receiver binary, e.g. pg_receivewal
	Logger  logging.Logger
	Clock   barmanctx.Clock

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastErr             error
	cancelCurrent       context.CancelFunc
}

// New builds a Receiver for server, rooted at home, with argv as the
// subprocess command line.
func New(server, home string, argv []string, logger logging.Logger, clock barmanctx.Clock) *Receiver {
	if clock == nil {
		clock = barmanctx.SystemClock{}
	}
	return &Receiver{
		Server:  server,
		Home:    home,
		Command: argv,
		Logger:  logger,
		Clock:   clock,
		state:   StateStopped,
	}
}

// State reports the receiver's current lifecycle state.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Receiver) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Receiver) pidFilePath() string {
	return filepath.Join(r.Home, ".receive-wal.pid")
}

func (r *Receiver) writePIDFile(pid int) error {
	return os.WriteFile(r.pidFilePath(), []byte(strconv.Itoa(pid)+"\n"), 0o640) //nolint:gosec
}

func (r *Receiver) removePIDFile() {
	_ = os.Remove(r.pidFilePath())
}

// ReadPID returns the PID recorded in the receiver's PID file, or false if
// none is present, giving a reconciler an "observed state" read for
// desired-vs-observed reconciliation.
func (r *Receiver) ReadPID() (int, bool) {
	data, err := os.ReadFile(r.pidFilePath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// Serve runs the receiver subprocess to completion (or until ctx is
// canceled), implementing the suture.Service interface. It never returns
// nil: a canceled ctx (a deliberate stop) returns ctx.Err(); any other exit
// sleeps the current backoff delay and returns a non-nil error so the
// enclosing suture.Supervisor restarts it.
func (r *Receiver) Serve(ctx context.Context) error {
	if len(r.Command) == 0 {
		return fmt.Errorf("walstreamer: no receiver command configured for server %s", r.Server)
	}

	r.setState(StateStarting)
	start := r.Clock.Now()

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancelCurrent = cancel
	r.mu.Unlock()
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.Command[0], r.Command[1:]...) //nolint:gosec
	cmd.Stdout = logging.LogWriter{Logger: r.Logger, FieldName: "stdout"}
	cmd.Stderr = logging.LogWriter{Logger: r.Logger, FieldName: "stderr"}

	if err := cmd.Start(); err != nil {
		r.setState(StateCrashed)
		return r.afterExit(ctx, start, err)
	}
	if err := r.writePIDFile(cmd.Process.Pid); err != nil && r.Logger != nil {
		r.Logger.Error(err, "failed to write receive-wal PID file", "server", r.Server)
	}

	r.setState(StateRunning)
	err := cmd.Wait()
	r.removePIDFile()

	if ctx.Err() != nil {
		r.setState(StateStopped)
		return ctx.Err()
	}

	r.setState(StateCrashed)
	return r.afterExit(ctx, start, err)
}

// afterExit updates the failure/backoff bookkeeping for a non-graceful
// exit, sleeps the computed delay, and returns the error that causes
// suture to restart this service.
func (r *Receiver) afterExit(ctx context.Context, start time.Time, cause error) error {
	ran := r.Clock.Now().Sub(start)

	r.mu.Lock()
	if ran >= healthyResetThreshold {
		r.consecutiveFailures = 0
	}
	r.consecutiveFailures++
	failures := r.consecutiveFailures
	r.lastErr = cause
	r.mu.Unlock()

	delay := backoffDelay(failures)
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("walstreamer: receiver for %s exited (attempt %d): %w", r.Server, failures, cause)
}

// Stop cancels the currently running subprocess, if any, moving it into
// the draining state. The caller's suture.Supervisor.Remove call (or
// context cancellation) is what actually stops automatic restart; Stop
// only asks the current Serve invocation's subprocess to terminate.
func (r *Receiver) Stop() {
	r.setState(StateDraining)
	r.mu.Lock()
	cancel := r.cancelCurrent
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// FailureCount reports the current consecutive-failure streak, exposed
// for diagnostics (status/diagnose commands).
func (r *Receiver) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveFailures
}

// LastError reports the error from the most recent non-graceful exit, if
// any.
func (r *Receiver) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}
