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

package walstreamer

import (
	"context"
	"fmt"
	"sync"
	"time"

	suture "github.com/thejerf/suture/v4"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanctx"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog"
	"github.com/cloudnative-pg/barman-host-manager/internal/catalog/lock"
	"github.com/cloudnative-pg/barman-host-manager/internal/logging"
)

// Supervisor runs every server's Receiver inside a suture supervision
// tree: a crashed receiver is restarted automatically, with Receiver.Serve
// itself implementing the exponential backoff curve. Only one Receiver
// per server may run at a time, enforced by acquiring the Catalog's
// receive-wal lock before Add.
type Supervisor struct {
	sup *suture.Supervisor

	mu        sync.Mutex
	receivers map[string]*entry
}

type entry struct {
	receiver *Receiver
	token    suture.ServiceToken
	lock     *lock.Lock
}

// NewSupervisor builds an empty Supervisor; name identifies it in logs.
func NewSupervisor(name string) *Supervisor {
	return &Supervisor{
		sup:       suture.New(name, suture.Spec{}),
		receivers: make(map[string]*entry),
	}
}

// Run drives the underlying suture supervisor until ctx is canceled. It
// must run for the lifetime of the process hosting this Supervisor (the
// receive-wal daemon command).
func (s *Supervisor) Run(ctx context.Context) error {
	return s.sup.Serve(ctx)
}

// Start begins supervising server's receiver subprocess (argv), acquiring
// the receive-wal catalog lock first so only one receiver per server can
// ever run. ifNotExists makes a redundant Start on an
// already-running server a no-op instead of an error.
func (s *Supervisor) Start(c *catalog.Catalog, argv []string, logger logging.Logger, clock barmanctx.Clock, ifNotExists bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.receivers[c.Server]; ok {
		if ifNotExists {
			return nil
		}
		return fmt.Errorf("walstreamer: a receiver for %s is already running", c.Server)
	}

	l, err := c.Lock(lock.KindReceiveWAL)
	if err != nil {
		return err
	}

	r := New(c.Server, c.Home, argv, logger, clock)
	token := s.sup.Add(r)
	s.receivers[c.Server] = &entry{receiver: r, token: token, lock: l}
	return nil
}

// Stop gracefully stops server's receiver: it is asked to exit, given
// timeout to do so, then removed from supervision (which suture
// guarantees has fully stopped by the time Remove returns) and its
// receive-wal lock released.
func (s *Supervisor) Stop(server string, timeout time.Duration) error {
	s.mu.Lock()
	e, ok := s.receivers[server]
	if ok {
		delete(s.receivers, server)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("walstreamer: no receiver running for %s", server)
	}

	e.receiver.Stop()
	_ = s.sup.RemoveAndWait(e.token, timeout)

	return e.lock.Release()
}

// Reset stops server's receiver, clears any unarchived .partial tail in
// streaming/, and starts it again from the database's current position.
// Clearing the .partial file is correct because the receiver always
// resumes from the replication slot's confirmed position on restart, not
// from the tail file's contents.
func (s *Supervisor) Reset(c *catalog.Catalog, argv []string, logger logging.Logger, clock barmanctx.Clock, timeout time.Duration) error {
	if err := s.Stop(c.Server, timeout); err != nil {
		return err
	}
	if err := clearStreamingPartials(c.Home); err != nil {
		return err
	}
	return s.Start(c, argv, logger, clock, false)
}

// State reports the lifecycle state of server's receiver, or
// StateStopped if none is registered.
func (s *Supervisor) State(server string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.receivers[server]
	if !ok {
		return StateStopped
	}
	return e.receiver.State()
}

// Receiver returns the registered Receiver for server, or nil.
func (s *Supervisor) Receiver(server string) *Receiver {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.receivers[server]; ok {
		return e.receiver
	}
	return nil
}
