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

// Package barmanctx carries the request-scoped collaborators every
// component needs (configuration, logger, clock) without resorting to
// package-level globals, so components stay independently testable.
package barmanctx

import (
	"time"

	"github.com/cloudnative-pg/barman-host-manager/internal/config"
	"github.com/cloudnative-pg/barman-host-manager/internal/logging"
)

// Clock abstracts time.Now so retention windows, timeouts and backoffs can
// be driven deterministically from tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the Clock backed by the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a Clock that always returns the same instant, plus whatever
// has been added to it with Advance. Useful for deterministic tests.
type FixedClock struct {
	At time.Time
}

// Now returns the clock's current fixed instant.
func (c *FixedClock) Now() time.Time { return c.At }

// Advance moves the fixed clock forward by d.
func (c *FixedClock) Advance(d time.Duration) { c.At = c.At.Add(d) }

// Context bundles the collaborators passed down through every operation.
// It is a plain struct, not Go's context.Context: cancellation and
// deadlines are carried separately (via context.Context parameters on
// blocking calls) so this type can stay a simple, copyable value.
type Context struct {
	Config *config.Config
	Logger logging.Logger
	Clock  Clock
}

// New builds a Context with the system clock and the package default
// logger, ready to have its Logger narrowed with WithName per component.
func New(cfg *config.Config) *Context {
	return &Context{
		Config: cfg,
		Logger: logging.Log,
		Clock:  SystemClock{},
	}
}

// WithName returns a copy of the Context whose Logger is narrowed to name,
// mirroring logr's convention of building up a dotted logger name per
// component (e.g. "walarchive", "catalog.lock").
func (c *Context) WithName(name string) *Context {
	cp := *c
	cp.Logger = c.Logger.WithName(name)
	return &cp
}

// ForServer returns a copy of the Context whose Logger carries the server
// name as a structured field, for every log line emitted while operating
// on that server.
func (c *Context) ForServer(name string) *Context {
	cp := *c
	cp.Logger = c.Logger.WithValues("server", name)
	return &cp
}
