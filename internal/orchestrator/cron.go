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

package orchestrator

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs MaintainAll on a fixed interval via robfig/cron, the way
// the "cron" command's long-running daemon mode operates (one-shot mode
// just calls MaintainAll directly, bypassing this type entirely).
type Scheduler struct {
	cron *cron.Cron
	orch *Orchestrator
}

// NewScheduler builds a Scheduler that has not started yet.
func NewScheduler(orch *Orchestrator) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		orch: orch,
	}
}

// Every registers MaintainAll to run on the given crontab-style
// expression (seconds field included, per cron.WithSeconds), logging any
// per-server error instead of letting it surface anywhere, since cron
// jobs have no caller to return it to.
func (s *Scheduler) Every(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		_, errs := s.orch.MaintainAll(ctx)
		for server, err := range errs {
			s.orch.Ctx.Logger.Error(err, "maintenance pass failed", "server", server)
		}
	})
	return err
}

// Run starts the scheduler and blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}
