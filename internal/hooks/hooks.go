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

// Package hooks dispatches the external lifecycle scripts, with the
// documented environment and the _retry exit-code protocol (0 success,
// 62 ABORT_CONTINUE, 63 ABORT_STOP).
package hooks

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strconv"

	"github.com/cloudnative-pg/barman-host-manager/internal/barmanerrors"
	"github.com/cloudnative-pg/barman-host-manager/internal/logging"
)

// Phase is the lifecycle phase a hook runs at.
type Phase string

// The two phases every lifecycle event dispatches.
const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// Env carries the documented BARMAN_* environment variables.
// BARMAN_SERVER, BARMAN_PHASE and BARMAN_RETRY are always set; any other
// field left zero-valued is omitted from the child's environment.
type Env struct {
	Server               string
	Configuration        string
	Retry                bool
	Version              string
	BackupID             string
	PreviousID           string
	NextID               string
	BackupDir            string
	Status               string
	Error                string
	Segment              string
	File                 string
	Size                 int64
	Timestamp            string
	Compression          string
	DestinationDirectory string
	Tablespaces          interface{} // marshaled to JSON if non-nil
	RemoteCommand        string
	RecoverOptions       interface{} // marshaled to JSON if non-nil
}

func (e Env) toPairs(phase Phase) []string {
	pairs := []string{
		"BARMAN_SERVER=" + e.Server,
		"BARMAN_PHASE=" + string(phase),
	}
	addIf := func(key, value string) {
		if value != "" {
			pairs = append(pairs, key+"="+value)
		}
	}
	addIf("BARMAN_CONFIGURATION", e.Configuration)
	pairs = append(pairs, "BARMAN_RETRY="+boolFlag(e.Retry))
	addIf("BARMAN_VERSION", e.Version)
	addIf("BARMAN_BACKUP_ID", e.BackupID)
	addIf("BARMAN_PREVIOUS_ID", e.PreviousID)
	addIf("BARMAN_NEXT_ID", e.NextID)
	addIf("BARMAN_BACKUP_DIR", e.BackupDir)
	addIf("BARMAN_STATUS", e.Status)
	addIf("BARMAN_ERROR", e.Error)
	addIf("BARMAN_SEGMENT", e.Segment)
	addIf("BARMAN_FILE", e.File)
	if e.Size != 0 {
		pairs = append(pairs, "BARMAN_SIZE="+strconv.FormatInt(e.Size, 10))
	}
	addIf("BARMAN_TIMESTAMP", e.Timestamp)
	addIf("BARMAN_COMPRESSION", e.Compression)
	addIf("BARMAN_DESTINATION_DIRECTORY", e.DestinationDirectory)
	if e.Tablespaces != nil {
		if data, err := json.Marshal(e.Tablespaces); err == nil {
			pairs = append(pairs, "BARMAN_TABLESPACES="+string(data))
		}
	}
	addIf("BARMAN_REMOTE_COMMAND", e.RemoteCommand)
	if e.RecoverOptions != nil {
		if data, err := json.Marshal(e.RecoverOptions); err == nil {
			pairs = append(pairs, "BARMAN_RECOVER_OPTIONS="+string(data))
		}
	}
	return pairs
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Retry describes a _retry hook's re-invocation budget. Run does not take
// one: it re-runs a _retry variant at most once.
type Retry struct {
	Times int
}

// Run invokes script (empty script is a no-op success) with env. A _retry
// variant is run at most once more (with BARMAN_RETRY=1) after a
// non-terminal exit code; other scripts are run once. The last exit code
// is classified per barmanerrors.ClassifyHookExit.
func Run(ctx context.Context, logger logging.Logger, script string, phase Phase, isRetryVariant bool, env Env) error {
	if script == "" {
		return nil
	}

	env.Retry = false
	var lastErr error
	lastCode := 0
	attempts := 1

	for attempt := 0; attempt < attempts; attempt++ {
		env.Retry = attempt > 0
		cmd := exec.CommandContext(ctx, script) //nolint:gosec
		cmd.Env = append(os.Environ(), env.toPairs(phase)...)
		cmd.Stdout = logging.LogWriter{Logger: logger, FieldName: "stdout"}
		cmd.Stderr = logging.LogWriter{Logger: logger, FieldName: "stderr"}

		runErr := cmd.Run()
		if runErr == nil {
			return nil
		}

		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return barmanerrors.New(barmanerrors.KindFatalInternal, "running hook "+script, runErr)
		}

		code := exitErr.ExitCode()
		switch barmanerrors.HookExitCode(code) {
		case barmanerrors.HookSuccess:
			return nil
		case barmanerrors.HookAbortContinue:
			logger.Info("hook requested ABORT_CONTINUE", "script", script, "phase", string(phase))
			return nil
		case barmanerrors.HookAbortStop:
			return barmanerrors.New(barmanerrors.KindHookAbortStop, "hook "+script+" requested ABORT_STOP", runErr)
		default:
			lastErr = runErr
			lastCode = code
			if isRetryVariant && attempt == 0 {
				attempts = 2 // one retry pass for the _retry variant on a non-terminal code
			}
		}
	}

	kind := barmanerrors.ClassifyHookExit(lastCode, phase == PhasePre)
	return barmanerrors.New(kind, "hook "+script+" exhausted retry budget", lastErr)
}
