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
	"fmt"
	"os"
	"syscall"

	"github.com/cloudnative-pg/barman-host-manager/internal/walstreamer"
)

// ProcessInfo describes one long-lived external process the host manager
// tracks, surfaced by the list-processes command.
type ProcessInfo struct {
	Server string
	Kind   string // currently always "receive-wal"
	PID    int
	State  walstreamer.State
}

// ListProcesses reports the receiver process for every server currently
// registered with sup, regardless of its running state (a crashed
// receiver awaiting suture's restart still shows up, with its last-known
// state).
func ListProcesses(sup *walstreamer.Supervisor, serverNames []string) []ProcessInfo {
	var infos []ProcessInfo
	for _, name := range serverNames {
		r := sup.Receiver(name)
		if r == nil {
			continue
		}
		info := ProcessInfo{Server: name, Kind: "receive-wal", State: sup.State(name)}
		if pid, ok := r.ReadPID(); ok {
			info.PID = pid
		}
		infos = append(infos, info)
	}
	return infos
}

// TerminateProcess signals pid directly (bypassing any supervision tree),
// for operators who need to kill a specific OS process the list-processes
// output names, including ones that are not a supervised receiver (a
// stuck rsync or pg_basebackup child, for instance).
func TerminateProcess(pid int, signal syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("orchestrator: finding process %d: %w", pid, err)
	}
	if err := proc.Signal(signal); err != nil {
		return fmt.Errorf("orchestrator: signaling process %d: %w", pid, err)
	}
	return nil
}
