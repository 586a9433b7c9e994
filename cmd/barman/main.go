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

/*
The barman command is the entrypoint of the backup host manager: a CLI
that drives base backups, WAL archiving/streaming, retention and
recovery for every PostgreSQL server it is configured against.
*/
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/archivewal"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/backup"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/check"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/checkbackup"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/checkwalarchive"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/configswitch"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/configupdate"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/cron"
	deletecmd "github.com/cloudnative-pg/barman-host-manager/internal/cmd/delete"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/diagnose"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/generatemanifest"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/getwal"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/keep"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/listbackups"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/listfiles"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/listprocesses"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/listservers"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/lockcleanup"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/putwal"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/rebuildxlogdb"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/receivewal"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/recover"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/replicationstatus"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/showbackup"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/showservers"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/status"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/switchwal"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/sync"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/terminateprocess"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmd/verifybackup"
	"github.com/cloudnative-pg/barman-host-manager/internal/cmdutil"
)

func main() {
	globals := &cmdutil.Globals{}

	cmd := &cobra.Command{
		Use:          "barman [cmd]",
		Short:        "Backup and recovery manager for PostgreSQL",
		SilenceUsage: true,
	}
	globals.AddFlags(cmd)

	cmd.AddCommand(archivewal.NewCmd(globals))
	cmd.AddCommand(backup.NewCmd(globals))
	cmd.AddCommand(check.NewCmd(globals))
	cmd.AddCommand(checkbackup.NewCmd(globals))
	cmd.AddCommand(checkwalarchive.NewCmd(globals))
	cmd.AddCommand(configswitch.NewCmd(globals))
	cmd.AddCommand(configupdate.NewCmd(globals))
	cmd.AddCommand(cron.NewCmd(globals))
	cmd.AddCommand(deletecmd.NewCmd(globals))
	cmd.AddCommand(diagnose.NewCmd(globals))
	cmd.AddCommand(generatemanifest.NewCmd(globals))
	cmd.AddCommand(getwal.NewCmd(globals))
	cmd.AddCommand(keep.NewCmd(globals))
	cmd.AddCommand(listbackups.NewCmd(globals))
	cmd.AddCommand(listfiles.NewCmd(globals))
	cmd.AddCommand(listprocesses.NewCmd(globals))
	cmd.AddCommand(listservers.NewCmd(globals))
	cmd.AddCommand(lockcleanup.NewCmd(globals))
	cmd.AddCommand(putwal.NewCmd(globals))
	cmd.AddCommand(rebuildxlogdb.NewCmd(globals))
	cmd.AddCommand(receivewal.NewCmd(globals))
	cmd.AddCommand(recover.NewCmd(globals))
	cmd.AddCommand(replicationstatus.NewCmd(globals))
	cmd.AddCommand(showbackup.NewCmd(globals))
	cmd.AddCommand(showservers.NewCmd(globals))
	cmd.AddCommand(status.NewCmd(globals))
	cmd.AddCommand(switchwal.NewCmd(globals))
	cmd.AddCommand(sync.NewCmd(globals))
	cmd.AddCommand(terminateprocess.NewCmd(globals))
	cmd.AddCommand(verifybackup.NewCmd(globals))

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
