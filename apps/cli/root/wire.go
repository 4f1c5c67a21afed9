package root

import (
	schemacmd "github.com/agencyhub/agencyhub/apps/cli/cmd/schema"
	tenantcmd "github.com/agencyhub/agencyhub/apps/cli/cmd/tenant"
)

func init() {
	Root().AddCommand(tenantcmd.Command())
	Root().AddCommand(schemacmd.Command())
}
