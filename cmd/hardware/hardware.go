package hardware

import (
	"github.com/spf13/cobra"
	"github/chapool/go-keyring/internal/util/command"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("hardware",
		newAccounts(),
	)
}
