// Package app implements the boardfarm requester CLI.
package app

import (
	"github.com/spf13/cobra"
	cliflag "k8s.io/component-base/cli/flag"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "boardfarm-client",
		Short:         "Submit test binaries to a boardfarm server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().SetNormalizeFunc(cliflag.WordSepNormalizeFunc)

	cmd.AddCommand(newSubmitCommand(), newBoardsCommand())
	return cmd
}
