package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "murmur"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Murmur - direct messaging with a realtime sync engine",
		Long:          "Murmur is a two-party messenger. Conversations live in a workspace directory shared by every process that opens it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().Bool("json", false, "output in JSON format")
	cmd.PersistentFlags().String("as", "", "act as this user instead of the configured one")

	cmd.AddCommand(
		NewInitCmd(),
		NewKeysCmd(),
		NewLsCmd(),
		NewSendCmd(),
		NewHistoryCmd(),
		NewSearchCmd(),
		NewReactCmd(),
		NewEditCmd(),
		NewRmCmd(),
		NewArchiveCmd(),
		NewEncryptCmd(),
		NewWatchCmd(),
		NewChatCmd(),
		NewServeCmd(),
	)

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd(Version).Execute()
}
