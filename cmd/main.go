package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lakeline/lakeline/cmd/create"
	"github.com/lakeline/lakeline/cmd/start"
	"github.com/lakeline/lakeline/utils"
	"github.com/lakeline/lakeline/utils/log"
)

// flagPrintVersion set flag to show current lakeline version.
var flagPrintVersion bool

// Execute builds the command tree and executes commands.
func Execute() error {
	// c is the root command.
	c := &cobra.Command{
		Use: "lakeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Print version if specified.
			if flagPrintVersion {
				log.Info("version: %v", utils.Tag)
				log.Info("commit hash: %v", utils.GitHash)
				log.Info("utc build time: %v", utils.BuildStamp)
				return nil
			}
			// Print information regarding usage.
			return cmd.Usage()
		},
	}

	// Adds subcommands and version flag.
	c.AddCommand(start.Cmd)
	c.AddCommand(create.Cmd)
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")

	return c.Execute()
}
