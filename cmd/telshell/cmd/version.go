package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msto63/telshell/pkg/core/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Printf("telshell v%s\n", info.Version)
		fmt.Printf("  Git Commit: %s\n", info.GitCommit)
		fmt.Printf("  Build Date: %s\n", info.BuildDate)
		fmt.Printf("  Go Version: %s\n", info.GoVersion)
		fmt.Printf("  OS/Arch:    %s\n", info.Platform)
		fmt.Printf("  Shell:      %s\n", version.Shell)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
