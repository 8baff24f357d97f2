// Package cmd provides the command-line interface of vmsim.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmsim",
	Short: "vmsim simulates the memory manager of a paged operating system.",
	Long: `vmsim simulates the memory manager of a paged operating system: ` +
		`per-process virtual address spaces, frame allocation, permission ` +
		`checked translation and process creation, forking and exit. ` +
		`The geometry of the system is read from flags, then from VMSIM_* ` +
		`environment variables, which may be set in a .env file.`,
}

func init() {
	addConfigFlags(rootCmd)
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
