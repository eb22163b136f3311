package main

import (
	"fmt"
	"os"

	"github.com/combust-labs/execfabric/cmd/execfabric/exec"
	"github.com/combust-labs/execfabric/cmd/execfabric/ls"
	"github.com/combust-labs/execfabric/cmd/execfabric/script"
	"github.com/combust-labs/execfabric/cmd/execfabric/transfer"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "execfabric",
	Short: "execfabric",
	Long:  ``,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
		os.Exit(1)
	},
}

func init() {
	rootCmd.AddCommand(exec.Command)
	rootCmd.AddCommand(ls.Command)
	rootCmd.AddCommand(script.Command)
	rootCmd.AddCommand(transfer.Command)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
