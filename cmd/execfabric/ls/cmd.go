// Package ls implements the "ls" demonstration subcommand: snapshots a
// directory on a backend and prints it, exercising pkg/tree and
// Backend.Lsdir the way teacher's cmd/ls exercises pkg/vmm.FetchMetadataIfExists.
package ls

import (
	"context"
	"fmt"
	"os"

	"github.com/combust-labs/execfabric/configs"
	"github.com/combust-labs/execfabric/pkg/tree"
	"github.com/combust-labs/execfabric/pkg/utils"
	"github.com/spf13/cobra"
)

// Command is the ls command declaration.
var Command = &cobra.Command{
	Use:   "ls <path>",
	Short: "Lists a directory tree on a backend",
	Run:   run,
	Long:  ``,
}

var (
	logConfig     = configs.NewLogginConfig()
	backendConfig = configs.NewBackendConfig()
)

func initFlags() {
	Command.Flags().AddFlagSet(logConfig.FlagSet())
	Command.Flags().AddFlagSet(backendConfig.FlagSet())
}

func init() {
	initFlags()
}

func run(cobraCommand *cobra.Command, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "ls requires exactly one path argument")
		os.Exit(1)
	}
	os.Exit(processCommand(args[0]))
}

func processCommand(path string) int {
	cleanup := utils.NewDefers()
	defer cleanup.CallAll()

	rootLogger := logConfig.NewLogger("ls")

	ctx := context.Background()
	b, err := backendConfig.Build(ctx, rootLogger)
	if err != nil {
		rootLogger.Error("failed constructing backend", "reason", err)
		return 1
	}
	cleanup.Add(func() { b.Close() })

	absPath, err := b.Abspath(ctx, path)
	if err != nil {
		rootLogger.Error("failed resolving path", "reason", err)
		return 1
	}

	snapshot, err := b.Lsdir(ctx, absPath)
	if err != nil {
		rootLogger.Error("failed snapshotting directory", "reason", err)
		return 1
	}

	printTree(snapshot)
	return 0
}

func printTree(t *tree.Tree) {
	for _, node := range t.Nodes() {
		indent := ""
		for i := 0; i < node.Level; i++ {
			indent += "  "
		}
		fmt.Printf("%s%s/\n", indent, node.Root)
		for _, f := range node.Files {
			fmt.Printf("%s  %s\n", indent, f)
		}
	}
}
