// Package transfer implements the "transfer" demonstration subcommand: moves
// a file or directory from one backend to another through pkg/transfer,
// mirroring teacher's cmd/rootfs in flag-set shape (two sides of an
// operation, each independently configured) but for a generic file move
// instead of a rootfs build.
package transfer

import (
	"context"
	"fmt"
	"os"

	"github.com/combust-labs/execfabric/configs"
	"github.com/combust-labs/execfabric/pkg/transfer"
	"github.com/combust-labs/execfabric/pkg/utils"
	"github.com/spf13/cobra"
)

// Command is the transfer command declaration.
var Command = &cobra.Command{
	Use:   "transfer <from-path> <to-path>",
	Short: "Transfers a file or directory between two backends",
	Run:   run,
	Long:  ``,
}

var (
	logConfig = configs.NewLogginConfig()

	fromConfig = configs.NewBackendConfig()
	toConfig   = configs.NewBackendConfig()

	compressBefore  bool
	uncompressAfter bool
	deleteSource    bool
	localBufferDir  string
)

func initFlags() {
	Command.Flags().AddFlagSet(logConfig.FlagSet())
	Command.Flags().AddFlagSet(fromConfig.FlagSetPrefixed("from-"))
	Command.Flags().AddFlagSet(toConfig.FlagSetPrefixed("to-"))

	Command.Flags().BoolVar(&compressBefore, "compress-before", false, "Zip the source before transferring")
	Command.Flags().BoolVar(&uncompressAfter, "uncompress-after", false, "Unzip the transferred archive on the destination and remove it")
	Command.Flags().BoolVar(&deleteSource, "delete-source", false, "Delete the source once the transfer completes")
	Command.Flags().StringVar(&localBufferDir, "local-buffer-dir", "", "Local staging directory for pairs with no direct transfer path")
}

func init() {
	initFlags()
}

func run(cobraCommand *cobra.Command, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "transfer requires exactly two path arguments: <from-path> <to-path>")
		os.Exit(1)
	}
	os.Exit(processCommand(args[0], args[1]))
}

func processCommand(fromPath, toPath string) int {
	cleanup := utils.NewDefers()
	defer cleanup.CallAll()

	rootLogger := logConfig.NewLogger("transfer")
	ctx := context.Background()

	fromBackend, err := fromConfig.Build(ctx, rootLogger.Named("from"))
	if err != nil {
		rootLogger.Error("failed constructing source backend", "reason", err)
		return 1
	}
	cleanup.Add(func() { fromBackend.Close() })

	toBackend, err := toConfig.Build(ctx, rootLogger.Named("to"))
	if err != nil {
		rootLogger.Error("failed constructing destination backend", "reason", err)
		return 1
	}
	cleanup.Add(func() { toBackend.Close() })

	sent, received, err := transfer.Transfer(ctx, fromBackend, fromPath, toBackend, toPath, transfer.Options{
		CompressBefore:  compressBefore,
		UncompressAfter: uncompressAfter,
		DeleteSource:    deleteSource,
		LocalBufferDir:  localBufferDir,
	})
	if err != nil {
		rootLogger.Error("transfer failed", "reason", err)
		return 1
	}

	rootLogger.Info("transfer complete", "sent", sent, "received", received)
	return 0
}
