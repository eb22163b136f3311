// Package script implements the "script" demonstration subcommand: feeds a
// sequence of commands through the Script-capture Backend variant so they
// land in an output shell script instead of running anywhere, exercising
// spec.md §4.1/§4.6's "fake-truth" contract the way teacher's cmd/build
// exercised buildcontext's Dockerfile interpretation.
package script

import (
	"context"
	"fmt"
	"os"

	"github.com/combust-labs/execfabric/configs"
	"github.com/combust-labs/execfabric/pkg/backend"
	"github.com/combust-labs/execfabric/pkg/backend/script"
	"github.com/combust-labs/execfabric/pkg/fspath"
	"github.com/combust-labs/execfabric/pkg/utils"
	"github.com/spf13/cobra"
)

// Command is the script command declaration.
var Command = &cobra.Command{
	Use:   "script <cmd> [<cmd>...]",
	Short: "Records a sequence of commands into a shell script instead of running them",
	Run:   run,
	Long:  ``,
}

var (
	logConfig = configs.NewLogginConfig()

	outputPath string
	appendMode bool
	osType     string
	cwd        string
	envVars    map[string]string
)

func initFlags() {
	Command.Flags().AddFlagSet(logConfig.FlagSet())
	Command.Flags().StringVar(&outputPath, "output", "", "Output script file path (required)")
	Command.Flags().BoolVar(&appendMode, "append", false, "Append to the output file instead of truncating it")
	Command.Flags().StringVar(&osType, "os", "linux", "Target OS type: linux, darwin, or windows")
	Command.Flags().StringVar(&cwd, "cwd", "", "Working directory to cd into before the first command")
	Command.Flags().StringToStringVar(&envVars, "env", map[string]string{}, "Environment variables to export before the commands")
}

func init() {
	initFlags()
}

func run(cobraCommand *cobra.Command, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "script requires at least one command argument")
		os.Exit(1)
	}
	if outputPath == "" {
		fmt.Fprintln(os.Stderr, "script requires --output")
		os.Exit(1)
	}
	os.Exit(processCommand(args))
}

func processCommand(cmds []string) int {
	cleanup := utils.NewDefers()
	defer cleanup.CallAll()

	rootLogger := logConfig.NewLogger("script")
	ctx := context.Background()

	mode := script.Write
	if appendMode {
		mode = script.Append
	}
	b := script.New(script.Config{
		OutputPath: outputPath,
		Mode:       mode,
		OSType:     osTypeFrom(osType),
	})
	if err := b.Open(ctx); err != nil {
		rootLogger.Error("failed opening script output", "reason", err)
		return 1
	}
	cleanup.Add(func() { b.Close() })

	for i, cmd := range cmds {
		// Only the first command carries cwd/env; subsequent commands run in
		// the shell state the script itself has already built up.
		var thisCwd string
		var thisEnv map[string]string
		if i == 0 {
			thisCwd, thisEnv = cwd, envVars
		}
		if _, _, _, err := b.ExecCommand(ctx, cmd, thisCwd, thisEnv, nil); err != nil {
			rootLogger.Error("failed recording command", "command", cmd, "reason", err)
			return 1
		}
	}

	rootLogger.Info("script written", "path", outputPath, "commands", len(cmds))
	return 0
}

func osTypeFrom(s string) fspath.OSType {
	switch s {
	case "darwin":
		return fspath.MacOS
	case "windows":
		return fspath.Windows
	default:
		return fspath.Linux
	}
}

var _ backend.Backend = (*script.Backend)(nil)
