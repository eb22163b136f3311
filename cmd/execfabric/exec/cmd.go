// Package exec implements the "exec" demonstration subcommand: runs a
// single command against whichever Backend --backend selects, mirroring
// teacher's cmd/run in shape (flag-set composition, rootLogger + Defers
// cleanup) but executing a user-supplied command instead of bootstrapping a
// microVM.
package exec

import (
	"context"
	"io/ioutil"
	"os"
	"strings"

	"github.com/combust-labs/execfabric/configs"
	"github.com/combust-labs/execfabric/pkg/backend"
	"github.com/combust-labs/execfabric/pkg/observer"
	"github.com/combust-labs/execfabric/pkg/utils"
	"github.com/spf13/cobra"
)

// Command is the exec command declaration.
var Command = &cobra.Command{
	Use:   "exec -- <command>",
	Short: "Executes a command against a backend",
	Run:   run,
	Long:  ``,
}

var (
	logConfig     = configs.NewLogginConfig()
	backendConfig = configs.NewBackendConfig()

	cwd      string
	envFiles []string
	envVars  map[string]string
	pretty   bool
)

func initFlags() {
	Command.Flags().AddFlagSet(logConfig.FlagSet())
	Command.Flags().AddFlagSet(backendConfig.FlagSet())
	Command.Flags().StringVar(&cwd, "cwd", "", "Working directory for the command; empty means backend-default")
	Command.Flags().StringArrayVar(&envFiles, "env-file", []string{}, "Path to a KEY=VALUE environment file, multiple OK")
	Command.Flags().StringToStringVar(&envVars, "env", map[string]string{}, "Additional environment variables, multiple OK")
	Command.Flags().BoolVar(&pretty, "pretty", true, "Echo stdout as the command runs and stderr once it ends")
}

func init() {
	initFlags()
}

func run(cobraCommand *cobra.Command, args []string) {
	os.Exit(processCommand(strings.Join(args, " ")))
}

func processCommand(cmdline string) int {
	cleanup := utils.NewDefers()
	defer cleanup.CallAll()

	rootLogger := logConfig.NewLogger("exec")

	if cmdline == "" {
		rootLogger.Error("no command given; pass it after --")
		return 1
	}

	ctx := context.Background()
	b, err := backendConfig.Build(ctx, rootLogger)
	if err != nil {
		rootLogger.Error("failed constructing backend", "reason", err)
		return 1
	}
	cleanup.Add(func() { b.Close() })

	env, err := loadEnv(envFiles, envVars)
	if err != nil {
		rootLogger.Error("failed loading environment files", "reason", err)
		return 1
	}

	var obs observer.Observer
	if pretty {
		obs = observer.NewPrettyPrint(rootLogger, backendConfig.Kind)
	} else {
		obs = observer.NewStore()
	}

	_, _, status, execErr := b.ExecCommand(ctx, cmdline, cwd, env, obs)
	if execErr != nil {
		rootLogger.Error("command failed to start", "reason", execErr)
		return 1
	}
	return status
}

// loadEnv merges KEY=VALUE lines from files (earlier files first) with the
// --env flag overlay, matching teacher's RunCommandConfig.EnvFiles handling.
func loadEnv(files []string, overlay map[string]string) (map[string]string, error) {
	env := map[string]string{}
	for _, f := range files {
		raw, err := ioutil.ReadFile(f)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(raw), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			env[parts[0]] = parts[1]
		}
	}
	return backend.MergeOverlay(env, overlay), nil
}
