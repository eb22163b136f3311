package configs

import (
	"context"

	"github.com/combust-labs/execfabric/pkg/backend"
	"github.com/combust-labs/execfabric/pkg/backend/container"
	"github.com/combust-labs/execfabric/pkg/backend/local"
	"github.com/combust-labs/execfabric/pkg/backend/script"
	"github.com/combust-labs/execfabric/pkg/backend/sshfs"
	"github.com/combust-labs/execfabric/pkg/fspath"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// BackendConfig is the demonstration CLI's backend-selection configuration:
// one flag set covers every variant, mirroring spec.md §6's backend
// creation configuration table. Only the flags relevant to --backend
// are consulted.
type BackendConfig struct {
	flagBase

	Kind string // one of "local", "ssh", "container", "script"
	OS   string // "linux", "darwin", "windows"; empty means Linux

	// SSH
	SSHHostname       string
	SSHPort           int
	SSHUsername       string
	SSHPrivateKeyPath string
	SSHPassword       string
	SSHAskPassword    bool
	SSHTimeoutSeconds int
	SSHLookForKeys    bool

	// Container
	ContainerID string

	// Script
	ScriptOutputPath string
	ScriptAppend     bool
}

// NewBackendConfig returns a new backend configuration.
func NewBackendConfig() *BackendConfig {
	return &BackendConfig{}
}

// FlagSet returns an instance of the flag set for the configuration.
func (c *BackendConfig) FlagSet() *pflag.FlagSet {
	return c.FlagSetPrefixed("")
}

// FlagSetPrefixed returns the flag set for the configuration with every flag
// name prefixed, so two BackendConfig instances (e.g. transfer's "from" and
// "to" sides) can be registered on the same cobra.Command without colliding.
func (c *BackendConfig) FlagSetPrefixed(prefix string) *pflag.FlagSet {
	if c.initFlagSet() {
		c.flagSet.StringVar(&c.Kind, prefix+"backend", "local", "Backend kind: local, ssh, container, or script")
		c.flagSet.StringVar(&c.OS, prefix+"backend-os", "linux", "Backend OS type: linux, darwin, or windows")

		c.flagSet.StringVar(&c.SSHHostname, prefix+"ssh-hostname", "", "SSH backend hostname")
		c.flagSet.IntVar(&c.SSHPort, prefix+"ssh-port", 22, "SSH backend port")
		c.flagSet.StringVar(&c.SSHUsername, prefix+"ssh-username", "", "SSH backend username")
		c.flagSet.StringVar(&c.SSHPrivateKeyPath, prefix+"ssh-private-key-path", "", "SSH backend private key path")
		c.flagSet.StringVar(&c.SSHPassword, prefix+"ssh-password", "", "SSH backend password")
		c.flagSet.BoolVar(&c.SSHAskPassword, prefix+"ssh-ask-password", false, "Prompt for the SSH backend password on stdin")
		c.flagSet.IntVar(&c.SSHTimeoutSeconds, prefix+"ssh-timeout-seconds", 10, "SSH dial timeout, in seconds")
		c.flagSet.BoolVar(&c.SSHLookForKeys, prefix+"ssh-look-for-keys", false, "Use SSH_AUTH_SOCK agent keys")

		c.flagSet.StringVar(&c.ContainerID, prefix+"container-id", "", "Container backend container ID or name")

		c.flagSet.StringVar(&c.ScriptOutputPath, prefix+"script-output-path", "", "Script backend output file path")
		c.flagSet.BoolVar(&c.ScriptAppend, prefix+"script-append", false, "Append to the script backend output file instead of overwriting it")
	}
	return c.flagSet
}

func (c *BackendConfig) osType() fspath.OSType {
	switch c.OS {
	case "darwin":
		return fspath.MacOS
	case "windows":
		return fspath.Windows
	default:
		return fspath.Linux
	}
}

// Build constructs and opens the backend selected by Kind, per spec.md §6.
func (c *BackendConfig) Build(ctx context.Context, logger hclog.Logger) (backend.Backend, error) {
	var b backend.Backend

	switch c.Kind {
	case "local":
		b = local.New(logger)
	case "ssh":
		b = sshfs.New(logger, sshfs.ConnectConfig{
			Hostname:       c.SSHHostname,
			Port:           c.SSHPort,
			Username:       c.SSHUsername,
			PrivateKeyPath: c.SSHPrivateKeyPath,
			Password:       c.SSHPassword,
			AskPassword:    c.SSHAskPassword,
			TimeoutSeconds: c.SSHTimeoutSeconds,
			LookForKeys:    c.SSHLookForKeys,
			OSType:         c.osType(),
		})
	case "container":
		b = container.New(logger, container.Config{
			ContainerID: c.ContainerID,
			OSType:      c.osType(),
		})
	case "script":
		mode := script.Write
		if c.ScriptAppend {
			mode = script.Append
		}
		b = script.New(script.Config{
			OutputPath: c.ScriptOutputPath,
			Mode:       mode,
			OSType:     c.osType(),
		})
	default:
		return nil, errors.Errorf("unknown backend kind %q", c.Kind)
	}

	if err := b.Open(ctx); err != nil {
		return nil, errors.Wrapf(err, "opening %q backend", c.Kind)
	}
	return b, nil
}
