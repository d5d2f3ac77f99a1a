// Command gatewarden is the container entrypoint for the messaging gateway.
// It verifies the executables on the persistent volume, prepares the state
// directory and then execs the gateway. Subcommands expose the integrity
// manifest to operators and run the verifier as a watch-mode sidecar.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gatewarden/internal/entrypoint"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gatewarden",
		Short:         "Integrity-checking entrypoint for the messaging gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default "+entrypoint.DefaultConfigDir+"/config.yaml if present)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	flags.String("state-dir", "", "directory holding the integrity manifest")
	flags.StringSlice("watch-dir", nil, "directory whose executables are verified (repeatable)")
	flags.String("hash", "", "hash algorithm for a new manifest: sha256 or blake3")

	root.AddCommand(
		newRunCmd(),
		newVerifyCmd(),
		newStatusCmd(),
		newRetrustCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig merges defaults, the config file, GATEWARDEN_* variables and
// the flags set on cmd.
func loadConfig(cmd *cobra.Command) (entrypoint.Config, error) {
	v := viper.New()

	bindings := map[string]string{
		"state_dir":      "state-dir",
		"watch_dirs":     "watch-dir",
		"hash_algorithm": "hash",
		"listen":         "listen",
	}
	for key, name := range bindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return entrypoint.Config{}, fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}

	return entrypoint.LoadConfig(v, cfgFile)
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logFormat) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", logFormat)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
