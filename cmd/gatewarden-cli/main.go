// Command gatewarden-cli inspects gateway containers from the Docker host.
// check and verify exec gatewarden inside a container through the Docker
// Engine API; the api subcommands talk to a watch-mode sidecar over HTTP.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/docker/docker/client"
	"github.com/spf13/cobra"

	"gatewarden/internal/api"
	"gatewarden/internal/inspect"
	"gatewarden/internal/integrity"
	"gatewarden/internal/render"
)

const version = "1.0.0"

var (
	output string
	binary string
	apiURL string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fatal("%v", err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gatewarden-cli",
		Short:         "Inspect the binary integrity state of gateway containers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return render.CheckFormat(output)
		},
	}
	root.PersistentFlags().StringVarP(&output, "output", "o", render.FormatTable, "output format: table, json or yaml")

	check := &cobra.Command{
		Use:   "check CONTAINER",
		Short: "Show the integrity manifest of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeFn, err := newInspector()
			if err != nil {
				return err
			}
			defer closeFn()

			status, err := in.Status(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("check %s: %w", args[0], err)
			}
			return render.WriteStatus(os.Stdout, output, status)
		},
	}

	verify := &cobra.Command{
		Use:   "verify CONTAINER",
		Short: "Run an integrity pass inside a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeFn, err := newInspector()
			if err != nil {
				return err
			}
			defer closeFn()

			summary, err := in.Verify(cmd.Context(), args[0])
			if summary != nil {
				if rerr := render.WriteSummary(os.Stdout, output, summary); rerr != nil {
					return rerr
				}
			}
			if err != nil {
				return fmt.Errorf("verify %s: %w", args[0], err)
			}
			return tamperedError(summary)
		},
	}

	for _, c := range []*cobra.Command{check, verify} {
		c.Flags().StringVar(&binary, "binary", inspect.DefaultBinary, "gatewarden path inside the container")
	}

	root.AddCommand(check, verify, newAPICmd())
	return root
}

func newAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Query a watch-mode sidecar over HTTP",
	}
	cmd.PersistentFlags().StringVar(&apiURL, "api", "http://127.0.0.1:9470", "sidecar API URL")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the manifest status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				status, err := api.NewClient(apiURL).Status(cmd.Context())
				if err != nil {
					return err
				}
				return render.WriteStatus(os.Stdout, output, status)
			},
		},
		&cobra.Command{
			Use:   "reports",
			Short: "Show the latest report per directory",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				reports, err := api.NewClient(apiURL).Reports(cmd.Context())
				if err != nil {
					return err
				}
				runID := ""
				if len(reports) > 0 {
					runID = reports[len(reports)-1].RunID
				}
				return render.WriteSummary(os.Stdout, output, &integrity.Summary{RunID: runID, Reports: reports})
			},
		},
		&cobra.Command{
			Use:   "verify",
			Short: "Trigger a full verification pass",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				summary, err := api.NewClient(apiURL).Verify(cmd.Context())
				if err != nil {
					return err
				}
				if err := render.WriteSummary(os.Stdout, output, summary); err != nil {
					return err
				}
				return tamperedError(summary)
			},
		},
	)
	return cmd
}

func newInspector() (*inspect.Inspector, func(), error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, nil, fmt.Errorf("create docker client: %w", err)
	}
	return inspect.New(docker, binary, nil), func() { docker.Close() }, nil
}

// tamperedError makes a pass that flagged files exit non-zero.
func tamperedError(summary *integrity.Summary) error {
	if summary == nil {
		return errors.New("no verification result")
	}
	if n := summary.Count(integrity.OutcomeTampered); n > 0 {
		return fmt.Errorf("%d executable(s) failed verification", n)
	}
	return nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

