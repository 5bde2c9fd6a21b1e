// Command statshost runs an interpreter behind the statshost protocol so a
// remote IDE can evaluate code, answer console prompts and display plots.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/statshost/host/internal/protocol"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// exitError ends a command with a specific exit code and no message.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args[1:])
	if err := root.ExecuteContext(context.Background()); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "statshost",
		Short: "Interpreter host for remote IDEs",
		Long: `statshost embeds an interpreter and serves it to one IDE client over
WebSocket, a framed pipe or stdio. The IDE evaluates code, answers console
prompts and receives rendered plots.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().String("config", "", "Path to config file (default: ~/.statshost/config.toml)")

	root.AddCommand(
		newServeCmd(),
		newPipeCmd(),
		newConnectCmd(),
		newRendersCmd(),
		newHashTokenCmd(),
		newInitConfigCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the host and protocol versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "statshost %s (protocol %s)\n", Version, protocol.Version)
			return nil
		},
	}
}
