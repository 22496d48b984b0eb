// Command fuzagent turns a natural-language change request into a published
// commit, feeding CI failures back into new attempts until CI passes or the
// iteration budget is spent.
//
// Usage:
//
//	# Run a request against the repository in the current directory
//	fuzagent run "add input validation to the signup handler"
//
//	# Provision the memory namespace once
//	fuzagent index create --namespace agentic-memory
//
//	# Receive CI results over a webhook instead of polling
//	fuzagent webhook
//
// Exit codes: 0 succeeded, 1 aborted, 2 configuration or startup error,
// 3 memory store unavailable.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

const (
	exitSucceeded      = 0
	exitAborted        = 1
	exitStartup        = 2
	exitInfrastructure = 3
)

// errAborted is returned by run when the pipeline ended without success.
// The report has already been printed.
var errAborted = errors.New("run aborted")

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	os.Exit(execute(rootCmd, os.Args[1:]))
}

var rootCmd = &cobra.Command{
	Use:   "fuzagent",
	Short: "Plan, write and publish code changes, iterating on CI feedback",
	Long: `fuzagent plans a change from a natural-language request, writes the code,
reviews it, commits it to a branch and waits for CI. Failing CI results are
fed back into the next attempt until CI passes or the iteration budget is
spent. Plans, fixes and failure patterns are kept in a memory store so later
runs can learn from earlier ones.`,
	Version:       fmt.Sprintf("%s (%s)", version, gitCommit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/fuzagent/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(webhookCmd)
}

// execute runs cmd with args and maps the result to an exit code.
func execute(cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err != nil && !errors.Is(err, errAborted) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps a command error to the process exit status. A missing
// namespace is a setup problem, so it is checked before CapacityError.
func exitCode(err error) int {
	var (
		nf *memory.NotFoundError
		ce *memory.CapacityError
	)
	switch {
	case err == nil:
		return exitSucceeded
	case errors.Is(err, errAborted):
		return exitAborted
	case errors.As(err, &nf):
		return exitStartup
	case errors.As(err, &ce):
		return exitInfrastructure
	default:
		return exitStartup
	}
}
