package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/events"
)

var (
	maxIterations int
	noAutoFix     bool
	reason        bool
	runNamespace  string
	quiet         bool
)

func init() {
	runCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "failed iterations allowed before aborting (default from config)")
	runCmd.Flags().BoolVar(&noAutoFix, "no-auto-fix", false, "abort on the first failure instead of retrying")
	runCmd.Flags().BoolVar(&reason, "reason", false, "reason about the plan and every failure before coding (default from config)")
	runCmd.Flags().StringVar(&runNamespace, "namespace", "", "memory namespace (default from config)")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print state transitions")
}

var runCmd = &cobra.Command{
	Use:   "run [request...]",
	Short: "Run the pipeline for a change request",
	Long: `Run plans, codes, reviews and publishes a change for the request, then waits
for CI. CI failures are fed back into a new coding attempt until CI passes or
the iteration budget is spent.

The request is read from the arguments, or from stdin when none are given.

Examples:
  # Request from arguments
  fuzagent run "fix the nil pointer in the config loader"

  # Request from stdin, at most two retries
  echo "add a /version endpoint" | fuzagent run --max-iterations 2

  # Fail fast
  fuzagent run --no-auto-fix "bump the go directive to 1.24"

  # Deliberate before coding and before each retry
  fuzagent run --reason "split the storage layer behind an interface"`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	request, err := readRequest(cmd.InOrStdin(), cmd.ErrOrStderr(), args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()
	if err := applyRunFlags(cmd, a.cfg); err != nil {
		return err
	}

	store, err := a.openMemory(ctx)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}

	p, err := newPipeline(ctx, a, store)
	if err != nil {
		return err
	}
	defer p.close()
	if !quiet {
		out := cmd.ErrOrStderr()
		p.orch.OnProgress(func(e events.Event) {
			printProgress(out, e)
		})
	}

	report, err := p.orch.Run(ctx, request)
	if report != nil {
		fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
	}
	if err != nil {
		return err
	}
	if !report.Succeeded() {
		return errAborted
	}
	return nil
}

// applyRunFlags overrides configuration with flags the user set.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("max-iterations") {
		if maxIterations < 1 {
			return fmt.Errorf("--max-iterations must be >= 1, got %d", maxIterations)
		}
		cfg.Pipeline.MaxIterations = maxIterations
	}
	if flags.Changed("no-auto-fix") {
		cfg.Pipeline.EnableAutoFix = !noAutoFix
	}
	if flags.Changed("reason") {
		cfg.Pipeline.EnableLRM = reason
	}
	if flags.Changed("namespace") {
		if strings.TrimSpace(runNamespace) == "" {
			return errors.New("--namespace must not be empty")
		}
		cfg.Memory.Namespace = runNamespace
	}
	return nil
}

// readRequest joins args, or prompts on prompt and reads one line from in.
func readRequest(in io.Reader, prompt io.Writer, args []string) (string, error) {
	if len(args) > 0 {
		if r := strings.TrimSpace(strings.Join(args, " ")); r != "" {
			return r, nil
		}
		return "", errors.New("empty request")
	}
	fmt.Fprint(prompt, "Request: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading request: %w", err)
	}
	if r := strings.TrimSpace(line); r != "" {
		return r, nil
	}
	return "", errors.New("empty request")
}

func printProgress(w io.Writer, e events.Event) {
	line := fmt.Sprintf("[%d] %s -> %s (%s)", e.Iteration, e.From, e.To, e.Trigger)
	if e.Detail != "" {
		detail, _, _ := strings.Cut(e.Detail, "\n")
		line += ": " + detail
	}
	fmt.Fprintln(w, line)
}
