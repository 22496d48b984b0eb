package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
)

var (
	indexNamespace string

	searchNamespace string
	searchTopK      int
	searchKind      string
	searchJSON      bool

	contextNamespace  string
	contextMaxResults int
)

func init() {
	indexCreateCmd.Flags().StringVar(&indexNamespace, "namespace", "", "namespace to provision (default from config)")
	indexCmd.AddCommand(indexCreateCmd)

	searchCmd.Flags().StringVar(&searchNamespace, "namespace", "", "namespace to search (default from config)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 5, "number of results")
	searchCmd.Flags().StringVar(&searchKind, "kind", "", "only return records of this kind")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
	memoryCmd.AddCommand(searchCmd)

	contextCmd.Flags().StringVar(&contextNamespace, "namespace", "", "namespace to search (default from config)")
	contextCmd.Flags().IntVarP(&contextMaxResults, "max-results", "n", 5, "number of records to render")
	memoryCmd.AddCommand(contextCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage memory namespaces",
}

var indexCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision the collection backing a namespace",
	Long: `Create the vector collection backing a memory namespace. Runs fail with
exit code 2 until the namespace they use has been provisioned.

Examples:
  fuzagent index create
  fuzagent index create --namespace team-backend`,
	Args: cobra.NoArgs,
	RunE: runIndexCreate,
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect the memory store",
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search stored records",
	Long: `Search the memory store the way the pipeline does when it builds context
for a stage.

Examples:
  fuzagent memory search "nil pointer in config loader"
  fuzagent memory search --kind error_pattern --top-k 10 "timeout"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var contextCmd = &cobra.Command{
	Use:   "context QUERY",
	Short: "Print the context block a stage would receive for QUERY",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runContext,
}

func runIndexCreate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openMemory(ctx)
	if err != nil {
		return err
	}
	ns := indexNamespace
	if ns == "" {
		ns = store.Namespace()
	}
	created, err := store.Provision(ctx, ns)
	if err != nil {
		return err
	}
	if created {
		cmd.Printf("Created namespace %s\n", ns)
	} else {
		cmd.Printf("Namespace %s already exists\n", ns)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchTopK < 1 {
		return fmt.Errorf("--top-k must be >= 1, got %d", searchTopK)
	}
	filter := memory.Filter{Kind: memory.Kind(searchKind)}
	if searchKind != "" && !slices.Contains(memory.Kinds, filter.Kind) {
		return fmt.Errorf("unknown kind %q", searchKind)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openMemory(ctx)
	if err != nil {
		return err
	}
	results, err := store.Search(ctx, strings.Join(args, " "), searchTopK, searchNamespace, filter)
	if err != nil {
		return err
	}
	if searchJSON {
		return writeJSON(cmd.OutOrStdout(), results)
	}
	writeResults(cmd.OutOrStdout(), results)
	return nil
}

func runContext(cmd *cobra.Command, args []string) error {
	if contextMaxResults < 1 {
		return fmt.Errorf("--max-results must be >= 1, got %d", contextMaxResults)
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openMemory(ctx)
	if err != nil {
		return err
	}
	summary, err := store.ContextSummary(ctx, strings.Join(args, " "), contextMaxResults, contextNamespace)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}

type searchResult struct {
	ID         string            `json:"id"`
	Kind       memory.Kind       `json:"kind"`
	Score      float32           `json:"score"`
	Content    string            `json:"content"`
	Attributes memory.Attributes `json:"attributes,omitempty"`
}

func writeJSON(w io.Writer, results []memory.Result) error {
	out := make([]searchResult, len(results))
	for i, r := range results {
		out[i] = searchResult{ID: r.ID, Kind: r.Kind, Score: r.Score, Content: r.Content, Attributes: r.Attributes}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeResults(w io.Writer, results []memory.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No records found.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(w, "%d. [%s] %.3f %s\n", i+1, r.Kind, r.Score, r.ID)
		for _, line := range strings.Split(r.Content, "\n") {
			fmt.Fprintf(w, "   %s\n", line)
		}
	}
}
