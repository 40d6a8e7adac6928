package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/streamsearch/engine/internal/querytree"
	"github.com/streamsearch/engine/internal/worker"
)

var (
	searchTerms        []string
	searchSummaryCount int
	searchSort         string
	searchSummaryFlds  string
	searchDumpFeatures bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run one search against the bucket",
	Long: `Evaluates a query against every live document in the bucket and
prints the top-K hits. Terms are given as index:term pairs; multiple
terms combine under AND.`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringArrayVarP(&searchTerms, "term", "t", nil, "query term as index:text (repeatable, ANDed)")
	searchCmd.Flags().IntVarP(&searchSummaryCount, "summary-count", "k", 10, "number of hits to retain")
	searchCmd.Flags().StringVar(&searchSort, "sort", "", "sort spec (+field ascending, -field descending)")
	searchCmd.Flags().StringVar(&searchSummaryFlds, "summary-fields", "", "space-separated summary fields")
	searchCmd.Flags().BoolVar(&searchDumpFeatures, "dump-features", false, "attach rank features to each hit")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, logger, cleanup, err := loadConfig()
	if err != nil {
		return err
	}
	defer cleanup()

	stack, err := buildStack(searchTerms)
	if err != nil {
		return err
	}

	w, err := worker.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	params := worker.SearchParams{
		SummaryCount: searchSummaryCount,
		Sort:         searchSort,
		QueryStack:   stack,
	}
	if searchSummaryFlds != "" {
		params.SummaryFields = strings.Fields(searchSummaryFlds)
	}
	if searchDumpFeatures {
		params.QueryFlags |= worker.QueryFlagDumpFeatures
	}

	result, err := w.Search(cmd.Context(), params)
	if err != nil {
		return err
	}

	fmt.Printf("%d matched, %d returned\n", result.Matched, len(result.Hits))
	for _, hit := range result.Hits {
		fmt.Printf("  lid=%d score=%.4f %s\n", hit.Lid, hit.Score, hit.DocID)
		for name, value := range hit.Summary {
			fmt.Printf("    %s: %s\n", name, value)
		}
		for name, value := range hit.Features {
			fmt.Printf("    feature %s=%.4f\n", name, value)
		}
	}
	return nil
}

// buildStack turns index:text pairs into a depth-first query stack,
// wrapping multiple terms in an AND connector.
func buildStack(terms []string) ([]querytree.NodeDescriptor, error) {
	if len(terms) == 0 {
		return nil, fmt.Errorf("at least one --term is required")
	}
	var leaves []querytree.NodeDescriptor
	for _, t := range terms {
		index, text, ok := strings.Cut(t, ":")
		if !ok || index == "" || text == "" {
			return nil, fmt.Errorf("malformed term %q, want index:text", t)
		}
		leaves = append(leaves, querytree.NodeDescriptor{Type: "TERM", Index: index, Term: text})
	}
	if len(leaves) == 1 {
		return leaves, nil
	}
	stack := []querytree.NodeDescriptor{{Type: "AND", Arity: len(leaves)}}
	return append(stack, leaves...), nil
}
