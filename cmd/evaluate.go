package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ragvault/src/core/knowledgebase"
)

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Measure retrieval quality against labelled questions",
	Long: `The evaluate command reads one JSON case per line, in the form
{"query": "...", "golden_titles": ["doc.pdf (Parte 3)"]}, retrieves from
the current store and prints recall@k and mean reciprocal rank.`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringP("evaluate", "e", "", "Evaluation JSONL file path")
	evaluateCmd.MarkFlagRequired("evaluate")
	evaluateCmd.Flags().IntP("top-k", "k", 0, "chunks retrieved per question (default retrieval.top_k)")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	evaluatePath, _ := cmd.Flags().GetString("evaluate")
	k, _ := cmd.Flags().GetInt("top-k")

	evalFile, err := os.Open(evaluatePath)
	if err != nil {
		return fmt.Errorf("failed to open evaluation file: %w", err)
	}
	defer evalFile.Close()

	cases, err := knowledgebase.ReadEvalCases(evalFile)
	if err != nil {
		return err
	}

	kb, err := buildKnowledgeBase(ctx, nil)
	if err != nil {
		return err
	}

	report, err := kb.service.Evaluate(ctx, cases, k)
	out := cmd.OutOrStdout()
	for _, res := range report.Results {
		fmt.Fprintf(out, "%.2f  %s\n", res.Recall, res.Query)
	}
	if len(report.Results) > 0 {
		fmt.Fprintf(out, "Evaluation Results:\n")
		fmt.Fprintf(out, "Total evaluations: %d (skipped %d)\n", len(report.Results), report.Skipped)
		fmt.Fprintf(out, "Mean recall: %.2f%%\n", report.MeanRecall*100)
		fmt.Fprintf(out, "MRR: %.3f\n", report.MRR)
	} else {
		fmt.Fprintln(out, "No evaluations were processed")
	}
	return err
}
