package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the vector store",
	Long:  `The ask command answers one question using the stored documents. The store is never written.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	kb, err := buildKnowledgeBase(ctx, nil)
	if err != nil {
		return err
	}

	answer, err := kb.service.Ask(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, answer.Text)
	if !answer.ContextUsed {
		fmt.Fprintln(out, "\n(nenhum trecho relevante encontrado)")
		return nil
	}

	fmt.Fprintln(out, "\nTrechos usados:")
	for _, ev := range answer.Evidence {
		fmt.Fprintf(out, "  [%d] %s (%.3f)\n", ev.Index, ev.Title, ev.Score)
	}
	return nil
}
