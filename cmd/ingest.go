package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ragvault/src/core/knowledgebase"
	"ragvault/src/fsutil"
	"ragvault/src/log"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest every document of a directory into the vector store",
	Long: `The ingest command chunks, embeds and stores every document of a directory.
Runs are resumable: chunks already in the store are skipped, so re-running
after a quota halt only embeds what is missing.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().String("dir", "", "directory to scan (default ingest.dir)")
	ingestCmd.Flags().StringSlice("ext", nil, "file extensions to include (default ingest.extensions)")
	viper.BindPFlag("ingest.dir", ingestCmd.Flags().Lookup("dir"))
	viper.BindPFlag("ingest.extensions", ingestCmd.Flags().Lookup("ext"))
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kb, err := buildKnowledgeBase(ctx, nil)
	if err != nil {
		return err
	}

	dir := viper.GetString("ingest.dir")
	batch := knowledgebase.NewBatch(fsutil.NewLocalFileStore(), kb.extractor, kb.ingestor, viper.GetStringSlice("ingest.extensions"))

	files, err := batch.Files(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Nenhum documento encontrado em %s\n", dir)
		return nil
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("Ingerindo"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	batch.OnProgress(func(done, total int, path string, report *knowledgebase.Report) {
		bar.Describe(filepath.Base(path))
		if err := bar.Set(done); err != nil {
			log.Debug("progress bar update failed", "error", err)
		}
	})

	report, err := batch.Run(ctx, dir)
	if report != nil {
		printBatchReport(cmd, report)
	}
	return err
}

func printBatchReport(cmd *cobra.Command, report *knowledgebase.BatchReport) {
	out := cmd.OutOrStdout()
	for _, doc := range report.Documents {
		status := ""
		if doc.HaltedByQuota {
			status = " (interrompido por cota; rode novamente para continuar)"
		}
		fmt.Fprintf(out, "%s: %d adicionados, %d ignorados, %d com falha de %d%s\n",
			doc.Document, doc.ChunksAdded, doc.ChunksSkipped, doc.ChunksFailed, doc.ChunksTotal, status)
	}
	for _, failure := range report.Failures {
		fmt.Fprintf(out, "%s: falha na extração: %v\n", failure.Path, failure.Err)
	}
	fmt.Fprintf(out, "Total: %d adicionados, %d ignorados, %d com falha. Banco com %d trechos.\n",
		report.ChunksAdded, report.ChunksSkipped, report.ChunksFailed, report.StoreSize)
}
