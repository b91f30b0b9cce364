package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ragvault/src/infrastructure/job"
	"ragvault/src/infrastructure/metrics"
	"ragvault/src/log"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background upload worker",
	Long: `The worker command consumes upload jobs from the AMQP queue and ingests
them into the vector store. Run it next to "serve --worker=false".

Only one worker may write to a store at a time.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if backend := viper.GetString("queue.backend"); backend != job.QueueAMQP {
		return fmt.Errorf("worker needs queue.backend=%s, got %q", job.QueueAMQP, backend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kb, err := buildKnowledgeBase(ctx, metrics.New(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}

	repo, cleanup, err := newJobRepository(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	wmLogger := log.NewWatermillAdapter(log.WithName("jobs"))
	pubSub, err := job.NewAMQPPubSub(viper.GetString("amqp.url"), wmLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pubSub.Close(); err != nil {
			log.Error(err, "Error closing job queue")
		}
	}()

	jobService := job.NewJobService(pubSub.Publisher, repo, kb.blobs, kb.service, wmLogger)
	done, err := startWorker(ctx, pubSub.Subscriber, jobService, wmLogger)
	if err != nil {
		return err
	}
	log.Info("Worker running", "chunks", kb.store.Len())

	<-ctx.Done()
	log.Info("Shutting down...")
	if err := <-done; err != nil {
		return err
	}
	log.Info("Router stopped")
	return nil
}
