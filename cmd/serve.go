package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	httpHdlr "ragvault/handler/http"
	"ragvault/src/core/knowledgebase"
	"ragvault/src/infrastructure/job"
	"ragvault/src/infrastructure/metrics"
	"ragvault/src/log"
)

var serveWorker bool

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the question answering server",
	Long: `The serve command starts an HTTP server for teaching, uploading and asking.
Uploads are ingested in the background by the job worker, which runs in the
same process unless --worker=false is given with an AMQP queue.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveWorker, "worker", true, "consume upload jobs in this process")
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queueBackend := viper.GetString("queue.backend")
	if !serveWorker && queueBackend != job.QueueAMQP {
		return fmt.Errorf("--worker=false needs queue.backend=%s; the %s queue is only visible in-process", job.QueueAMQP, queueBackend)
	}

	recorder := metrics.New(prometheus.DefaultRegisterer)
	kb, err := buildKnowledgeBase(ctx, recorder)
	if err != nil {
		return err
	}

	repo, cleanup, err := newJobRepository(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	wmLogger := log.NewWatermillAdapter(log.WithName("jobs"))
	pubSub, err := job.NewPubSub(queueBackend, viper.GetString("amqp.url"), wmLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pubSub.Close(); err != nil {
			log.Error(err, "Error closing job queue")
		}
	}()

	jobService := job.NewJobService(pubSub.Publisher, repo, kb.blobs, kb.service, wmLogger)

	var workerDone <-chan error
	if serveWorker {
		// the subscriber must be consuming before the first upload is published
		workerDone, err = startWorker(ctx, pubSub.Subscriber, jobService, wmLogger)
		if err != nil {
			return err
		}
	} else {
		// chunks ingested by the worker process only reach Ask through the blob
		go syncStore(ctx, kb.store, viper.GetDuration("store.sync_interval"), recorder)
	}

	if !viper.GetBool("log.development") {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	httpHdlr.NewHandler(kb.service, jobService, viper.GetStringSlice("ingest.extensions")).RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", "addr", srv.Addr, "chunks", kb.store.Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var listenErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case listenErr = <-serveErr:
		log.Error(listenErr, "Failed to start server")
		stop()
	}

	timeout := viper.GetDuration("server.shutdown_timeout")
	if timeout <= 0 {
		log.Info("Invalid shutdown timeout, using default 5s")
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	if workerDone != nil {
		if err := <-workerDone; err != nil {
			log.Error(err, "Job router stopped with error")
		}
	}

	log.Info("Server exited")
	return listenErr
}

// startWorker runs the job router until ctx is done. It returns once the
// router is consuming; the channel yields the router's exit error.
func startWorker(ctx context.Context, sub message.Subscriber, svc *job.JobService, logger watermill.LoggerAdapter) (<-chan error, error) {
	router, err := job.NewRouter(sub, svc, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create job router: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- router.Run(ctx)
	}()

	select {
	case <-router.Running():
		return done, nil
	case err := <-done:
		return nil, fmt.Errorf("job router stopped before running: %w", err)
	}
}

// syncStore periodically folds chunks persisted by other processes into store.
func syncStore(ctx context.Context, store *knowledgebase.Store, interval time.Duration, m knowledgebase.Metrics) {
	if interval <= 0 {
		log.Info("Store sync disabled", "interval", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			added, err := store.Sync(ctx)
			if err != nil {
				log.Error(err, "Failed to sync store")
				continue
			}
			if added > 0 {
				log.Info("Store synced", "added", added, "chunks", store.Len())
				m.SetStoreSize(store.Len())
			}
		}
	}
}
