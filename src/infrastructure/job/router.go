package job

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

const handlerName = "ingest_upload"

// NewRouter wires the single ingestion worker. Uploads are handled one at a
// time, so the store only ever has one ingesting writer.
func NewRouter(subscriber message.Subscriber, jobService *JobService, logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, err
	}

	router.AddMiddleware(
		dropAfterRetries(logger),
		middleware.Recoverer,
		middleware.CorrelationID,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Second,
			Logger:          logger,
		}.Middleware,
	)

	router.AddNoPublisherHandler(
		handlerName,
		TopicUploads,
		subscriber,
		jobService.ProcessJobMessage,
	)

	return router, nil
}

// dropAfterRetries acks messages whose handler still fails after retrying.
// A nack would make the in-process pub/sub redeliver the message forever.
func dropAfterRetries(logger watermill.LoggerAdapter) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			msgs, err := h(msg)
			if err != nil {
				logger.Error("Dropping job message after retries", err, watermill.LogFields{
					"message_uuid": msg.UUID,
				})
				return nil, nil
			}
			return msgs, nil
		}
	}
}
