package job

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	QueueMemory = "memory"
	QueueAMQP   = "amqp"
)

// PubSub bundles the publisher used by the HTTP side with the subscriber
// consumed by the worker router.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// NewGoChannelPubSub returns an in-process queue. Jobs do not survive a
// restart; the staged blobs and pending records do.
func NewGoChannelPubSub(logger watermill.LoggerAdapter) *PubSub {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
	return &PubSub{Publisher: ch, Subscriber: ch}
}

// NewAMQPPubSub returns a durable queue on an AMQP broker.
func NewAMQPPubSub(url string, logger watermill.LoggerAdapter) (*PubSub, error) {
	publisher, err := amqp.NewPublisher(amqp.NewDurableQueueConfig(url), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create amqp publisher: %w", err)
	}

	subscriberConfig := amqp.NewDurableQueueConfig(url)
	subscriberConfig.Consume.NoRequeueOnNack = true
	subscriber, err := amqp.NewSubscriber(subscriberConfig, logger)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create amqp subscriber: %w", err)
	}

	return &PubSub{Publisher: publisher, Subscriber: subscriber}, nil
}

// NewPubSub picks the queue backend by name.
func NewPubSub(backend, amqpURL string, logger watermill.LoggerAdapter) (*PubSub, error) {
	switch backend {
	case "", QueueMemory:
		return NewGoChannelPubSub(logger), nil
	case QueueAMQP:
		return NewAMQPPubSub(amqpURL, logger)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", backend)
	}
}

// Close closes both sides. gochannel serves both and tolerates the second close.
func (p *PubSub) Close() error {
	return errors.Join(p.Publisher.Close(), p.Subscriber.Close())
}
