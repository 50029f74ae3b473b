package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

const defaultPubSubBuffer = 16

// PubSubConfig holds the Pub/Sub resources backing the queue.
type PubSubConfig struct {
	// TopicID receives enqueued batches.
	TopicID string
	// SubscriptionID feeds Dequeue. Leave empty for an enqueue-only
	// queue (API deployments that must not compete with workers).
	SubscriptionID string
	// Buffer bounds how many undelivered items the pump holds locally.
	Buffer int
}

// PubSubQueue implements extraction.Queue on Google Cloud Pub/Sub.
// Enqueue publishes synchronously so a failed publish surfaces to the
// caller instead of stranding the batch. Dequeue is fed by a background
// receive pump started in NewPubSub when a subscription is configured.
type PubSubQueue struct {
	topic  *pubsub.Topic
	logger *zap.Logger

	items      chan extraction.QueueItem
	pumpCancel context.CancelFunc
	pumpWG     sync.WaitGroup
	closeOnce  sync.Once
}

// NewPubSub verifies the configured resources exist and starts the
// receive pump. The client is owned by the caller and survives Close.
func NewPubSub(ctx context.Context, client *pubsub.Client, cfg PubSubConfig, logger *zap.Logger) (*PubSubQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub topic id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultPubSubBuffer
	}

	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %q does not exist", cfg.TopicID)
	}

	q := &PubSubQueue{
		topic:  topic,
		logger: logger,
	}

	if cfg.SubscriptionID == "" {
		return q, nil
	}

	sub := client.Subscription(cfg.SubscriptionID)
	exists, err = sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub subscription %q: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub subscription %q does not exist", cfg.SubscriptionID)
	}
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.Buffer

	q.items = make(chan extraction.QueueItem, cfg.Buffer)
	pumpCtx, cancel := context.WithCancel(context.Background())
	q.pumpCancel = cancel
	q.pumpWG.Add(1)
	go q.pump(pumpCtx, sub)

	return q, nil
}

// Enqueue publishes the item and waits for the server acknowledgement.
func (q *PubSubQueue) Enqueue(ctx context.Context, item extraction.QueueItem) error {
	data, err := EncodeItem(item)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrBatchID:       item.BatchID,
			AttrSchemaVersion: SchemaVersion,
		},
	}
	if _, err := q.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish queue item: %w", err)
	}
	return nil
}

// Dequeue returns the next delivered item, blocking until one arrives,
// the context ends, or the queue closes.
func (q *PubSubQueue) Dequeue(ctx context.Context) (extraction.QueueItem, error) {
	if q.items == nil {
		return extraction.QueueItem{}, errors.New("queue has no subscription configured")
	}
	select {
	case <-ctx.Done():
		return extraction.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.items:
		if !ok {
			return extraction.QueueItem{}, extraction.ErrQueueClosed
		}
		return item, nil
	}
}

// Close stops the receive pump and flushes pending publishes. It does
// not close the shared Pub/Sub client.
func (q *PubSubQueue) Close() error {
	q.closeOnce.Do(func() {
		if q.pumpCancel != nil {
			q.pumpCancel()
			q.pumpWG.Wait()
		}
		q.topic.Stop()
	})
	return nil
}

func (q *PubSubQueue) pump(ctx context.Context, sub *pubsub.Subscription) {
	defer q.pumpWG.Done()
	defer close(q.items)

	err := sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		item, err := DecodeItem(msg.Data)
		if err != nil {
			// Redelivery cannot fix a malformed envelope.
			q.logger.Warn("dropping malformed queue message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			msg.Ack()
			return
		}
		select {
		case q.items <- item:
			msg.Ack()
		case <-ctx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		q.logger.Error("queue receive stopped", zap.Error(err))
	}
}
