package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/events"
)

// PubSubSink publishes outcome events to a Google Cloud Pub/Sub topic so
// downstream listing services can apply the patches asynchronously.
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSubSink creates a client with Application Default Credentials and
// verifies the topic exists before returning.
func NewPubSubSink(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubSink, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	return NewPubSubSinkWithTopic(client, topic, logger), nil
}

// NewPubSubSinkWithTopic wraps an existing client and topic. The sink takes
// ownership of both and closes them in Close.
func NewPubSubSinkWithTopic(client *pubsub.Client, topic *pubsub.Topic, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{client: client, topic: topic, logger: logger}
}

// Consume publishes every event in the batch and waits for server
// acknowledgement. Individual publish failures are logged and the first one
// is returned after the whole batch has been attempted.
func (s *PubSubSink) Consume(ctx context.Context, batch []events.Event) error {
	results := make([]*pubsub.PublishResult, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(evt)
		if err != nil {
			s.logger.Warn("marshal outcome event", zap.String("match_id", evt.MatchID), zap.Error(err))
			continue
		}
		msg := &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"type":     string(evt.Type),
				"match_id": evt.MatchID,
			},
		}
		results = append(results, s.topic.Publish(ctx, msg))
	}

	var firstErr error
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			s.logger.Warn("publish outcome event", zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("publish outcome event: %w", err)
			}
		}
	}
	return firstErr
}

// Close flushes pending publishes and closes the client.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
