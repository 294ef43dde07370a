// Package pubsub implements catalog.Publisher on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Publisher sends crawl notifications to Pub/Sub topics. Topic handles are
// cached so repeated publishes reuse the client-side batching goroutines.
type Publisher struct {
	client *pubsub.Client
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Pub/Sub client and verifies the default topic exists.
// Authentication uses Application Default Credentials.
func New(ctx context.Context, projectID, defaultTopic string, logger *zap.Logger) (*Publisher, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	if defaultTopic != "" {
		topic := client.Topic(defaultTopic)
		exists, err := topic.Exists(ctx)
		if err != nil {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
			}
			return nil, fmt.Errorf("check pubsub topic %q: %w", defaultTopic, err)
		}
		if !exists {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
			}
			return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", defaultTopic, projectID)
		}
	}

	return &Publisher{
		client: client,
		logger: logger,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client *pubsub.Client, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
		topics: make(map[string]*pubsub.Topic),
	}
}

// Publish marshals the payload to JSON, sends it, and waits for the server
// acknowledgement so callers get the message ID back.
func (p *Publisher) Publish(ctx context.Context, topicName string, payload any) (string, error) {
	if topicName == "" {
		return "", fmt.Errorf("topic name is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	result := p.topic(topicName).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %q: %w", topicName, err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	topic, ok := p.topics[name]
	if !ok {
		topic = p.client.Topic(name)
		p.topics[name] = topic
	}
	return topic
}

// Close stops all cached topic publishers and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, topic := range p.topics {
		topic.Stop()
	}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
