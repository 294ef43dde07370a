// Package memory provides an in-process publisher for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one published notification.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher records published messages in memory.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	nextID   int
}

// New creates an empty in-memory publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish marshals the payload and appends it to the in-memory log.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic name is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := fmt.Sprintf("mem-%d", p.nextID)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Close is a no-op for the in-memory publisher.
func (p *Publisher) Close() error { return nil }
