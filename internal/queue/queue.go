package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DispatchTopic carries ids of outbound messages ready to send.
const DispatchTopic = "chase_dispatch"

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// DispatchJob is the payload published for each queued outbound message.
type DispatchJob struct {
	MessageID string `json:"message_id"`
}

// DecodeDispatchJob accepts a DispatchJob value or its JSON encoding.
func DecodeDispatchJob(payload any) (DispatchJob, error) {
	switch p := payload.(type) {
	case DispatchJob:
		return p, nil
	case *DispatchJob:
		return *p, nil
	case []byte:
		var job DispatchJob
		if err := json.Unmarshal(p, &job); err != nil {
			return job, fmt.Errorf("decode dispatch job: %w", err)
		}
		if job.MessageID == "" {
			return job, fmt.Errorf("dispatch job has no message_id")
		}
		return job, nil
	}
	return DispatchJob{}, fmt.Errorf("unexpected dispatch payload %T", payload)
}

// InMemoryQueue is an in-process queue with retry
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(payload any) error
	maxRetries int
	backoff    time.Duration
	log        *slog.Logger
	wg         sync.WaitGroup
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log *slog.Logger) *InMemoryQueue {
	if log == nil {
		log = slog.Default()
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
		log:        log,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		job := JobPayload{Payload: payload, MaxRetries: q.maxRetries}
		q.wg.Add(1)
		go q.processJob(topic, handler, job)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(topic string, handler func(payload any) error, job JobPayload) {
	defer q.wg.Done()
	for {
		err := handler(job.Payload)
		if err == nil {
			return
		}

		job.RetryCount++
		if job.RetryCount > job.MaxRetries {
			q.log.Error("job permanently failed", "topic", topic, "attempts", job.RetryCount, "error", err)
			return
		}
		q.log.Warn("job failed, retrying", "topic", topic, "attempt", job.RetryCount, "error", err)

		// Linear backoff before retry
		time.Sleep(time.Duration(job.RetryCount) * q.backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished, including retries.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

var _ Queue = (*InMemoryQueue)(nil)
