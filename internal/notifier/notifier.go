// Package notifier delivers moderation decisions to downstream consumers
// over Kafka. Delivery is fire-and-forget from the pipeline's point of
// view: events queue into a buffered channel drained by a dedicated
// dispatcher goroutine, and the moderation response never waits on it.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Significant-Gravitas/AutoModerate/pkg/kafka"
	"github.com/Significant-Gravitas/AutoModerate/pkg/logger"
	"github.com/Significant-Gravitas/AutoModerate/pkg/metrics"
)

// Event describes one finished moderation decision.
type Event struct {
	ContentID        string            `json:"content_id"`
	ProjectID        string            `json:"project_id"`
	Status           string            `json:"status"`
	Reason           string            `json:"reason,omitempty"`
	OutcomeCount     int               `json:"outcome_count"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

// Sink is the transport an event ends up on.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// KafkaSink publishes events as JSON to the moderation-events topic, keyed
// by project id so one project's events stay ordered within a partition.
type KafkaSink struct {
	producer *kafka.Producer
}

// NewKafkaSink wraps a Kafka producer as a Sink.
func NewKafkaSink(producer *kafka.Producer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Publish(ctx context.Context, event Event) error {
	return s.producer.Publish(ctx, kafka.Event{
		Key:   event.ProjectID,
		Value: event,
	})
}

// Dispatcher decouples the pipeline from the sink with a buffered queue.
// When the queue is full the event is dropped and counted; moderation
// latency never depends on notification throughput.
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	wg      sync.WaitGroup
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher with the given queue capacity. The
// metrics handle may be nil in tests.
func NewDispatcher(sink Sink, bufferSize int, m *metrics.Metrics) *Dispatcher {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan Event, bufferSize),
		metrics: m,
		logger:  logger.WithComponent("notifier"),
	}
}

// Start launches the dispatch loop. It drains the queue until Close is
// called and the queue empties.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for event := range d.queue {
			if err := d.sink.Publish(ctx, event); err != nil {
				d.count("failed")
				d.logger.Error("notification publish failed",
					"content_id", event.ContentID,
					"project_id", event.ProjectID,
					"error", err)
				continue
			}
			d.count("sent")
			d.logger.Debug("notification sent",
				"content_id", event.ContentID,
				"status", event.Status)
		}
	}()
}

// Notify enqueues an event without blocking. Returns false when the queue
// is full and the event was dropped.
func (d *Dispatcher) Notify(event Event) bool {
	select {
	case d.queue <- event:
		return true
	default:
		d.count("dropped")
		d.logger.Warn("notification queue full, dropping event",
			"content_id", event.ContentID,
			"project_id", event.ProjectID)
		return false
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	close(d.queue)
	d.wg.Wait()
}

func (d *Dispatcher) count(result string) {
	if d.metrics != nil {
		d.metrics.NotificationsTotal.WithLabelValues(result).Inc()
	}
}
