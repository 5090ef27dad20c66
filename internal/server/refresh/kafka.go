package refresh

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Topic carrying sync-cycle completion events for analytics consumers.
const ingestEventsTopic = "health_ingest_events"

// KafkaPublisher delivers IngestCompleted events to Kafka.
type KafkaPublisher struct {
	brokers []string
	mu      sync.Mutex
	writer  *kafka.Writer
}

// NewKafkaPublisher creates a KafkaPublisher.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{brokers: brokers}
}

// PublishIngestCompleted writes one event, keyed by stream so per-stream
// ordering holds for consumers.
func (p *KafkaPublisher) PublishIngestCompleted(ctx context.Context, event IngestCompleted) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.kafkaWriter().WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Stream),
		Value: body,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("health.ingest_completed")},
		},
	})
}

func (p *KafkaPublisher) kafkaWriter() *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer == nil {
		p.writer = &kafka.Writer{
			Addr:         kafka.TCP(p.brokers...),
			Topic:        ingestEventsTopic,
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			Async:        false,
		}
	}
	return p.writer
}

// Close releases the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}
