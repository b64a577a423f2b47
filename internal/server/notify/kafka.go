package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/logging"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events to a topic keyed by task id, so one task's events
// stay ordered within a partition.
type KafkaSink struct {
	writer  messageWriter
	timeout time.Duration
	logger  logging.Logger
}

func NewKafkaSink(brokers []string, topic string, logger logging.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaSink{writer: w, timeout: 5 * time.Second, logger: logger.With("module", "notify")}
}

func (s *KafkaSink) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error(ctx, "encode event", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.TaskID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		s.logger.Warn(ctx, "kafka publish", "task_id", ev.TaskID, "error", err)
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
