package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"gotmail/utils"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types
const (
	EventEmailSent        = "email.sent"
	EventEmailDispatched  = "email.dispatched"
	EventAutoReplyCreated = "email.auto_reply"
	EventUserRegistered   = "user.registered"
	EventUserLogin        = "user.login"
	EventUserLogout       = "user.logout"
	EventPasswordReset    = "user.password_reset"
)

// Event is one audit record
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	UserID    int64                  `json:"user_id,omitempty"`
	EmailID   int64                  `json:"email_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Sink receives audit events
type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
	Name() string
}

// LogSink writes audit events to a zap logger
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new LogSink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

// Write logs the audit event
func (s *LogSink) Write(_ context.Context, event *Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.UserID != 0 {
		fields = append(fields, zap.Int64("user_id", event.UserID))
	}
	if event.EmailID != 0 {
		fields = append(fields, zap.Int64("email_id", event.EmailID))
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}

	s.logger.Info("audit_event", fields...)
	return nil
}

// Close is a no-op for LogSink
func (s *LogSink) Close() error {
	return nil
}

// Name returns the sink identifier
func (s *LogSink) Name() string {
	return "log"
}

// messageWriter is the part of kafka.Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit events as JSON messages keyed by event id
type KafkaSink struct {
	writer messageWriter
	mu     sync.Mutex
	closed bool
}

// NewKafkaSink creates a sink writing to topic on brokers
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one Kafka broker is required")
	}
	if topic == "" {
		return nil, errors.New("Kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: time.Second,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}

	utils.Log.Info("Kafka audit sink created for topic %s on %v", topic, brokers)
	return &KafkaSink{writer: writer}, nil
}

// Write publishes the event
func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("kafka sink is closed")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.ID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write audit event to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer. Safe to call more than once.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}

// Name returns the sink identifier
func (s *KafkaSink) Name() string {
	return "kafka"
}

// Recorder fans audit events out to its sinks. Sink failures are logged and
// never reach the caller.
type Recorder struct {
	sinks []Sink
	now   func() time.Time
}

// NewRecorder creates a recorder writing to sinks
func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, now: time.Now}
}

// Record fills the event id and timestamp and writes it to every sink.
// A nil recorder drops events.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}

	for _, sink := range r.sinks {
		if err := sink.Write(ctx, &event); err != nil {
			utils.Log.Warn("Audit sink %s failed for %s: %v", sink.Name(), event.Type, err)
		}
	}
}

// Close closes every sink
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
