package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/iurnickita/sugarrush/internal/notify/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaEnvelope struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Target *Target   `json:"target,omitempty"`
	Msg    *Message  `json:"message,omitempty"`
	Snap   *Snapshot `json:"snapshot,omitempty"`
}

// Kafka publishes notifications to one topic and archive snapshots to a
// compacted topic keyed by order id, so the latest snapshot per order wins.
type Kafka struct {
	writer       messageWriter
	topic        string
	archiveTopic string
}

func NewKafka(cfg config.Config) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink requires brokers")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafka(writer, cfg), nil
}

func newKafka(writer messageWriter, cfg config.Config) *Kafka {
	topic := cfg.Topic
	if topic == "" {
		topic = "sugarrush.notifications"
	}
	archiveTopic := cfg.ArchiveTopic
	if archiveTopic == "" {
		archiveTopic = "sugarrush.archive"
	}
	return &Kafka{writer: writer, topic: topic, archiveTopic: archiveTopic}
}

func (k *Kafka) Post(ctx context.Context, target Target, msg Message) error {
	value, err := json.Marshal(kafkaEnvelope{ID: uuid.NewString(), At: time.Now().UTC(), Target: &target, Msg: &msg})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Key:   []byte(target.ChannelID),
		Value: value,
	})
}

func (k *Kafka) EditOrCreateLogEntry(ctx context.Context, handle string, snap Snapshot) (string, error) {
	id := uuid.NewString()
	value, err := json.Marshal(kafkaEnvelope{ID: id, At: time.Now().UTC(), Snap: &snap})
	if err != nil {
		return "", err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   k.archiveTopic,
		Key:     []byte(snap.OrderID),
		Value:   value,
		Headers: []kafka.Header{{Key: "event-id", Value: []byte(id)}},
	})
	if err != nil {
		return "", err
	}
	return k.archiveTopic + "/" + snap.OrderID, nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
