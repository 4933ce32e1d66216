package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// TailReader fetches the newest message of every non-empty partition of a topic.
type TailReader interface {
	Tail(ctx context.Context) ([]kafka.Message, error)
}

// topicTail reads partition tails straight from the brokers.
type topicTail struct {
	brokers []string
	topic   string
	maxWait time.Duration
}

// NewTopicTail returns a TailReader for topic.
func NewTopicTail(brokers []string, topic string) TailReader {
	return &topicTail{brokers: brokers, topic: topic, maxWait: time.Second}
}

// Tail dials the first reachable broker, lists the topic partitions and reads
// the last message of each.
func (t *topicTail) Tail(ctx context.Context) ([]kafka.Message, error) {
	if len(t.brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	var (
		broker string
		conn   *kafka.Conn
		err    error
	)
	for _, broker = range t.brokers {
		conn, err = kafka.DialContext(ctx, "tcp", broker)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dial kafka: %w", err)
	}
	partitions, err := conn.ReadPartitions(t.topic)
	_ = conn.Close()
	if err != nil {
		return nil, fmt.Errorf("read partitions of %s: %w", t.topic, err)
	}

	var msgs []kafka.Message
	for _, p := range partitions {
		msg, ok, err := t.tailPartition(ctx, broker, p.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func (t *topicTail) tailPartition(ctx context.Context, broker string, partition int) (kafka.Message, bool, error) {
	leader, err := kafka.DialLeader(ctx, "tcp", broker, t.topic, partition)
	if err != nil {
		return kafka.Message{}, false, fmt.Errorf("dial leader of partition %d: %w", partition, err)
	}
	first, last, err := leader.ReadOffsets()
	_ = leader.Close()
	if err != nil {
		return kafka.Message{}, false, fmt.Errorf("read offsets of partition %d: %w", partition, err)
	}
	if last <= first {
		return kafka.Message{}, false, nil
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   t.brokers,
		Topic:     t.topic,
		Partition: partition,
		MaxWait:   t.maxWait,
	})
	defer r.Close()

	if err := r.SetOffset(last - 1); err != nil {
		return kafka.Message{}, false, fmt.Errorf("seek partition %d: %w", partition, err)
	}
	msg, err := r.ReadMessage(ctx)
	if err != nil {
		return kafka.Message{}, false, fmt.Errorf("read tail of partition %d: %w", partition, err)
	}
	return msg, true, nil
}
