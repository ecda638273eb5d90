package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck succeeds once any broker accepts a connection. When topics are
// given, that broker must also report partitions for each of them.
func ReadyCheck(brokers string, topics ...string) func(context.Context) error {
	return func(ctx context.Context) error {
		list := SplitBrokers(brokers)
		if len(list) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		var lastErr error
		for _, addr := range list {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				lastErr = err
				continue
			}
			err = checkTopics(conn, topics)
			_ = conn.Close()
			return err
		}
		return lastErr
	}
}

func checkTopics(conn *kafka.Conn, topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	partitions, err := conn.ReadPartitions(topics...)
	if err != nil {
		return fmt.Errorf("read partitions: %w", err)
	}
	found := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		found[p.Topic] = true
	}
	for _, t := range topics {
		if !found[t] {
			return fmt.Errorf("topic %s missing", t)
		}
	}
	return nil
}
