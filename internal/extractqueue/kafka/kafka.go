// Package kafka adapts github.com/segmentio/kafka-go to memoria's
// ExtractQueue port as the production backpressure queue (§5), with the
// inmemory package remaining the default for single-process deployments.
// Grounded on the teacher's internal/tools/kafka/kafka.go Writer interface
// and CommandEnvelope JSON-envelope idiom.
package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"memoria/internal/merrors"
	"memoria/internal/model"
)

// Writer is the subset of *kafka.Writer this adapter needs, matching the
// teacher's own Writer interface so test doubles are trivial to author.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Queue adapts a Kafka topic to ports.ExtractQueue.
type Queue struct {
	writer Writer
	reader *kafka.Reader
	topic  string
}

// New constructs a Queue. brokers is a comma-free slice of broker addresses.
func New(brokers []string, topic, groupID string) *Queue {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	return &Queue{writer: w, reader: r, topic: topic}
}

// envelope mirrors the teacher's CommandEnvelope idiom: a stable JSON
// wrapper around the domain payload, keyed for partition affinity.
type envelope struct {
	EpisodeID string        `json:"episode_id"`
	Episode   model.Episode `json:"episode"`
}

func (q *Queue) Enqueue(ctx context.Context, episode model.Episode) (bool, error) {
	payload, err := json.Marshal(envelope{EpisodeID: episode.EpisodeID, Episode: episode})
	if err != nil {
		return false, merrors.Input("episode not json-serializable", err)
	}
	err = q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(episode.EpisodeID),
		Value: payload,
	})
	if err != nil {
		// A write failure is backpressure at the queue layer; the caller
		// (Service.runExtraction) extracts the episode inline when
		// accepted=false.
		return false, nil
	}
	return true, nil
}

func (q *Queue) Consume(ctx context.Context) (<-chan model.Episode, error) {
	out := make(chan model.Episode)
	go func() {
		defer close(out)
		for {
			msg, err := q.reader.ReadMessage(ctx)
			if err != nil {
				return
			}
			var env envelope
			if err := json.Unmarshal(msg.Value, &env); err != nil {
				continue
			}
			select {
			case out <- env.Episode:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (q *Queue) Close() error {
	_ = q.reader.Close()
	if w, ok := q.writer.(*kafka.Writer); ok {
		return w.Close()
	}
	return nil
}
