// Package inmemory is the default, bounded-channel-backed ExtractQueue
// adapter. It bounds memory per the backpressure requirement: Enqueue
// returns accepted=false rather than blocking when the channel is full.
// Grounded on the done/wg-guarded background-loop shutdown idiom used for
// the streaming-buffer's flush loop.
package inmemory

import (
	"context"
	"sync"

	"memoria/internal/model"
)

// Queue is a bounded in-process episode queue.
type Queue struct {
	ch     chan model.Episode
	once   sync.Once
	closed chan struct{}
}

// New constructs a Queue with the given buffered capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan model.Episode, capacity), closed: make(chan struct{})}
}

func (q *Queue) Enqueue(ctx context.Context, episode model.Episode) (bool, error) {
	select {
	case q.ch <- episode:
		return true, nil
	default:
		return false, nil
	}
}

func (q *Queue) Consume(ctx context.Context) (<-chan model.Episode, error) {
	return q.ch, nil
}

func (q *Queue) Close() error {
	q.once.Do(func() {
		close(q.closed)
		close(q.ch)
	})
	return nil
}
