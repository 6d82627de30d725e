package voice

import (
	"context"
	"io"
	"sync"
)

// queueStream is an unbounded EventStream. Producers never block, so a
// consumer that calls back into the session between Next calls cannot
// deadlock against the producer.
type queueStream struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	err    error
	notify chan struct{}
}

func newQueueStream() *queueStream {
	return &queueStream{notify: make(chan struct{}, 1)}
}

func (q *queueStream) push(ev Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.queue = append(q.queue, ev)
	q.mu.Unlock()
	q.wake()
	return true
}

// close ends the stream. A nil err means a normal end. Only the first call
// has an effect.
func (q *queueStream) close(err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.err = err
	q.mu.Unlock()
	q.wake()
}

func (q *queueStream) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next returns queued events before reporting the end of the stream.
func (q *queueStream) Next(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.queue) > 0 {
			ev := q.queue[0]
			q.queue[0] = Event{}
			q.queue = q.queue[1:]
			q.mu.Unlock()
			return ev, nil
		}
		if q.closed {
			err := q.err
			q.mu.Unlock()
			if err == nil {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.notify:
		}
	}
}
