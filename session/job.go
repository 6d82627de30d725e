package session

import (
	"context"
	"sync"
	"time"

	"github.com/room4-2/roomagent/relay"
)

// Job is one running relay for one room.
type Job struct {
	ID        string
	Room      string
	CreatedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.RWMutex
	state        relay.State
	lastActivity time.Time
	err          error
}

// JobInfo is a point-in-time view of a job.
type JobInfo struct {
	ID           string    `json:"id"`
	Room         string    `json:"room"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

func newJob(id, room string, cancel context.CancelFunc) *Job {
	now := time.Now()
	return &Job{
		ID:           id,
		Room:         room,
		CreatedAt:    now,
		cancel:       cancel,
		done:         make(chan struct{}),
		state:        relay.StateDisconnected,
		lastActivity: now,
	}
}

func (j *Job) setState(s relay.State) {
	j.mu.Lock()
	j.state = s
	j.lastActivity = time.Now()
	j.mu.Unlock()
}

func (j *Job) touch() {
	j.mu.Lock()
	j.lastActivity = time.Now()
	j.mu.Unlock()
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
	j.cancel()
	close(j.done)
}

// State returns the job's lifecycle state.
func (j *Job) State() relay.State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// LastActivity returns when the job last saw an event.
func (j *Job) LastActivity() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastActivity
}

// Done is closed when the job has returned.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err returns the job result once Done is closed.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Info returns a snapshot of the job.
func (j *Job) Info() JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobInfo{
		ID:           j.ID,
		Room:         j.Room,
		State:        j.state.String(),
		CreatedAt:    j.CreatedAt,
		LastActivity: j.lastActivity,
	}
}
