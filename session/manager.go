// Package session is the worker runtime: it runs one relay job per room,
// mirrors active jobs to Redis and fans job messages out to subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/room4-2/roomagent/config"
	"github.com/room4-2/roomagent/messages"
	"github.com/room4-2/roomagent/relay"
	"github.com/room4-2/roomagent/voice"
)

var (
	ErrMaxJobs    = errors.New("maximum jobs reached")
	ErrRoomBusy   = errors.New("room already has an agent")
	ErrShutdown   = errors.New("manager is shutting down")
	ErrJobUnknown = errors.New("job not found")
)

const (
	activeJobsKey = "active_jobs"
	jobTTL        = 10 * time.Minute

	// defaultRedisTimeout bounds every registry call so a stalled Redis
	// only delays the call that hit it.
	defaultRedisTimeout = 2 * time.Second
)

func jobKey(id string) string        { return "job:" + id }
func roomLockKey(room string) string { return "room_lock:" + room }

// Runner executes one job to completion. *relay.Relay implements it.
type Runner interface {
	Run(ctx context.Context, job relay.Job) error
}

// Manager manages all agent jobs
type Manager struct {
	jobs   map[string]*Job
	rooms  map[string]string // room -> job id
	mu     sync.RWMutex
	redis  *redis.Client
	config *config.Config
	runner Runner
	hub    *Hub

	redisTimeout time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown bool
}

// NewManager creates a job manager with Redis connection
func NewManager(cfg *config.Config, runner Runner) (*Manager, error) {
	// Try to connect to Redis, but don't fail if unavailable
	redisClient := redis.NewClient(&redis.Options{
		Addr:                  cfg.RedisURL,
		Password:              cfg.RedisPassword,
		DB:                    0,
		ContextTimeoutEnabled: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️ Redis unavailable at %s, running without job registry: %v", cfg.RedisURL, err)
		_ = redisClient.Close()
		redisClient = nil
	}

	return NewManagerWithRedis(cfg, runner, redisClient), nil
}

// NewManagerWithRedis creates a manager over an existing client. A nil
// client disables the registry.
func NewManagerWithRedis(cfg *config.Config, runner Runner, redisClient *redis.Client) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		jobs:   make(map[string]*Job),
		rooms:  make(map[string]string),
		redis:  redisClient,
		config: cfg,
		runner: runner,
		hub:    NewHub(),
		ctx:    ctx,
		cancel: cancel,

		redisTimeout: defaultRedisTimeout,
	}
}

// redisContext bounds one registry call.
func (m *Manager) redisContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, m.redisTimeout)
}

// Hub returns the message fan-out for this manager's jobs.
func (m *Manager) Hub() *Hub {
	return m.hub
}

// Dispatch starts a job for room unless one is already running here or on
// another worker sharing the Redis registry. The job outlives ctx; it ends
// when the room closes, on Cancel or on Shutdown. Registry calls run
// outside the manager lock.
func (m *Manager) Dispatch(ctx context.Context, room string) (*Job, error) {
	if room == "" {
		return nil, fmt.Errorf("dispatch: room name is empty")
	}

	// Reserve the room locally first; reservations count toward MaxJobs.
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, ErrShutdown
	}
	if _, busy := m.rooms[room]; busy {
		m.mu.Unlock()
		return nil, ErrRoomBusy
	}
	if len(m.rooms) >= m.config.MaxJobs {
		m.mu.Unlock()
		return nil, ErrMaxJobs
	}
	jobID := uuid.New().String()
	m.rooms[room] = jobID
	m.mu.Unlock()

	if err := m.lockRoom(ctx, room, jobID); err != nil {
		m.releaseRoom(room, jobID)
		return nil, err
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		m.releaseRoom(room, jobID)
		m.unlockRoom(room, jobID)
		return nil, ErrShutdown
	}
	jobCtx, cancel := context.WithCancel(m.ctx)
	job := newJob(jobID, room, cancel)
	m.jobs[job.ID] = job
	m.wg.Add(1)
	m.mu.Unlock()

	m.storeJob(ctx, job)
	go m.run(jobCtx, job)

	log.Printf("📋 [%s] Dispatched job for room %s", job.ID[:8], room)
	return job, nil
}

// releaseRoom drops a local room reservation still owned by jobID.
func (m *Manager) releaseRoom(room, jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[room] == jobID {
		delete(m.rooms, room)
	}
}

// lockRoom claims the room in Redis. Without Redis only the local map guards it.
func (m *Manager) lockRoom(ctx context.Context, room, jobID string) error {
	if m.redis == nil {
		return nil
	}
	ctx, cancel := m.redisContext(ctx)
	defer cancel()

	ok, err := m.redis.SetNX(ctx, roomLockKey(room), jobID, jobTTL).Result()
	if err != nil {
		log.Printf("⚠️ Redis room lock failed for %s, continuing locally: %v", room, err)
		return nil
	}
	if !ok {
		return ErrRoomBusy
	}
	return nil
}

// unlockRoom releases the Redis room lock only if jobID still owns it.
func (m *Manager) unlockRoom(room, jobID string) {
	if m.redis == nil {
		return
	}
	ctx, cancel := m.redisContext(context.Background())
	defer cancel()

	if owner, err := m.redis.Get(ctx, roomLockKey(room)).Result(); err == nil && owner == jobID {
		m.redis.Del(ctx, roomLockKey(room))
	}
}

// storeJob mirrors a new job to Redis
func (m *Manager) storeJob(ctx context.Context, job *Job) {
	if m.redis == nil {
		return
	}
	ctx, cancel := m.redisContext(ctx)
	defer cancel()

	m.redis.HSet(ctx, jobKey(job.ID), map[string]interface{}{
		"room":       job.Room,
		"agent":      m.config.AgentName,
		"created_at": job.CreatedAt.Format(time.RFC3339),
		"state":      relay.StateDisconnected.String(),
	})
	m.redis.SAdd(ctx, activeJobsKey, job.ID)
	m.redis.Expire(ctx, jobKey(job.ID), jobTTL)
}

func (m *Manager) run(ctx context.Context, job *Job) {
	defer m.wg.Done()

	err := m.runner.Run(ctx, relay.Job{
		ID:      job.ID,
		Room:    job.Room,
		OnState: func(s relay.State) { m.onState(job, s) },
		OnEvent: func(ev voice.Event) { m.onEvent(job, ev) },
	})
	m.removeJob(job)

	switch {
	case err == nil:
		log.Printf("✅ [%s] Job for room %s finished", job.ID[:8], job.Room)
		m.hub.Publish(messages.NewStatusMessage(job.ID, job.Room, messages.StatusJobEnded, ""))
	case errors.Is(err, context.Canceled):
		log.Printf("🛑 [%s] Job for room %s cancelled", job.ID[:8], job.Room)
		m.hub.Publish(messages.NewStatusMessage(job.ID, job.Room, messages.StatusJobEnded, "cancelled"))
	default:
		log.Printf("❌ [%s] Job for room %s failed: %v", job.ID[:8], job.Room, err)
		m.hub.Publish(messages.NewErrorMessage(job.ID, job.Room, messages.ErrCodeJobFailed, err.Error()))
	}

	job.finish(err)
}

func (m *Manager) onState(job *Job, s relay.State) {
	job.setState(s)
	if m.redis != nil {
		ctx, cancel := m.redisContext(context.Background())
		m.redis.HSet(ctx, jobKey(job.ID), "state", s.String())
		cancel()
	}
	if s == relay.StateSessionActive {
		m.hub.Publish(messages.NewStatusMessage(job.ID, job.Room, messages.StatusJobStarted, ""))
	}
}

func (m *Manager) onEvent(job *Job, ev voice.Event) {
	job.touch()

	var msg *messages.ServerMessage
	switch ev.Kind {
	case voice.EventUserStartedSpeaking:
		msg = messages.NewStatusMessage(job.ID, job.Room, messages.StatusSpeaking, ev.Participant)
	case voice.EventUserStoppedSpeaking:
		msg = messages.NewStatusMessage(job.ID, job.Room, messages.StatusSilent, ev.Participant)
	case voice.EventUserSpeechCommitted:
		if len(ev.Alternatives) == 0 {
			return
		}
		msg = messages.NewTranscriptMessage(job.ID, job.Room, ev.Participant, string(voice.RoleUser), ev.Alternatives[0].Text)
	case voice.EventAgentSpeechCommitted:
		msg = messages.NewTranscriptMessage(job.ID, job.Room, m.config.AgentName, string(voice.RoleAssistant), ev.Text)
	default:
		return
	}
	m.hub.Publish(msg)
}

// removeJob drops a finished job from memory and Redis
func (m *Manager) removeJob(job *Job) {
	m.mu.Lock()
	delete(m.jobs, job.ID)
	if m.rooms[job.Room] == job.ID {
		delete(m.rooms, job.Room)
	}
	m.mu.Unlock()

	if m.redis != nil {
		ctx, cancel := m.redisContext(context.Background())
		m.redis.Del(ctx, jobKey(job.ID))
		m.redis.SRem(ctx, activeJobsKey, job.ID)
		cancel()
		m.unlockRoom(job.Room, job.ID)
	}
}

// GetJob retrieves a job by ID
func (m *Manager) GetJob(jobID string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, exists := m.jobs[jobID]
	return job, exists
}

// Cancel stops a running job. It returns once the job has been told to stop.
func (m *Manager) Cancel(jobID string) error {
	job, ok := m.GetJob(jobID)
	if !ok {
		return ErrJobUnknown
	}
	job.cancel()
	return nil
}

// CancelRoom stops the job serving room, if any.
func (m *Manager) CancelRoom(room string) error {
	m.mu.RLock()
	id, ok := m.rooms[room]
	m.mu.RUnlock()
	if !ok {
		return ErrJobUnknown
	}
	return m.Cancel(id)
}

// Jobs returns a snapshot of running jobs ordered by creation time.
func (m *Manager) Jobs() []JobInfo {
	m.mu.RLock()
	infos := make([]JobInfo, 0, len(m.jobs))
	for _, job := range m.jobs {
		infos = append(infos, job.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// GetActiveJobCount returns current job count
func (m *Manager) GetActiveJobCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// RefreshRegistry extends the Redis TTL of every running job and room lock
func (m *Manager) RefreshRegistry(ctx context.Context) {
	if m.redis == nil {
		return
	}

	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	for _, job := range jobs {
		rctx, cancel := m.redisContext(ctx)
		m.redis.Expire(rctx, jobKey(job.ID), jobTTL)
		m.redis.Expire(rctx, roomLockKey(job.Room), jobTTL)
		m.redis.HSet(rctx, jobKey(job.ID), "last_activity", job.LastActivity().Format(time.RFC3339))
		cancel()
	}
}

// StartRefreshRoutine keeps registry entries alive while jobs run
func (m *Manager) StartRefreshRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RefreshRegistry(ctx)
		}
	}
}

// Wait blocks until every dispatched job has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels all jobs, waits for them and closes Redis
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.hub.CloseAll()

	if m.redis != nil {
		m.redis.Close()
	}
}
