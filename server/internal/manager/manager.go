// Package manager owns the job queue and the worker slots: it admits
// submissions, enforces the concurrency limit, assigns queued jobs to
// free slots in FIFO order and publishes lifecycle events.
package manager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/queued-dl/queued/server/internal"
	"github.com/queued-dl/queued/server/internal/command"
	"github.com/queued-dl/queued/server/internal/eventbus"
	"github.com/queued-dl/queued/server/internal/parser"
	"github.com/queued-dl/queued/server/internal/store"
	"github.com/queued-dl/queued/server/internal/worker"
)

var (
	ErrCannotPause    = errors.New("only queued jobs can be paused; a running download can only be canceled")
	ErrCannotResume   = errors.New("only paused jobs can be resumed")
	ErrCannotRetry    = errors.New("only failed jobs can be retried")
	ErrRetryLimit     = errors.New("retry limit reached")
	ErrCannotCancel   = errors.New("job already reached a terminal state")
	ErrJobActive      = errors.New("cannot remove a job while it is downloading")
	ErrBadConcurrency = errors.New("concurrency must be at least 1")
)

// Runner is one worker slot's executable unit. worker.Worker is the
// production implementation; tests substitute fakes.
type Runner interface {
	Run() internal.JobState
	Stop() error
}

// RunnerFactory builds the runner for an assigned job.
type RunnerFactory func(job *internal.Job, argv []string) Runner

// Config is the manager's scheduling policy.
type Config struct {
	Concurrency    int
	MaxRetries     int
	AutoRetry      bool
	DownloaderPath string
	StopGrace      time.Duration
	Classifier     *parser.Classifier
}

// Manager linearizes every queue and slot mutation under one mutex.
type Manager struct {
	mu          sync.Mutex
	concurrency int
	maxRetries  int
	autoRetry   bool
	started     bool
	queue       []string
	running     map[string]Runner

	jobs      *store.Store
	bus       *eventbus.Bus
	newRunner RunnerFactory
}

func New(cfg Config, jobs *store.Store, bus *eventbus.Bus) *Manager {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 10 * time.Second
	}

	m := &Manager{
		concurrency: cfg.Concurrency,
		maxRetries:  cfg.MaxRetries,
		autoRetry:   cfg.AutoRetry,
		running:     make(map[string]Runner),
		jobs:        jobs,
		bus:         bus,
	}

	m.newRunner = func(job *internal.Job, argv []string) Runner {
		return worker.New(job, cfg.DownloaderPath, argv, cfg.StopGrace, bus, cfg.Classifier)
	}

	return m
}

// SetRunnerFactory overrides how worker slots execute. Test seam.
func (m *Manager) SetRunnerFactory(f RunnerFactory) {
	m.mu.Lock()
	m.newRunner = f
	m.mu.Unlock()
}

// Submit validates the request, creates a queued job and returns its
// id. If the queue is draining and a slot is free the job starts
// immediately.
func (m *Manager) Submit(url string, opts internal.Options) (string, error) {
	if err := command.Validate(url, opts); err != nil {
		return "", err
	}

	job := internal.NewJob(uuid.NewString(), url, opts)
	m.jobs.Set(job)

	m.mu.Lock()
	m.queue = append(m.queue, job.ID)
	m.dispatchLocked()
	m.mu.Unlock()

	slog.Info("job submitted", slog.String("id", job.ID), slog.String("url", url))
	return job.ID, nil
}

// Start activates queue draining.
func (m *Manager) Start() {
	m.mu.Lock()
	m.started = true
	m.dispatchLocked()
	m.mu.Unlock()
}

// Stop halts assignment of queued jobs and cancels everything that is
// currently downloading. Queued jobs stay queued.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.started = false
	runners := make([]Runner, 0, len(m.running))
	for _, r := range m.running {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	for _, r := range runners {
		if err := r.Stop(); err != nil && !errors.Is(err, worker.ErrNotRunning) {
			slog.Error("failed stopping worker", slog.Any("err", err))
		}
	}
}

// Started reports whether the queue is draining.
func (m *Manager) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Pause removes a queued job from the assignment queue. There is no
// pause for a running download: the underlying tool has no pause
// primitive, so running jobs can only be canceled.
func (m *Manager) Pause(id string) error {
	job, err := m.jobs.Get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if job.State() != internal.StateQueued {
		return ErrCannotPause
	}
	m.removeFromQueueLocked(id)
	job.SetState(internal.StatePaused)
	return nil
}

// Resume puts a paused job back at the tail of the queue.
func (m *Manager) Resume(id string) error {
	job, err := m.jobs.Get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if job.State() != internal.StatePaused {
		return ErrCannotResume
	}
	job.SetState(internal.StateQueued)
	m.queue = append(m.queue, id)
	m.dispatchLocked()
	return nil
}

// Cancel aborts a job. Queued and paused jobs transition directly to
// canceled without ever spawning a subprocess; a downloading job is
// handed to its worker's stop path and the Canceled event marks the
// completion of the asynchronous cleanup.
func (m *Manager) Cancel(id string) error {
	job, err := m.jobs.Get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()

	// A slotted job goes through its runner's stop path even if the
	// worker has not started executing yet.
	if r, active := m.running[id]; active {
		m.mu.Unlock()
		return r.Stop()
	}

	switch job.State() {
	case internal.StateQueued, internal.StatePaused:
		m.removeFromQueueLocked(id)
		job.SetState(internal.StateCanceled)
		m.mu.Unlock()
		m.bus.Publish(internal.NewEvent(id, internal.EventCanceled, internal.EventPayload{
			Message: "canceled before start",
		}))
		return nil
	default:
		m.mu.Unlock()
		return ErrCannotCancel
	}
}

// Retry re-enqueues a failed job, bounded by the retry limit.
func (m *Manager) Retry(id string) error {
	job, err := m.jobs.Get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if job.State() != internal.StateError {
		return ErrCannotRetry
	}
	if job.RetryCount() >= m.maxRetries {
		return ErrRetryLimit
	}

	job.IncRetryCount()
	job.ResetForRetry()
	m.queue = append(m.queue, id)
	m.dispatchLocked()
	return nil
}

// SetConcurrency bounds the number of simultaneous worker slots. A
// decrease never interrupts running jobs, it only throttles future
// assignments.
func (m *Manager) SetConcurrency(n int) error {
	if n < 1 {
		return ErrBadConcurrency
	}

	m.mu.Lock()
	m.concurrency = n
	m.dispatchLocked()
	m.mu.Unlock()
	return nil
}

func (m *Manager) Concurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.concurrency
}

// Remove deletes a job from the registry. Jobs are never removed
// implicitly, and never while downloading.
func (m *Manager) Remove(id string) error {
	job, err := m.jobs.Get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if job.State() == internal.StateDownloading {
		return ErrJobActive
	}
	m.removeFromQueueLocked(id)
	m.jobs.Delete(id)
	return nil
}

// ClearCompleted removes every job in a terminal state.
func (m *Manager) ClearCompleted() int {
	cleared := 0
	for _, snap := range m.jobs.All() {
		if snap.State.Terminal() {
			m.jobs.Delete(snap.ID)
			cleared++
		}
	}
	return cleared
}

// Jobs returns snapshots of every known job in submission order.
func (m *Manager) Jobs() []internal.JobSnapshot {
	return m.jobs.All()
}

func (m *Manager) Job(id string) (internal.JobSnapshot, error) {
	job, err := m.jobs.Get(id)
	if err != nil {
		return internal.JobSnapshot{}, err
	}
	return job.Snapshot(), nil
}

func (m *Manager) LogTail(id string, n int) ([]string, error) {
	job, err := m.jobs.Get(id)
	if err != nil {
		return nil, err
	}
	return job.LogTail(n), nil
}

// Counts aggregates job states for the status surface.
func (m *Manager) Counts() map[internal.JobState]int {
	counts := make(map[internal.JobState]int)
	for _, snap := range m.jobs.All() {
		counts[snap.State]++
	}
	return counts
}

// dispatchLocked pops queue heads into free slots. Callers hold m.mu.
// FIFO: first submitted, first served; a job is never started twice
// and no two slots ever reference the same job id.
func (m *Manager) dispatchLocked() {
	for m.started && len(m.running) < m.concurrency && len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]

		job, err := m.jobs.Get(id)
		if err != nil {
			continue
		}
		if job.State() != internal.StateQueued {
			continue
		}
		if _, active := m.running[id]; active {
			continue
		}

		argv, err := command.Build(job.URL, job.Options)
		if err != nil {
			// Options were validated at submission; a failure here
			// still must not stall the queue.
			job.SetState(internal.StateError)
			m.bus.Publish(internal.NewEvent(id, internal.EventFailed, internal.EventPayload{
				Message: err.Error(),
			}))
			continue
		}

		r := m.newRunner(job, argv)
		m.running[id] = r
		// The job leaves Queued under the manager lock: no control
		// operation can observe a slotted job as still queued.
		job.SetState(internal.StateDownloading)

		go m.runSlot(id, job, r)
	}
}

// runSlot supervises one worker. A worker crash is contained here: it
// marks the job failed and frees the slot, it never takes down the
// manager.
func (m *Manager) runSlot(id string, job *internal.Job, r Runner) {
	final := internal.StateError

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("worker crashed",
					slog.String("id", id),
					slog.Any("panic", rec),
				)
				job.SetRetryable(false)
				job.SetState(internal.StateError)
				m.bus.Publish(internal.NewEvent(id, internal.EventFailed, internal.EventPayload{
					Message: "worker crashed; see server log",
				}))
			}
		}()
		final = r.Run()
	}()

	m.mu.Lock()
	delete(m.running, id)

	if m.started && final == internal.StateError && m.autoRetry &&
		job.Retryable() && job.RetryCount() < m.maxRetries {
		count := job.IncRetryCount()
		job.ResetForRetry()
		m.queue = append(m.queue, id)
		slog.Info("auto retrying transient failure",
			slog.String("id", id),
			slog.Int("attempt", count),
		)
	}

	m.dispatchLocked()
	m.mu.Unlock()
}

func (m *Manager) removeFromQueueLocked(id string) {
	for i, queued := range m.queue {
		if queued == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}
