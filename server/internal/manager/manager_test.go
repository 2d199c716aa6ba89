package manager

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/queued-dl/queued/server/internal"
	"github.com/queued-dl/queued/server/internal/command"
	"github.com/queued-dl/queued/server/internal/eventbus"
	"github.com/queued-dl/queued/server/internal/store"
)

// fakeRunner stands in for a worker slot. Run blocks until the test
// releases it with a final state or stops it.
type fakeRunner struct {
	job     *internal.Job
	release chan internal.JobState
	stop    chan struct{}
	once    sync.Once
}

func newFakeRunner(job *internal.Job) *fakeRunner {
	return &fakeRunner{
		job:     job,
		release: make(chan internal.JobState, 1),
		stop:    make(chan struct{}),
	}
}

func (f *fakeRunner) Run() internal.JobState {
	f.job.SetState(internal.StateDownloading)
	select {
	case final := <-f.release:
		f.job.SetState(final)
		return final
	case <-f.stop:
		f.job.SetState(internal.StateCanceled)
		return internal.StateCanceled
	}
}

func (f *fakeRunner) Stop() error {
	f.once.Do(func() { close(f.stop) })
	return nil
}

// runnerTracker hands out fake runners and records every spawn.
type runnerTracker struct {
	mu      sync.Mutex
	runners map[string]*fakeRunner
	spawns  []string
}

func newTracker() *runnerTracker {
	return &runnerTracker{runners: make(map[string]*fakeRunner)}
}

func (rt *runnerTracker) factory(job *internal.Job, _ []string) Runner {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r := newFakeRunner(job)
	rt.runners[job.ID] = r
	rt.spawns = append(rt.spawns, job.ID)
	return r
}

func (rt *runnerTracker) spawned() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]string, len(rt.spawns))
	copy(out, rt.spawns)
	return out
}

func (rt *runnerTracker) runner(id string) *fakeRunner {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.runners[id]
}

func newTestManager(cfg Config) (*Manager, *runnerTracker) {
	m := New(cfg, store.New(), eventbus.New())
	rt := newTracker()
	m.SetRunnerFactory(rt.factory)
	return m, rt
}

func waitState(t *testing.T, m *Manager, id string, want internal.JobState) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.Job(id)
		if err == nil && snap.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap, _ := m.Job(id)
	t.Fatalf("job %s state = %s, want %s", id, snap.State, want)
}

func waitSpawns(t *testing.T, rt *runnerTracker, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rt.spawned()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("spawned %d runners, want %d", len(rt.spawned()), n)
}

func TestSubmitInvalidOptions(t *testing.T) {
	m, _ := newTestManager(Config{Concurrency: 1})

	if _, err := m.Submit("", internal.Options{}); !errors.Is(err, command.ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions, got %v", err)
	}
	if len(m.Jobs()) != 0 {
		t.Error("invalid submission created a job")
	}
}

func TestConcurrencyBoundAndFIFO(t *testing.T) {
	m, rt := newTestManager(Config{Concurrency: 1})
	m.Start()

	ids := make([]string, 3)
	for i := range ids {
		id, err := m.Submit("https://example.org/v", internal.Options{})
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = id
	}

	waitState(t, m, ids[0], internal.StateDownloading)

	counts := m.Counts()
	if counts[internal.StateDownloading] != 1 {
		t.Fatalf("downloading = %d, want 1", counts[internal.StateDownloading])
	}
	if counts[internal.StateQueued] != 2 {
		t.Fatalf("queued = %d, want 2", counts[internal.StateQueued])
	}

	// Release the slots one by one; assignment must follow submission order.
	for _, id := range ids {
		waitState(t, m, id, internal.StateDownloading)
		rt.runner(id).release <- internal.StateCompleted
		waitState(t, m, id, internal.StateCompleted)
	}

	spawned := rt.spawned()
	for i, id := range ids {
		if spawned[i] != id {
			t.Errorf("spawn order[%d] = %s, want %s", i, spawned[i], id)
		}
	}
}

func TestCancelQueuedNeverSpawns(t *testing.T) {
	m, rt := newTestManager(Config{Concurrency: 1})
	m.Start()

	first, _ := m.Submit("https://example.org/a", internal.Options{})
	second, _ := m.Submit("https://example.org/b", internal.Options{})

	waitState(t, m, first, internal.StateDownloading)

	if err := m.Cancel(second); err != nil {
		t.Fatal(err)
	}
	waitState(t, m, second, internal.StateCanceled)

	rt.runner(first).release <- internal.StateCompleted
	waitState(t, m, first, internal.StateCompleted)

	for _, id := range rt.spawned() {
		if id == second {
			t.Error("canceled queued job was handed to a slot")
		}
	}
}

func TestCancelDownloading(t *testing.T) {
	m, _ := newTestManager(Config{Concurrency: 1})
	m.Start()

	id, _ := m.Submit("https://example.org/v", internal.Options{})
	waitState(t, m, id, internal.StateDownloading)

	if err := m.Cancel(id); err != nil {
		t.Fatal(err)
	}
	waitState(t, m, id, internal.StateCanceled)

	if err := m.Cancel(id); !errors.Is(err, ErrCannotCancel) {
		t.Errorf("cancel on terminal job = %v", err)
	}
}

// gatedRunner never touches the job state until it is stopped,
// leaving the assignment-to-execution window wide open.
type gatedRunner struct {
	job     *internal.Job
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (g *gatedRunner) Run() internal.JobState {
	<-g.stop
	g.job.SetState(internal.StateCanceled)
	return internal.StateCanceled
}

func (g *gatedRunner) Stop() error {
	g.once.Do(func() {
		close(g.stop)
		close(g.stopped)
	})
	return nil
}

func TestCancelInAssignmentWindow(t *testing.T) {
	m := New(Config{Concurrency: 1}, store.New(), eventbus.New())

	var g *gatedRunner
	m.SetRunnerFactory(func(job *internal.Job, _ []string) Runner {
		g = &gatedRunner{
			job:     job,
			stop:    make(chan struct{}),
			stopped: make(chan struct{}),
		}
		return g
	})
	m.Start()

	id, err := m.Submit("https://example.org/v", internal.Options{})
	if err != nil {
		t.Fatal(err)
	}

	// The slot binds synchronously inside Submit; the job must never
	// read queued again, even before the runner executes.
	if snap, _ := m.Job(id); snap.State != internal.StateDownloading {
		t.Fatalf("slotted job state = %s", snap.State)
	}

	if err := m.Cancel(id); err != nil {
		t.Fatal(err)
	}

	select {
	case <-g.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel never reached the slotted runner")
	}

	waitState(t, m, id, internal.StateCanceled)

	// The terminal state must hold once the slot drains.
	time.Sleep(50 * time.Millisecond)
	if snap, _ := m.Job(id); snap.State != internal.StateCanceled {
		t.Errorf("job left its terminal state: %s", snap.State)
	}
}

func TestPauseOnlyQueued(t *testing.T) {
	m, rt := newTestManager(Config{Concurrency: 1})
	m.Start()

	running, _ := m.Submit("https://example.org/a", internal.Options{})
	queued, _ := m.Submit("https://example.org/b", internal.Options{})

	waitState(t, m, running, internal.StateDownloading)

	if err := m.Pause(running); !errors.Is(err, ErrCannotPause) {
		t.Errorf("pausing a running job = %v", err)
	}

	if err := m.Pause(queued); err != nil {
		t.Fatal(err)
	}
	waitState(t, m, queued, internal.StatePaused)

	// The paused job must not be assigned when the slot frees up.
	rt.runner(running).release <- internal.StateCompleted
	waitState(t, m, running, internal.StateCompleted)
	time.Sleep(50 * time.Millisecond)

	if snap, _ := m.Job(queued); snap.State != internal.StatePaused {
		t.Fatalf("paused job state = %s", snap.State)
	}

	if err := m.Resume(queued); err != nil {
		t.Fatal(err)
	}
	waitState(t, m, queued, internal.StateDownloading)

	rt.runner(queued).release <- internal.StateCompleted
	waitState(t, m, queued, internal.StateCompleted)
}

func TestResumeOnlyPaused(t *testing.T) {
	m, _ := newTestManager(Config{Concurrency: 1})

	id, _ := m.Submit("https://example.org/v", internal.Options{})
	if err := m.Resume(id); !errors.Is(err, ErrCannotResume) {
		t.Errorf("resuming a queued job = %v", err)
	}
}

func TestRetryBounded(t *testing.T) {
	m, rt := newTestManager(Config{Concurrency: 1, MaxRetries: 1})
	m.Start()

	id, _ := m.Submit("https://example.org/v", internal.Options{})
	waitState(t, m, id, internal.StateDownloading)
	rt.runner(id).release <- internal.StateError
	waitState(t, m, id, internal.StateError)

	if err := m.Retry(id); err != nil {
		t.Fatal(err)
	}
	waitState(t, m, id, internal.StateDownloading)
	rt.runner(id).release <- internal.StateError
	waitState(t, m, id, internal.StateError)

	if err := m.Retry(id); !errors.Is(err, ErrRetryLimit) {
		t.Errorf("expected ErrRetryLimit, got %v", err)
	}
}

func TestRetryOnlyFailed(t *testing.T) {
	m, rt := newTestManager(Config{Concurrency: 1, MaxRetries: 3})
	m.Start()

	id, _ := m.Submit("https://example.org/v", internal.Options{})
	waitState(t, m, id, internal.StateDownloading)
	rt.runner(id).release <- internal.StateCompleted
	waitState(t, m, id, internal.StateCompleted)

	if err := m.Retry(id); !errors.Is(err, ErrCannotRetry) {
		t.Errorf("retrying a completed job = %v", err)
	}
}

func TestAutoRetryTransient(t *testing.T) {
	m, rt := newTestManager(Config{Concurrency: 1, MaxRetries: 2, AutoRetry: true})
	m.Start()

	id, _ := m.Submit("https://example.org/v", internal.Options{})
	waitState(t, m, id, internal.StateDownloading)

	// Simulate a transient tool failure.
	r := rt.runner(id)
	r.job.SetRetryable(true)
	r.release <- internal.StateError

	waitSpawns(t, rt, 2)
	waitState(t, m, id, internal.StateDownloading)

	rt.runner(id).release <- internal.StateCompleted
	waitState(t, m, id, internal.StateCompleted)

	if snap, _ := m.Job(id); snap.RetryCount != 1 {
		t.Errorf("retry count = %d", snap.RetryCount)
	}
}

func TestNoAutoRetryForFatal(t *testing.T) {
	m, rt := newTestManager(Config{Concurrency: 1, MaxRetries: 2, AutoRetry: true})
	m.Start()

	id, _ := m.Submit("https://example.org/v", internal.Options{})
	waitState(t, m, id, internal.StateDownloading)

	rt.runner(id).release <- internal.StateError
	waitState(t, m, id, internal.StateError)
	time.Sleep(50 * time.Millisecond)

	if n := len(rt.spawned()); n != 1 {
		t.Errorf("fatal failure respawned, %d spawns", n)
	}
}

func TestStopHaltsDispatchAndCancelsRunning(t *testing.T) {
	m, rt := newTestManager(Config{Concurrency: 1})
	m.Start()

	running, _ := m.Submit("https://example.org/a", internal.Options{})
	queued, _ := m.Submit("https://example.org/b", internal.Options{})

	waitState(t, m, running, internal.StateDownloading)

	m.Stop()
	waitState(t, m, running, internal.StateCanceled)
	time.Sleep(50 * time.Millisecond)

	if snap, _ := m.Job(queued); snap.State != internal.StateQueued {
		t.Errorf("queued job state after stop = %s", snap.State)
	}
	if len(rt.spawned()) != 1 {
		t.Error("stopped manager kept assigning slots")
	}
}

func TestRemoveRules(t *testing.T) {
	m, rt := newTestManager(Config{Concurrency: 1})
	m.Start()

	id, _ := m.Submit("https://example.org/v", internal.Options{})
	waitState(t, m, id, internal.StateDownloading)

	if err := m.Remove(id); !errors.Is(err, ErrJobActive) {
		t.Errorf("removing a downloading job = %v", err)
	}

	rt.runner(id).release <- internal.StateCompleted
	waitState(t, m, id, internal.StateCompleted)

	if err := m.Remove(id); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Job(id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestClearCompleted(t *testing.T) {
	m, rt := newTestManager(Config{Concurrency: 2})
	m.Start()

	done, _ := m.Submit("https://example.org/a", internal.Options{})
	live, _ := m.Submit("https://example.org/b", internal.Options{})

	waitState(t, m, done, internal.StateDownloading)
	waitState(t, m, live, internal.StateDownloading)
	rt.runner(done).release <- internal.StateCompleted
	waitState(t, m, done, internal.StateCompleted)

	if n := m.ClearCompleted(); n != 1 {
		t.Errorf("cleared = %d", n)
	}
	if _, err := m.Job(live); err != nil {
		t.Error("clear removed a live job")
	}

	rt.runner(live).release <- internal.StateCompleted
}

func TestSetConcurrency(t *testing.T) {
	m, rt := newTestManager(Config{Concurrency: 1})
	m.Start()

	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := m.Submit("https://example.org/v", internal.Options{})
		ids = append(ids, id)
	}
	waitState(t, m, ids[0], internal.StateDownloading)

	if err := m.SetConcurrency(0); !errors.Is(err, ErrBadConcurrency) {
		t.Errorf("concurrency 0 = %v", err)
	}

	// Raising the bound drains more of the queue immediately.
	if err := m.SetConcurrency(3); err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		waitState(t, m, id, internal.StateDownloading)
	}

	for _, id := range ids {
		rt.runner(id).release <- internal.StateCompleted
	}
}

type panicRunner struct{}

func (panicRunner) Run() internal.JobState { panic("exec blew up") }
func (panicRunner) Stop() error            { return nil }

func TestPanickingRunnerFreesSlot(t *testing.T) {
	m, rt := newTestManager(Config{Concurrency: 1})

	first := true
	m.SetRunnerFactory(func(job *internal.Job, argv []string) Runner {
		if first {
			first = false
			return panicRunner{}
		}
		return rt.factory(job, argv)
	})
	m.Start()

	crashed, _ := m.Submit("https://example.org/a", internal.Options{})
	next, _ := m.Submit("https://example.org/b", internal.Options{})

	waitState(t, m, crashed, internal.StateError)
	waitState(t, m, next, internal.StateDownloading)

	rt.runner(next).release <- internal.StateCompleted
	waitState(t, m, next, internal.StateCompleted)
}
