package internal

import (
	"sync"
	"time"
)

// maxLogLines bounds the retained raw output per job. Old lines are
// dropped from the front once the limit is reached.
const maxLogLines = 500

// Job is one queued or executing download. The owning worker is the
// sole mutator of state, progress and log while the job runs; the
// manager alone moves it back to queued or assigns it to a slot.
type Job struct {
	ID        string
	URL       string
	Options   Options
	CreatedAt time.Time

	mu         sync.RWMutex
	state      JobState
	progress   Progress
	retryCount int
	retryable  bool
	log        []string
	dropped    int
}

func NewJob(id, url string, opts Options) *Job {
	return &Job{
		ID:        id,
		URL:       url,
		Options:   opts,
		CreatedAt: time.Now(),
		state:     StateQueued,
	}
}

func (j *Job) State() JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

func (j *Job) SetState(s JobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) Progress() Progress {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// UpdateProgress merges p into the job's progress. The percentage is
// monotonically non-decreasing while downloading; stale or rewinding
// values are ignored.
func (j *Job) UpdateProgress(p Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if p.Percent >= j.progress.Percent {
		j.progress.Percent = p.Percent
	}
	if p.Speed != "" {
		j.progress.Speed = p.Speed
	}
	if p.ETA != "" {
		j.progress.ETA = p.ETA
	}
	if p.Filename != "" {
		j.progress.Filename = p.Filename
	}
}

func (j *Job) RetryCount() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.retryCount
}

func (j *Job) IncRetryCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.retryCount++
	return j.retryCount
}

// Retryable reports whether the last failure was classified as a
// transient tool-reported error. Spawn failures never set it.
func (j *Job) Retryable() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.retryable
}

func (j *Job) SetRetryable(v bool) {
	j.mu.Lock()
	j.retryable = v
	j.mu.Unlock()
}

// ResetForRetry clears transfer state before the job re-enters the
// queue. The raw log is kept for diagnostics.
func (j *Job) ResetForRetry() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = StateQueued
	j.progress = Progress{}
	j.retryable = false
}

func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.log = append(j.log, line)
	if len(j.log) > maxLogLines {
		over := len(j.log) - maxLogLines
		j.log = j.log[over:]
		j.dropped += over
	}
}

// LogTail returns up to n of the most recent raw output lines.
func (j *Job) LogTail(n int) []string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if n <= 0 || n > len(j.log) {
		n = len(j.log)
	}
	tail := make([]string, n)
	copy(tail, j.log[len(j.log)-n:])
	return tail
}

func (j *Job) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return JobSnapshot{
		ID:         j.ID,
		URL:        j.URL,
		Options:    j.Options,
		State:      j.state,
		Progress:   j.progress,
		RetryCount: j.retryCount,
		CreatedAt:  j.CreatedAt,
	}
}
