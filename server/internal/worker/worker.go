// Package worker drives a single downloader subprocess and the job
// bound to it: spawn, stream consumption, termination and exit-code
// interpretation.
package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/queued-dl/queued/server/internal"
	"github.com/queued-dl/queued/server/internal/parser"
)

// Status is the worker-internal state machine, distinct from the
// job's externally visible state.
type Status int

const (
	Idle Status = iota
	Spawning
	Running
	Stopping
	Terminated
)

var ErrNotRunning = errors.New("worker has no running process")

// Publisher is where the worker republishes its job's events.
type Publisher interface {
	Publish(internal.Event)
}

// Worker owns exactly one subprocess for exactly one job.
type Worker struct {
	job        *internal.Job
	bin        string
	args       []string
	grace      time.Duration
	pub        Publisher
	classifier *parser.Classifier

	mu      sync.Mutex
	status  Status
	proc    *os.Process
	stopped bool

	done chan struct{}
}

// New binds a worker to a job. The args vector comes from the command
// builder; bin is the downloader binary path.
func New(job *internal.Job, bin string, args []string, grace time.Duration, pub Publisher, classifier *parser.Classifier) *Worker {
	return &Worker{
		job:        job,
		bin:        bin,
		args:       args,
		grace:      grace,
		pub:        pub,
		classifier: classifier,
		done:       make(chan struct{}),
	}
}

func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Run executes the subprocess to completion and returns the job's
// final state. It blocks; the manager runs it on its own goroutine.
// Every exit path closes the process pipes and the done channel.
func (w *Worker) Run() internal.JobState {
	defer close(w.done)

	w.setStatus(Spawning)

	cmd := exec.Command(w.bin, w.args...)
	// The tool spawns its own children (ffmpeg); a dedicated process
	// group lets Stop terminate all of them at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return w.failSpawn(fmt.Errorf("stdout pipe: %w", err))
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return w.failSpawn(fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return w.failSpawn(fmt.Errorf("spawn %q: %w", w.bin, err))
	}

	w.mu.Lock()
	w.proc = cmd.Process
	stopRequested := w.stopped
	if stopRequested {
		w.status = Stopping
	} else {
		w.status = Running
	}
	w.mu.Unlock()

	// A stop that landed while spawning is honored against the fresh
	// process group instead of being dropped.
	if stopRequested {
		w.terminate(cmd.Process.Pid)
	}

	w.job.SetState(internal.StateDownloading)
	w.pub.Publish(internal.NewEvent(w.job.ID, internal.EventStarted, internal.EventPayload{}))

	slog.Info("download started",
		slog.String("id", w.job.ID),
		slog.String("url", w.job.URL),
		slog.Int("pid", cmd.Process.Pid),
	)

	p := parser.New(w.job.ID, w.classifier)
	lines := make(chan string, 64)

	var wg sync.WaitGroup
	wg.Add(2)
	go w.scan(stdout, lines, &wg)
	go w.scan(stderr, lines, &wg)
	go func() {
		wg.Wait()
		close(lines)
	}()

	for line := range lines {
		w.job.AppendLog(line)

		ev, ok := p.ParseLine(line)
		if !ok {
			continue
		}
		w.apply(ev)
		w.pub.Publish(ev)
	}

	// Wait releases the pipe fds on every path, including after a
	// forced kill.
	exitCode := 0
	if err := cmd.Wait(); err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	final, ev, emit := p.Finish(exitCode, w.stopRequested())

	w.job.SetRetryable(final == internal.StateError && p.Retryable())
	w.job.SetState(final)
	if emit {
		w.pub.Publish(ev)
	}
	w.setStatus(Terminated)

	slog.Info("download finished",
		slog.String("id", w.job.ID),
		slog.String("state", string(final)),
		slog.Int("exit_code", exitCode),
	)

	return final
}

// Stop requests cooperative termination: SIGTERM to the process
// group now, SIGKILL after the grace period. It never blocks beyond
// issuing the signal; the Canceled event marks cleanup completion.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.status != Running && w.status != Spawning {
		w.mu.Unlock()
		return ErrNotRunning
	}
	w.stopped = true
	w.status = Stopping
	proc := w.proc
	w.mu.Unlock()

	// Still spawning: Run signals the process group itself right
	// after the process starts.
	if proc == nil {
		return nil
	}

	return w.terminate(proc.Pid)
}

// terminate signals the process group: SIGTERM now, SIGKILL once the
// grace period expires without the worker finishing.
func (w *Worker) terminate(pid int) error {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return err
	}

	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil {
		return err
	}

	go func() {
		select {
		case <-w.done:
		case <-time.After(w.grace):
			slog.Warn("grace period expired, killing process group",
				slog.String("id", w.job.ID),
				slog.Int("pgid", pgid),
			)
			unix.Kill(-pgid, unix.SIGKILL)
		}
	}()

	return nil
}

// Done is closed once the worker has fully terminated.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) scan(r io.Reader, lines chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func (w *Worker) apply(ev internal.Event) {
	switch ev.Kind {
	case internal.EventProgress, internal.EventPostProcessing:
		w.job.UpdateProgress(internal.Progress{
			Percent:  ev.Payload.Percent,
			Speed:    ev.Payload.Speed,
			ETA:      ev.Payload.ETA,
			Filename: ev.Payload.Filename,
		})
	}
}

// failSpawn handles a process that never started: terminal Error,
// clear diagnostic, never auto-retried.
func (w *Worker) failSpawn(err error) internal.JobState {
	slog.Error("failed to spawn downloader",
		slog.String("id", w.job.ID),
		slog.String("bin", w.bin),
		slog.Any("err", err),
	)

	w.job.AppendLog("spawn failure: " + err.Error())
	w.job.SetRetryable(false)
	w.job.SetState(internal.StateError)
	w.setStatus(Terminated)

	w.pub.Publish(internal.NewEvent(w.job.ID, internal.EventFailed, internal.EventPayload{
		Message: err.Error(),
		LogTail: w.job.LogTail(5),
	}))

	return internal.StateError
}

func (w *Worker) stopRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *Worker) setStatus(s Status) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}
