package internal

import (
	"fmt"
	"testing"
)

func TestProgressMonotone(t *testing.T) {
	j := NewJob("id", "https://example.org/v", Options{})

	j.UpdateProgress(Progress{Percent: 40, Speed: "1MiB/s"})
	j.UpdateProgress(Progress{Percent: 25, Speed: "2MiB/s", ETA: "00:10"})

	p := j.Progress()
	if p.Percent != 40 {
		t.Errorf("percent rewound to %v", p.Percent)
	}
	// Non-percent fields still refresh from the newer sample.
	if p.Speed != "2MiB/s" || p.ETA != "00:10" {
		t.Errorf("speed/eta not updated: %+v", p)
	}
}

func TestResetForRetryKeepsLog(t *testing.T) {
	j := NewJob("id", "https://example.org/v", Options{})
	j.SetState(StateError)
	j.SetRetryable(true)
	j.UpdateProgress(Progress{Percent: 80})
	j.AppendLog("ERROR: timed out")

	j.ResetForRetry()

	if j.State() != StateQueued {
		t.Errorf("state = %s", j.State())
	}
	if j.Progress().Percent != 0 {
		t.Error("progress survived retry reset")
	}
	if j.Retryable() {
		t.Error("retryable flag survived retry reset")
	}
	if len(j.LogTail(0)) != 1 {
		t.Error("log should be kept across retries")
	}
}

func TestLogBounded(t *testing.T) {
	j := NewJob("id", "https://example.org/v", Options{})

	for i := 0; i < maxLogLines+50; i++ {
		j.AppendLog(fmt.Sprintf("line %d", i))
	}

	tail := j.LogTail(0)
	if len(tail) != maxLogLines {
		t.Fatalf("log length = %d, want %d", len(tail), maxLogLines)
	}
	if tail[0] != "line 50" {
		t.Errorf("oldest retained line = %q", tail[0])
	}
}

func TestLogTailN(t *testing.T) {
	j := NewJob("id", "https://example.org/v", Options{})
	j.AppendLog("one")
	j.AppendLog("two")
	j.AppendLog("three")

	tail := j.LogTail(2)
	if len(tail) != 2 || tail[0] != "two" || tail[1] != "three" {
		t.Errorf("tail = %v", tail)
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []JobState{StateCompleted, StateError, StateCanceled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []JobState{StateQueued, StateDownloading, StatePaused} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
