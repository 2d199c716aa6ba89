package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/queued-dl/queued/server/internal"
)

func TestSetGetDelete(t *testing.T) {
	s := New()

	job := internal.NewJob("a", "https://example.org/a", internal.Options{})
	if id := s.Set(job); id != "a" {
		t.Fatalf("id = %s", id)
	}

	got, err := s.Get("a")
	if err != nil || got != job {
		t.Fatalf("got %v %v", got, err)
	}

	s.Delete("a")
	if _, err := s.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("len = %d", s.Len())
	}
}

func TestGetMissing(t *testing.T) {
	if _, err := New().Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmissionOrderKept(t *testing.T) {
	s := New()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("job-%d", i)
		s.Set(internal.NewJob(id, "https://example.org/"+id, internal.Options{}))
	}
	s.Delete("job-2")

	want := []string{"job-0", "job-1", "job-3", "job-4"}
	keys := s.Keys()
	if len(keys) != len(want) {
		t.Fatalf("keys = %v", keys)
	}
	for i, k := range keys {
		if k != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, k, want[i])
		}
	}

	all := s.All()
	for i, snap := range all {
		if snap.ID != want[i] {
			t.Errorf("all[%d].ID = %s, want %s", i, snap.ID, want[i])
		}
	}
}

func TestSetSameIDKeepsPosition(t *testing.T) {
	s := New()
	s.Set(internal.NewJob("a", "https://example.org/1", internal.Options{}))
	s.Set(internal.NewJob("b", "https://example.org/2", internal.Options{}))
	s.Set(internal.NewJob("a", "https://example.org/3", internal.Options{}))

	keys := s.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("keys = %v", keys)
	}

	job, _ := s.Get("a")
	if job.URL != "https://example.org/3" {
		t.Errorf("url = %s", job.URL)
	}
}
