package rest

import (
	"errors"
	"net/http"
	"testing"

	"github.com/queued-dl/queued/server/internal/command"
	"github.com/queued-dl/queued/server/internal/manager"
	"github.com/queued-dl/queued/server/internal/store"
	"github.com/queued-dl/queued/server/internal/worker"
)

func TestStatusForMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{command.ErrInvalidOptions, http.StatusBadRequest},
		{manager.ErrBadConcurrency, http.StatusBadRequest},
		{manager.ErrCannotPause, http.StatusConflict},
		{manager.ErrCannotResume, http.StatusConflict},
		{manager.ErrCannotRetry, http.StatusConflict},
		{manager.ErrCannotCancel, http.StatusConflict},
		{manager.ErrRetryLimit, http.StatusConflict},
		{manager.ErrJobActive, http.StatusConflict},
		// A cancel can race the worker's own termination; that is a
		// state conflict, not a server failure.
		{worker.ErrNotRunning, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		if got := statusFor(c.err); got != c.code {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.code)
		}
	}
}
