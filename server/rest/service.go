package rest

import (
	"context"

	"github.com/queued-dl/queued/server/internal"
	"github.com/queued-dl/queued/server/internal/manager"
)

// Service adapts the manager's command surface for HTTP transport.
// The GUI reaches the download core exclusively through it.
type Service struct {
	manager *manager.Manager
}

func NewService(m *manager.Manager) *Service {
	return &Service{manager: m}
}

func (s *Service) Submit(req internal.DownloadRequest) (string, error) {
	return s.manager.Submit(req.URL, req.Options)
}

func (s *Service) Jobs(ctx context.Context) ([]internal.JobSnapshot, error) {
	select {
	case <-ctx.Done():
		return nil, context.Canceled
	default:
		return s.manager.Jobs(), nil
	}
}

func (s *Service) Job(id string) (internal.JobSnapshot, error) {
	return s.manager.Job(id)
}

func (s *Service) LogTail(id string, n int) ([]string, error) {
	return s.manager.LogTail(id, n)
}

func (s *Service) Start()                     { s.manager.Start() }
func (s *Service) Stop()                      { s.manager.Stop() }
func (s *Service) Pause(id string) error      { return s.manager.Pause(id) }
func (s *Service) Resume(id string) error     { return s.manager.Resume(id) }
func (s *Service) Cancel(id string) error     { return s.manager.Cancel(id) }
func (s *Service) Retry(id string) error      { return s.manager.Retry(id) }
func (s *Service) Remove(id string) error     { return s.manager.Remove(id) }
func (s *Service) ClearCompleted() int        { return s.manager.ClearCompleted() }
func (s *Service) SetConcurrency(n int) error { return s.manager.SetConcurrency(n) }
