package rest

import (
	"github.com/queued-dl/queued/server/internal/eventbus"
	"github.com/queued-dl/queued/server/internal/manager"
)

type ContainerArgs struct {
	Manager *manager.Manager
	Bus     *eventbus.Bus
}
