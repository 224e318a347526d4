package memory

import (
	"context"
	"sync"

	"github.com/docflow/flow/runtime/instance"
	"github.com/docflow/flow/service/dao"
	"github.com/docflow/flow/service/dao/criteria"
)

// Service implements an in-memory, thread-safe instance store with
// optimistic version checking. All API methods work with copies to
// eliminate data races between goroutines.
type Service struct {
	instances map[string]*instance.Instance
	mux       sync.RWMutex
}

var _ dao.Store[string, instance.Instance] = (*Service)(nil)

func New() *Service {
	return &Service{instances: map[string]*instance.Instance{}}
}

// Save persists the instance when expectedVersion matches the stored
// version (zero for a new instance) and bumps the version on success.
func (s *Service) Save(_ context.Context, inst *instance.Instance, expectedVersion int) error {
	if inst == nil {
		return dao.ErrNilEntity
	}
	if inst.ID == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	existing, ok := s.instances[inst.ID]
	if !ok {
		if expectedVersion != 0 {
			return dao.ErrVersionConflict
		}
		stored := inst.Clone()
		stored.Version = 1
		s.instances[inst.ID] = stored
		inst.Version = stored.Version
		return nil
	}
	if existing.Version != expectedVersion {
		return dao.ErrVersionConflict
	}
	inst.Version = expectedVersion + 1
	existing.CopyFrom(inst)
	return nil
}

func (s *Service) Load(_ context.Context, id string) (*instance.Instance, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mux.RLock()
	inst, ok := s.instances[id]
	s.mux.RUnlock()

	if !ok {
		return nil, dao.ErrNotFound
	}
	return inst.Clone(), nil
}

func (s *Service) Delete(_ context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if _, ok := s.instances[id]; !ok {
		return dao.ErrNotFound
	}
	delete(s.instances, id)
	return nil
}

func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*instance.Instance, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	out := make([]*instance.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		if !criteria.FilterByStatus(string(inst.Status), parameters) {
			continue
		}
		out = append(out, inst.Clone())
	}
	return out, nil
}
