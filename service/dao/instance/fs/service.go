package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"

	"github.com/docflow/flow/runtime/instance"
	"github.com/docflow/flow/service/dao"
	"github.com/docflow/flow/service/dao/criteria"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
)

// Service implements a filesystem-backed instance store. Each instance is a
// JSON document under the base path; the optimistic version check reads the
// stored document before overwriting it, serialised by the service mutex.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

var _ dao.Store[string, instance.Instance] = (*Service)(nil)

// New creates a filesystem instance store rooted at basePath.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	fs := afs.New()
	ctx := context.Background()
	exists, _ := fs.Exists(ctx, basePath)
	if !exists {
		if err := fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	return &Service{
		basePath: url.Normalize(basePath, file.Scheme),
		fs:       fs,
	}, nil
}

func (s *Service) Save(ctx context.Context, inst *instance.Instance, expectedVersion int) error {
	if inst == nil {
		return dao.ErrNilEntity
	}
	if inst.ID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.load(ctx, inst.ID)
	switch {
	case err == nil:
		if stored.Version != expectedVersion {
			return dao.ErrVersionConflict
		}
	case err == dao.ErrNotFound:
		if expectedVersion != 0 {
			return dao.ErrVersionConflict
		}
	default:
		return err
	}

	inst.Version = expectedVersion + 1
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	location := s.instancePath(inst.ID)
	if err := s.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save instance to %s: %w", location, err)
	}
	return nil
}

func (s *Service) Load(ctx context.Context, id string) (*instance.Instance, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(ctx, id)
}

func (s *Service) load(ctx context.Context, id string) (*instance.Instance, error) {
	location := s.instancePath(id)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to check instance %s: %w", id, err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read instance %s: %w", id, err)
	}
	inst := &instance.Instance{}
	if err := json.Unmarshal(data, inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance %s: %w", id, err)
	}
	return inst, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	location := s.instancePath(id)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return fmt.Errorf("failed to check instance %s: %w", id, err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	return s.fs.Delete(ctx, location)
}

func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*instance.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	var out []*instance.Instance
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			log.Printf("error reading instance file %s: %v", object.URL(), err)
			continue
		}
		inst := &instance.Instance{}
		if err := json.Unmarshal(data, inst); err != nil {
			log.Printf("error unmarshaling instance from %s: %v", object.URL(), err)
			continue
		}
		if !criteria.FilterByStatus(string(inst.Status), parameters) {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func (s *Service) instancePath(id string) string {
	return path.Join(s.basePath, fmt.Sprintf("%s.json", id))
}
