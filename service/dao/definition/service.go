// Package definition loads, validates and registers workflow definitions.
// A definition is parsed and validated exactly once; only validated
// definitions become visible to the engine. New versions replace, never
// patch, an existing entry.
package definition

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docflow/flow/model"
	"github.com/docflow/flow/service/dao"
	"github.com/viant/afs"
	"github.com/viant/structology/conv"
	"gopkg.in/yaml.v3"
)

// ErrDefinitionInvalid wraps every load-time validation failure. The
// offending definition is never registered.
var ErrDefinitionInvalid = fmt.Errorf("definition invalid")

// Service is the read-mostly definition registry.
type Service struct {
	fs        afs.Service
	baseURL   string
	converter *conv.Converter
	mux       sync.RWMutex
	registry  map[string]*model.Definition
}

// New creates a definition service; baseURL is the optional root for Load
// by relative URL.
func New(options ...Option) *Service {
	ret := &Service{
		registry:  map[string]*model.Definition{},
		converter: conv.NewConverter(conv.DefaultOptions()),
	}
	for _, option := range options {
		option(ret)
	}
	if ret.fs == nil {
		ret.fs = afs.New()
	}
	return ret
}

// Register validates the definition and publishes it, replacing any prior
// entry with the same id.
func (s *Service) Register(def *model.Definition) error {
	if def == nil {
		return dao.ErrNilEntity
	}
	if def.ID == "" {
		def.ID = def.Name
	}
	if def.ID == "" {
		return fmt.Errorf("%w: definition has no id or name", ErrDefinitionInvalid)
	}
	if issues := def.Validate(); len(issues) > 0 {
		return fmt.Errorf("%w: %v", ErrDefinitionInvalid, issues[0])
	}
	s.mux.Lock()
	s.registry[def.ID] = def
	s.mux.Unlock()
	return nil
}

// Load returns a registered, validated definition.
func (s *Service) Load(_ context.Context, id string) (*model.Definition, error) {
	s.mux.RLock()
	def, ok := s.registry[id]
	s.mux.RUnlock()
	if !ok {
		return nil, dao.ErrNotFound
	}
	return def, nil
}

// List returns all registered definitions.
func (s *Service) List(_ context.Context) []*model.Definition {
	s.mux.RLock()
	defer s.mux.RUnlock()
	out := make([]*model.Definition, 0, len(s.registry))
	for _, def := range s.registry {
		out = append(out, def)
	}
	return out
}

// LoadURL reads a definition document from the given URL (resolved against
// the base URL when relative), decodes, validates and registers it.
func (s *Service) LoadURL(ctx context.Context, URL string) (*model.Definition, error) {
	if filepath.Ext(URL) == "" {
		URL += ".yaml"
	}
	if s.baseURL != "" && !strings.Contains(URL, "://") && !strings.HasPrefix(URL, "/") {
		URL = strings.TrimSuffix(s.baseURL, "/") + "/" + URL
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition from %s: %w", URL, err)
	}
	def, err := s.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definition from %s: %w", URL, err)
	}
	if def.Name == "" {
		def.Name = nameFromURL(URL)
	}
	if err := s.Register(def); err != nil {
		return nil, err
	}
	return def, nil
}

// Decode parses a YAML (or JSON, YAML being a superset) definition document
// into the in-memory model. The result still has to pass Register.
func (s *Service) Decode(encoded []byte) (*model.Definition, error) {
	doc := &document{}
	if err := yaml.Unmarshal(encoded, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDefinitionInvalid, err)
	}
	return s.toDefinition(doc)
}

// document is the external graph representation
// {name, type, nodes: [{id, kind, config}], edges: [{from, to, guard?, priority, default?}]}.
type document struct {
	ID      string          `yaml:"id" json:"id"`
	Name    string          `yaml:"name" json:"name"`
	Type    string          `yaml:"type" json:"type"`
	Version string          `yaml:"version" json:"version"`
	Nodes   []*documentNode `yaml:"nodes" json:"nodes"`
	Edges   []*model.Edge   `yaml:"edges" json:"edges"`
}

type documentNode struct {
	ID     string                 `yaml:"id" json:"id"`
	Kind   string                 `yaml:"kind" json:"kind"`
	Config map[string]interface{} `yaml:"config" json:"config"`
}

// approvalDoc mirrors model.ApprovalConfig with the timeout as a duration
// string, the way definition documents declare it.
type approvalDoc struct {
	Approver      string `yaml:"approver" json:"approver"`
	Role          string `yaml:"role" json:"role"`
	Timeout       string `yaml:"timeout" json:"timeout"`
	EscalateTo    string `yaml:"escalateTo" json:"escalateTo"`
	MarkEscalated bool   `yaml:"markEscalated" json:"markEscalated"`
	ResubmitTo    string `yaml:"resubmitTo" json:"resubmitTo"`
}

func (s *Service) toDefinition(doc *document) (*model.Definition, error) {
	def := &model.Definition{
		ID:      doc.ID,
		Name:    doc.Name,
		Type:    doc.Type,
		Version: doc.Version,
		Edges:   doc.Edges,
	}
	if def.ID == "" {
		def.ID = doc.Name
	}
	for _, n := range doc.Nodes {
		node, err := s.toNode(n)
		if err != nil {
			return nil, err
		}
		def.Nodes = append(def.Nodes, node)
	}
	return def, nil
}

func (s *Service) toNode(n *documentNode) (*model.Node, error) {
	node := &model.Node{ID: n.ID, Kind: model.Kind(n.Kind)}
	switch node.Kind {
	case model.KindStart, model.KindCondition:
		// No configuration; condition logic lives on the outgoing edges.
	case model.KindApproval:
		cfg := &approvalDoc{}
		if err := s.convert(n, cfg); err != nil {
			return nil, err
		}
		node.Approval = &model.ApprovalConfig{
			Approver:      cfg.Approver,
			Role:          cfg.Role,
			EscalateTo:    cfg.EscalateTo,
			MarkEscalated: cfg.MarkEscalated,
			ResubmitTo:    cfg.ResubmitTo,
		}
		if cfg.Timeout != "" {
			timeout, err := time.ParseDuration(cfg.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%w: node %s has invalid timeout %q: %v", ErrDefinitionInvalid, n.ID, cfg.Timeout, err)
			}
			node.Approval.Timeout = timeout
		}
	case model.KindAssignment:
		node.Assignment = &model.AssignmentConfig{}
		if err := s.convert(n, node.Assignment); err != nil {
			return nil, err
		}
	case model.KindNotification:
		node.Notification = &model.NotificationConfig{}
		if err := s.convert(n, node.Notification); err != nil {
			return nil, err
		}
	case model.KindEnd:
		node.End = &model.EndConfig{}
		if err := s.convert(n, node.End); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: node %s has unknown kind %q", ErrDefinitionInvalid, n.ID, n.Kind)
	}
	return node, nil
}

func (s *Service) convert(n *documentNode, target interface{}) error {
	if len(n.Config) == 0 {
		return nil
	}
	if err := s.converter.Convert(n.Config, target); err != nil {
		return fmt.Errorf("%w: node %s has invalid config: %v", ErrDefinitionInvalid, n.ID, err)
	}
	return nil
}

func nameFromURL(URL string) string {
	base := filepath.Base(URL)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
