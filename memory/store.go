// Package memory provides in-process implementations of the workflow stores.
// Every value crossing the boundary is deep-copied so callers can never alias
// stored state.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/meikuraledutech/workflow"
)

// Store implements workflow.VersionStore and workflow.RunStore.
type Store struct {
	mu        sync.RWMutex
	versions  map[string]*workflow.WorkflowVersion
	runs      map[string]*workflow.Run
	nodes     map[string]*workflow.RunNode
	runNodes  map[string][]string // run id -> node ids, creation order
	runsOrder []string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		versions: make(map[string]*workflow.WorkflowVersion),
		runs:     make(map[string]*workflow.Run),
		nodes:    make(map[string]*workflow.RunNode),
		runNodes: make(map[string][]string),
	}
}

var (
	_ workflow.VersionStore = (*Store)(nil)
	_ workflow.RunStore     = (*Store)(nil)
)

func (s *Store) CreateVersion(_ context.Context, v *workflow.WorkflowVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	highest := 0
	for _, existing := range s.versions {
		if existing.WorkflowID == v.WorkflowID && existing.Version > highest {
			highest = existing.Version
		}
	}
	v.Version = highest + 1
	s.versions[v.ID] = v.Clone()
	return nil
}

func (s *Store) GetVersion(_ context.Context, id string) (*workflow.WorkflowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, workflow.ErrVersionNotFound
	}
	return v.Clone(), nil
}

func (s *Store) UpdateVersion(_ context.Context, v *workflow.WorkflowVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.versions[v.ID]
	if !ok {
		return workflow.ErrVersionNotFound
	}
	c := existing.Clone()
	c.Status = v.Status
	c.Dag = v.Dag.Clone()
	s.versions[v.ID] = c
	return nil
}

func (s *Store) LatestPublished(_ context.Context, workflowID string) (*workflow.WorkflowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *workflow.WorkflowVersion
	for _, v := range s.versions {
		if v.WorkflowID != workflowID || v.Status != workflow.VersionPublished {
			continue
		}
		if latest == nil || v.Version > latest.Version {
			latest = v
		}
	}
	if latest == nil {
		return nil, workflow.ErrWorkflowVersionNotFound
	}
	return latest.Clone(), nil
}

func (s *Store) ListVersions(_ context.Context, workflowID string) ([]workflow.WorkflowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []workflow.WorkflowVersion
	for _, v := range s.versions {
		if v.WorkflowID == workflowID {
			out = append(out, *v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *Store) CreateRun(_ context.Context, run *workflow.Run, nodes []*workflow.RunNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run.Clone()
	s.runsOrder = append(s.runsOrder, run.ID)
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		s.nodes[n.ID] = n.Clone()
		ids = append(ids, n.ID)
	}
	s.runNodes[run.ID] = ids
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (*workflow.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, workflow.ErrRunNotFound
	}
	return r.Clone(), nil
}

func (s *Store) ListRunNodes(_ context.Context, runID string) ([]*workflow.RunNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.runNodes[runID]
	if !ok {
		return nil, workflow.ErrRunNotFound
	}
	out := make([]*workflow.RunNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.nodes[id].Clone())
	}
	return out, nil
}

func (s *Store) ListActiveRuns(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, id := range s.runsOrder {
		if !s.runs[id].IsTerminal() {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) SaveRun(_ context.Context, run *workflow.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		s.runsOrder = append(s.runsOrder, run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *Store) SaveRunNode(_ context.Context, node *workflow.RunNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[node.ID]; !ok {
		s.runNodes[node.RunID] = append(s.runNodes[node.RunID], node.ID)
	}
	s.nodes[node.ID] = node.Clone()
	return nil
}
