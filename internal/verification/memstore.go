package verification

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store with the same read/write/version-check
// contract as the Postgres implementation. It backs tests and local demos.
type MemoryStore struct {
	mu        sync.RWMutex
	processes map[uuid.UUID]*Process
}

// NewMemoryStore creates an empty in-memory process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{processes: make(map[uuid.UUID]*Process)}
}

func (s *MemoryStore) Create(ctx context.Context, p *Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes[p.ID] = cloneProcess(p)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processes[id]
	if !ok {
		return nil, &NotFoundError{ProcessID: id}
	}
	return cloneProcess(p), nil
}

func (s *MemoryStore) Update(ctx context.Context, p *Process, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.processes[p.ID]
	if !ok {
		return &NotFoundError{ProcessID: p.ID}
	}
	if stored.Version != expectedVersion {
		return &VersionConflictError{ProcessID: p.ID, Expected: expectedVersion, Actual: stored.Version}
	}
	s.processes[p.ID] = cloneProcess(p)
	return nil
}

func (s *MemoryStore) UpdateRisk(ctx context.Context, id uuid.UUID, risk *RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.processes[id]
	if !ok {
		return &NotFoundError{ProcessID: id}
	}
	if risk != nil {
		r := *risk
		stored.Risk = &r
	} else {
		stored.Risk = nil
	}
	stored.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filters *ProcessFilters) ([]*Process, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var matched []*Process
	for _, p := range s.processes {
		if !matchesFilters(p, filters, now) {
			continue
		}
		matched = append(matched, cloneProcess(p))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	return paginateProcesses(matched, filters.Page, filters.PageSize), total, nil
}

func (s *MemoryStore) ProcessExists(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processes[id]
	return ok, nil
}

func matchesFilters(p *Process, f *ProcessFilters, now time.Time) bool {
	if f == nil {
		return true
	}
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	if f.Priority != nil && p.Priority != *f.Priority {
		return false
	}
	if f.RiskLevel != nil && (p.Risk == nil || p.Risk.Level != *f.RiskLevel) {
		return false
	}
	if f.AssignedReviewer != nil && (p.AssignedReviewer == nil || *p.AssignedReviewer != *f.AssignedReviewer) {
		return false
	}
	if f.CreatedAfter != nil && p.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && p.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	if f.SearchTerm != nil && *f.SearchTerm != "" {
		term := strings.ToLower(*f.SearchTerm)
		name := strings.ToLower(p.Request.FullName)
		email := strings.ToLower(p.Request.Email)
		if !strings.Contains(name, term) && !strings.Contains(email, term) {
			return false
		}
	}
	if f.Overdue != nil && p.IsOverdue(now) != *f.Overdue {
		return false
	}
	return true
}

func cloneProcess(p *Process) *Process {
	clone := *p
	clone.History = append([]StatusChange(nil), p.History...)
	if p.Risk != nil {
		risk := *p.Risk
		clone.Risk = &risk
	}
	if p.AssignedReviewer != nil {
		reviewer := *p.AssignedReviewer
		clone.AssignedReviewer = &reviewer
	}
	if p.Request.Fields != nil {
		fields := make(map[string]string, len(p.Request.Fields))
		for k, v := range p.Request.Fields {
			fields[k] = v
		}
		clone.Request.Fields = fields
	}
	clone.Request.Documents = append([]string(nil), p.Request.Documents...)
	return &clone
}
