package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/exphub-io/exphub/internal/analysis"
	"github.com/exphub-io/exphub/internal/assignment"
	"github.com/exphub-io/exphub/internal/experiment"
	"github.com/exphub-io/exphub/internal/ingestion"
)

// Compile-time interface assertions: MemoryStore backs every domain store.
var (
	_ experiment.Store = (*MemoryStore)(nil)
	_ assignment.Store = (*MemoryStore)(nil)
	_ ingestion.Store  = (*MemoryStore)(nil)
	_ analysis.Store   = (*MemoryStore)(nil)
)

// MemoryStore is an in-memory implementation of all domain store interfaces.
//
// It mirrors the PostgreSQL stores' semantics exactly (first-write-wins
// assignments, duplicate event no-ops, read-time join of events to
// assignments) so unit tests and handler tests exercise the same contracts
// the persistent stores honor.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]*experiment.Experiment
	assignments map[string]map[string]*assignment.Assignment // experimentID -> userID
	events      map[string]*ingestion.Event                  // event id
	byExpUser   map[string]map[string][]*ingestion.Event     // experimentID -> userID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]*experiment.Experiment),
		assignments: make(map[string]map[string]*assignment.Assignment),
		events:      make(map[string]*ingestion.Event),
		byExpUser:   make(map[string]map[string][]*ingestion.Event),
	}
}

// CreateExperiment implements experiment.Store.
func (s *MemoryStore) CreateExperiment(_ context.Context, exp *experiment.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.experiments[exp.ID]; exists {
		return fmt.Errorf("%w: %s", experiment.ErrDuplicateExperiment, exp.ID)
	}

	s.experiments[exp.ID] = cloneExperiment(exp)

	return nil
}

// GetExperiment implements experiment.Store. Variants are returned ordered by
// variant id, matching the persistent store.
func (s *MemoryStore) GetExperiment(_ context.Context, id string) (*experiment.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", experiment.ErrUnknownExperiment, id)
	}

	clone := cloneExperiment(exp)
	sort.Slice(clone.Variants, func(i, j int) bool {
		return clone.Variants[i].ID < clone.Variants[j].ID
	})

	return clone, nil
}

// UpdateStatus implements experiment.Store with compare-and-set semantics.
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, from, to experiment.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.experiments[id]
	if !ok {
		return fmt.Errorf("%w: %s", experiment.ErrUnknownExperiment, id)
	}

	if exp.Status != from {
		return fmt.Errorf("%w: %s is no longer %s", experiment.ErrInvalidTransition, id, from)
	}

	exp.Status = to

	return nil
}

// FindAssignment implements assignment.Store.
func (s *MemoryStore) FindAssignment(
	_ context.Context, userID, experimentID string,
) (*assignment.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[experimentID][userID]
	if !ok {
		return nil, assignment.ErrAssignmentNotFound
	}

	clone := *a

	return &clone, nil
}

// CreateAssignment implements assignment.Store with first-write-wins: when a
// row already exists for (user, experiment), the stored row is returned.
func (s *MemoryStore) CreateAssignment(
	_ context.Context, candidate *assignment.Assignment,
) (*assignment.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser := s.assignments[candidate.ExperimentID]
	if byUser == nil {
		byUser = make(map[string]*assignment.Assignment)
		s.assignments[candidate.ExperimentID] = byUser
	}

	if winner, exists := byUser[candidate.UserID]; exists {
		clone := *winner

		return &clone, nil
	}

	clone := *candidate
	byUser[candidate.UserID] = &clone

	stored := clone

	return &stored, nil
}

// AppendEvent implements ingestion.Store. Duplicate ids are idempotent
// no-ops reported as (false, true, nil).
func (s *MemoryStore) AppendEvent(_ context.Context, event *ingestion.Event) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.ID]; exists {
		return false, true, nil
	}

	clone := cloneEvent(event)
	s.events[clone.ID] = clone

	byUser := s.byExpUser[clone.ExperimentID]
	if byUser == nil {
		byUser = make(map[string][]*ingestion.Event)
		s.byExpUser[clone.ExperimentID] = byUser
	}

	byUser[clone.UserID] = append(byUser[clone.UserID], clone)

	return true, false, nil
}

// HealthCheck implements ingestion.Store. Memory is always available.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// VariantCounts implements analysis.Store by joining events to assignments,
// exactly as the persistent store's SQL does.
func (s *MemoryStore) VariantCounts(_ context.Context, experimentID string) ([]analysis.VariantCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byVariant := make(map[string]*analysis.VariantCounts)

	for userID, a := range s.assignments[experimentID] {
		c := byVariant[a.VariantID]
		if c == nil {
			c = &analysis.VariantCounts{VariantID: a.VariantID}
			byVariant[a.VariantID] = c
		}

		c.Assigned++

		exposed, converted := false, false

		for _, e := range s.byExpUser[experimentID][userID] {
			switch e.Type {
			case ingestion.TypeExposure:
				exposed = true
			case ingestion.TypeConversion:
				converted = true

				if e.Value != nil {
					c.ValueSum += *e.Value
					c.ValueCount++
				}
			}
		}

		if exposed {
			c.Exposed++
		}

		if converted {
			c.Converted++
		}
	}

	variantIDs := make([]string, 0, len(byVariant))
	for id := range byVariant {
		variantIDs = append(variantIDs, id)
	}

	sort.Strings(variantIDs)

	counts := make([]analysis.VariantCounts, 0, len(variantIDs))
	for _, id := range variantIDs {
		counts = append(counts, *byVariant[id])
	}

	return counts, nil
}

// SegmentCounts implements analysis.Store. A user belongs to a segment when
// any of their exposure events carried that metadata pair.
func (s *MemoryStore) SegmentCounts(_ context.Context, experimentID string) ([]analysis.SegmentCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type segKey struct {
		key, value, variantID string
	}

	grouped := make(map[segKey]*analysis.SegmentCounts)

	for userID, a := range s.assignments[experimentID] {
		events := s.byExpUser[experimentID][userID]

		converted := false

		for _, e := range events {
			if e.Type == ingestion.TypeConversion {
				converted = true

				break
			}
		}

		segments := make(map[[2]string]struct{})

		for _, e := range events {
			if e.Type != ingestion.TypeExposure {
				continue
			}

			for k, v := range e.Metadata {
				segments[[2]string{k, v}] = struct{}{}
			}
		}

		for seg := range segments {
			k := segKey{key: seg[0], value: seg[1], variantID: a.VariantID}

			c := grouped[k]
			if c == nil {
				c = &analysis.SegmentCounts{Key: seg[0], Value: seg[1], VariantID: a.VariantID}
				grouped[k] = c
			}

			c.Exposed++

			if converted {
				c.Converted++
			}
		}
	}

	counts := make([]analysis.SegmentCounts, 0, len(grouped))
	for _, c := range grouped {
		counts = append(counts, *c)
	}

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Key != counts[j].Key {
			return counts[i].Key < counts[j].Key
		}

		if counts[i].Value != counts[j].Value {
			return counts[i].Value < counts[j].Value
		}

		return counts[i].VariantID < counts[j].VariantID
	})

	return counts, nil
}

func cloneExperiment(exp *experiment.Experiment) *experiment.Experiment {
	clone := *exp
	clone.Variants = append([]experiment.Variant(nil), exp.Variants...)

	return &clone
}

func cloneEvent(event *ingestion.Event) *ingestion.Event {
	clone := *event

	if event.Metadata != nil {
		clone.Metadata = make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			clone.Metadata[k] = v
		}
	}

	if event.Value != nil {
		v := *event.Value
		clone.Value = &v
	}

	return &clone
}
