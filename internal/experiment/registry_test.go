package experiment

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore is a minimal in-test Store; the full in-memory implementation
// lives in internal/storage.
type stubStore struct {
	mu          sync.Mutex
	experiments map[string]*Experiment
}

func newStubStore() *stubStore {
	return &stubStore{experiments: make(map[string]*Experiment)}
}

func (s *stubStore) CreateExperiment(_ context.Context, exp *Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.experiments[exp.ID]; exists {
		return ErrDuplicateExperiment
	}

	clone := *exp
	s.experiments[exp.ID] = &clone

	return nil
}

func (s *stubStore) GetExperiment(_ context.Context, id string) (*Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, exists := s.experiments[id]
	if !exists {
		return nil, ErrUnknownExperiment
	}

	clone := *exp

	return &clone, nil
}

func (s *stubStore) UpdateStatus(_ context.Context, id string, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, exists := s.experiments[id]
	if !exists {
		return ErrUnknownExperiment
	}

	if exp.Status != from {
		return ErrInvalidTransition
	}

	exp.Status = to

	return nil
}

func TestRegistry_Create(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	registry := NewRegistry(store, nil)

	exp := validExperiment()
	exp.Status = ""

	require.NoError(t, registry.Create(ctx, exp))
	assert.Equal(t, StatusPlanned, exp.Status, "zero status defaults to planned")

	got, err := registry.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPlanned, got.Status)
}

func TestRegistry_Create_DuplicateID(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newStubStore(), nil)

	require.NoError(t, registry.Create(ctx, validExperiment()))

	err := registry.Create(ctx, validExperiment())
	assert.ErrorIs(t, err, ErrDuplicateExperiment)
}

func TestRegistry_Create_InvalidConfiguration(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newStubStore(), nil)

	exp := validExperiment()
	exp.Variants[0].Allocation = 60 // sum 110

	assert.ErrorIs(t, registry.Create(ctx, exp), ErrConfiguration)
}

func TestRegistry_Create_RejectsNonPlannedStatus(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newStubStore(), nil)

	exp := validExperiment()
	exp.Status = StatusRunning

	assert.ErrorIs(t, registry.Create(ctx, exp), ErrConfiguration)
}

func TestRegistry_Transition_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newStubStore(), nil)

	exp := validExperiment()
	require.NoError(t, registry.Create(ctx, exp))

	updated, err := registry.Transition(ctx, exp.ID, StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, updated.Status)

	updated, err = registry.Transition(ctx, exp.ID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
}

func TestRegistry_Transition_Illegal(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newStubStore(), nil)

	exp := validExperiment()
	require.NoError(t, registry.Create(ctx, exp))

	tests := []struct {
		name string
		next Status
	}{
		{"planned to completed", StatusCompleted},
		{"planned to aborted", StatusAborted},
		{"unknown status", Status("paused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Transition(ctx, exp.ID, tt.next)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestRegistry_Transition_TerminalIsFinal(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newStubStore(), nil)

	exp := validExperiment()
	require.NoError(t, registry.Create(ctx, exp))

	_, err := registry.Transition(ctx, exp.ID, StatusRunning)
	require.NoError(t, err)
	_, err = registry.Transition(ctx, exp.ID, StatusAborted)
	require.NoError(t, err)

	_, err = registry.Transition(ctx, exp.ID, StatusRunning)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRegistry_Transition_UnknownExperiment(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newStubStore(), nil)

	_, err := registry.Transition(ctx, "missing", StatusRunning)
	assert.ErrorIs(t, err, ErrUnknownExperiment)
}

func TestRegistry_Transition_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newStubStore(), nil)

	exp := validExperiment()
	require.NoError(t, registry.Create(ctx, exp))
	_, err := registry.Transition(ctx, exp.ID, StatusRunning)
	require.NoError(t, err)

	// Two operators race running -> completed and running -> aborted.
	// Exactly one must win; the loser gets ErrInvalidTransition from the
	// compare-and-set.
	const writers = 8

	var wg sync.WaitGroup

	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			next := StatusCompleted
			if i%2 == 1 {
				next = StatusAborted
			}

			_, errs[i] = registry.Transition(ctx, exp.ID, next)
		}(i)
	}

	wg.Wait()

	wins := 0

	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition)
		}
	}

	assert.Equal(t, 1, wins)
}
