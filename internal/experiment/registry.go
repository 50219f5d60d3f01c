package experiment

import (
	"context"
	"fmt"
	"log/slog"
)

// Store defines what the registry needs for experiment persistence.
//
// The domain package defines the interface; concrete implementations
// (PostgreSQL, in-memory) live in internal/storage.
type Store interface {
	// CreateExperiment persists a new experiment with its variants.
	// Returns ErrDuplicateExperiment if the id already exists.
	CreateExperiment(ctx context.Context, exp *Experiment) error

	// GetExperiment returns the experiment with its variants.
	// Returns ErrUnknownExperiment if the id does not exist.
	GetExperiment(ctx context.Context, id string) (*Experiment, error)

	// UpdateStatus transitions an experiment from one status to another as a
	// compare-and-set: the update only applies while the stored status still
	// equals from. Returns ErrUnknownExperiment if the id does not exist and
	// ErrInvalidTransition if the stored status no longer matches from.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
}

// Registry owns experiment configuration and lifecycle state. It validates
// configuration before persisting and enforces the status state machine on
// every transition.
type Registry struct {
	store  Store
	logger *slog.Logger
}

// NewRegistry creates a registry backed by the given store.
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{store: store, logger: logger}
}

// Create validates and persists a new experiment. A zero Status defaults to
// planned; creating an experiment directly in any other state is rejected so
// every experiment passes through validation before it can serve assignments.
//
// Returns ErrConfiguration for invalid configuration and
// ErrDuplicateExperiment if the id is already taken.
func (r *Registry) Create(ctx context.Context, exp *Experiment) error {
	if exp.Status == "" {
		exp.Status = StatusPlanned
	}

	if exp.Status != StatusPlanned {
		return fmt.Errorf("%w: experiments are created in %q status, got %q",
			ErrConfiguration, StatusPlanned, exp.Status)
	}

	if err := exp.Validate(); err != nil {
		return err
	}

	if err := r.store.CreateExperiment(ctx, exp); err != nil {
		return err
	}

	r.logger.Info("Experiment created",
		slog.String("experiment_id", exp.ID),
		slog.Int("variants", len(exp.Variants)),
	)

	return nil
}

// Get returns the experiment with the given id.
func (r *Registry) Get(ctx context.Context, id string) (*Experiment, error) {
	return r.store.GetExperiment(ctx, id)
}

// Transition moves an experiment to the next lifecycle state and returns the
// updated experiment.
//
// The transition is enforced twice: here against the freshly read status, and
// in the store as a compare-and-set, so two operators racing on the same
// experiment cannot both win. Returns ErrInvalidTransition when the state
// machine forbids the move (or a concurrent transition got there first) and
// ErrUnknownExperiment when the id does not exist.
func (r *Registry) Transition(ctx context.Context, id string, next Status) (*Experiment, error) {
	if !next.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}

	exp, err := r.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}

	if !exp.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, exp.Status, next)
	}

	if err := r.store.UpdateStatus(ctx, id, exp.Status, next); err != nil {
		return nil, err
	}

	r.logger.Info("Experiment status changed",
		slog.String("experiment_id", id),
		slog.String("from", exp.Status.String()),
		slog.String("to", next.String()),
	)

	exp.Status = next

	return exp, nil
}
