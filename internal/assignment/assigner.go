package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/exphub-io/exphub/internal/experiment"
)

var (
	// ErrAssignmentNotFound is returned by stores when no assignment exists
	// for a (user, experiment) pair. It never reaches Assign callers: the
	// assigner treats it as the signal to bucket and persist.
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrUserIDRequired is returned when Assign is called with an empty user
	// id.
	ErrUserIDRequired = errors.New("user id is required")
)

type (
	// Assignment is the permanent mapping of a user to one variant within one
	// experiment. Immutable once written: first assignment wins.
	Assignment struct {
		UserID       string
		ExperimentID string
		VariantID    string
		AssignedAt   time.Time
	}

	// Store defines what the assigner needs for assignment persistence.
	//
	// Implementations must back CreateAssignment with a uniqueness constraint
	// on (user_id, experiment_id); that constraint, not locking, is what
	// resolves concurrent writers.
	Store interface {
		// FindAssignment returns the stored assignment or
		// ErrAssignmentNotFound.
		FindAssignment(ctx context.Context, userID, experimentID string) (*Assignment, error)

		// CreateAssignment inserts the candidate assignment. If a concurrent
		// writer already inserted a row for the same (user, experiment), the
		// candidate is discarded and the persisted row is returned instead;
		// losing the insert race is not an error.
		CreateAssignment(ctx context.Context, candidate *Assignment) (*Assignment, error)
	}

	// Experiments is the read-side of the experiment registry the assigner
	// depends on. *experiment.Registry satisfies it.
	Experiments interface {
		Get(ctx context.Context, id string) (*experiment.Experiment, error)
	}

	// Assigner deterministically buckets users into variants, exactly once
	// per (user, experiment).
	//
	// Boundary tables are cached per experiment: the variant list is frozen
	// once an experiment is running, so a cached table can never go stale
	// while assignments are being served.
	Assigner struct {
		store       Store
		experiments Experiments
		logger      *slog.Logger

		mu     sync.RWMutex
		tables map[string]*Table
	}
)

// NewAssigner creates an assigner using the given stores.
func NewAssigner(store Store, experiments Experiments, logger *slog.Logger) *Assigner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Assigner{
		store:       store,
		experiments: experiments,
		logger:      logger,
		tables:      make(map[string]*Table),
	}
}

// Assign returns the variant assigned to the user for the experiment,
// creating the assignment on first call. The result is stable for all future
// calls with the same inputs, sequential or concurrent.
//
// Flow:
//  1. Idempotent read path: an existing assignment is returned unchanged.
//  2. The experiment must exist (ErrUnknownExperiment) and be running
//     (ErrExperimentNotRunning).
//  3. The deterministic bucket selects the candidate variant.
//  4. The store persists it first-write-wins; if a concurrent writer won the
//     insert race, the winner's row is returned and no error is raised.
func (a *Assigner) Assign(ctx context.Context, userID, experimentID string) (*Assignment, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	existing, err := a.store.FindAssignment(ctx, userID, experimentID)
	if err == nil {
		return existing, nil
	}

	if !errors.Is(err, ErrAssignmentNotFound) {
		return nil, err
	}

	table, err := a.table(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	variantID, err := table.VariantFor(userID)
	if err != nil {
		return nil, err
	}

	candidate := &Assignment{
		UserID:       userID,
		ExperimentID: experimentID,
		VariantID:    variantID,
		AssignedAt:   time.Now().UTC(),
	}

	persisted, err := a.store.CreateAssignment(ctx, candidate)
	if err != nil {
		return nil, err
	}

	if persisted.VariantID != variantID {
		// Only possible if the experiment configuration changed between the
		// winner's bucketing and ours, which the frozen-once-running rule
		// forbids. Log it: this is the sample-ratio-mismatch early warning.
		a.logger.Warn("Assignment race resolved to a different variant",
			slog.String("experiment_id", experimentID),
			slog.String("computed_variant", variantID),
			slog.String("persisted_variant", persisted.VariantID),
		)
	}

	return persisted, nil
}

// table returns the cached boundary table for an experiment, building it on
// first use. Only running experiments are admitted to the cache.
func (a *Assigner) table(ctx context.Context, experimentID string) (*Table, error) {
	a.mu.RLock()
	table, ok := a.tables[experimentID]
	a.mu.RUnlock()

	if ok {
		return table, nil
	}

	exp, err := a.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	if exp.Status != experiment.StatusRunning {
		return nil, fmt.Errorf("%w: experiment %q is %s",
			experiment.ErrExperimentNotRunning, experimentID, exp.Status)
	}

	table, err = NewTable(exp)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	// Another goroutine may have built the table meanwhile; both are
	// identical, keeping either is correct.
	if cached, ok := a.tables[experimentID]; ok {
		table = cached
	} else {
		a.tables[experimentID] = table
	}
	a.mu.Unlock()

	return table, nil
}

// Invalidate drops the cached boundary table for an experiment. Called when
// an experiment leaves the running state so stopped experiments stop
// assigning.
func (a *Assigner) Invalidate(experimentID string) {
	a.mu.Lock()
	delete(a.tables, experimentID)
	a.mu.Unlock()
}
