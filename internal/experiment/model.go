// Package experiment provides the experiment and variant domain model and the
// registry that owns experiment configuration and lifecycle state.
//
// Experiments are created once, validated before the status becomes running,
// and read-only afterwards: status transitions are the only permitted
// mutation, and the variant list is frozen the moment an experiment starts
// running.
package experiment

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// AllocationTolerance is the floating tolerance applied when checking that
// variant allocations sum to exactly 100.
const AllocationTolerance = 1e-6

// MinVariants is the smallest number of variants a valid experiment carries.
const MinVariants = 2

// Sentinel errors for experiment configuration and lifecycle.
var (
	// ErrConfiguration indicates invalid experiment configuration (bad
	// allocation sums, missing fields). Never retried.
	ErrConfiguration = errors.New("invalid experiment configuration")

	// ErrDuplicateExperiment indicates an experiment id that already exists.
	ErrDuplicateExperiment = errors.New("experiment already exists")

	// ErrInvalidTransition indicates an illegal lifecycle transition.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnknownExperiment indicates the experiment id does not exist.
	ErrUnknownExperiment = errors.New("unknown experiment")

	// ErrExperimentNotRunning indicates an operation that requires a running
	// experiment (assignment) was invoked against one that is not.
	ErrExperimentNotRunning = errors.New("experiment is not running")
)

type (
	// Status is the lifecycle state of an experiment.
	//
	// The state machine is:
	//
	//	planned -> running -> {completed, aborted}
	//
	// completed and aborted are terminal.
	Status string

	// Experiment is a configured comparison between two or more variants over
	// a bounded time window. Immutable after creation except for Status.
	Experiment struct {
		ID          string
		Name        string
		Description string
		Status      Status
		StartAt     time.Time
		EndAt       time.Time
		Variants    []Variant
	}

	// Variant is one arm of an experiment with a fixed traffic allocation,
	// expressed in percent (0 < Allocation <= 100). The allocations of all
	// variants of one experiment sum to 100 within AllocationTolerance.
	Variant struct {
		ID         string
		Name       string
		Allocation float64
	}
)

const (
	// StatusPlanned is the initial state: configured but not yet serving.
	StatusPlanned Status = "planned"

	// StatusRunning means the experiment is serving assignments. Variant
	// configuration is frozen in this state.
	StatusRunning Status = "running"

	// StatusCompleted is the terminal success state.
	StatusCompleted Status = "completed"

	// StatusAborted is the terminal abort state.
	StatusAborted Status = "aborted"
)

// IsValid reports whether s is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusPlanned, StatusRunning, StatusCompleted, StatusAborted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPlanned:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusCompleted || next == StatusAborted
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Validate checks the experiment configuration: non-empty ids and name, at
// least MinVariants variants with unique non-empty ids, every allocation in
// (0, 100], and allocations summing to 100 within AllocationTolerance.
//
// All violations return errors wrapping ErrConfiguration.
func (e *Experiment) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: experiment id is required", ErrConfiguration)
	}

	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: experiment name is required", ErrConfiguration)
	}

	if e.Status != "" && !e.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrConfiguration, e.Status)
	}

	if len(e.Variants) < MinVariants {
		return fmt.Errorf("%w: experiment %q needs at least %d variants, got %d",
			ErrConfiguration, e.ID, MinVariants, len(e.Variants))
	}

	seen := make(map[string]struct{}, len(e.Variants))
	sum := 0.0

	for _, v := range e.Variants {
		if strings.TrimSpace(v.ID) == "" {
			return fmt.Errorf("%w: experiment %q has a variant with an empty id", ErrConfiguration, e.ID)
		}

		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("%w: experiment %q has duplicate variant id %q", ErrConfiguration, e.ID, v.ID)
		}

		seen[v.ID] = struct{}{}

		if v.Allocation <= 0 || v.Allocation > 100 {
			return fmt.Errorf("%w: variant %q allocation %v must be in (0, 100]",
				ErrConfiguration, v.ID, v.Allocation)
		}

		sum += v.Allocation
	}

	if math.Abs(sum-100) > AllocationTolerance {
		return fmt.Errorf("%w: experiment %q variant allocations sum to %v, want 100",
			ErrConfiguration, e.ID, sum)
	}

	return nil
}

// SortedVariants returns the variants ordered by id ascending. The stable
// ordering is what the assignment service builds its cumulative boundary
// table from, so it must never depend on configuration file order.
func (e *Experiment) SortedVariants() []Variant {
	sorted := make([]Variant, len(e.Variants))
	copy(sorted, e.Variants)

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	return sorted
}

// Variant returns the variant with the given id, if present.
func (e *Experiment) Variant(id string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.ID == id {
			return v, true
		}
	}

	return Variant{}, false
}
