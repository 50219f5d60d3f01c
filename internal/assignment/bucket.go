// Package assignment provides deterministic user bucketing and the assignment
// service that maps each (user, experiment) pair to exactly one variant.
//
// Bucketing is a pure function of the user and experiment ids: a SHA-256 hash
// mapped into [0,1) and located in a cumulative allocation boundary table. No
// process-random source is involved, so concurrent or retried callers always
// compute the same candidate variant and the persistence race resolves to a
// single row without locks.
package assignment

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/exphub-io/exphub/internal/experiment"
)

// hashSeparator keeps distinct (userID, experimentID) pairs from colliding
// when ids share prefixes ("ab"+"c" vs "a"+"bc").
const hashSeparator = ":"

// BucketValue maps a (userID, experimentID) pair onto a uniformly distributed
// value in [0,1).
//
// The first 8 bytes of SHA-256(userID + ":" + experimentID) are read as a
// big-endian uint64, truncated to 53 bits (the float64 mantissa, so the
// division is exact and the result is strictly below 1), and divided by 2^53.
// SHA-256's avalanche behavior is what makes per-experiment buckets
// independent for the same user.
func BucketValue(userID, experimentID string) float64 {
	sum := sha256.Sum256([]byte(userID + hashSeparator + experimentID))

	return float64(binary.BigEndian.Uint64(sum[:8])>>11) / (1 << 53)
}

type (
	// Table is the sorted cumulative allocation boundary table of one
	// experiment, built once and reused for every assignment. For a 50/50
	// split the intervals are [0, 0.5) and [0.5, 1.0).
	Table struct {
		experimentID string
		bounds       []boundary
	}

	boundary struct {
		variantID string
		upper     float64
	}
)

// NewTable builds the cumulative boundary table for an experiment. Variants
// are ordered by id ascending so the table never depends on configuration
// order, and the last upper bound is pinned to 1.0 to absorb float residue
// from the percent-to-fraction conversion.
//
// The experiment must already be validated; an allocation sum away from 100
// beyond the configured tolerance is rejected here as a defensive error.
func NewTable(exp *experiment.Experiment) (*Table, error) {
	if err := exp.Validate(); err != nil {
		return nil, err
	}

	sorted := exp.SortedVariants()
	bounds := make([]boundary, len(sorted))
	cumulative := 0.0

	for i, v := range sorted {
		cumulative += v.Allocation / 100
		bounds[i] = boundary{variantID: v.ID, upper: cumulative}
	}

	bounds[len(bounds)-1].upper = 1.0

	return &Table{experimentID: exp.ID, bounds: bounds}, nil
}

// Locate returns the variant whose interval contains v.
func (t *Table) Locate(v float64) (string, error) {
	if v < 0 || v >= 1 {
		return "", fmt.Errorf("bucket value %v outside [0,1)", v)
	}

	for _, b := range t.bounds {
		if v < b.upper {
			return b.variantID, nil
		}
	}

	// Unreachable: the last upper bound is 1.0 and v < 1.
	return t.bounds[len(t.bounds)-1].variantID, nil
}

// VariantFor buckets a user and returns the selected variant id.
func (t *Table) VariantFor(userID string) (string, error) {
	return t.Locate(BucketValue(userID, t.experimentID))
}
