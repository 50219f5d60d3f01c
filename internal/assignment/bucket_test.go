package assignment

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exphub-io/exphub/internal/experiment"
)

func fiftyFifty() *experiment.Experiment {
	return &experiment.Experiment{
		ID:     "checkout-cta",
		Name:   "Checkout CTA copy",
		Status: experiment.StatusRunning,
		Variants: []experiment.Variant{
			{ID: "control", Name: "Control", Allocation: 50},
			{ID: "treatment", Name: "Treatment", Allocation: 50},
		},
	}
}

func TestBucketValue_Deterministic(t *testing.T) {
	v1 := BucketValue("user-42", "checkout-cta")
	v2 := BucketValue("user-42", "checkout-cta")

	assert.Equal(t, v1, v2)
}

func TestBucketValue_Range(t *testing.T) {
	for i := 0; i < 10000; i++ {
		v := BucketValue(fmt.Sprintf("user-%d", i), "checkout-cta")

		require.GreaterOrEqual(t, v, 0.0)
		require.Less(t, v, 1.0)
	}
}

func TestBucketValue_IndependentAcrossExperiments(t *testing.T) {
	// The same user must not land in the same relative position in every
	// experiment, or all experiments would be correlated.
	same := 0

	const trials = 1000

	for i := 0; i < trials; i++ {
		user := fmt.Sprintf("user-%d", i)
		a := BucketValue(user, "experiment-a")
		b := BucketValue(user, "experiment-b")

		if (a < 0.5) == (b < 0.5) {
			same++
		}
	}

	// Independent coin flips agree about half the time.
	assert.InDelta(t, trials/2, same, trials/10)
}

func TestBucketValue_SeparatorPreventsPrefixCollisions(t *testing.T) {
	assert.NotEqual(t, BucketValue("ab", "c"), BucketValue("a", "bc"))
}

func TestNewTable_BoundariesFromSortedVariants(t *testing.T) {
	exp := &experiment.Experiment{
		ID:     "three-way",
		Name:   "Three way",
		Status: experiment.StatusRunning,
		Variants: []experiment.Variant{
			// Deliberately out of id order.
			{ID: "c-variant", Name: "C", Allocation: 25},
			{ID: "a-variant", Name: "A", Allocation: 50},
			{ID: "b-variant", Name: "B", Allocation: 25},
		},
	}

	table, err := NewTable(exp)
	require.NoError(t, err)

	// Ordered by id: a [0, 0.5), b [0.5, 0.75), c [0.75, 1.0).
	tests := []struct {
		value   float64
		variant string
	}{
		{0.0, "a-variant"},
		{0.49, "a-variant"},
		{0.5, "b-variant"},
		{0.74, "b-variant"},
		{0.75, "c-variant"},
		{0.999999, "c-variant"},
	}

	for _, tt := range tests {
		got, err := table.Locate(tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.variant, got, "value %v", tt.value)
	}
}

func TestNewTable_RejectsInvalidExperiment(t *testing.T) {
	exp := fiftyFifty()
	exp.Variants[0].Allocation = 60

	_, err := NewTable(exp)

	assert.ErrorIs(t, err, experiment.ErrConfiguration)
}

func TestTable_Locate_OutOfRange(t *testing.T) {
	table, err := NewTable(fiftyFifty())
	require.NoError(t, err)

	_, err = table.Locate(-0.1)
	assert.Error(t, err)

	_, err = table.Locate(1.0)
	assert.Error(t, err)
}

func TestTable_DistributionFidelity(t *testing.T) {
	// 100k synthetic users on a 50/50 split: each variant's observed share
	// must be within one percentage point of 50%.
	table, err := NewTable(fiftyFifty())
	require.NoError(t, err)

	const users = 100000

	counts := make(map[string]int)

	for i := 0; i < users; i++ {
		variantID, err := table.VariantFor(fmt.Sprintf("user-%d", i))
		require.NoError(t, err)

		counts[variantID]++
	}

	require.Len(t, counts, 2)

	for variantID, count := range counts {
		share := 100 * float64(count) / users

		assert.LessOrEqual(t, math.Abs(share-50), 1.0,
			"variant %s share %.2f%% deviates more than 1pp from 50%%", variantID, share)
	}
}

func TestTable_UnevenSplitDistribution(t *testing.T) {
	exp := &experiment.Experiment{
		ID:     "uneven",
		Name:   "Uneven split",
		Status: experiment.StatusRunning,
		Variants: []experiment.Variant{
			{ID: "control", Name: "Control", Allocation: 90},
			{ID: "treatment", Name: "Treatment", Allocation: 10},
		},
	}

	table, err := NewTable(exp)
	require.NoError(t, err)

	const users = 50000

	treatment := 0

	for i := 0; i < users; i++ {
		variantID, err := table.VariantFor(fmt.Sprintf("user-%d", i))
		require.NoError(t, err)

		if variantID == "treatment" {
			treatment++
		}
	}

	share := 100 * float64(treatment) / users
	assert.InDelta(t, 10, share, 1.0)
}
