// Package analysis computes experiment results: per-variant conversion
// summaries, pairwise significance against the control, sample ratio mismatch
// detection, and per-segment winner divergence.
package analysis

import (
	"time"

	"github.com/exphub-io/exphub/internal/stats"
)

type (
	// VariantCounts holds the raw per-variant aggregates the store computes by
	// joining events to assignments. Only events from users with an assignment
	// row for the experiment are counted; events that arrived before their
	// assignment became visible are excluded at read time.
	//
	// Exposed and Converted count distinct users, not events: a user who fired
	// five conversion events converted once.
	VariantCounts struct {
		VariantID  string
		Assigned   int     // users with an assignment row
		Exposed    int     // distinct users with at least one exposure event
		Converted  int     // distinct users with at least one conversion event
		ValueSum   float64 // sum of conversion event values (events with a value)
		ValueCount int     // number of conversion events carrying a value
	}

	// SegmentCounts holds per-segment, per-variant aggregates for one metadata
	// key/value pair observed on exposure events.
	SegmentCounts struct {
		Key       string
		Value     string
		VariantID string
		Exposed   int
		Converted int
	}

	// VariantSummary is the reported result for one variant.
	//
	// ConversionRate is nil when the variant has no exposures: a 0% rate out
	// of real exposures and an undefined rate out of none must stay
	// distinguishable.
	VariantSummary struct {
		VariantID      string
		Name           string
		Allocation     float64 // configured share, percent
		Assigned       int
		Exposed        int
		Converted      int
		ConversionRate *float64 // Converted / Exposed, nil when Exposed is 0
		TotalValue     float64  // sum of conversion event values
		MeanValue      *float64 // mean conversion value, nil when no valued events
	}

	// Comparison is a 2x2 chi-square test of one variant against the control.
	//
	// RelativeLift is nil when the control's conversion rate is zero; the
	// ratio is undefined there and AbsoluteDifference still carries the
	// direction and size of the effect.
	Comparison struct {
		ControlID          string
		VariantID          string
		ChiSquare          float64
		Significance       stats.Significance
		AbsoluteDifference float64  // variant rate minus control rate
		RelativeLift       *float64 // (variant rate / control rate - 1) * 100, in percent
	}

	// VariantRatio is one variant's expected versus observed assignment share.
	VariantRatio struct {
		VariantID     string
		ExpectedShare float64 // configured allocation / 100
		ObservedShare float64 // assigned / total assigned
		Deviation     float64 // |observed - expected| in percentage points
	}

	// SRMCheck reports whether observed assignment counts drifted from the
	// configured allocation. A mismatch usually means a bucketing or logging
	// bug, and conversion results should not be trusted until it is resolved.
	SRMCheck struct {
		TotalAssigned int
		Ratios        []VariantRatio
		MaxDeviation  float64 // percentage points
		Tolerance     float64 // percentage points
		Mismatch      bool
	}

	// SegmentResult is the per-variant outcome within one segment.
	SegmentResult struct {
		VariantID      string
		Exposed        int
		Converted      int
		ConversionRate float64
	}

	// SegmentFinding is the analysis of one metadata key/value segment that
	// met the materiality threshold.
	SegmentFinding struct {
		Key      string
		Value    string
		Results  []SegmentResult
		WinnerID string
		// Diverges is true when this segment's winner differs from the
		// experiment-wide winner.
		Diverges bool
	}

	// Summary is the full analysis of one experiment at a point in time.
	Summary struct {
		ExperimentID string
		GeneratedAt  time.Time
		Variants     []VariantSummary
		Comparisons  []Comparison
		SRM          SRMCheck
		Segments     []SegmentFinding
		// WinnerID is the variant with the highest conversion rate, empty
		// when no variant has any exposed users.
		WinnerID string
	}
)
