package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/exphub-io/exphub/internal/experiment"
	"github.com/exphub-io/exphub/internal/stats"
)

const (
	// DefaultSRMTolerance is the allowed drift between observed and expected
	// assignment shares, in percentage points.
	DefaultSRMTolerance = 1.0

	// DefaultMinSegmentUsers is the minimum exposed users every variant needs
	// within a segment before the segment is analyzed. Small segments produce
	// noisy winners.
	DefaultMinSegmentUsers = 100
)

// Store defines the read interface for analysis aggregates.
//
// Kept separate from ingestion.Store so analysis handlers depend only on the
// read side. Implemented by storage.AnalysisStore and storage.MemoryStore.
type Store interface {
	// VariantCounts returns per-variant aggregates for the experiment,
	// joining events to assignments at read time. Variants with no activity
	// may be absent from the result.
	VariantCounts(ctx context.Context, experimentID string) ([]VariantCounts, error)

	// SegmentCounts returns per-segment, per-variant aggregates for every
	// metadata key/value pair observed on the experiment's exposure events.
	SegmentCounts(ctx context.Context, experimentID string) ([]SegmentCounts, error)
}

// Experiments resolves experiment definitions. Satisfied by
// experiment.Registry.
type Experiments interface {
	Get(ctx context.Context, id string) (*experiment.Experiment, error)
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithSRMTolerance sets the sample ratio mismatch tolerance in percentage
// points.
func WithSRMTolerance(pp float64) Option {
	return func(a *Analyzer) {
		a.srmTolerance = pp
	}
}

// WithMinSegmentUsers sets the per-variant exposed user threshold a segment
// must meet to be analyzed.
func WithMinSegmentUsers(n int) Option {
	return func(a *Analyzer) {
		a.minSegmentUsers = n
	}
}

// Analyzer computes experiment summaries from stored aggregates.
type Analyzer struct {
	store           Store
	experiments     Experiments
	logger          *slog.Logger
	srmTolerance    float64
	minSegmentUsers int
}

// NewAnalyzer creates an analyzer with the given store and experiment source.
func NewAnalyzer(store Store, experiments Experiments, logger *slog.Logger, opts ...Option) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Analyzer{
		store:           store,
		experiments:     experiments,
		logger:          logger,
		srmTolerance:    DefaultSRMTolerance,
		minSegmentUsers: DefaultMinSegmentUsers,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Summarize computes the full analysis for one experiment.
//
// The control is the variant with the lowest id. Every configured variant
// appears in the summary even when it has no recorded activity yet.
func (a *Analyzer) Summarize(ctx context.Context, experimentID string) (*Summary, error) {
	exp, err := a.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	counts, err := a.store.VariantCounts(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("query variant counts: %w", err)
	}

	byVariant := make(map[string]VariantCounts, len(counts))
	for _, c := range counts {
		byVariant[c.VariantID] = c
	}

	variants := exp.SortedVariants()
	summaries := make([]VariantSummary, 0, len(variants))

	for _, v := range variants {
		c := byVariant[v.ID]

		s := VariantSummary{
			VariantID:  v.ID,
			Name:       v.Name,
			Allocation: v.Allocation,
			Assigned:   c.Assigned,
			Exposed:    c.Exposed,
			Converted:  c.Converted,
			TotalValue: c.ValueSum,
		}
		if c.Exposed > 0 {
			rate := float64(c.Converted) / float64(c.Exposed)
			s.ConversionRate = &rate
		}

		if c.ValueCount > 0 {
			mean := c.ValueSum / float64(c.ValueCount)
			s.MeanValue = &mean
		}

		summaries = append(summaries, s)
	}

	winnerID := pickWinner(summaries)

	summary := &Summary{
		ExperimentID: experimentID,
		GeneratedAt:  time.Now().UTC(),
		Variants:     summaries,
		Comparisons:  a.compare(summaries),
		SRM:          a.checkSRM(summaries),
		WinnerID:     winnerID,
	}

	segments, err := a.store.SegmentCounts(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("query segment counts: %w", err)
	}

	summary.Segments = a.analyzeSegments(experimentID, variants, segments, winnerID)

	if summary.SRM.Mismatch {
		a.logger.Warn("Sample ratio mismatch detected",
			slog.String("experiment_id", experimentID),
			slog.Float64("max_deviation_pp", summary.SRM.MaxDeviation),
			slog.Float64("tolerance_pp", summary.SRM.Tolerance),
		)
	}

	return summary, nil
}

// pickWinner returns the variant with the highest conversion rate among
// variants with a defined rate. Ties keep the earlier (lower id) variant.
func pickWinner(summaries []VariantSummary) string {
	winnerID := ""
	best := -1.0

	for _, s := range summaries {
		if s.ConversionRate == nil {
			continue
		}

		if *s.ConversionRate > best {
			best = *s.ConversionRate
			winnerID = s.VariantID
		}
	}

	return winnerID
}

// compare runs a 2x2 chi-square test of each non-control variant against the
// control (the lowest variant id).
func (a *Analyzer) compare(summaries []VariantSummary) []Comparison {
	if len(summaries) < 2 {
		return nil
	}

	control := summaries[0]

	controlRate := 0.0
	if control.ConversionRate != nil {
		controlRate = *control.ConversionRate
	}

	comparisons := make([]Comparison, 0, len(summaries)-1)

	for _, v := range summaries[1:] {
		chi := stats.ChiSquare(
			int64(control.Converted), int64(control.Exposed-control.Converted),
			int64(v.Converted), int64(v.Exposed-v.Converted),
		)

		variantRate := 0.0
		if v.ConversionRate != nil {
			variantRate = *v.ConversionRate
		}

		c := Comparison{
			ControlID:          control.VariantID,
			VariantID:          v.VariantID,
			ChiSquare:          chi,
			Significance:       stats.Classify(chi),
			AbsoluteDifference: variantRate - controlRate,
		}
		if controlRate > 0 {
			lift := (variantRate/controlRate - 1) * 100
			c.RelativeLift = &lift
		}

		comparisons = append(comparisons, c)
	}

	return comparisons
}

// checkSRM compares observed assignment shares to the configured allocation.
func (a *Analyzer) checkSRM(summaries []VariantSummary) SRMCheck {
	check := SRMCheck{Tolerance: a.srmTolerance}

	for _, s := range summaries {
		check.TotalAssigned += s.Assigned
	}

	for _, s := range summaries {
		ratio := VariantRatio{
			VariantID:     s.VariantID,
			ExpectedShare: s.Allocation / 100,
		}

		if check.TotalAssigned > 0 {
			ratio.ObservedShare = float64(s.Assigned) / float64(check.TotalAssigned)
			ratio.Deviation = (ratio.ObservedShare - ratio.ExpectedShare) * 100
			if ratio.Deviation < 0 {
				ratio.Deviation = -ratio.Deviation
			}
		}

		if ratio.Deviation > check.MaxDeviation {
			check.MaxDeviation = ratio.Deviation
		}

		check.Ratios = append(check.Ratios, ratio)
	}

	check.Mismatch = check.TotalAssigned > 0 && check.MaxDeviation > check.Tolerance

	return check
}

// analyzeSegments finds segments where every variant met the exposure
// threshold and flags those whose winner differs from the aggregate winner.
func (a *Analyzer) analyzeSegments(
	experimentID string, variants []experiment.Variant, counts []SegmentCounts, aggregateWinner string,
) []SegmentFinding {
	type segmentKey struct {
		key   string
		value string
	}

	grouped := make(map[segmentKey]map[string]SegmentCounts)
	for _, c := range counts {
		k := segmentKey{key: c.Key, value: c.Value}
		if grouped[k] == nil {
			grouped[k] = make(map[string]SegmentCounts)
		}

		grouped[k][c.VariantID] = c
	}

	keys := make([]segmentKey, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].key != keys[j].key {
			return keys[i].key < keys[j].key
		}

		return keys[i].value < keys[j].value
	})

	var findings []SegmentFinding

	for _, k := range keys {
		byVariant := grouped[k]

		material := true
		for _, v := range variants {
			if byVariant[v.ID].Exposed < a.minSegmentUsers {
				material = false

				break
			}
		}

		if !material {
			continue
		}

		finding := SegmentFinding{Key: k.key, Value: k.value}
		best := -1.0

		for _, v := range variants {
			c := byVariant[v.ID]

			r := SegmentResult{
				VariantID: v.ID,
				Exposed:   c.Exposed,
				Converted: c.Converted,
			}
			if c.Exposed > 0 {
				r.ConversionRate = float64(c.Converted) / float64(c.Exposed)
			}

			if r.ConversionRate > best {
				best = r.ConversionRate
				finding.WinnerID = v.ID
			}

			finding.Results = append(finding.Results, r)
		}

		finding.Diverges = aggregateWinner != "" && finding.WinnerID != aggregateWinner
		if finding.Diverges {
			a.logger.Info("Segment winner diverges from aggregate",
				slog.String("experiment_id", experimentID),
				slog.String("segment", k.key+"="+k.value),
				slog.String("segment_winner", finding.WinnerID),
				slog.String("aggregate_winner", aggregateWinner),
			)
		}

		findings = append(findings, finding)
	}

	return findings
}
