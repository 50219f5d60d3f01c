package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exphub-io/exphub/internal/experiment"
	"github.com/exphub-io/exphub/internal/stats"
)

type stubAnalysisStore struct {
	variants []VariantCounts
	segments []SegmentCounts
}

func (s *stubAnalysisStore) VariantCounts(_ context.Context, _ string) ([]VariantCounts, error) {
	return s.variants, nil
}

func (s *stubAnalysisStore) SegmentCounts(_ context.Context, _ string) ([]SegmentCounts, error) {
	return s.segments, nil
}

type stubExperimentSource struct {
	exp *experiment.Experiment
}

func (s *stubExperimentSource) Get(_ context.Context, id string) (*experiment.Experiment, error) {
	if s.exp == nil || s.exp.ID != id {
		return nil, experiment.ErrUnknownExperiment
	}

	clone := *s.exp

	return &clone, nil
}

func checkoutExperiment() *experiment.Experiment {
	return &experiment.Experiment{
		ID:     "checkout-cta",
		Name:   "Checkout CTA copy",
		Status: experiment.StatusRunning,
		Variants: []experiment.Variant{
			{ID: "control", Name: "Current copy", Allocation: 50},
			{ID: "treatment", Name: "New copy", Allocation: 50},
		},
	}
}

func newAnalyzerFixture(store *stubAnalysisStore, opts ...Option) *Analyzer {
	return NewAnalyzer(store, &stubExperimentSource{exp: checkoutExperiment()}, nil, opts...)
}

func TestAnalyzer_Summarize_ConversionAndSignificance(t *testing.T) {
	ctx := context.Background()
	store := &stubAnalysisStore{
		variants: []VariantCounts{
			{VariantID: "control", Assigned: 1000, Exposed: 1000, Converted: 100},
			{VariantID: "treatment", Assigned: 1000, Exposed: 1000, Converted: 150},
		},
	}

	summary, err := newAnalyzerFixture(store).Summarize(ctx, "checkout-cta")
	require.NoError(t, err)

	require.Len(t, summary.Variants, 2)
	assert.Equal(t, "control", summary.Variants[0].VariantID)
	require.NotNil(t, summary.Variants[0].ConversionRate)
	assert.InDelta(t, 0.10, *summary.Variants[0].ConversionRate, 1e-9)
	require.NotNil(t, summary.Variants[1].ConversionRate)
	assert.InDelta(t, 0.15, *summary.Variants[1].ConversionRate, 1e-9)

	assert.Equal(t, "treatment", summary.WinnerID)

	require.Len(t, summary.Comparisons, 1)
	cmp := summary.Comparisons[0]
	assert.Equal(t, "control", cmp.ControlID)
	assert.Equal(t, "treatment", cmp.VariantID)
	assert.InDelta(t, 11.4286, cmp.ChiSquare, 0.001)
	assert.Equal(t, stats.SignificantP001, cmp.Significance)
	assert.InDelta(t, 0.05, cmp.AbsoluteDifference, 1e-9)
	require.NotNil(t, cmp.RelativeLift)
	assert.InDelta(t, 50.0, *cmp.RelativeLift, 1e-9, "0.10 to 0.15 is a 50% relative lift")
}

func TestAnalyzer_Summarize_ZeroRateDistinctFromUndefined(t *testing.T) {
	ctx := context.Background()
	store := &stubAnalysisStore{
		variants: []VariantCounts{
			// Real exposures, zero conversions: a defined 0% rate.
			{VariantID: "control", Assigned: 100, Exposed: 100, Converted: 0},
			// No exposures at all: the rate does not exist yet.
			{VariantID: "treatment", Assigned: 100, Exposed: 0, Converted: 0},
		},
	}

	summary, err := newAnalyzerFixture(store).Summarize(ctx, "checkout-cta")
	require.NoError(t, err)

	require.Len(t, summary.Variants, 2)
	require.NotNil(t, summary.Variants[0].ConversionRate)
	assert.Zero(t, *summary.Variants[0].ConversionRate)
	assert.Nil(t, summary.Variants[1].ConversionRate, "no exposures means no rate, not 0%")

	assert.Equal(t, "control", summary.WinnerID, "a defined 0% rate still beats an undefined one")
}

func TestAnalyzer_Summarize_LiftUndefinedAtZeroControlRate(t *testing.T) {
	ctx := context.Background()
	store := &stubAnalysisStore{
		variants: []VariantCounts{
			{VariantID: "control", Assigned: 500, Exposed: 500, Converted: 0},
			{VariantID: "treatment", Assigned: 500, Exposed: 500, Converted: 25},
		},
	}

	summary, err := newAnalyzerFixture(store).Summarize(ctx, "checkout-cta")
	require.NoError(t, err)

	require.Len(t, summary.Comparisons, 1)
	assert.Nil(t, summary.Comparisons[0].RelativeLift)
	assert.InDelta(t, 0.05, summary.Comparisons[0].AbsoluteDifference, 1e-9)
}

func TestAnalyzer_Summarize_EventValues(t *testing.T) {
	ctx := context.Background()
	store := &stubAnalysisStore{
		variants: []VariantCounts{
			{VariantID: "control", Assigned: 100, Exposed: 100, Converted: 10, ValueSum: 250, ValueCount: 10},
			{VariantID: "treatment", Assigned: 100, Exposed: 100, Converted: 10},
		},
	}

	summary, err := newAnalyzerFixture(store).Summarize(ctx, "checkout-cta")
	require.NoError(t, err)

	assert.InDelta(t, 250.0, summary.Variants[0].TotalValue, 1e-9)
	require.NotNil(t, summary.Variants[0].MeanValue)
	assert.InDelta(t, 25.0, *summary.Variants[0].MeanValue, 1e-9)

	assert.Zero(t, summary.Variants[1].TotalValue)
	assert.Nil(t, summary.Variants[1].MeanValue, "no valued events, no mean")
}

func TestAnalyzer_Summarize_NoActivity(t *testing.T) {
	ctx := context.Background()
	store := &stubAnalysisStore{}

	summary, err := newAnalyzerFixture(store).Summarize(ctx, "checkout-cta")
	require.NoError(t, err)

	require.Len(t, summary.Variants, 2, "configured variants reported even with no data")
	assert.Empty(t, summary.WinnerID)
	assert.False(t, summary.SRM.Mismatch)
	assert.Empty(t, summary.Segments)
}

func TestAnalyzer_Summarize_UnknownExperiment(t *testing.T) {
	ctx := context.Background()

	_, err := newAnalyzerFixture(&stubAnalysisStore{}).Summarize(ctx, "missing")

	assert.ErrorIs(t, err, experiment.ErrUnknownExperiment)
}

func TestAnalyzer_SRM(t *testing.T) {
	ctx := context.Background()
	store := &stubAnalysisStore{
		variants: []VariantCounts{
			{VariantID: "control", Assigned: 520},
			{VariantID: "treatment", Assigned: 480},
		},
	}

	t.Run("default tolerance flags 2pp drift", func(t *testing.T) {
		summary, err := newAnalyzerFixture(store).Summarize(ctx, "checkout-cta")
		require.NoError(t, err)

		assert.True(t, summary.SRM.Mismatch)
		assert.InDelta(t, 2.0, summary.SRM.MaxDeviation, 1e-9)
		assert.Equal(t, 1000, summary.SRM.TotalAssigned)
	})

	t.Run("wider tolerance accepts it", func(t *testing.T) {
		summary, err := newAnalyzerFixture(store, WithSRMTolerance(3)).Summarize(ctx, "checkout-cta")
		require.NoError(t, err)

		assert.False(t, summary.SRM.Mismatch)
		assert.InDelta(t, 2.0, summary.SRM.MaxDeviation, 1e-9)
	})
}

func TestAnalyzer_Segments_DivergentWinner(t *testing.T) {
	ctx := context.Background()
	store := &stubAnalysisStore{
		variants: []VariantCounts{
			{VariantID: "control", Assigned: 1000, Exposed: 1000, Converted: 100},
			{VariantID: "treatment", Assigned: 1000, Exposed: 1000, Converted: 150},
		},
		segments: []SegmentCounts{
			// Mobile flips the aggregate result.
			{Key: "device", Value: "mobile", VariantID: "control", Exposed: 200, Converted: 60},
			{Key: "device", Value: "mobile", VariantID: "treatment", Exposed: 200, Converted: 40},
			// Desktop agrees with the aggregate.
			{Key: "device", Value: "desktop", VariantID: "control", Exposed: 300, Converted: 30},
			{Key: "device", Value: "desktop", VariantID: "treatment", Exposed: 300, Converted: 60},
			// Tablet is below the materiality threshold on both sides.
			{Key: "device", Value: "tablet", VariantID: "control", Exposed: 40, Converted: 30},
			{Key: "device", Value: "tablet", VariantID: "treatment", Exposed: 40, Converted: 2},
		},
	}

	summary, err := newAnalyzerFixture(store).Summarize(ctx, "checkout-cta")
	require.NoError(t, err)

	require.Len(t, summary.Segments, 2, "tablet segment excluded")

	desktop := summary.Segments[0]
	assert.Equal(t, "desktop", desktop.Value)
	assert.Equal(t, "treatment", desktop.WinnerID)
	assert.False(t, desktop.Diverges)

	mobile := summary.Segments[1]
	assert.Equal(t, "mobile", mobile.Value)
	assert.Equal(t, "control", mobile.WinnerID)
	assert.True(t, mobile.Diverges, "mobile winner differs from aggregate winner")
	require.Len(t, mobile.Results, 2)
	assert.InDelta(t, 0.30, mobile.Results[0].ConversionRate, 1e-9)
}

func TestAnalyzer_Segments_MaterialityThreshold(t *testing.T) {
	ctx := context.Background()
	store := &stubAnalysisStore{
		variants: []VariantCounts{
			{VariantID: "control", Assigned: 100, Exposed: 80, Converted: 10},
			{VariantID: "treatment", Assigned: 100, Exposed: 80, Converted: 20},
		},
		segments: []SegmentCounts{
			{Key: "device", Value: "mobile", VariantID: "control", Exposed: 40, Converted: 5},
			{Key: "device", Value: "mobile", VariantID: "treatment", Exposed: 40, Converted: 10},
		},
	}

	summary, err := newAnalyzerFixture(store, WithMinSegmentUsers(30)).Summarize(ctx, "checkout-cta")
	require.NoError(t, err)

	require.Len(t, summary.Segments, 1, "lowered threshold admits the segment")
	assert.Equal(t, "treatment", summary.Segments[0].WinnerID)

	summary, err = newAnalyzerFixture(store).Summarize(ctx, "checkout-cta")
	require.NoError(t, err)
	assert.Empty(t, summary.Segments, "default threshold excludes it")
}

func TestAnalyzer_Segments_MissingVariantIsNotMaterial(t *testing.T) {
	ctx := context.Background()
	store := &stubAnalysisStore{
		variants: []VariantCounts{
			{VariantID: "control", Assigned: 500, Exposed: 400, Converted: 40},
			{VariantID: "treatment", Assigned: 500, Exposed: 400, Converted: 60},
		},
		segments: []SegmentCounts{
			// Only one side of the experiment ever saw this segment.
			{Key: "country", Value: "nz", VariantID: "control", Exposed: 150, Converted: 30},
		},
	}

	summary, err := newAnalyzerFixture(store).Summarize(ctx, "checkout-cta")
	require.NoError(t, err)

	assert.Empty(t, summary.Segments)
}
