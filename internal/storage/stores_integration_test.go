package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/exphub-io/exphub/internal/assignment"
	"github.com/exphub-io/exphub/internal/config"
	"github.com/exphub-io/exphub/internal/experiment"
	"github.com/exphub-io/exphub/internal/ingestion"
)

// setupStores provisions a migrated postgres container and returns the
// connection wrapper. One container per test keeps tests independent.
func setupStores(ctx context.Context, t *testing.T) *Connection {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	return NewConnectionFromDB(testDB.Connection)
}

func TestExperimentStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupStores(ctx, t)

	store, err := NewExperimentStore(conn, nil)
	require.NoError(t, err)

	exp := &experiment.Experiment{
		ID:          "checkout-cta",
		Name:        "Checkout CTA copy",
		Description: "Button copy test",
		Status:      experiment.StatusPlanned,
		StartAt:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Variants: []experiment.Variant{
			{ID: "control", Name: "Current copy", Allocation: 50},
			{ID: "treatment", Name: "New copy", Allocation: 50},
		},
	}

	require.NoError(t, store.CreateExperiment(ctx, exp))

	t.Run("duplicate id maps unique violation", func(t *testing.T) {
		err := store.CreateExperiment(ctx, exp)

		assert.ErrorIs(t, err, experiment.ErrDuplicateExperiment)
	})

	t.Run("round trip", func(t *testing.T) {
		got, err := store.GetExperiment(ctx, "checkout-cta")
		require.NoError(t, err)

		assert.Equal(t, exp.Name, got.Name)
		assert.Equal(t, experiment.StatusPlanned, got.Status)
		assert.True(t, exp.StartAt.Equal(got.StartAt))
		assert.True(t, got.EndAt.IsZero(), "NULL end_at maps to zero time")
		require.Len(t, got.Variants, 2)
		assert.Equal(t, "control", got.Variants[0].ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.GetExperiment(ctx, "missing")

		assert.ErrorIs(t, err, experiment.ErrUnknownExperiment)
	})

	t.Run("status CAS", func(t *testing.T) {
		require.NoError(t, store.UpdateStatus(ctx,
			"checkout-cta", experiment.StatusPlanned, experiment.StatusRunning))

		err := store.UpdateStatus(ctx,
			"checkout-cta", experiment.StatusPlanned, experiment.StatusRunning)
		assert.ErrorIs(t, err, experiment.ErrInvalidTransition)

		err = store.UpdateStatus(ctx,
			"missing", experiment.StatusPlanned, experiment.StatusRunning)
		assert.ErrorIs(t, err, experiment.ErrUnknownExperiment)
	})
}

func TestAssignmentAndAnalysisStores_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupStores(ctx, t)

	experiments, err := NewExperimentStore(conn, nil)
	require.NoError(t, err)
	assignments, err := NewAssignmentStore(conn, nil)
	require.NoError(t, err)
	events, err := NewEventStore(conn, nil)
	require.NoError(t, err)
	reads, err := NewAnalysisStore(conn, nil)
	require.NoError(t, err)

	require.NoError(t, experiments.CreateExperiment(ctx, &experiment.Experiment{
		ID:     "checkout-cta",
		Name:   "Checkout CTA copy",
		Status: experiment.StatusRunning,
		Variants: []experiment.Variant{
			{ID: "control", Name: "Current copy", Allocation: 50},
			{ID: "treatment", Name: "New copy", Allocation: 50},
		},
	}))

	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("assignment insert and conflict", func(t *testing.T) {
		_, err := assignments.FindAssignment(ctx, "alice", "checkout-cta")
		assert.ErrorIs(t, err, assignment.ErrAssignmentNotFound)

		first, err := assignments.CreateAssignment(ctx, &assignment.Assignment{
			UserID: "alice", ExperimentID: "checkout-cta", VariantID: "control", AssignedAt: now,
		})
		require.NoError(t, err)
		assert.Equal(t, "control", first.VariantID)

		// Conflict: the stored row wins, the loser's candidate is discarded.
		second, err := assignments.CreateAssignment(ctx, &assignment.Assignment{
			UserID: "alice", ExperimentID: "checkout-cta", VariantID: "treatment", AssignedAt: now.Add(time.Minute),
		})
		require.NoError(t, err)
		assert.Equal(t, "control", second.VariantID)
		assert.True(t, first.AssignedAt.Equal(second.AssignedAt))
	})

	t.Run("event dedup", func(t *testing.T) {
		event := &ingestion.Event{
			ID: "evt-1", UserID: "alice", ExperimentID: "checkout-cta",
			Type: ingestion.TypeExposure, Timestamp: now,
			Metadata: map[string]string{"device": "mobile"},
		}

		stored, duplicate, err := events.AppendEvent(ctx, event)
		require.NoError(t, err)
		assert.True(t, stored)
		assert.False(t, duplicate)

		stored, duplicate, err = events.AppendEvent(ctx, event)
		require.NoError(t, err)
		assert.False(t, stored)
		assert.True(t, duplicate)
	})

	t.Run("analysis aggregates", func(t *testing.T) {
		value := 12.5

		_, _, err := events.AppendEvent(ctx, &ingestion.Event{
			ID: "evt-2", UserID: "alice", ExperimentID: "checkout-cta",
			Type: ingestion.TypeConversion, Timestamp: now.Add(time.Minute), Value: &value,
		})
		require.NoError(t, err)

		// bob converted without an assignment row: invisible to aggregates.
		_, _, err = events.AppendEvent(ctx, &ingestion.Event{
			ID: "evt-3", UserID: "bob", ExperimentID: "checkout-cta",
			Type: ingestion.TypeConversion, Timestamp: now,
		})
		require.NoError(t, err)

		counts, err := reads.VariantCounts(ctx, "checkout-cta")
		require.NoError(t, err)
		require.Len(t, counts, 1)
		assert.Equal(t, "control", counts[0].VariantID)
		assert.Equal(t, 1, counts[0].Assigned)
		assert.Equal(t, 1, counts[0].Exposed)
		assert.Equal(t, 1, counts[0].Converted)
		assert.InDelta(t, 12.5, counts[0].ValueSum, 1e-9)
		assert.Equal(t, 1, counts[0].ValueCount)

		segments, err := reads.SegmentCounts(ctx, "checkout-cta")
		require.NoError(t, err)
		require.Len(t, segments, 1)
		assert.Equal(t, "device", segments[0].Key)
		assert.Equal(t, "mobile", segments[0].Value)
		assert.Equal(t, "control", segments[0].VariantID)
		assert.Equal(t, 1, segments[0].Exposed)
		assert.Equal(t, 1, segments[0].Converted)
	})
}

func TestPersistentKeyStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupStores(ctx, t)

	store, err := NewPersistentKeyStore(conn, nil)
	require.NoError(t, err)

	plaintext, err := GenerateAPIKey()
	require.NoError(t, err)

	key := &Key{
		ID:        "key-1",
		Key:       plaintext,
		Name:      "ci pipeline",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, store.Add(ctx, key))
	assert.ErrorIs(t, store.Add(ctx, key), ErrKeyAlreadyExists)

	found, ok := store.FindByKey(ctx, plaintext)
	require.True(t, ok)
	assert.Equal(t, "key-1", found.ID)
	assert.NotEqual(t, plaintext, found.Key)

	_, ok = store.FindByKey(ctx, plaintext[:len(plaintext)-1]+"!")
	assert.False(t, ok)

	require.NoError(t, store.Deactivate(ctx, "key-1"))

	_, ok = store.FindByKey(ctx, plaintext)
	assert.False(t, ok)
}
