package order

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenStore(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStore_CreateAssignsIDAndDefaults(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	o := &LabOrder{SampleID: "SAMPLE123", PatientName: "DOE^JOHN", TestType: "glucose"}
	require.NoError(t, store.Create(ctx, o))

	assert.NotZero(t, o.ID)
	assert.Equal(t, "GLUCOSE", o.TestType)
	assert.Equal(t, StatusPending, o.Status)
}

func TestStore_BySampleAndTest(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &LabOrder{SampleID: "Sample123", TestType: "GLUCOSE"}))

	t.Run("case insensitive match", func(t *testing.T) {
		o, err := store.BySampleAndTest(ctx, "sample123", "glucose")
		require.NoError(t, err)
		assert.Equal(t, "Sample123", o.SampleID)
		assert.Equal(t, "GLUCOSE", o.TestType)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := store.BySampleAndTest(ctx, "SAMPLE123", "TSH")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Update(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	o := &LabOrder{SampleID: "S1", TestType: "TSH"}
	require.NoError(t, store.Create(ctx, o))

	o.ResultValue = "2.5"
	o.ResultUnits = "uIU/mL"
	o.Status = StatusCompleted
	require.NoError(t, store.Update(ctx, o))

	got, err := store.BySampleAndTest(ctx, "S1", "TSH")
	require.NoError(t, err)
	assert.Equal(t, "2.5", got.ResultValue)
	assert.Equal(t, "uIU/mL", got.ResultUnits)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestStore_UpdateMissingRow(t *testing.T) {
	store := testStore(t)

	err := store.Update(context.Background(), &LabOrder{ID: 999, Status: StatusError})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PendingBySample(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &LabOrder{SampleID: "S1", TestType: "GLUCOSE"}))
	require.NoError(t, store.Create(ctx, &LabOrder{SampleID: "S1", TestType: "TSH"}))
	require.NoError(t, store.Create(ctx, &LabOrder{SampleID: "S2", TestType: "TSH"}))

	completed := &LabOrder{SampleID: "S1", TestType: "FT4", Status: StatusCompleted}
	require.NoError(t, store.Create(ctx, completed))

	pending, err := store.PendingBySample(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "GLUCOSE", pending[0].TestType)
	assert.Equal(t, "TSH", pending[1].TestType)
}

func TestStore_All(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, store.Create(ctx, &LabOrder{SampleID: "S1", TestType: "A"}))
	require.NoError(t, store.Create(ctx, &LabOrder{SampleID: "S2", TestType: "B"}))

	all, err = store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Less(t, all[0].ID, all[1].ID)
}
