package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestOutputBatchNumber(t *testing.T) {
	at := mustTime("2025-03-14T09:26:53Z")
	assert.Equal(t, "PR-3F2A9C1B-20250314092653",
		OutputBatchNumber("3f2a9c1b-7d4e-4b8a-9f00-0123456789ab", at))
	assert.Equal(t, "PR-AB-20250314092653", OutputBatchNumber("ab", at))
}

func TestProductionRun_Start(t *testing.T) {
	now := mustTime("2025-03-14T09:00:00Z")
	run := &ProductionRun{ID: "r1", Status: RunPlanned}
	assert.True(t, run.Start(now))
	assert.Equal(t, RunInProgress, run.Status)
	require.NotNil(t, run.StartedAt)
	assert.False(t, run.Start(now.Add(time.Minute)))
	assert.Equal(t, now, *run.StartedAt)
}

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.False(t, RunPlanned.IsTerminal())
	assert.False(t, RunInProgress.IsTerminal())
	assert.True(t, RunCompleted.IsTerminal())
	assert.True(t, RunCancelled.IsTerminal())
}

func TestMaterialRef(t *testing.T) {
	raw, finished := RawMaterial("flour").Columns()
	require.NotNil(t, raw)
	assert.Nil(t, finished)

	ref, err := MaterialFromColumns(nil, strPtr("dough"))
	require.NoError(t, err)
	assert.Equal(t, FinishedProduct("dough"), ref)

	_, err = MaterialFromColumns(strPtr("a"), strPtr("b"))
	assert.Error(t, err)
	_, err = MaterialFromColumns(nil, nil)
	assert.Error(t, err)

	assert.ErrorIs(t, MaterialRef{Kind: "intermediate", ID: "x"}.Validate(), ErrValidation)
	assert.ErrorIs(t, MaterialRef{Kind: MaterialRaw}.Validate(), ErrValidation)

	kind, err := ParseMaterialKind("raw")
	require.NoError(t, err)
	assert.Equal(t, MaterialRaw, kind)
}

func TestErrors_MatchSentinels(t *testing.T) {
	short := &InsufficientStockError{Material: RawMaterial("flour"), Required: qty("2"), Available: qty("1.5")}
	assert.ErrorIs(t, short, ErrInsufficientStock)
	assert.True(t, short.Shortage().Equal(qty("0.5")))
	assert.Contains(t, short.Error(), "raw_material:flour")

	missing := &InvalidAllocationStateError{AllocationID: "a1"}
	assert.ErrorIs(t, missing, ErrAllocationNotFound)
	assert.ErrorIs(t, missing, ErrInvalidAllocationState)

	wrongState := &InvalidAllocationStateError{AllocationID: "a1", Status: AllocationConsumed, Expected: AllocationReserved}
	assert.NotErrorIs(t, wrongState, ErrAllocationNotFound)

	conc := &ConcurrencyError{Attempts: 4, Err: ErrConcurrencyConflict}
	assert.ErrorIs(t, conc, ErrConcurrencyConflict)
}

func strPtr(s string) *string { return &s }
