package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/internal/production/events"
	"github.com/bakeflow/bakeflow-backend/internal/production/service"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/bakeflow/bakeflow-backend/pkg/messaging"
	"github.com/bakeflow/bakeflow-backend/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ service.EventPublisher = (*events.ProductionEventPublisher)(nil)

const tenantID = "6f1c2d8e-4b7a-4c1e-9a55-0d2f3b4c5d6e"

func sampleRun() *domain.ProductionRun {
	total := decimal.RequireFromString("13.2")
	material := decimal.RequireFromString("11")
	overhead := decimal.RequireFromString("2.2")
	return &domain.ProductionRun{
		ID:             "1a2b3c4d-0000-4000-8000-000000000001",
		TenantID:       tenantID,
		RecipeID:       "recipe-bread",
		TargetQuantity: decimal.NewFromInt(2),
		Unit:           "loaf",
		Multiplier:     decimal.NewFromInt(2),
		Status:         domain.RunCompleted,
		MaterialCost:   &material,
		OverheadCost:   &overhead,
		TotalCost:      &total,
	}
}

func TestProductionEventPublisher_PublishesEachEventType(t *testing.T) {
	sink := testutil.NewMockPublisher()
	p := events.NewWithSink(sink, logger.Nop())
	ctx := messaging.WithCorrelationID(context.Background(), "corr-1")
	run := sampleRun()
	consumed := decimal.RequireFromString("1.8")
	alloc := &domain.Allocation{
		ID:                "alloc-1",
		TenantID:          tenantID,
		ProductionRunID:   run.ID,
		Material:          domain.RawMaterial("flour"),
		BatchID:           "batch-1",
		QuantityAllocated: decimal.NewFromInt(2),
		QuantityConsumed:  &consumed,
		Unit:              "kg",
		UnitCost:          decimal.RequireFromString("3.5"),
		Status:            domain.AllocationConsumed,
	}
	expires := time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC)
	output := &domain.Batch{
		ID:             "out-1",
		Material:       domain.FinishedProduct("bread"),
		BatchNumber:    "PR-1A2B3C4D-20250314090000",
		OnHand:         decimal.NewFromInt(2),
		UnitCost:       decimal.RequireFromString("6.6"),
		ExpirationDate: &expires,
	}

	p.RunPlanned(ctx, run)
	p.RunAllocated(ctx, run, []*domain.Allocation{alloc})
	p.AllocationConsumed(ctx, alloc)
	p.RunCompleted(ctx, run, output)
	p.RunCancelled(ctx, run, 3)

	require.Len(t, sink.PublishedEvents, 5)
	sink.AssertEventPublished(t, messaging.EventRunPlanned)
	for _, published := range sink.PublishedEvents {
		assert.Equal(t, published.Event.Type, published.RoutingKey)
		assert.Equal(t, tenantID, published.Event.TenantID)
		assert.Equal(t, "corr-1", published.Event.CorrelationID)
		assert.Equal(t, "production-service", published.Event.Source)
	}

	var allocated messaging.RunAllocatedEvent
	require.NoError(t, sink.Events(messaging.EventRunAllocated)[0].UnmarshalData(&allocated))
	require.Len(t, allocated.Allocations, 1)
	assert.Equal(t, "raw_material", allocated.Allocations[0].MaterialKind)
	assert.True(t, allocated.Allocations[0].UnitCost.Equal(decimal.RequireFromString("3.5")))

	var consumedEvent messaging.AllocationConsumedEvent
	require.NoError(t, sink.Events(messaging.EventAllocationConsumed)[0].UnmarshalData(&consumedEvent))
	assert.True(t, consumedEvent.Variance.Equal(decimal.RequireFromString("0.2")))

	var completed messaging.RunCompletedEvent
	require.NoError(t, sink.Events(messaging.EventRunCompleted)[0].UnmarshalData(&completed))
	assert.Equal(t, "bread", completed.ProductID)
	assert.True(t, completed.TotalCost.Equal(decimal.RequireFromString("13.2")))
	assert.True(t, completed.UnitCost.Equal(decimal.RequireFromString("6.6")))

	var cancelled messaging.RunCancelledEvent
	require.NoError(t, sink.Events(messaging.EventRunCancelled)[0].UnmarshalData(&cancelled))
	assert.Equal(t, 3, cancelled.ReleasedAllocations)
}

func TestProductionEventPublisher_SwallowsSinkErrors(t *testing.T) {
	sink := testutil.NewMockPublisher()
	sink.Err = errors.New("channel closed")
	p := events.NewWithSink(sink, logger.Nop())

	assert.NotPanics(t, func() { p.RunPlanned(context.Background(), sampleRun()) })
	sink.AssertNoEventsPublished(t)
}

func TestProductionEventPublisher_NilIsSafe(t *testing.T) {
	var p *events.ProductionEventPublisher
	assert.NotPanics(t, func() {
		p.RunPlanned(context.Background(), sampleRun())
		p.RunCancelled(context.Background(), sampleRun(), 0)
	})
}
