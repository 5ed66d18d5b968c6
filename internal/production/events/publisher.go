package events

import (
	"context"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/bakeflow/bakeflow-backend/pkg/messaging"
	"github.com/shopspring/decimal"
)

const source = "production-service"

// Sink delivers an event under a routing key. *messaging.Publisher implements it.
type Sink interface {
	PublishWithRoutingKey(ctx context.Context, routingKey string, event *messaging.Event) error
}

// ProductionEventPublisher publishes production events on the production exchange.
// A nil publisher drops every event.
type ProductionEventPublisher struct {
	sink   Sink
	logger *logger.Logger
}

// NewProductionEventPublisher declares the production exchange and returns a publisher for it.
func NewProductionEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*ProductionEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeProductionEvents, source, log)
	if err != nil {
		return nil, err
	}
	return NewWithSink(publisher, log), nil
}

// NewWithSink builds a publisher over any Sink.
func NewWithSink(sink Sink, log *logger.Logger) *ProductionEventPublisher {
	return &ProductionEventPublisher{sink: sink, logger: log.WithComponent("production-events")}
}

// RunPlanned publishes production.run.planned.
func (p *ProductionEventPublisher) RunPlanned(ctx context.Context, run *domain.ProductionRun) {
	if p == nil {
		return
	}
	p.publish(ctx, run.TenantID, messaging.EventRunPlanned, messaging.RunPlannedEvent{
		RunID:          run.ID,
		RecipeID:       run.RecipeID,
		TargetQuantity: run.TargetQuantity,
		Unit:           run.Unit,
		Multiplier:     run.Multiplier,
	})
}

// RunAllocated publishes production.run.allocated with one line per batch draw.
func (p *ProductionEventPublisher) RunAllocated(ctx context.Context, run *domain.ProductionRun, allocations []*domain.Allocation) {
	if p == nil {
		return
	}
	lines := make([]messaging.AllocationLine, 0, len(allocations))
	for _, a := range allocations {
		lines = append(lines, messaging.AllocationLine{
			AllocationID: a.ID,
			MaterialKind: string(a.Material.Kind),
			MaterialID:   a.Material.ID,
			BatchID:      a.BatchID,
			Quantity:     a.QuantityAllocated,
			Unit:         a.Unit,
			UnitCost:     a.UnitCost,
		})
	}
	p.publish(ctx, run.TenantID, messaging.EventRunAllocated, messaging.RunAllocatedEvent{
		RunID:       run.ID,
		RecipeID:    run.RecipeID,
		Allocations: lines,
	})
}

// AllocationConsumed publishes production.allocation.consumed.
func (p *ProductionEventPublisher) AllocationConsumed(ctx context.Context, a *domain.Allocation) {
	if p == nil {
		return
	}
	consumed := decimal.Zero
	if a.QuantityConsumed != nil {
		consumed = *a.QuantityConsumed
	}
	p.publish(ctx, a.TenantID, messaging.EventAllocationConsumed, messaging.AllocationConsumedEvent{
		RunID:             a.ProductionRunID,
		AllocationID:      a.ID,
		BatchID:           a.BatchID,
		QuantityAllocated: a.QuantityAllocated,
		QuantityConsumed:  consumed,
		Variance:          a.Variance(),
	})
}

// RunCompleted publishes production.run.completed with the stored costs and output batch.
func (p *ProductionEventPublisher) RunCompleted(ctx context.Context, run *domain.ProductionRun, output *domain.Batch) {
	if p == nil {
		return
	}
	data := messaging.RunCompletedEvent{
		RunID:             run.ID,
		RecipeID:          run.RecipeID,
		OutputBatchID:     output.ID,
		OutputBatchNumber: output.BatchNumber,
		ProductID:         output.Material.ID,
		Quantity:          output.OnHand,
		MaterialCost:      valueOrZero(run.MaterialCost),
		OverheadCost:      valueOrZero(run.OverheadCost),
		TotalCost:         valueOrZero(run.TotalCost),
		UnitCost:          output.UnitCost,
		ExpirationDate:    output.ExpirationDate,
	}
	p.publish(ctx, run.TenantID, messaging.EventRunCompleted, data)
}

// RunCancelled publishes production.run.cancelled.
func (p *ProductionEventPublisher) RunCancelled(ctx context.Context, run *domain.ProductionRun, released int) {
	if p == nil {
		return
	}
	p.publish(ctx, run.TenantID, messaging.EventRunCancelled, messaging.RunCancelledEvent{
		RunID:               run.ID,
		ReleasedAllocations: released,
	})
}

func (p *ProductionEventPublisher) publish(ctx context.Context, tenantID, eventType string, data any) {
	event, err := messaging.NewEvent(eventType, source, tenantID, messaging.CorrelationID(ctx), data)
	if err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to build event")
		return
	}
	if err := p.sink.PublishWithRoutingKey(ctx, eventType, event); err != nil {
		p.logger.Error().
			Err(err).
			Str("event_type", eventType).
			Str("tenant_id", tenantID).
			Msg("failed to publish event")
	}
}

func valueOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
