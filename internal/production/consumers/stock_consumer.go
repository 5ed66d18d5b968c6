package consumers

import (
	"context"
	"errors"
	"fmt"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/internal/production/service"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/bakeflow/bakeflow-backend/pkg/messaging"
	"github.com/bakeflow/bakeflow-backend/pkg/tenant"
)

const stockQueue = "production-service.stock-events"

// BatchReceiver stores received stock as a batch.
type BatchReceiver interface {
	ReceiveBatch(ctx context.Context, req service.ReceiveBatchRequest) (*domain.Batch, error)
}

// StockEventConsumer turns inventory stock receipts into material batches.
type StockEventConsumer struct {
	consumer *messaging.Consumer
	receiver BatchReceiver
	logger   *logger.Logger
}

// NewStockEventConsumer binds the stock queue to the inventory exchange.
func NewStockEventConsumer(rmq *messaging.RabbitMQ, receiver BatchReceiver, log *logger.Logger) (*StockEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, stockQueue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeInventoryEvents, messaging.EventStockReceived); err != nil {
		return nil, err
	}

	c := NewStockEventHandler(receiver, log)
	c.consumer = consumer
	consumer.RegisterHandler(messaging.EventStockReceived, c.HandleStockReceived)

	return c, nil
}

// NewStockEventHandler returns a consumer without a queue, for direct dispatch.
func NewStockEventHandler(receiver BatchReceiver, log *logger.Logger) *StockEventConsumer {
	return &StockEventConsumer{
		receiver: receiver,
		logger:   log.WithComponent("stock-consumer"),
	}
}

// Start starts consuming messages
func (c *StockEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// HandleStockReceived creates a batch in the event's tenant. Events that can
// never succeed are marked permanent so they are dead-lettered.
func (c *StockEventConsumer) HandleStockReceived(ctx context.Context, event *messaging.Event) error {
	if event.TenantID == "" {
		return messaging.Permanent(errors.New("stock received event without tenant"))
	}

	var data messaging.StockReceivedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(fmt.Errorf("decode stock received event: %w", err))
	}

	kind, err := domain.ParseMaterialKind(data.MaterialKind)
	if err != nil {
		return messaging.Permanent(err)
	}

	ctx = tenant.WithTenantID(ctx, event.TenantID)
	ctx = messaging.WithCorrelationID(ctx, event.CorrelationID)

	batch, err := c.receiver.ReceiveBatch(ctx, service.ReceiveBatchRequest{
		BatchID:        data.BatchID,
		MaterialKind:   kind,
		MaterialID:     data.MaterialID,
		BatchNumber:    data.BatchNumber,
		Quantity:       data.Quantity,
		Unit:           data.Unit,
		UnitCost:       data.UnitCost,
		ExpirationDate: data.ExpirationDate,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrMaterialNotFound) {
			return messaging.Permanent(err)
		}
		return err
	}

	c.logger.WithTenantID(event.TenantID).WithCorrelationID(event.CorrelationID).Info().
		Str("event_id", event.ID).
		Str("batch_id", batch.ID).
		Str("material", batch.Material.String()).
		Msg("stock receipt recorded")
	return nil
}
