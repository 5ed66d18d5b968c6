package consumers_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bakeflow/bakeflow-backend/internal/production/consumers"
	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/internal/production/service"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/bakeflow/bakeflow-backend/pkg/messaging"
	"github.com/bakeflow/bakeflow-backend/pkg/tenant"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenantID = "6f1c2d8e-4b7a-4c1e-9a55-0d2f3b4c5d6e"

type fakeReceiver struct {
	err      error
	tenantID string
	requests []service.ReceiveBatchRequest
}

func (f *fakeReceiver) ReceiveBatch(ctx context.Context, req service.ReceiveBatchRequest) (*domain.Batch, error) {
	f.tenantID, _ = tenant.TenantID(ctx)
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Batch{
		ID:       "batch-1",
		Material: domain.MaterialRef{Kind: req.MaterialKind, ID: req.MaterialID},
		OnHand:   req.Quantity,
	}, nil
}

func stockEvent(t *testing.T, tenant string, data any) *messaging.Event {
	t.Helper()
	event, err := messaging.NewEvent(messaging.EventStockReceived, "inventory-service", tenant, "corr-7", data)
	require.NoError(t, err)
	return event
}

func flourReceipt() messaging.StockReceivedEvent {
	return messaging.StockReceivedEvent{
		MaterialKind: "raw_material",
		MaterialID:   "flour",
		BatchNumber:  "LOT-77",
		Quantity:     decimal.RequireFromString("25"),
		Unit:         "kg",
		UnitCost:     decimal.RequireFromString("0.85"),
	}
}

func TestHandleStockReceived_CreatesBatchInEventTenant(t *testing.T) {
	receiver := &fakeReceiver{}
	c := consumers.NewStockEventHandler(receiver, logger.Nop())

	err := c.HandleStockReceived(context.Background(), stockEvent(t, tenantID, flourReceipt()))
	require.NoError(t, err)

	require.Len(t, receiver.requests, 1)
	assert.Equal(t, tenantID, receiver.tenantID)
	req := receiver.requests[0]
	assert.Equal(t, domain.MaterialRaw, req.MaterialKind)
	assert.Equal(t, "LOT-77", req.BatchNumber)
	assert.True(t, req.Quantity.Equal(decimal.RequireFromString("25")))
}

func TestHandleStockReceived_Failures(t *testing.T) {
	tests := []struct {
		name      string
		tenant    string
		data      any
		err       error
		permanent bool
	}{
		{name: "missing tenant", tenant: "", data: flourReceipt(), permanent: true},
		{name: "undecodable payload", tenant: tenantID, data: "not an object", permanent: true},
		{
			name:   "unknown material kind",
			tenant: tenantID,
			data: func() messaging.StockReceivedEvent {
				e := flourReceipt()
				e.MaterialKind = "packaging"
				return e
			}(),
			permanent: true,
		},
		{
			name:      "invalid quantity",
			tenant:    tenantID,
			data:      flourReceipt(),
			err:       &domain.ValidationError{Field: "quantity", Message: "must be greater than zero"},
			permanent: true,
		},
		{
			name:      "unknown material",
			tenant:    tenantID,
			data:      flourReceipt(),
			err:       &domain.MaterialNotFoundError{Material: domain.RawMaterial("flour")},
			permanent: true,
		},
		{
			name:      "database unavailable",
			tenant:    tenantID,
			data:      flourReceipt(),
			err:       errors.New("connection refused"),
			permanent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := consumers.NewStockEventHandler(&fakeReceiver{err: tt.err}, logger.Nop())

			err := c.HandleStockReceived(context.Background(), stockEvent(t, tt.tenant, tt.data))
			require.Error(t, err)
			assert.Equal(t, tt.permanent, messaging.IsPermanent(err))
		})
	}
}
