package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/internal/production/repository/memory"
	"github.com/bakeflow/bakeflow-backend/internal/production/service"
	"github.com/bakeflow/bakeflow-backend/pkg/config"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/bakeflow/bakeflow-backend/pkg/tenant"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testTenantID  = "0b7c8a52-6d1e-4f3a-9c2b-5e8d7f6a1b01"
	otherTenantID = "0b7c8a52-6d1e-4f3a-9c2b-5e8d7f6a1b02"
	flourID       = "flour"
	butterID      = "butter"
	breadID       = "bread"
	breadRecipeID = "bread-recipe"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func qty(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func tenantCtx(tenantID string) context.Context {
	return tenant.WithTenantID(context.Background(), tenantID)
}

func testConfig() config.ProductionConfig {
	return config.ProductionConfig{
		DefaultOverheadPercent:  20,
		DefaultShelfLife:        72 * time.Hour,
		ForceConsumeOnComplete:  true,
		AllocationMaxRetries:    3,
		AllocationRetryInterval: time.Millisecond,
	}
}

// recordingPublisher remembers which events were published.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) record(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, name)
}

func (p *recordingPublisher) RunPlanned(context.Context, *domain.ProductionRun) { p.record("planned") }
func (p *recordingPublisher) RunAllocated(context.Context, *domain.ProductionRun, []*domain.Allocation) {
	p.record("allocated")
}
func (p *recordingPublisher) AllocationConsumed(context.Context, *domain.Allocation) {
	p.record("consumed")
}
func (p *recordingPublisher) RunCompleted(context.Context, *domain.ProductionRun, *domain.Batch) {
	p.record("completed")
}
func (p *recordingPublisher) RunCancelled(context.Context, *domain.ProductionRun, int) {
	p.record("cancelled")
}

func (p *recordingPublisher) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == name {
			n++
		}
	}
	return n
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	stores service.Stores
	events *recordingPublisher
	cfg    config.ProductionConfig
	svc    *service.ProductionService
}

func newFixture(t *testing.T, tweaks ...func(*config.ProductionConfig)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, tweak := range tweaks {
		tweak(&cfg)
	}

	store := memory.NewStore()
	store.SetClock(func() time.Time { return fixedNow })
	store.AddRawMaterial(testTenantID, flourID)
	store.AddRawMaterial(testTenantID, butterID)
	store.AddFinishedProduct(testTenantID, breadID)

	f := &fixture{
		t:      t,
		ctx:    tenantCtx(testTenantID),
		store:  store,
		stores: store.Stores(),
		events: &recordingPublisher{},
		cfg:    cfg,
	}
	f.svc = service.NewProductionService(f.stores, f.events, cfg, logger.Nop(), service.WithClock(func() time.Time { return fixedNow }))
	return f
}

// recipe registers a recipe yielding 1 unit of bread from the given ingredients.
func (f *fixture) recipe(ingredients ...domain.Ingredient) *domain.Recipe {
	f.t.Helper()
	r := &domain.Recipe{
		ID:              breadRecipeID,
		TenantID:        testTenantID,
		Name:            "Sourdough loaf",
		OutputProductID: breadID,
		YieldQuantity:   qty("1"),
		YieldUnit:       "loaf",
		Ingredients:     ingredients,
	}
	f.store.AddRecipe(r)
	return r
}

func ingredient(materialID, quantity string) domain.Ingredient {
	return domain.Ingredient{Material: domain.RawMaterial(materialID), Quantity: qty(quantity), Unit: "kg"}
}

func (f *fixture) batch(materialID, onHand, unitCost string, expires *time.Time) *domain.Batch {
	f.t.Helper()
	b := &domain.Batch{
		TenantID:       testTenantID,
		Material:       domain.RawMaterial(materialID),
		BatchNumber:    "LOT-" + materialID,
		OnHand:         qty(onHand),
		Reserved:       decimal.Zero,
		Unit:           "kg",
		UnitCost:       qty(unitCost),
		ExpirationDate: expires,
	}
	require.NoError(f.t, f.stores.Batches.Create(f.ctx, b))
	return b
}

func (f *fixture) reload(b *domain.Batch) *domain.Batch {
	f.t.Helper()
	got, err := f.stores.Batches.GetByID(f.ctx, testTenantID, b.ID)
	require.NoError(f.t, err)
	return got
}

// plannedRun creates a PLANNED run for the bread recipe without allocating.
func (f *fixture) plannedRun(target string) *domain.ProductionRun {
	f.t.Helper()
	details, err := f.svc.PlanProductionRun(f.ctx, service.PlanRequest{
		RecipeID:        breadRecipeID,
		TargetQuantity:  qty(target),
		DeferAllocation: true,
	})
	require.NoError(f.t, err)
	return details.Run
}

// allocatedRun plans and allocates a run for target loaves.
func (f *fixture) allocatedRun(target string) *service.RunDetails {
	f.t.Helper()
	details, err := f.svc.PlanProductionRun(f.ctx, service.PlanRequest{
		RecipeID:       breadRecipeID,
		TargetQuantity: qty(target),
	})
	require.NoError(f.t, err)
	return details
}

func (f *fixture) allocations(runID string) []*domain.Allocation {
	f.t.Helper()
	list, err := f.stores.Runs.ListAllocations(f.ctx, testTenantID, runID)
	require.NoError(f.t, err)
	return list
}
