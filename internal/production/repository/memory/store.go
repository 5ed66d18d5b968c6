// Package memory holds in-process implementations of the production stores.
// Transactions are serialised by one mutex and rolled back by restoring a snapshot.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/internal/production/service"
)

type txKey struct{}

// Store is an in-memory batch, recipe and run store with a unit of work.
type Store struct {
	mu    sync.Mutex
	state *state
	seq   int64
	now   func() time.Time
}

type state struct {
	rawMaterials     map[string]string // id -> tenant
	finishedProducts map[string]string // id -> tenant
	recipes          map[string]*domain.Recipe
	batches          map[string]*domain.Batch
	runs             map[string]*domain.ProductionRun
	allocations      map[string]*domain.Allocation
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		state: &state{
			rawMaterials:     make(map[string]string),
			finishedProducts: make(map[string]string),
			recipes:          make(map[string]*domain.Recipe),
			batches:          make(map[string]*domain.Batch),
			runs:             make(map[string]*domain.ProductionRun),
			allocations:      make(map[string]*domain.Allocation),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Verify interface compliance
var (
	_ service.UnitOfWork  = (*Store)(nil)
	_ service.BatchStore  = (*BatchRepository)(nil)
	_ service.RecipeStore = (*RecipeRepository)(nil)
	_ service.RunStore    = (*RunRepository)(nil)
)

// Stores returns all collaborators backed by this store.
func (s *Store) Stores() service.Stores {
	return service.Stores{
		Batches: s.Batches(),
		Recipes: s.Recipes(),
		Runs:    s.Runs(),
		UoW:     s,
	}
}

// Batches returns the batch store view.
func (s *Store) Batches() *BatchRepository { return &BatchRepository{s: s} }

// Recipes returns the recipe store view.
func (s *Store) Recipes() *RecipeRepository { return &RecipeRepository{s: s} }

// Runs returns the production run store view.
func (s *Store) Runs() *RunRepository { return &RunRepository{s: s} }

// WithinTransaction runs fn holding the store lock. Any error restores the state
// as it was before fn started. Nested calls join the outer transaction.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// lock takes the store mutex for calls made outside a transaction.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// AddRawMaterial registers a raw material for a tenant.
func (s *Store) AddRawMaterial(tenantID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.rawMaterials[id] = tenantID
}

// AddFinishedProduct registers a finished product for a tenant.
func (s *Store) AddFinishedProduct(tenantID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.finishedProducts[id] = tenantID
}

// AddRecipe registers a recipe and its ingredients.
func (s *Store) AddRecipe(recipe *domain.Recipe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.recipes[recipe.ID] = cloneRecipe(recipe)
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (st *state) clone() *state {
	c := &state{
		rawMaterials:     make(map[string]string, len(st.rawMaterials)),
		finishedProducts: make(map[string]string, len(st.finishedProducts)),
		recipes:          make(map[string]*domain.Recipe, len(st.recipes)),
		batches:          make(map[string]*domain.Batch, len(st.batches)),
		runs:             make(map[string]*domain.ProductionRun, len(st.runs)),
		allocations:      make(map[string]*domain.Allocation, len(st.allocations)),
	}
	for k, v := range st.rawMaterials {
		c.rawMaterials[k] = v
	}
	for k, v := range st.finishedProducts {
		c.finishedProducts[k] = v
	}
	for k, v := range st.recipes {
		c.recipes[k] = cloneRecipe(v)
	}
	for k, v := range st.batches {
		c.batches[k] = cloneBatch(v)
	}
	for k, v := range st.runs {
		c.runs[k] = cloneRun(v)
	}
	for k, v := range st.allocations {
		c.allocations[k] = cloneAllocation(v)
	}
	return c
}

// Stored values are copied on the way in and out; pointer fields are never
// mutated in place, so a shallow struct copy is enough.

func cloneBatch(b *domain.Batch) *domain.Batch {
	c := *b
	return &c
}

func cloneRun(r *domain.ProductionRun) *domain.ProductionRun {
	c := *r
	return &c
}

func cloneAllocation(a *domain.Allocation) *domain.Allocation {
	c := *a
	return &c
}

func cloneRecipe(r *domain.Recipe) *domain.Recipe {
	c := *r
	c.Ingredients = append([]domain.Ingredient(nil), r.Ingredients...)
	return &c
}
