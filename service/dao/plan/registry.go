package plan

import (
	"context"
	"sort"

	"github.com/luxera/rungate/model"
	"github.com/luxera/rungate/service/dao"
	"github.com/luxera/rungate/service/dao/store"
)

// Registry keeps loaded plans keyed by id so that agents can be selected by
// name without re-reading their source documents.
type Registry struct {
	store *store.MemoryStore[string, model.Plan]
}

var _ dao.Service[string, model.Plan] = (*Registry)(nil)

// NewRegistry creates an empty plan registry.
func NewRegistry() *Registry {
	return &Registry{
		store: store.NewMemoryStore[string, model.Plan](func(p *model.Plan) string {
			return p.ID
		}),
	}
}

// Save registers or replaces a plan.
func (r *Registry) Save(ctx context.Context, aPlan *model.Plan) error {
	if aPlan == nil {
		return dao.ErrNilEntity
	}
	if aPlan.ID == "" {
		return dao.ErrInvalidID
	}
	return r.store.Save(ctx, aPlan)
}

// Load returns a plan by id or dao.ErrNotFound.
func (r *Registry) Load(ctx context.Context, id string) (*model.Plan, error) {
	return r.store.Load(ctx, id)
}

// Delete removes a plan; removing an absent id is a no-op.
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

// List returns registered plans ordered by id.
func (r *Registry) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.Plan, error) {
	plans, err := r.store.List(ctx, parameters...)
	if err != nil {
		return nil, err
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
	return plans, nil
}
