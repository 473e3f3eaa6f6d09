package rungate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/luxera/rungate/model"
	"github.com/luxera/rungate/service/dao/plan"
)

// Runtime exposes plan loading and hot-swap over the shared plan DAO and
// registry.
type Runtime struct {
	planDAO  *plan.Service
	registry *plan.Registry
	logger   *slog.Logger
}

// LoadPlan loads a plan definition from the given location and registers it
// for agent selection.
func (r *Runtime) LoadPlan(ctx context.Context, location string) (*model.Plan, error) {
	aPlan, err := r.planDAO.Load(ctx, location)
	if err != nil {
		return nil, err
	}
	if err = r.registry.Save(ctx, aPlan); err != nil {
		return nil, err
	}
	return aPlan, nil
}

// DecodeYAMLPlan decodes a plan from YAML without registering it.
func (r *Runtime) DecodeYAMLPlan(data []byte) (*model.Plan, error) {
	return r.planDAO.DecodeYAML(data)
}

// RefreshPlan discards any registered plan originating from the given
// URL/location. The next SelectAgent or LoadPlan call reloads the file via
// the plan DAO (i.e. one extra disk/cloud round-trip).
func (r *Runtime) RefreshPlan(ctx context.Context, location string) error {
	if r == nil || r.registry == nil {
		return fmt.Errorf("runtime not fully initialised - plan registry missing")
	}
	plans, err := r.registry.List(ctx)
	if err != nil {
		return err
	}
	for _, aPlan := range plans {
		if aPlan.ID == location || (aPlan.Source != nil && aPlan.Source.URL == location) {
			if err = r.registry.Delete(ctx, aPlan.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpsertDefinition parses the supplied YAML bytes and registers the
// resulting plan under the specified location. When data is nil the call
// falls back to RefreshPlan, causing a lazy reload on next use.
func (r *Runtime) UpsertDefinition(ctx context.Context, location string, data []byte) error {
	if r == nil || r.planDAO == nil || r.registry == nil {
		return fmt.Errorf("runtime not fully initialised - plan DAO missing")
	}
	if data == nil {
		return r.RefreshPlan(ctx, location)
	}
	aPlan, err := r.planDAO.DecodeYAML(data)
	if err != nil {
		return fmt.Errorf("failed to decode plan YAML: %w", err)
	}
	// The Source URL mirrors the provided location so that refresh by
	// location finds the definition.
	if aPlan.Source == nil {
		aPlan.Source = &model.Source{URL: location}
	} else {
		aPlan.Source.URL = location
	}
	return r.registry.Save(ctx, aPlan)
}

// Plan returns a registered plan by id.
func (r *Runtime) Plan(ctx context.Context, id string) (*model.Plan, error) {
	return r.registry.Load(ctx, id)
}

// Plans lists the registered plans ordered by id.
func (r *Runtime) Plans(ctx context.Context) ([]*model.Plan, error) {
	return r.registry.List(ctx)
}
