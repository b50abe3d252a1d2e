package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader/v7"

	"github.com/tgreenfield/groundwork-backend/internal/domain"
)

const (
	maxBatch = 100
	wait     = 2 * time.Millisecond
)

// Loader batches individual secured reads into ResolveBatch calls. It caches
// within its own lifetime, so create one per request and discard it; the
// session is fixed at construction because the view depends on it.
type Loader struct {
	loader *dataloader.Loader[uuid.UUID, *domain.SecuredEntity]
}

// NewLoader creates a per-request loader bound to one session.
func NewLoader(svc *Service, session domain.Session) *Loader {
	batchFn := func(ctx context.Context, keys []uuid.UUID) []*dataloader.Result[*domain.SecuredEntity] {
		views, err := svc.ResolveBatch(ctx, session, keys)
		if err != nil {
			return errorResults(len(keys), err)
		}

		results := make([]*dataloader.Result[*domain.SecuredEntity], len(keys))
		for i, key := range keys {
			if view, ok := views[key]; ok {
				results[i] = &dataloader.Result[*domain.SecuredEntity]{Data: view}
			} else {
				results[i] = &dataloader.Result[*domain.SecuredEntity]{
					Error: fmt.Errorf("entity %s: %w", key, domain.ErrNotFound),
				}
			}
		}
		return results
	}

	return &Loader{
		loader: dataloader.NewBatchedLoader(
			batchFn,
			dataloader.WithWait[uuid.UUID, *domain.SecuredEntity](wait),
			dataloader.WithBatchCapacity[uuid.UUID, *domain.SecuredEntity](maxBatch),
		),
	}
}

// Load returns the secured view of one entity, batched with concurrent loads.
func (l *Loader) Load(ctx context.Context, id uuid.UUID) (*domain.SecuredEntity, error) {
	return l.loader.Load(ctx, id)()
}

// LoadMany returns secured views for many entities. Per-key errors come back
// positionally alongside successful views.
func (l *Loader) LoadMany(ctx context.Context, ids []uuid.UUID) ([]*domain.SecuredEntity, []error) {
	return l.loader.LoadMany(ctx, ids)()
}

func errorResults(n int, err error) []*dataloader.Result[*domain.SecuredEntity] {
	results := make([]*dataloader.Result[*domain.SecuredEntity], n)
	for i := range results {
		results[i] = &dataloader.Result[*domain.SecuredEntity]{Error: err}
	}
	return results
}
