package registry

import (
	"context"
	"fmt"
	"sync"

	svcerror "github.com/AnnaFoldberg/tea-app/pkg/error"
)

const errFmtNotFound = "resource with id %s not found"

type MemoryRegistry[T any] struct {
	MU    sync.RWMutex
	Items map[string]T
	IdFn  IDExtractor[T]
}

func NewMemoryRegistry[T any](idFn IDExtractor[T]) *MemoryRegistry[T] {
	return &MemoryRegistry[T]{
		Items: make(map[string]T),
		IdFn:  idFn,
	}
}

// Upsert overwrites unconditionally: last write wins.
func (r *MemoryRegistry[T]) Upsert(ctx context.Context, entity T) error {
	r.MU.Lock()
	defer r.MU.Unlock()
	r.Items[r.IdFn(entity)] = entity
	return nil
}

func (r *MemoryRegistry[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	r.MU.RLock()
	defer r.MU.RUnlock()
	v, ok := r.Items[id]
	if !ok {
		return zero, svcerror.New(
			svcerror.ErrNotFound,
			svcerror.WithOp("Registry.Memory.Get"),
			svcerror.WithMsg(fmt.Sprintf(errFmtNotFound, id)),
		)
	}
	return v, nil
}

func (r *MemoryRegistry[T]) GetAll(ctx context.Context) ([]T, error) {
	r.MU.RLock()
	defer r.MU.RUnlock()
	itemsList := make([]T, 0, len(r.Items))
	for _, item := range r.Items {
		itemsList = append(itemsList, item)
	}
	return itemsList, nil
}
