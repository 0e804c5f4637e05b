package sequence

import (
	"context"
	"errors"

	"farmcore/pkg/domain"
)

// StoreAllocator keeps counters in the persistent store state. Used through
// Reserve it shares the caller's transaction, so a number is consumed only
// when the record that carries it commits.
type StoreAllocator struct {
	store domain.PersistentStore
}

// NewStoreAllocator wraps store.
func NewStoreAllocator(store domain.PersistentStore) (*StoreAllocator, error) {
	if store == nil {
		return nil, errors.New("sequence: store is required")
	}
	return &StoreAllocator{store: store}, nil
}

// Reserve increments the counter within tx, stepping past numbers already
// carried by stored animals. A counter left behind by another allocator
// therefore catches up in the same transaction that issues the next number.
func (a *StoreAllocator) Reserve(tx domain.Transaction, prefix string) (int64, error) {
	if err := checkPrefix(prefix); err != nil {
		return 0, err
	}
	view := tx.Snapshot()
	for {
		n, err := tx.ReserveSequence(prefix)
		if err != nil {
			return 0, err
		}
		if _, taken := view.FindAnimalByIdentifier(Format(prefix, n)); !taken {
			return n, nil
		}
	}
}

// Next reserves a number in a transaction of its own.
func (a *StoreAllocator) Next(ctx context.Context, prefix string) (int64, error) {
	var n int64
	_, err := a.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		n, err = a.Reserve(tx, prefix)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
