// Package storage описывает хранилище реплик на стороне DataGate.
package storage

import (
	"context"
	"fmt"

	"github.com/iudanet/docsync/internal/validation"
	"github.com/iudanet/docsync/pkg/api"
)

// Key адресует реплицируемую коллекцию пользователя
type Key struct {
	Tenant     string
	Collection string
	User       string
}

// Validate проверяет части ключа
func (k Key) Validate() error {
	if err := validation.ValidateName("tenant", k.Tenant); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if err := validation.ValidateName("collection", k.Collection); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if err := validation.ValidateUsername(k.User); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@%s", k.Tenant, k.User, k.Collection)
}

// MergeResult итог применения дельты
type MergeResult struct {
	// Receipt все id дельты; подтверждаются независимо от того, победили ли они
	Receipt api.Receipt
	// Applied изменения, которые победили и были сохранены
	Applied api.DeltaStates
	// Synced серверная отметка, присвоенная примененным изменениям
	Synced int64
}

// Page страница изменений с курсором продолжения
type Page struct {
	Delta  api.DeltaStates
	LastID string // LastID курсор для следующей страницы
	More   bool
}

//go:generate moq -out replica_mock.go . ReplicaStore

// ReplicaStore defines persistence of replicated collections on the DataGate side
type ReplicaStore interface {
	// Merge applies the delta with LWW rules and stamps applied entries with a new synced time
	Merge(ctx context.Context, key Key, origin string, delta api.DeltaStates) (MergeResult, error)

	// ChangesSince returns entries with since < synced <= until ordered by id after afterID,
	// skipping entries written by the given origin
	ChangesSince(ctx context.Context, key Key, origin string, since, until int64, afterID string, limit int) (Page, error)

	// Now returns a synced time greater than every stamp issued so far
	Now() int64
}
