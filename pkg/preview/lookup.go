package preview

import (
	"context"
	"errors"
	"fmt"

	"github.com/catprev/catprev/pkg/catalog"
	"github.com/catprev/catprev/pkg/stores"
)

// DefaultEnvironment is the environment a node compiles against when
// neither the request nor its stored facts name one.
const DefaultEnvironment = "production"

// StoreLookup is a NodeLookup backed by the fact store: a node is known if
// facts have been saved for it, and its baseline environment comes from the
// request, the stored facts, or the default, in that order.
type StoreLookup struct {
	store stores.Store
}

// NewStoreLookup creates a store-backed node lookup.
func NewStoreLookup(store stores.Store) *StoreLookup {
	return &StoreLookup{store: store}
}

// Find implements NodeLookup.
func (l *StoreLookup) Find(ctx context.Context, name string, opts LookupOptions) (*catalog.Node, error) {
	facts, err := l.store.GetFacts(ctx, name)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fact lookup for %s failed: %w", name, err)
	}

	environment := opts.Environment
	if environment == "" {
		environment = facts.Environment
	}
	if environment == "" {
		environment = DefaultEnvironment
	}

	node := catalog.NewNode(name, environment)
	node.MergeFacts(facts.Values)
	return node, nil
}

// StoreFactSaver adapts a stores.Store to the FactSaver boundary.
type StoreFactSaver struct {
	store stores.Store
}

// NewStoreFactSaver creates a store-backed fact saver.
func NewStoreFactSaver(store stores.Store) *StoreFactSaver {
	return &StoreFactSaver{store: store}
}

// SaveFacts implements FactSaver.
func (s *StoreFactSaver) SaveFacts(ctx context.Context, facts *catalog.FactSet, environment, transactionUUID string) error {
	return s.store.SaveFacts(ctx, facts, stores.SaveOptions{
		Environment:     environment,
		TransactionUUID: transactionUUID,
	})
}
