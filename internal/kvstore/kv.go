// Package kvstore implements the key-value store binding: a per-connection
// namespaced façade over an external shared cache, carried to every chain
// step as persistent per-connection state (model.FullContext.Store). The UDF
// Wrapper's Invoke does not receive it, so user code in a UDF sandbox cannot
// read or write this state.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// keyPrefix and separator build the effective external key
// "store:<connectionId>\x1f<logicalKey>". The \x1f (unit separator) cannot
// appear in a connection id or a JSON-sourced logical key, so no legal
// logical key can collide across connections.
const (
	keyPrefix = "store:"
	separator = "\x1f"
)

// Backend is the external shared cache supporting get, set, and delete
// under string keys. Backend is connection-agnostic; namespacing is
// imposed by Binding, not Backend.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Binding is the per-connection façade for one connection id. It holds no local state
// of its own; it is safe to construct fresh per message and pass (as the
// model.KVBinding interface) into a chain run's FullContext.
type Binding struct {
	backend      Backend
	connectionID string
}

// New builds a Binding scoped to connectionID.
func New(backend Backend, connectionID string) *Binding {
	return &Binding{backend: backend, connectionID: connectionID}
}

func (b *Binding) externalKey(logicalKey string) string {
	return keyPrefix + b.connectionID + separator + logicalKey
}

// Get returns the value at key, unmarshalled from its stored JSON form.
// An absent key is reported as (nil, false, nil).
func (b *Binding) Get(ctx context.Context, key string) (any, bool, error) {
	raw, ok, err := b.backend.Get(ctx, b.externalKey(key))
	if err != nil {
		return nil, false, fmt.Errorf("kvstore get %q: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, fmt.Errorf("kvstore get %q: decode: %w", key, err)
	}
	return value, true, nil
}

// Set serializes value as JSON and stores it at key.
func (b *Binding) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvstore set %q: encode: %w", key, err)
	}
	if err := b.backend.Set(ctx, b.externalKey(key), raw); err != nil {
		return fmt.Errorf("kvstore set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (b *Binding) Delete(ctx context.Context, key string) error {
	if err := b.backend.Delete(ctx, b.externalKey(key)); err != nil {
		return fmt.Errorf("kvstore delete %q: %w", key, err)
	}
	return nil
}
