// Package configstore implements a read-through fetcher for enriched
// connections and function definitions, cached with a 20s TTL and no
// negative caching.
package configstore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/rotor/internal/cache"
	"github.com/arc-self/rotor/internal/model"
)

const ttl = 20 * time.Second

// Backend is the external fast-lookup store. A nil, nil return means "not
// found"; backends must not wrap not-found as an error.
type Backend interface {
	GetConnection(ctx context.Context, id string) (*model.Connection, error)
	GetFunction(ctx context.Context, id string) (*model.FunctionDefinition, error)
}

// Store is the config store client.
type Store struct {
	backend Backend
	conns   *cache.Cache[*model.Connection]
	funcs   *cache.Cache[*model.FunctionDefinition]
	log     *zap.Logger
}

// New creates a Store backed by the given Backend.
func New(backend Backend, log *zap.Logger) *Store {
	return &Store{
		backend: backend,
		conns:   cache.New[*model.Connection](ttl/4, nil),
		funcs:   cache.New[*model.FunctionDefinition](ttl/4, nil),
		log:     log,
	}
}

// Close stops the internal cache sweepers.
func (s *Store) Close() {
	s.conns.Close()
	s.funcs.Close()
}

// Len returns the combined connection and function cache occupancy.
func (s *Store) Len() int {
	return s.conns.Len() + s.funcs.Len()
}

// GetEnrichedConnection resolves a connection id, caching hits for 20s and
// never caching misses. A miss surfaces as KindUnknownConnection.
func (s *Store) GetEnrichedConnection(ctx context.Context, id string) (*model.Connection, error) {
	if v, ok := s.conns.Get(connKey(id)); ok {
		return v, nil
	}

	conn, err := s.backend.GetConnection(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("config store connection lookup %q: %w", id, err)
	}
	if conn == nil {
		return nil, model.NewErr(model.KindUnknownConnection, "", fmt.Errorf("connection %q not found", id))
	}

	s.conns.Set(connKey(id), conn, ttl)
	return conn, nil
}

// GetFunctionDefinition resolves a function id, caching hits for 20s and
// never caching misses. A miss surfaces as KindUnknownFunction.
func (s *Store) GetFunctionDefinition(ctx context.Context, id string) (*model.FunctionDefinition, error) {
	if v, ok := s.funcs.Get(funcKey(id)); ok {
		return v, nil
	}

	def, err := s.backend.GetFunction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("config store function lookup %q: %w", id, err)
	}
	if def == nil {
		return nil, model.NewErr(model.KindUnknownFunction, "", fmt.Errorf("function %q not found", id))
	}

	s.funcs.Set(funcKey(id), def, ttl)
	return def, nil
}

// connKey and funcKey impose the per-kind key space so connection and
// function ids never collide in the underlying cache.
func connKey(id string) string { return "connection:" + id }
func funcKey(id string) string { return "function:" + id }
