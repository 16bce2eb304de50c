package configstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/rotor/internal/model"
)

type fakeBackend struct {
	conns    map[string]*model.Connection
	funcs    map[string]*model.FunctionDefinition
	connHits atomic.Int32
	funcErr  error
}

func (f *fakeBackend) GetConnection(ctx context.Context, id string) (*model.Connection, error) {
	f.connHits.Add(1)
	return f.conns[id], nil
}

func (f *fakeBackend) GetFunction(ctx context.Context, id string) (*model.FunctionDefinition, error) {
	if f.funcErr != nil {
		return nil, f.funcErr
	}
	return f.funcs[id], nil
}

func TestStore_GetEnrichedConnection_Hit(t *testing.T) {
	backend := &fakeBackend{conns: map[string]*model.Connection{
		"c1": {ID: "c1", WorkspaceID: "w1"},
	}}
	store := New(backend, zaptest.NewLogger(t))
	defer store.Close()

	conn, err := store.GetEnrichedConnection(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "w1", conn.WorkspaceID)
}

func TestStore_GetEnrichedConnection_Miss(t *testing.T) {
	backend := &fakeBackend{conns: map[string]*model.Connection{}}
	store := New(backend, zaptest.NewLogger(t))
	defer store.Close()

	_, err := store.GetEnrichedConnection(context.Background(), "missing")
	require.Error(t, err)

	classified, ok := model.AsErr(err)
	require.True(t, ok)
	assert.Equal(t, model.KindUnknownConnection, classified.Kind)
}

func TestStore_NegativeMissNotCached(t *testing.T) {
	backend := &fakeBackend{conns: map[string]*model.Connection{}}
	store := New(backend, zaptest.NewLogger(t))
	defer store.Close()

	_, _ = store.GetEnrichedConnection(context.Background(), "c1")
	_, _ = store.GetEnrichedConnection(context.Background(), "c1")

	// Each call must hit the backend since a nil result is never memoized.
	assert.Equal(t, int32(2), backend.connHits.Load())
}

func TestStore_HitIsCachedWithinTTL(t *testing.T) {
	backend := &fakeBackend{conns: map[string]*model.Connection{
		"c1": {ID: "c1"},
	}}
	store := New(backend, zaptest.NewLogger(t))
	defer store.Close()

	_, _ = store.GetEnrichedConnection(context.Background(), "c1")
	_, _ = store.GetEnrichedConnection(context.Background(), "c1")

	assert.Equal(t, int32(1), backend.connHits.Load())
}

func TestStore_GetFunctionDefinition_Miss(t *testing.T) {
	backend := &fakeBackend{funcs: map[string]*model.FunctionDefinition{}}
	store := New(backend, zaptest.NewLogger(t))
	defer store.Close()

	_, err := store.GetFunctionDefinition(context.Background(), "f1")
	require.Error(t, err)
	classified, ok := model.AsErr(err)
	require.True(t, ok)
	assert.Equal(t, model.KindUnknownFunction, classified.Kind)
}

func TestStore_BackendErrorPropagates(t *testing.T) {
	backend := &fakeBackend{funcErr: errors.New("store unavailable")}
	store := New(backend, zaptest.NewLogger(t))
	defer store.Close()

	_, err := store.GetFunctionDefinition(context.Background(), "f1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
}
