package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	data map[string][]byte
}

func newMemBackend() *memBackend { return &memBackend{data: map[string][]byte{}} }

func (m *memBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) Set(ctx context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}

func (m *memBackend) Delete(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestBinding_SetGetRoundTrip(t *testing.T) {
	backend := newMemBackend()
	b := New(backend, "conn-1")

	require.NoError(t, b.Set(context.Background(), "k", map[string]any{"a": float64(1)}))

	v, ok, err := b.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": float64(1)}, v)
}

func TestBinding_GetMissingIsAbsent(t *testing.T) {
	b := New(newMemBackend(), "conn-1")

	v, ok, err := b.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestBinding_NamespaceIsolatesConnections(t *testing.T) {
	backend := newMemBackend()
	a := New(backend, "conn-a")
	b := New(backend, "conn-b")

	require.NoError(t, a.Set(context.Background(), "k", "fromA"))

	_, ok, err := b.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok, "connection b must not see connection a's value for the same logical key")
}

func TestBinding_Delete(t *testing.T) {
	backend := newMemBackend()
	b := New(backend, "conn-1")

	require.NoError(t, b.Set(context.Background(), "k", "v"))
	require.NoError(t, b.Delete(context.Background(), "k"))

	_, ok, err := b.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBinding_NoCollisionForOrdinaryKeys(t *testing.T) {
	// Ordinary connection ids and logical keys (no embedded separator
	// byte) never collide across connections.
	backend := newMemBackend()
	a := New(backend, "conn-a")
	b := New(backend, "conn-a-other")

	require.NoError(t, a.Set(context.Background(), "shared", "fromA"))
	_, ok, err := b.Get(context.Background(), "shared")
	require.NoError(t, err)
	assert.False(t, ok)
}
