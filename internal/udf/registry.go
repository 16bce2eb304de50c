package udf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/arc-self/rotor/internal/cache"
)

// ttl is the compiled-UDF cache window: an extending-on-access 10-minute
// window.
const ttl = 10 * time.Minute

// hotSetSize bounds the number of distinct function ids the registry keeps
// warm at once, independent of TTL. Tenants with many rarely-used UDFs are
// evicted early rather than growing the TTL cache unbounded within the
// 10-minute window.
const hotSetSize = 2000

// CompiledUDF pairs a compiled sandbox with the code hash that produced it.
type CompiledUDF struct {
	Wrapper Wrapper
	Hash    string
}

// Registry is the UDF wrapper registry.
type Registry struct {
	compiler Compiler
	cache    *cache.Cache[*CompiledUDF]
	sf       singleflight.Group
	hot      *lru.Cache[string, struct{}]
}

// NewRegistry builds a Registry compiling UDFs via compiler.
func NewRegistry(compiler Compiler) *Registry {
	r := &Registry{compiler: compiler}
	r.cache = cache.New[*CompiledUDF](time.Minute, func(_ string, v *CompiledUDF) {
		_ = v.Wrapper.Close()
	})
	hot, err := lru.NewWithEvict[string, struct{}](hotSetSize, func(key string, _ struct{}) {
		r.cache.Delete(key)
	})
	if err != nil {
		// Only returns an error for a non-positive size, which hotSetSize
		// never is; keep the zero value unreachable rather than panic.
		hot, _ = lru.New[string, struct{}](1)
	}
	r.hot = hot
	return r
}

// Close stops the registry, releasing every cached wrapper.
func (r *Registry) Close() {
	r.cache.Close()
}

// Len returns the number of currently cached compiled UDFs.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Acquire returns the cached compiled UDF for functionId if its stored hash
// matches hash(code); otherwise it compiles a new wrapper, evicts the old
// one (invoking its release hook), and caches the new one. TTL is
// refreshed on every successful Acquire. Concurrent rebuilds for the same
// functionId are serialized via singleflight.
func (r *Registry) Acquire(ctx context.Context, functionID, name, code string) (*CompiledUDF, error) {
	want := hashCode(code)

	if existing, ok := r.cache.Get(functionID); ok && existing.Hash == want {
		r.cache.Touch(functionID, ttl)
		r.hot.Add(functionID, struct{}{})
		return existing, nil
	}

	v, err, _ := r.sf.Do(functionID, func() (any, error) {
		if existing, ok := r.cache.Get(functionID); ok && existing.Hash == want {
			r.cache.Touch(functionID, ttl)
			return existing, nil
		}

		wrapper, err := r.compiler.Compile(functionID, name, code)
		if err != nil {
			return nil, fmt.Errorf("acquire udf %s: %w", functionID, err)
		}

		compiled := &CompiledUDF{Wrapper: wrapper, Hash: want}
		r.cache.Set(functionID, compiled, ttl) // evicts+closes any stale wrapper
		return compiled, nil
	})
	if err != nil {
		return nil, err
	}

	r.hot.Add(functionID, struct{}{})
	return v.(*CompiledUDF), nil
}

// Rebuild forces a fresh compile for functionId regardless of the cached
// hash, used by the disposed-sandbox recovery path in the chain builder's
// exec closure.
func (r *Registry) Rebuild(ctx context.Context, functionID, name, code string) (*CompiledUDF, error) {
	v, err, _ := r.sf.Do(functionID+":rebuild", func() (any, error) {
		wrapper, err := r.compiler.Compile(functionID, name, code)
		if err != nil {
			return nil, fmt.Errorf("rebuild udf %s: %w", functionID, err)
		}
		compiled := &CompiledUDF{Wrapper: wrapper, Hash: hashCode(code)}
		r.cache.Set(functionID, compiled, ttl)
		return compiled, nil
	})
	if err != nil {
		return nil, err
	}
	r.hot.Add(functionID, struct{}{})
	return v.(*CompiledUDF), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
