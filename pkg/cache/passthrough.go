package cache

// NewPassthrough creates a cache that stores nothing. Every Get runs the
// computation and returns its result unchanged.
// This is useful when caching is disabled via configuration.
func NewPassthrough[K comparable, V any]() Cache[K, V] {
	return &passthroughCache[K, V]{}
}

// passthroughCache is a cache implementation that does nothing.
type passthroughCache[K comparable, V any] struct{}

func (c *passthroughCache[K, V]) Get(_ K, compute ComputeFunc[V]) (V, error) {
	return compute()
}

func (c *passthroughCache[K, V]) Size() int {
	return 0
}

func (c *passthroughCache[K, V]) Keys() []K {
	return nil
}

func (c *passthroughCache[K, V]) Clear() error {
	return nil
}

func (c *passthroughCache[K, V]) Stats() *Statistics {
	return nil
}

func (c *passthroughCache[K, V]) Close() error {
	return nil
}
