package discovery

import (
	"time"
)

// allNamespacesKey is the cache key for the nil ("all namespaces") scope.
// It is distinct from every concrete namespace, including "default".
const allNamespacesKey = "\x00all"

func namespaceKey(namespace *string) string {
	if namespace == nil {
		return allNamespacesKey
	}
	return *namespace
}

// cacheEntry holds one fetched resource list and its fetch time. The slice
// is shared between concurrent callers within a TTL window and must be
// treated as immutable.
type cacheEntry[T any] struct {
	data      []T
	fetchedAt time.Time
}

func (e *cacheEntry[T]) fresh(now time.Time, ttl time.Duration) bool {
	return e != nil && now.Sub(e.fetchedAt) < ttl
}

func resourceNames[T any](items []T, name func(T) string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		n := name(item)
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

func diffNames(previous, current map[string]struct{}) (added, removed []string) {
	for n := range current {
		if _, ok := previous[n]; !ok {
			added = append(added, n)
		}
	}
	for n := range previous {
		if _, ok := current[n]; !ok {
			removed = append(removed, n)
		}
	}
	return added, removed
}
