package loader

import (
	"container/list"
	"sync"
	"time"
)

// CacheKey identifies one cached transform result.
type CacheKey struct {
	Path string
}

// CacheEntry is a cached transform output plus the file dependencies it
// was produced from, so invalidation can walk the dependents graph.
type CacheEntry struct {
	Code         []byte
	Dependencies []string
	Size         int64
	AccessTime   time.Time
}

type lruEntry struct{ key CacheKey }

// Cache is a thread-safe LRU cache of loader pipeline results with
// dependency-aware invalidation: invalidating a file cascades to every
// cached result that declared it as a file dependency. LRU eviction
// removes only the evicted entry.
type Cache struct {
	mu sync.RWMutex

	entries map[CacheKey]*CacheEntry
	lru     *list.List
	lruMap  map[CacheKey]*list.Element

	dependents map[string][]string

	hits, misses int64

	maxSize, curSize int64
}

// NewCache returns a Cache bounded to maxSizeBytes total cached content.
func NewCache(maxSizeBytes int64) *Cache {
	return &Cache{
		entries:    make(map[CacheKey]*CacheEntry),
		lru:        list.New(),
		lruMap:     make(map[CacheKey]*list.Element),
		dependents: make(map[string][]string),
		maxSize:    maxSizeBytes,
	}
}

// Get returns the cached entry for key, if any, promoting it to
// most-recently-used.
func (c *Cache) Get(key CacheKey) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.entries[key]
	if !found {
		c.misses++
		return nil, false
	}
	entry.AccessTime = time.Now()
	if elem, ok := c.lruMap[key]; ok {
		c.lru.MoveToFront(elem)
	}
	c.hits++
	return entry, true
}

// Set records a transform result for key, registering dependencies in the
// dependents graph and evicting least-recently-used entries if the cache
// is now over its size budget.
func (c *Cache) Set(key CacheKey, code []byte, dependencies []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(code))

	if existing, found := c.entries[key]; found {
		c.curSize += size - existing.Size
		existing.Code = code
		existing.Dependencies = dependencies
		existing.Size = size
		existing.AccessTime = time.Now()
		if elem, ok := c.lruMap[key]; ok {
			c.lru.MoveToFront(elem)
		}
	} else {
		entry := &CacheEntry{Code: code, Dependencies: dependencies, Size: size, AccessTime: time.Now()}
		c.entries[key] = entry
		c.curSize += size
		c.lruMap[key] = c.lru.PushFront(lruEntry{key: key})
	}

	for _, dep := range dependencies {
		c.addDependent(dep, key.Path)
	}
	c.evictIfNeeded()
}

func (c *Cache) addDependent(dep, dependent string) {
	for _, d := range c.dependents[dep] {
		if d == dependent {
			return
		}
	}
	c.dependents[dep] = append(c.dependents[dep], dependent)
}

func (c *Cache) evictIfNeeded() {
	for c.maxSize > 0 && c.curSize > c.maxSize && c.lru.Len() > 0 {
		elem := c.lru.Back()
		if elem == nil {
			break
		}
		c.evictLocked(elem.Value.(lruEntry).key)
	}
}

func (c *Cache) evictLocked(key CacheKey) {
	entry, found := c.entries[key]
	if !found {
		return
	}
	delete(c.entries, key)
	c.curSize -= entry.Size
	if elem, ok := c.lruMap[key]; ok {
		c.lru.Remove(elem)
		delete(c.lruMap, key)
	}
	c.removeDependentsLocked(key.Path)
}

func (c *Cache) removeDependentsLocked(path string) {
	delete(c.dependents, path)
	for dep, list := range c.dependents {
		filtered := list[:0:0]
		for _, d := range list {
			if d != path {
				filtered = append(filtered, d)
			}
		}
		if len(filtered) > 0 {
			c.dependents[dep] = filtered
		} else {
			delete(c.dependents, dep)
		}
	}
}

// Invalidate evicts path and every cached entry that transitively depends
// on it (a dependency changed on disk), returning the invalidated paths —
// the set the incremental core merges into its affected-modules decision
// (§4.6).
func (c *Cache) Invalidate(path string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var invalidated []string
	visited := make(map[string]bool)
	c.invalidateRecursive(path, visited, &invalidated)
	return invalidated
}

func (c *Cache) invalidateRecursive(path string, visited map[string]bool, invalidated *[]string) {
	if visited[path] {
		return
	}
	visited[path] = true

	var dependents []string
	if deps, ok := c.dependents[path]; ok {
		dependents = append(dependents, deps...)
	}

	for key := range c.entries {
		if key.Path == path {
			c.evictLocked(key)
			*invalidated = append(*invalidated, path)
			break
		}
	}

	for _, dependent := range dependents {
		c.invalidateRecursive(dependent, visited, invalidated)
	}
}

// Stats reports cache hit/miss/size metrics.
type Stats struct {
	Hits, Misses int64
	Entries      int
	SizeBytes    int64
	MaxSize      int64
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries), SizeBytes: c.curSize, MaxSize: c.maxSize}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[CacheKey]*CacheEntry)
	c.lru.Init()
	c.lruMap = make(map[CacheKey]*list.Element)
	c.dependents = make(map[string][]string)
	c.curSize = 0
}
