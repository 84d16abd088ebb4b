package cache

import (
	"container/list"
	"context"
	"sync"
)

// DefaultCapacity - число блоков в MemoryCache по умолчанию.
const DefaultCapacity = 4096

// MemoryCache - LRU-кеш блоков в памяти процесса.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
	metrics  CacheMetrics
	closed   bool
}

type memoryItem struct {
	key   string
	entry Entry
}

// NewMemoryCache создаёт кеш на capacity блоков.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get возвращает копию блока; вызывающий может менять её свободно.
func (c *MemoryCache) Get(ctx context.Context, key Key) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Entry{}, ErrCacheClosed
	}

	el, ok := c.items[key.String()]
	if !ok {
		c.metrics.Misses++
		c.metrics.updateRatio()
		return Entry{}, ErrCacheMiss
	}
	c.order.MoveToFront(el)
	c.metrics.Hits++
	c.metrics.updateRatio()

	item := el.Value.(*memoryItem)
	return Entry{Block: item.entry.Block.Clone(), Format: item.entry.Format}, nil
}

// Put сохраняет копию блока, вытесняя самый старый при переполнении.
func (c *MemoryCache) Put(ctx context.Context, key Key, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCacheClosed
	}

	k := key.String()
	stored := Entry{Block: entry.Block.Clone(), Format: entry.Format}
	if el, ok := c.items[k]; ok {
		el.Value.(*memoryItem).entry = stored
		c.order.MoveToFront(el)
		return nil
	}

	c.items[k] = c.order.PushFront(&memoryItem{key: k, entry: stored})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*memoryItem).key)
	}
	return nil
}

// Len возвращает число блоков в кеше.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) Metrics() CacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	m.TotalKeys = int64(c.order.Len())
	return m
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.order.Init()
	c.items = make(map[string]*list.Element)
	return nil
}
