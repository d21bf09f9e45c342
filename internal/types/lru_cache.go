package types

import (
	"container/list"
	"sync"
)

// LRUCache 保存最近结束的流摘要，容量固定，防止内存无限增长
type LRUCache struct {
	capacity int
	mu       sync.Mutex
	cache    map[string]*list.Element
	lru      *list.List
}

type cacheEntry struct {
	key   string
	value *StreamSummary
}

// NewLRUCache 创建容量限制的 LRU 缓存
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LRUCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Load 按流 ID 取摘要，命中则移至最近使用
func (c *LRUCache) Load(key string) (*StreamSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Store 存入摘要，超出容量时淘汰最久未使用的项
func (c *LRUCache) Store(key string, value *StreamSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	if c.lru.Len() >= c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}

	c.cache[key] = c.lru.PushFront(&cacheEntry{key: key, value: value})
}

// Len 当前缓存条数
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
