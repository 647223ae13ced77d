package staged

import (
	"container/list"
	"sync"

	"github.com/hubenschmidt/voxgate/internal/tts/engine"
)

// lruCache is a fixed-size, in-memory LRU keyed by cacheKey(), used to
// avoid re-synthesizing identical intros.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type lruEntry struct {
	key    string
	result engine.Result
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		ll:       list.New(),
		items:    map[string]*list.Element{},
	}
}

func (c *lruCache) Get(key string) (engine.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return engine.Result{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).result, true
}

func (c *lruCache) Put(key string, result engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).result = result
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&lruEntry{key: key, result: result})
	c.items[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
}
