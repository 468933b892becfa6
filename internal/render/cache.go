package render

import (
	"sync"
	"time"
)

const (
	DefaultMaxImages = 64
	ImageTTL         = 10 * time.Minute
)

// Cache stores encoded images with LRU eviction and a TTL.
type Cache struct {
	mu      sync.Mutex
	images  map[string]*cachedImage
	order   []string // LRU order (oldest first)
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits   uint64
	misses uint64
}

type cachedImage struct {
	data       []byte
	renderedAt time.Time
}

// NewCache creates a cache holding at most maxSize images.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxImages
	}
	return &Cache{
		images:  make(map[string]*cachedImage),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ImageTTL,
		now:     time.Now,
	}
}

// Get returns the image stored under key, or nil when absent or expired.
func (c *Cache) Get(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

func (c *Cache) get(key string) []byte {
	cached, ok := c.images[key]
	if !ok {
		c.misses++
		return nil
	}
	if c.now().Sub(cached.renderedAt) > c.ttl {
		c.remove(key)
		c.misses++
		return nil
	}
	c.touch(key)
	c.hits++
	return cached.data
}

// Put stores data under key, evicting the least recently used image when
// the cache is full.
func (c *Cache) Put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.images[key]; ok {
		c.images[key] = &cachedImage{data: data, renderedAt: c.now()}
		c.touch(key)
		return
	}
	if len(c.images) >= c.maxSize {
		c.evict()
	}
	c.images[key] = &cachedImage{data: data, renderedAt: c.now()}
	c.order = append(c.order, key)
}

// GetOrRender returns the cached image for key, rendering and storing it
// on a miss. Render errors are not cached.
func (c *Cache) GetOrRender(key string, render func() ([]byte, error)) ([]byte, error) {
	if data := c.Get(key); data != nil {
		return data, nil
	}
	data, err := render()
	if err != nil {
		return nil, err
	}
	c.Put(key, data)
	return data, nil
}

func (c *Cache) touch(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(append(c.order[:i:i], c.order[i+1:]...), key)
			return
		}
	}
}

func (c *Cache) remove(key string) {
	delete(c.images, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// evict removes the least recently used image
func (c *Cache) evict() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.images, oldest)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
