package regex

import (
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCacheSize is the default maximum number of cached expressions.
	DefaultCacheSize = 512

	// MaxExpressionLength is the maximum length of a fully expanded expression.
	MaxExpressionLength = 256 * 1024
)

// ErrExpressionTooLong is returned by Cache.Get for expressions over MaxExpressionLength.
var ErrExpressionTooLong = errors.New("expanded expression exceeds maximum length")

// DefaultCache is shared by compilers that are not given their own cache.
var DefaultCache = NewCache(DefaultCacheSize)

type cacheKey struct {
	expr     string
	backstop time.Duration
}

// Cache is an LRU cache of compiled expressions.
// It is safe for concurrent use.
type Cache struct {
	lru *lru.Cache[cacheKey, *Regexp]
}

// NewCache creates a cache holding at most size expressions.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[cacheKey, *Regexp](size)
	if err != nil {
		// Only returned for non-positive sizes, excluded above.
		panic(err)
	}
	return &Cache{lru: c}
}

// Get returns the compiled form of expr, compiling and caching it if needed.
func (c *Cache) Get(expr string, backstop time.Duration) (*Regexp, error) {
	if len(expr) > MaxExpressionLength {
		return nil, ErrExpressionTooLong
	}

	key := cacheKey{expr: expr, backstop: backstop}
	if re, ok := c.lru.Get(key); ok {
		return re, nil
	}

	re, err := Compile(expr, backstop)
	if err != nil {
		return nil, err
	}

	// Another goroutine may have compiled the same expression meanwhile;
	// keep whichever entry is already cached.
	if prev, ok, _ := c.lru.PeekOrAdd(key, re); ok {
		return prev, nil
	}
	return re, nil
}

// Len returns the current number of cached expressions.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge removes every cached expression.
func (c *Cache) Purge() {
	c.lru.Purge()
}
