package savedmodel

import (
	"sync"
	"sync/atomic"

	"github.com/phuslu/log"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/lru"
)

// DefaultCacheSize bounds the number of meta graphs kept by the package loader.
const DefaultCacheSize = 32

// Loader memoises frozen meta graphs by (directory, tags, signature key). Models are
// repeatedly loaded for different conversion settings, so this saves storage reads.
// The cache is least-recently-used with a fixed size; entries are never refreshed from
// storage on their own, call Invalidate after rewriting a directory.
type Loader struct {
	cache *lru.Cache
	group singleflight.Group
	reads atomic.Int64

	mu   sync.Mutex
	keys map[string]map[string]struct{}
}

// NewLoader returns a Loader holding at most size meta graphs.
func NewLoader(size int) *Loader {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Loader{
		cache: lru.New(size),
		keys:  map[string]map[string]struct{}{},
	}
}

// Load returns the frozen meta graph at loc, reading storage only on a cache miss.
func (l *Loader) Load(loc Location) (*MetaGraph, error) {
	key := loc.cacheKey()
	if cached, ok := l.cache.Get(key); ok {
		return cached.(*MetaGraph), nil
	}
	value, err, _ := l.group.Do(key, func() (any, error) {
		if cached, ok := l.cache.Get(key); ok {
			return cached, nil
		}
		l.reads.Add(1)
		log.Debug().Str("location", loc.String()).Msg("Loading meta graph")
		meta, err := readMetaGraph(loc)
		if err != nil {
			return nil, err
		}
		l.cache.Add(key, meta)
		l.mu.Lock()
		if l.keys[loc.Dir] == nil {
			l.keys[loc.Dir] = map[string]struct{}{}
		}
		l.keys[loc.Dir][key] = struct{}{}
		l.mu.Unlock()
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*MetaGraph), nil
}

// Invalidate drops every cached meta graph read from dir.
func (l *Loader) Invalidate(dir string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.keys[dir] {
		l.cache.Remove(key)
	}
	delete(l.keys, dir)
}

// Purge empties the cache.
func (l *Loader) Purge() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Clear()
	l.keys = map[string]map[string]struct{}{}
}

// Reads reports how many times storage has been read.
func (l *Loader) Reads() int64 {
	return l.reads.Load()
}

var defaultLoader = NewLoader(DefaultCacheSize)

// LoadMetaGraph loads through the process-wide loader.
func LoadMetaGraph(loc Location) (*MetaGraph, error) {
	return defaultLoader.Load(loc)
}

// DefaultLoader returns the process-wide loader.
func DefaultLoader() *Loader {
	return defaultLoader
}
