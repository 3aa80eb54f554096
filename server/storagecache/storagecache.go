package storagecache

import (
	"sort"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookahead/server/storage"
	"golang.org/x/sync/singleflight"
)

// StorageCache keeps recently used blobs in memory, so that an image which is
// uploaded and then immediately analyzed is only fetched from the blob store once.
// Entries are evicted least-recently-used first, once the total size exceeds maxBytes.
// A blob larger than maxBytes is returned to the caller but never cached.
type StorageCache struct {
	log      logs.Log
	upstream storage.Storage
	maxBytes int64
	fetches  singleflight.Group

	itemsLock sync.Mutex
	bytesUsed int64
	items     map[string]*cacheItem
	tick      int64
	hits      int64
	misses    int64
}

type cacheItem struct {
	filename string
	data     []byte
	lastUsed int64
}

type Stats struct {
	Items     int   `json:"items"`
	BytesUsed int64 `json:"bytesUsed"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
}

func NewStorageCache(log logs.Log, upstream storage.Storage, maxBytes int64) *StorageCache {
	return &StorageCache{
		log:      log,
		upstream: upstream,
		maxBytes: maxBytes,
		items:    map[string]*cacheItem{},
	}
}

// Read returns the contents of filename, from memory if possible.
// The returned slice is shared, and must not be modified.
func (s *StorageCache) Read(filename string) ([]byte, error) {
	if data := s.lookup(filename); data != nil {
		return data, nil
	}
	v, err, _ := s.fetches.Do(filename, func() (any, error) {
		data, err := storage.ReadFile(s.upstream, filename)
		if err != nil {
			return nil, err
		}
		s.Put(filename, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Put inserts (or replaces) filename in the cache, without touching the upstream store
func (s *StorageCache) Put(filename string, data []byte) {
	if int64(len(data)) > s.maxBytes {
		return
	}
	s.itemsLock.Lock()
	defer s.itemsLock.Unlock()
	if old := s.items[filename]; old != nil {
		s.bytesUsed -= int64(len(old.data))
	}
	s.items[filename] = &cacheItem{
		filename: filename,
		data:     data,
		lastUsed: s.tick,
	}
	s.tick++
	s.bytesUsed += int64(len(data))
	s.purgeStale()
}

// Invalidate removes filename from the cache
func (s *StorageCache) Invalidate(filename string) {
	s.itemsLock.Lock()
	defer s.itemsLock.Unlock()
	if item := s.items[filename]; item != nil {
		s.bytesUsed -= int64(len(item.data))
		delete(s.items, filename)
	}
}

func (s *StorageCache) Stats() Stats {
	s.itemsLock.Lock()
	defer s.itemsLock.Unlock()
	return Stats{
		Items:     len(s.items),
		BytesUsed: s.bytesUsed,
		Hits:      s.hits,
		Misses:    s.misses,
	}
}

func (s *StorageCache) lookup(filename string) []byte {
	s.itemsLock.Lock()
	defer s.itemsLock.Unlock()
	item := s.items[filename]
	if item == nil {
		s.misses++
		return nil
	}
	s.hits++
	item.lastUsed = s.tick
	s.tick++
	return item.data
}

// Caller must hold itemsLock
func (s *StorageCache) purgeStale() {
	if s.bytesUsed <= s.maxBytes {
		return
	}
	all := make([]*cacheItem, 0, len(s.items))
	for _, item := range s.items {
		all = append(all, item)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].lastUsed < all[j].lastUsed
	})
	for _, item := range all {
		if s.bytesUsed <= s.maxBytes {
			break
		}
		s.bytesUsed -= int64(len(item.data))
		delete(s.items, item.filename)
		s.log.Debugf("Evicted %v from image cache", item.filename)
	}
}
