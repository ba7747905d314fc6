package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DefaultMemoryCapacity is the in-memory tier size.
const DefaultMemoryCapacity = 16 << 20

// Cache combines the memory and disk tiers. Disk hits are promoted to
// memory.
type Cache struct {
	mem  *MemoryCache
	disk *DiskCache
}

// Open creates a cache whose disk tier lives in dir and holds at most
// diskCapacity bytes.
func Open(dir string, diskCapacity int64) (*Cache, error) {
	disk, err := NewDiskCache(dir, diskCapacity)
	if err != nil {
		return nil, err
	}
	memCap := int64(DefaultMemoryCapacity)
	if diskCapacity < memCap {
		memCap = diskCapacity
	}
	return &Cache{mem: NewMemoryCache(memCap), disk: disk}, nil
}

// Key derives the cache key for text spoken with voice.
func Key(voice, text string, sampleRate int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%s", voice, sampleRate, text)))
	return hex.EncodeToString(sum[:])
}

// Get looks key up in memory, then on disk.
func (c *Cache) Get(key string) ([]byte, bool) {
	if v, ok := c.mem.Get(key); ok {
		return v, true
	}
	v, ok := c.disk.Get(key)
	if ok {
		_ = c.mem.Put(key, v)
	}
	return v, ok
}

// Put writes key to both tiers. An item too large for memory still goes to
// disk.
func (c *Cache) Put(key string, value []byte) error {
	_ = c.mem.Put(key, value)
	return c.disk.Put(key, value)
}

// Delete removes key from both tiers.
func (c *Cache) Delete(key string) {
	c.mem.Delete(key)
	c.disk.Delete(key)
}

// Stats returns memory and disk counters.
func (c *Cache) Stats() (mem, disk Stats) {
	return c.mem.Stats(), c.disk.Stats()
}

// Close persists the disk index.
func (c *Cache) Close() error {
	return c.disk.Close()
}
