package message

const DefaultDedupCapacity = 100

// DedupCache suppresses redelivered messages. It is a bounded FIFO set
// of identity keys: once full, recording a new key evicts the oldest
// one. It is owned by a single session and is not goroutine-safe.
type DedupCache struct {
	capacity int
	keys     []string
	seen     map[string]struct{}
}

func NewDedupCache(capacity int) *DedupCache {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}

	return &DedupCache{
		capacity: capacity,
		keys:     make([]string, 0, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

// ShouldApply returns false without side effects if the envelope was
// already recorded. Otherwise it records the identity key and returns
// true.
func (c *DedupCache) ShouldApply(e *Envelope) bool {
	key := IdentityKey(e)
	if _, ok := c.seen[key]; ok {
		return false
	}

	if len(c.keys) == c.capacity {
		oldest := c.keys[0]
		c.keys = c.keys[1:]
		delete(c.seen, oldest)
	}

	c.keys = append(c.keys, key)
	c.seen[key] = struct{}{}

	return true
}

func (c *DedupCache) Len() int {
	return len(c.keys)
}

// Contains reports whether the key is currently held, without recording
// anything.
func (c *DedupCache) Contains(key string) bool {
	_, ok := c.seen[key]
	return ok
}
