package consensus

import "sync"

// PayloadCache maps a mutation reference to its payload bytes, letting the
// zero-validator local simulation (PayloadOf) resolve a proposal's payload
// without the consensus package importing whatever package originates
// proposals. The caller stores the payload just before calling Verify and
// wires Get as the engine's PayloadOf.
type PayloadCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

// NewPayloadCache constructs an empty cache.
func NewPayloadCache() *PayloadCache {
	return &PayloadCache{m: make(map[string][]byte)}
}

// Put records payload under ref, overwriting any previous entry.
func (c *PayloadCache) Put(ref string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[ref] = payload
}

// Get returns the payload last stored under ref, or nil if none was.
func (c *PayloadCache) Get(ref string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[ref]
}
