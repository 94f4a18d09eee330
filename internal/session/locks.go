package session

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 256

// keyLocks is a fixed pool of mutexes indexed by key hash. Two keys may share
// a stripe, which only costs a little contention.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyLocks) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
