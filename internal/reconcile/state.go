package reconcile

import (
	"hash/fnv"
	"sync"

	"github.com/shopspring/decimal"
)

const numShards = 16

// stateStore holds the last-known remaining quantity per (venue, order) key.
// Keys are sharded so concurrently arriving updates for different orders never
// contend, while updates for the same order serialize on their shard.
type stateStore struct {
	shards [numShards]*stateShard
}

type stateShard struct {
	mu    sync.Mutex
	items map[string]decimal.Decimal
}

func newStateStore() *stateStore {
	s := &stateStore{}
	for i := 0; i < numShards; i++ {
		s.shards[i] = &stateShard{items: make(map[string]decimal.Decimal)}
	}
	return s
}

func (s *stateStore) shard(key string) *stateShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%numShards]
}

// update applies fn to the entry for key under the shard lock. fn receives the
// previous remaining quantity (and whether one exists) and returns the next
// value plus whether the entry should be kept. The read-modify-write is atomic
// per key, so duplicate frames arriving concurrently cannot both claim the
// same delta.
func (s *stateStore) update(key string, fn func(prev decimal.Decimal, ok bool) (next decimal.Decimal, keep bool)) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	prev, ok := sh.items[key]
	next, keep := fn(prev, ok)
	if keep {
		sh.items[key] = next
	} else if ok {
		delete(sh.items, key)
	}
}

// delete removes the entry for key.
func (s *stateStore) delete(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.items, key)
	sh.mu.Unlock()
}

// len returns the number of tracked orders.
func (s *stateStore) len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.items)
		sh.mu.Unlock()
	}
	return total
}
