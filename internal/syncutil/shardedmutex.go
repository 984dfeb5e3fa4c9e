// Package syncutil provides bounded per-key locking.
//
// The registry serializes mutations per processor with ShardedMutex and the
// routing engine serializes attempts per payment with ContextShardedMutex.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// ShardedMutex is a fixed pool of mutexes keyed by string. Memory stays
// bounded regardless of key count; keys sharing a shard contend.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}

// SameShard reports whether two keys share a lock.
func SameShard(a, b string) bool {
	return shardIndex(a) == shardIndex(b)
}
