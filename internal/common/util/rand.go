package util

import (
	"math/rand"
	"sync"
	"time"
)

// LockedSource is a random source that uses a mutex to ensure it is threadsafe
type LockedSource struct {
	lk  sync.Mutex
	src rand.Source
}

func (r *LockedSource) Int63() (n int64) {
	r.lk.Lock()
	n = r.src.Int63()
	r.lk.Unlock()
	return
}

func (r *LockedSource) Seed(seed int64) {
	r.lk.Lock()
	r.src.Seed(seed)
	r.lk.Unlock()
}

// NewThreadsafeRand Returns a *rand.Rand that is safe to share across multiple goroutines
func NewThreadsafeRand(seed int64) *rand.Rand {
	return rand.New(&LockedSource{
		lk:  sync.Mutex{},
		src: rand.NewSource(seed),
	})
}

// NewSeededRand returns a threadsafe *rand.Rand seeded from the wall clock.
func NewSeededRand() *rand.Rand {
	return NewThreadsafeRand(time.Now().UnixNano())
}

// ShuffleInt64s permutes ids in place using a uniform random permutation.
func ShuffleInt64s(r *rand.Rand, ids []int64) {
	r.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
}
