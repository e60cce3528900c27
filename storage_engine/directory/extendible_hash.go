// Package directory implements an extendible hash table: the
// page-id-to-frame-id index the buffer pool consults on every hit. It
// grows by doubling and splitting rather than by full rehashing, which
// keeps the hot lookup path O(1) even as the resident set churns.
package directory

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// HashFunc computes the bit pattern an extendible hash table addresses
// into its directory and splits its buckets on. Tests can substitute a
// deterministic function to pin exact split behavior; production callers
// should use a real hash like HashInt64.
type HashFunc[K comparable] func(key K) uint64

// HashInt64 hashes an int64 key (the common case: page ids) with xxhash
// over its 8 little-endian bytes.
func HashInt64(key int64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	return xxhash.Sum64(buf[:])
}

type entry[K comparable, V any] struct {
	key K
	val V
}

// bucket holds up to size entries, all of which share the low localDepth
// bits of their key's hash. Multiple directory slots may point at the
// same bucket; Go's garbage collector keeps a bucket alive for exactly as
// long as any slot still references it, which is the reference-counted
// sharing the design calls for — no arena or manual refcount needed.
type bucket[K comparable, V any] struct {
	localDepth uint
	size       int
	entries    []entry[K, V]
}

func newBucket[K comparable, V any](size int, localDepth uint) *bucket[K, V] {
	return &bucket[K, V]{localDepth: localDepth, size: size}
}

func (b *bucket[K, V]) isFull() bool {
	return len(b.entries) >= b.size
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, e := range b.entries {
		if e.key == key {
			return e.val, true
		}
	}
	var zero V
	return zero, false
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, e := range b.entries {
		if e.key == key {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// insert overwrites an existing key's value unconditionally; it only
// consults isFull when the key is new.
func (b *bucket[K, V]) insert(key K, val V) bool {
	for i, e := range b.entries {
		if e.key == key {
			b.entries[i].val = val
			return true
		}
	}
	if b.isFull() {
		return false
	}
	b.entries = append(b.entries, entry[K, V]{key: key, val: val})
	return true
}

// Directory is a dynamically growing K -> V table addressed by the low
// globalDepth bits of hash(key). It never shrinks: buckets are never
// coalesced, even after every key they hold is removed.
type Directory[K comparable, V any] struct {
	mu sync.Mutex

	globalDepth uint
	bucketSize  int
	numBuckets  int
	dir         []*bucket[K, V]
	hash        HashFunc[K]
}

// New creates a directory with a single, empty bucket at depth 0.
func New[K comparable, V any](bucketSize int, hash HashFunc[K]) *Directory[K, V] {
	if bucketSize < 1 {
		bucketSize = 1
	}
	return &Directory[K, V]{
		bucketSize: bucketSize,
		numBuckets: 1,
		dir:        []*bucket[K, V]{newBucket[K, V](bucketSize, 0)},
		hash:       hash,
	}
}

func (d *Directory[K, V]) indexOf(key K) int {
	mask := uint64(1)<<d.globalDepth - 1
	return int(d.hash(key) & mask)
}

// Find returns the value most recently inserted for key, if key is
// currently present.
func (d *Directory[K, V]) Find(key K) (V, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dir[d.indexOf(key)].find(key)
}

// Remove deletes key if present and reports whether it was found. It
// never shrinks the directory or merges buckets.
func (d *Directory[K, V]) Remove(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dir[d.indexOf(key)].remove(key)
}

// Insert adds key -> val, overwriting any existing value for key. If the
// addressed bucket is full, it splits — doubling the directory first if
// the bucket's local depth has caught up to the global depth — and
// repeats until the key fits.
func (d *Directory[K, V]) Insert(key K, val V) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pos := d.indexOf(key)
	b := d.dir[pos]
	if b.insert(key, val) {
		return
	}

	for b.isFull() {
		localDepth := b.localDepth
		if localDepth == d.globalDepth {
			d.doubleDirectory()
		}

		newDepth := localDepth + 1
		bucket0 := newBucket[K, V](d.bucketSize, newDepth)
		bucket1 := newBucket[K, V](d.bucketSize, newDepth)
		d.numBuckets++

		localMask := uint64(1) << localDepth
		for _, e := range b.entries {
			if d.hash(e.key)&localMask != 0 {
				bucket1.insert(e.key, e.val)
			} else {
				bucket0.insert(e.key, e.val)
			}
		}

		// Re-point every slot that used to reference the split bucket:
		// those are exactly the slots sharing its low localDepth bits,
		// reachable by striding by localMask from the lowest such index.
		start := int(d.hash(key) & (localMask - 1))
		for i := start; i < len(d.dir); i += int(localMask) {
			if uint64(i)&localMask != 0 {
				d.dir[i] = bucket1
			} else {
				d.dir[i] = bucket0
			}
		}

		pos = d.indexOf(key)
		b = d.dir[pos]
	}
	b.insert(key, val)
}

func (d *Directory[K, V]) doubleDirectory() {
	d.globalDepth++
	// Appending the slice to itself duplicates slot i into slot i+old for
	// every i — exactly the "new slots mirror the old ones" rule.
	d.dir = append(d.dir, d.dir...)
}

// GlobalDepth returns the number of hash bits currently used to address
// into the directory.
func (d *Directory[K, V]) GlobalDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.globalDepth)
}

// LocalDepth returns the local depth of the bucket referenced by the
// given directory slot.
func (d *Directory[K, V]) LocalDepth(dirIndex int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.dir[dirIndex].localDepth)
}

// NumBuckets returns the number of distinct buckets currently allocated.
func (d *Directory[K, V]) NumBuckets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.numBuckets
}

// Len returns the number of directory slots, i.e. 2^GlobalDepth.
func (d *Directory[K, V]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dir)
}
