// Package replacer implements the LRU-K eviction policy the buffer pool
// consults whenever it needs to reclaim a frame that the free list cannot
// supply.
//
// LRU-K tracks, per frame, the timestamp of the K most recent accesses.
// A frame's "backward k-distance" is the age of its K-th most recent
// access; frames with fewer than K recorded accesses are treated as
// having infinite backward k-distance (they are evicted first, oldest
// first-access wins among them). This beats plain LRU on scan-heavy
// workloads, where a page touched once during a sequential scan
// shouldn't out-rank a page that is genuinely hot.
package replacer

import (
	"container/list"
	"fmt"
	"sort"
	"sync"
)

// record is the bookkeeping kept for one frame. history holds the access
// timestamps newer than kth, oldest first: every access while count < k,
// and the k-1 most recent once count >= k (the k-th most recent is then
// kept in kth); it is the deque the design calls out explicitly.
type record struct {
	history   []int64
	count     int
	evictable bool
	kth       int64        // valid once count >= k: the k-th-most-recent timestamp
	histElem  *list.Element // valid while count < k
}

func (r *record) reset() {
	r.history = nil
	r.count = 0
	r.kth = 0
	r.histElem = nil
	r.evictable = false
}

// cacheEntry is one row of the cache_list, kept sorted ascending by kth so
// Evict can always take the oldest entry at index 0 and RecordAccess can
// binary-search its insertion point.
type cacheEntry struct {
	kth     int64
	frameID int
}

// LRUKReplacer selects eviction victims among frames the buffer pool has
// marked evictable. It knows nothing about pages, disk I/O, or pinning
// beyond the evictable flag the pool maintains for it.
type LRUKReplacer struct {
	mu sync.Mutex

	k        int
	poolSize int

	currentTimestamp int64
	currEvictable     int

	records     []record
	historyList *list.List   // frames with < k accesses, oldest first-access at the front
	cacheList   []cacheEntry // frames with >= k accesses, ascending by kth
}

// New builds a replacer for a pool of the given frame count, tracking the
// K most recent accesses per frame.
func New(poolSize, k int) (*LRUKReplacer, error) {
	if poolSize < 1 {
		return nil, fmt.Errorf("replacer: pool size must be >= 1, got %d", poolSize)
	}
	if k < 1 {
		return nil, fmt.Errorf("replacer: k must be >= 1, got %d", k)
	}
	return &LRUKReplacer{
		k:           k,
		poolSize:    poolSize,
		records:     make([]record, poolSize),
		historyList: list.New(),
	}, nil
}

func (r *LRUKReplacer) checkFrame(frameID int) {
	if frameID < 0 || frameID >= r.poolSize {
		panic(fmt.Sprintf("replacer: invalid frame id %d", frameID))
	}
}

// RecordAccess stamps frameID with a fresh monotonic timestamp. It panics
// if frameID is out of range — that is a caller bug, not a runtime
// condition to recover from.
func (r *LRUKReplacer) RecordAccess(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrame(frameID)

	rec := &r.records[frameID]
	r.currentTimestamp++
	rec.history = append(rec.history, r.currentTimestamp)
	rec.count++

	switch {
	case rec.count == 1 && r.k > 1:
		rec.histElem = r.historyList.PushBack(frameID)
	case rec.count == r.k:
		if rec.histElem != nil {
			r.historyList.Remove(rec.histElem)
			rec.histElem = nil
		}
		kth := rec.history[0]
		rec.history = rec.history[1:]
		r.insertCache(frameID, kth)
		rec.kth = kth
	case rec.count > r.k:
		r.removeCacheEntry(frameID, rec.kth)
		kth := rec.history[0]
		rec.history = rec.history[1:]
		r.insertCache(frameID, kth)
		rec.kth = kth
	}
}

// SetEvictable flips whether frameID participates in eviction. It is
// idempotent: calling it with the current state is a no-op.
func (r *LRUKReplacer) SetEvictable(frameID int, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrame(frameID)

	rec := &r.records[frameID]
	if rec.evictable == evictable {
		return
	}
	rec.evictable = evictable
	if evictable {
		r.currEvictable++
	} else {
		r.currEvictable--
	}
}

// Evict picks a victim among evictable frames: the oldest first-access
// frame with fewer than K accesses, or failing that, the frame with the
// smallest k-th-most-recent timestamp. It returns (0, false) when nothing
// is evictable.
func (r *LRUKReplacer) Evict() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for e := r.historyList.Front(); e != nil; e = e.Next() {
		frameID := e.Value.(int)
		rec := &r.records[frameID]
		if rec.evictable {
			r.historyList.Remove(e)
			rec.reset()
			r.currEvictable--
			return frameID, true
		}
	}

	for i, entry := range r.cacheList {
		rec := &r.records[entry.frameID]
		if rec.evictable {
			r.cacheList = append(r.cacheList[:i], r.cacheList[i+1:]...)
			rec.reset()
			r.currEvictable--
			return entry.frameID, true
		}
	}

	return 0, false
}

// Remove drops all tracked access history for frameID, e.g. because the
// buffer pool just deleted the page it held. It is a no-op if frameID has
// no recorded accesses, and panics if frameID is currently non-evictable
// (the pool has a bug if it tries to drop a frame it still considers
// pinned).
func (r *LRUKReplacer) Remove(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrame(frameID)

	rec := &r.records[frameID]
	if rec.count == 0 {
		return
	}
	if !rec.evictable {
		panic(fmt.Sprintf("replacer: remove on non-evictable frame %d", frameID))
	}

	if rec.count < r.k {
		r.historyList.Remove(rec.histElem)
	} else {
		r.removeCacheEntry(frameID, rec.kth)
	}
	rec.reset()
	r.currEvictable--
}

// Size reports the number of frames currently marked evictable — not the
// number of frames with tracked history.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currEvictable
}

func (r *LRUKReplacer) insertCache(frameID int, kth int64) {
	idx := sort.Search(len(r.cacheList), func(i int) bool {
		return r.cacheList[i].kth >= kth
	})
	r.cacheList = append(r.cacheList, cacheEntry{})
	copy(r.cacheList[idx+1:], r.cacheList[idx:])
	r.cacheList[idx] = cacheEntry{kth: kth, frameID: frameID}
}

func (r *LRUKReplacer) removeCacheEntry(frameID int, kth int64) {
	idx := sort.Search(len(r.cacheList), func(i int) bool {
		return r.cacheList[i].kth >= kth
	})
	for idx < len(r.cacheList) && r.cacheList[idx].kth == kth {
		if r.cacheList[idx].frameID == frameID {
			r.cacheList = append(r.cacheList[:idx], r.cacheList[idx+1:]...)
			return
		}
		idx++
	}
}
