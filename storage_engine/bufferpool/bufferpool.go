// Package bufferpool implements the in-memory page cache that sits in
// front of the disk manager: a fixed set of frames, an LRU-K replacement
// policy for picking victims, and an extendible hash directory mapping
// resident page ids to frames.
package bufferpool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/SpiritDemon-max/bustub-2022fall/storage_engine/directory"
	"github.com/SpiritDemon-max/bustub-2022fall/storage_engine/page"
	"github.com/SpiritDemon-max/bustub-2022fall/storage_engine/replacer"
)

// ErrBufferFull is returned by NewPage and FetchPage when every frame is
// either pinned or otherwise non-evictable. It is not fatal: the caller
// is expected to unpin something and retry.
var ErrBufferFull = errors.New("bufferpool: no free or evictable frame available")

const defaultBucketSize = 4

// DiskManager is the slice of the disk manager this core actually calls.
// Defined at point of use, the way the rest of this codebase's small
// consumer-side interfaces are, so tests can swap in a fake without
// touching a real file.
type DiskManager interface {
	ReadPage(id page.ID, buf []byte) error
	WritePage(id page.ID, buf []byte) error
	DeallocatePage(id page.ID) error
}

// LogManager is an optional hook for a future write-ahead log. This core
// never calls it — crash recovery and log-before-write sequencing are out
// of scope — but a pool wired with one keeps the reference for whatever
// layer eventually needs it.
type LogManager interface {
	GetFlushedLSN() uint64
}

// Manager is the buffer pool itself: poolSize fixed frames, backed by
// disk, indexed by directory, and reclaimed by replacer. Every operation
// takes the pool-wide mutex, so the replacer and directory's own locks
// are never actually contended — they exist so those types are safe to
// use standalone, not because this pool needs the extra granularity.
type Manager struct {
	mu sync.Mutex

	pages    []*page.Page
	freeList []int

	dir      *directory.Directory[page.ID, int]
	replacer *replacer.LRUKReplacer
	disk     DiskManager
	log      LogManager

	nextPageID page.ID
}

// New builds a pool of poolSize frames backed by disk, evicting by LRU-K
// with the given K, and indexing resident pages with the default bucket
// size.
func New(poolSize int, disk DiskManager, replacerK int) (*Manager, error) {
	return NewWithBucketSize(poolSize, disk, replacerK, defaultBucketSize)
}

// NewWithBucketSize is New with an explicit extendible-hash bucket size,
// for callers that want to tune the index's split frequency directly.
func NewWithBucketSize(poolSize int, disk DiskManager, replacerK, bucketSize int) (*Manager, error) {
	if poolSize < 1 {
		return nil, fmt.Errorf("bufferpool: pool size must be >= 1, got %d", poolSize)
	}
	if disk == nil {
		return nil, fmt.Errorf("bufferpool: disk manager must not be nil")
	}
	rep, err := replacer.New(poolSize, replacerK)
	if err != nil {
		return nil, fmt.Errorf("bufferpool: %w", err)
	}

	pages := make([]*page.Page, poolSize)
	freeList := make([]int, poolSize)
	for i := range pages {
		pages[i] = page.New(page.InvalidID)
		freeList[i] = i
	}

	return &Manager{
		pages:    pages,
		freeList: freeList,
		dir:      directory.New[page.ID, int](bucketSize, directory.HashInt64),
		replacer: rep,
		disk:     disk,
	}, nil
}

// SetLogManager attaches an optional log manager. May be called at most
// once, before the pool is used concurrently from other goroutines.
func (m *Manager) SetLogManager(lm LogManager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = lm
}

// PoolSize returns the fixed number of frames this pool was built with.
func (m *Manager) PoolSize() int {
	return len(m.pages)
}

// acquireFrame returns a frame ready for a new resident page: either the
// next entry off the free list, or an evicted victim whose dirty bytes
// have already been written back and whose old directory entry has been
// removed. It returns ErrBufferFull if no frame is free or evictable.
func (m *Manager) acquireFrame() (int, error) {
	if n := len(m.freeList); n > 0 {
		frameID := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return frameID, nil
	}

	frameID, ok := m.replacer.Evict()
	if !ok {
		return 0, ErrBufferFull
	}

	victim := m.pages[frameID]
	if victim.IsDirty {
		if err := m.disk.WritePage(victim.ID, victim.Data); err != nil {
			return 0, fmt.Errorf("bufferpool: write back evicted page %d: %w", victim.ID, err)
		}
	}
	m.dir.Remove(victim.ID)
	return frameID, nil
}

// NewPage allocates a fresh page id, pins it into a frame, and returns
// the zeroed page. The caller owns the pin and must eventually call
// UnpinPage.
func (m *Manager) NewPage() (page.ID, *page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, err := m.acquireFrame()
	if err != nil {
		return page.InvalidID, nil, err
	}

	id := m.nextPageID
	m.nextPageID++

	pg := m.pages[frameID]
	pg.Reset()
	pg.ID = id
	pg.PinCount = 1

	m.dir.Insert(id, frameID)
	m.replacer.RecordAccess(frameID)
	m.replacer.SetEvictable(frameID, false)

	return id, pg, nil
}

// FetchPage returns the page for id, pinning it. If the page is not
// already resident, it is loaded from disk into a free or evicted frame.
func (m *Manager) FetchPage(id page.ID) (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frameID, ok := m.dir.Find(id); ok {
		pg := m.pages[frameID]
		pg.PinCount++
		m.replacer.RecordAccess(frameID)
		m.replacer.SetEvictable(frameID, false)
		return pg, nil
	}

	frameID, err := m.acquireFrame()
	if err != nil {
		return nil, err
	}

	pg := m.pages[frameID]
	pg.Reset()
	pg.ID = id
	if err := m.disk.ReadPage(id, pg.Data); err != nil {
		pg.Reset()
		m.freeList = append(m.freeList, frameID)
		return nil, fmt.Errorf("bufferpool: read page %d: %w", id, err)
	}
	pg.PinCount = 1

	m.dir.Insert(id, frameID)
	m.replacer.RecordAccess(frameID)
	m.replacer.SetEvictable(frameID, false)

	return pg, nil
}

// UnpinPage decrements id's pin count, optionally marking it dirty. It
// reports false if id is not resident or is already unpinned. Once the
// pin count reaches zero the frame becomes eligible for eviction.
func (m *Manager) UnpinPage(id page.ID, dirtyHint bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.dir.Find(id)
	if !ok {
		return false
	}
	pg := m.pages[frameID]
	if pg.PinCount <= 0 {
		return false
	}

	if dirtyHint {
		pg.IsDirty = true
	}
	pg.PinCount--
	if pg.PinCount == 0 {
		m.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage writes id's frame to disk unconditionally — regardless of
// the dirty bit — and clears the dirty bit. It reports false if id is
// not resident.
func (m *Manager) FlushPage(id page.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.dir.Find(id)
	if !ok {
		return false, nil
	}
	pg := m.pages[frameID]
	if err := m.disk.WritePage(pg.ID, pg.Data); err != nil {
		return false, fmt.Errorf("bufferpool: flush page %d: %w", id, err)
	}
	pg.IsDirty = false
	return true, nil
}

// FlushAllPages writes every resident frame to disk unconditionally and
// clears its dirty bit, regardless of pin state. It keeps going after a
// failed write so one bad frame cannot block the rest, and returns the
// combined error afterward.
func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, pg := range m.pages {
		if pg.ID == page.InvalidID {
			continue
		}
		if err := m.disk.WritePage(pg.ID, pg.Data); err != nil {
			errs = append(errs, fmt.Errorf("bufferpool: flush page %d: %w", pg.ID, err))
			continue
		}
		pg.IsDirty = false
	}
	return errors.Join(errs...)
}

// DeletePage removes id from the pool. It returns (true, nil) vacuously
// if id is not resident, (false, nil) if id is resident but pinned, and
// otherwise flushes it if dirty, drops its directory entry and
// replacement history, zeroes its frame, returns the frame to the free
// list, and tells the disk manager to deallocate the page. The page id
// itself is never handed out again by this pool.
func (m *Manager) DeletePage(id page.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.dir.Find(id)
	if !ok {
		return true, nil
	}
	pg := m.pages[frameID]
	if pg.PinCount > 0 {
		return false, nil
	}

	if pg.IsDirty {
		if err := m.disk.WritePage(pg.ID, pg.Data); err != nil {
			return false, fmt.Errorf("bufferpool: flush page %d before delete: %w", id, err)
		}
	}

	m.dir.Remove(id)
	m.replacer.SetEvictable(frameID, true)
	m.replacer.Remove(frameID)
	pg.Reset()
	m.freeList = append(m.freeList, frameID)

	if err := m.disk.DeallocatePage(id); err != nil {
		return true, fmt.Errorf("bufferpool: deallocate page %d: %w", id, err)
	}
	return true, nil
}

// Pin is a scoped guard around a fetched or newly created page: calling
// Unpin is equivalent to calling Manager.UnpinPage directly, but ties the
// unpin to the call site that did the fetch, so it reads naturally next
// to a deferred Unpin.
type Pin struct {
	mgr *Manager
	id  page.ID
	pg  *page.Page
}

// Page returns the pinned page.
func (p *Pin) Page() *page.Page { return p.pg }

// ID returns the pinned page's id.
func (p *Pin) ID() page.ID { return p.id }

// Unpin releases the pin, optionally marking the page dirty. Safe to
// defer immediately after acquiring the guard.
func (p *Pin) Unpin(dirtyHint bool) bool {
	return p.mgr.UnpinPage(p.id, dirtyHint)
}

// NewPagePin is NewPage wrapped in a Pin guard.
func (m *Manager) NewPagePin() (*Pin, error) {
	id, pg, err := m.NewPage()
	if err != nil {
		return nil, err
	}
	return &Pin{mgr: m, id: id, pg: pg}, nil
}

// FetchPagePin is FetchPage wrapped in a Pin guard.
func (m *Manager) FetchPagePin(id page.ID) (*Pin, error) {
	pg, err := m.FetchPage(id)
	if err != nil {
		return nil, err
	}
	return &Pin{mgr: m, id: id, pg: pg}, nil
}
