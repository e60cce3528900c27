// poolstat drives a small buffer pool against a scratch file on disk and
// reports how much of it churned through eviction. Run: go run ./cmd/poolstat
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/SpiritDemon-max/bustub-2022fall/storage_engine/bufferpool"
	diskmanager "github.com/SpiritDemon-max/bustub-2022fall/storage_engine/disk_manager"
	"github.com/SpiritDemon-max/bustub-2022fall/storage_engine/page"
)

const (
	dbPath   = "databases/poolstat/pages.db"
	poolSize = 8
	replaceK = 2
)

func main() {
	if err := os.MkdirAll("databases/poolstat", 0755); err != nil {
		log.Fatalf("mkdir: %v", err)
	}

	disk, err := diskmanager.Open(dbPath)
	if err != nil {
		log.Fatalf("open disk manager: %v", err)
	}
	defer disk.Close()

	pool, err := bufferpool.New(poolSize, disk, replaceK)
	if err != nil {
		log.Fatalf("new buffer pool: %v", err)
	}

	const pagesWritten = 32
	var ids []page.ID
	for i := 0; i < pagesWritten; i++ {
		id, pg, err := pool.NewPage()
		if err != nil {
			log.Fatalf("new page %d: %v", i, err)
		}
		copy(pg.Data, fmt.Sprintf("page %d", i))
		ids = append(ids, id)
		if !pool.UnpinPage(id, true) {
			log.Fatalf("unpin page %d failed", id)
		}
	}

	if err := pool.FlushAllPages(); err != nil {
		log.Fatalf("flush all: %v", err)
	}

	refetched := 0
	for _, id := range ids {
		if _, err := pool.FetchPage(id); err == nil {
			refetched++
			pool.UnpinPage(id, false)
		}
	}

	fmt.Printf("pool holds %s across %s frames\n",
		humanize.Bytes(uint64(pool.PoolSize()*page.Size)),
		humanize.Comma(int64(pool.PoolSize())))
	fmt.Printf("wrote %s pages through a %s-frame pool, re-fetched %s of them afterward\n",
		humanize.Comma(pagesWritten), humanize.Comma(int64(poolSize)), humanize.Comma(int64(refetched)))
}
