// Package blockcache provides a small read-through cache over one region of a
// block device, such as a file allocation table. Chain walks read the same
// few FAT sectors over and over, and on a card every read is a full command
// round trip.
//
// The cache holds a fixed number of sectors and evicts them in round-robin
// order. A bitmap over the whole region records which blocks are resident, so
// a miss never has to scan the slots.

package blockcache

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/errors"
	c "github.com/dargueta/sdmmc/file_systems/common"
)

type slot struct {
	sector sdmmc.Sector
	valid  bool
}

type BlockCache struct {
	device   sdmmc.BlockDevice
	region   c.Region
	resident bitmap.Bitmap
	slots    []slot
	next     int
	hits     uint64
	misses   uint64
}

// New creates a cache of `capacity` sectors over `region` of `device`. The
// capacity is at least 1.
func New(device sdmmc.BlockDevice, region c.Region, capacity int) *BlockCache {
	if capacity < 1 {
		capacity = 1
	}
	return &BlockCache{
		device:   device,
		region:   region,
		resident: bitmap.NewSlice(int(region.Count)),
		slots:    make([]slot, capacity),
	}
}

// Region returns the blocks covered by the cache.
func (cache *BlockCache) Region() c.Region {
	return cache.region
}

// Capacity returns the number of sectors the cache can hold.
func (cache *BlockCache) Capacity() int {
	return len(cache.slots)
}

// Read returns the sector at absolute address `block`, reading it from the
// device if it isn't cached.
//
// The returned sector belongs to the cache. It's only valid until the next
// call to Read or Invalidate and must not be modified.
func (cache *BlockCache) Read(block uint32) (*sdmmc.Sector, error) {
	if !cache.region.Contains(block) {
		return nil, errors.NewWithMessage(
			errors.KindInvalidArgument,
			fmt.Sprintf("invalid block number: %d not in range %s", block, cache.region),
		)
	}

	offset := int(block - cache.region.Start)
	if cache.resident.Get(offset) {
		for i := range cache.slots {
			if cache.slots[i].valid && cache.slots[i].sector.LBA == block {
				cache.hits++
				return &cache.slots[i].sector, nil
			}
		}
	}

	cache.misses++
	victim := &cache.slots[cache.next]
	if victim.valid {
		cache.resident.Set(int(victim.sector.LBA-cache.region.Start), false)
		victim.valid = false
	}

	if err := cache.device.ReadBlock(block, &victim.sector); err != nil {
		return nil, err
	}

	victim.valid = true
	cache.resident.Set(offset, true)
	cache.next = (cache.next + 1) % len(cache.slots)
	return &victim.sector, nil
}

// Invalidate drops every cached sector.
func (cache *BlockCache) Invalidate() {
	for i := range cache.slots {
		if cache.slots[i].valid {
			cache.resident.Set(int(cache.slots[i].sector.LBA-cache.region.Start), false)
			cache.slots[i].valid = false
		}
	}
	cache.next = 0
}

// Stats returns the number of reads served from the cache and the number that
// went to the device.
func (cache *BlockCache) Stats() (hits, misses uint64) {
	return cache.hits, cache.misses
}
