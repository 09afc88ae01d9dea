package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"

	"shop-auth-service/internal/config"
)

// BucketingManager assigns every principal a stable partition bucket so the
// principals table spreads across Scylla nodes instead of hot-spotting a
// single partition.
type BucketingManager struct {
	accountBuckets int
	hasherPool     sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		accountBuckets: cfg.Bucketing.AccountBuckets,
	}

	// Pool of hash functions to avoid per-call allocation
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// AccountBucket returns the consistent bucket for a principal id
// (0 to accountBuckets-1)
func (bm *BucketingManager) AccountBucket(principalID string) int {
	return int(bm.getHash(principalID) % uint64(bm.accountBuckets))
}

// AccountBuckets returns the configured bucket count
func (bm *BucketingManager) AccountBuckets() int {
	return bm.accountBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
