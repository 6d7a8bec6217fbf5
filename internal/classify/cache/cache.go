// Package cache memoizes serialized classification payloads. Invalidation is
// coarse: any accepted, corrected or discarded reading bumps the stage's
// generation counter, which is embedded in every key, so all entries for the
// stage become unreachable at once. Stale generations age out via TTL.
package cache

import (
	"context"
	"fmt"
	"time"

	id "crono/pkg/domain"
)

// Key identifies one cached classification variant.
type Key struct {
	StageID              id.StageID
	CategoryID           id.CategoryID // nil UUID means no category filter
	IncludeNonClassified bool
	Detail               bool
}

// encode renders the key under a given stage generation.
func (k Key) encode(gen uint64) string {
	cat := "all"
	if !k.CategoryID.IsNil() {
		cat = k.CategoryID.String()
	}
	return fmt.Sprintf("classify:%s:%d:%s:%t:%t", k.StageID, gen, cat, k.IncludeNonClassified, k.Detail)
}

// Cache is the read-through store in front of the classification engines.
// Implementations fail open: a backend fault reads as a miss and never
// surfaces to the caller.
type Cache interface {
	// Get returns the cached payload for the key at the stage's current
	// generation, or false on a miss.
	Get(ctx context.Context, key Key) ([]byte, bool)

	// Set stores a payload under the stage's current generation.
	Set(ctx context.Context, key Key, payload []byte, ttl time.Duration)

	// Invalidate bumps the stage's generation, orphaning every live entry
	// for it.
	Invalidate(ctx context.Context, stageID id.StageID)
}
