package mirror

import (
	"math"
	"time"
)

// Cursor is the stored ID range of a dialog. Valid is false before the first
// message has been mirrored.
type Cursor struct {
	MinID int
	MaxID int
	Valid bool
}

// Plan returns the history queries that close the gaps around the cursor.
//
// A dialog never mirrored gets one newest-first pass. Otherwise the newer
// side (ID > MaxID) is read oldest-first so new content arrives in
// chronological order, followed by the older side (ID < MinID) read
// newest-first to continue the backfill. Each pass is capped by limit on
// its own.
func Plan(c Cursor, limit int, wait time.Duration) []Query {
	if !c.Valid {
		return []Query{{Limit: limit, Wait: wait}}
	}
	return []Query{
		{Limit: limit, MinID: c.MaxID, Reverse: true, Wait: wait},
		{Limit: limit, MaxID: c.MinID, Wait: wait},
	}
}

// Budget is the per-dialog message cap for dialog i (1-indexed) of n when
// at most overall messages may be processed and processed already were.
// Zero overall means unlimited and yields zero. The arithmetic (float
// division, round half to even, floor of 1) is kept exactly as established
// so budgets stay comparable with earlier runs.
func Budget(overall, i, n, processed int) int {
	if overall <= 0 {
		return 0
	}
	target := int(math.RoundToEven(float64(overall) / float64(n) * float64(i)))
	return max(1, target-processed)
}
