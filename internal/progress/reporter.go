package progress

import "sync"

type Direction string

const (
	Download Direction = "download"
	Upload   Direction = "upload"
)

const DefaultStep = 20

type key struct {
	jobID string
	dir   Direction
}

// Reporter throttles transfer progress into at most one update per bucket of Step
// percentage points. Buckets are emitted in increasing order only.
type Reporter struct {
	step int
	mu   sync.Mutex
	last map[key]int
}

func New(step int) *Reporter {
	if step <= 0 || step > 100 {
		step = DefaultStep
	}
	return &Reporter{
		step: step,
		last: make(map[key]int),
	}
}

// ShouldEmit reports whether pct opens a bucket not yet emitted for this job and
// direction. A bucket lower than or equal to the last emitted one returns false.
func (r *Reporter) ShouldEmit(jobID string, dir Direction, pct int) bool {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	bucket := pct / r.step * r.step

	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{jobID: jobID, dir: dir}
	if last, ok := r.last[k]; ok && bucket <= last {
		return false
	}
	r.last[k] = bucket
	return true
}

// Forget drops all state for a finished job.
func (r *Reporter) Forget(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.last, key{jobID: jobID, dir: Download})
	delete(r.last, key{jobID: jobID, dir: Upload})
}

// Percent returns floor(loaded/total*100), or 0 when total is unknown.
func Percent(loaded, total int64) int {
	if total <= 0 || loaded <= 0 {
		return 0
	}
	if loaded >= total {
		return 100
	}
	return int(loaded * 100 / total)
}
