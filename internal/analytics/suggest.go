package analytics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// outlierSigmas bounds how far from the sample mean an actual time may sit
// before it is left out of the median.
const outlierSigmas = 2.0

// Suggestion is the outcome of one suggested-prep-time computation.
type Suggestion struct {
	Weighted float64
	Median   float64
	Kept     int
	Value    float64
}

// Minutes is the value rounded for storage on the menu item.
func (s Suggestion) Minutes() int { return int(math.Round(s.Value)) }

// Suggest combines a rank-weighted average of actuals (newest first, the i-th
// weighted 1/(i+1)) with the median of the samples within two standard
// deviations of the mean. Outliers still count toward the weighted average.
// ok is false for an empty sample.
func Suggest(actuals []int) (s Suggestion, ok bool) {
	if len(actuals) == 0 {
		return Suggestion{}, false
	}

	var sum, wsum, weights float64
	for i, a := range actuals {
		w := 1 / float64(i+1)
		wsum += float64(a) * w
		weights += w
		sum += float64(a)
	}
	s.Weighted = wsum / weights

	mean := sum / float64(len(actuals))
	var sq float64
	for _, a := range actuals {
		d := float64(a) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(actuals)))

	kept := make([]float64, 0, len(actuals))
	for _, a := range actuals {
		if math.Abs(float64(a)-mean) <= outlierSigmas*std {
			kept = append(kept, float64(a))
		}
	}
	s.Kept = len(kept)

	if len(kept) == 0 {
		s.Value = s.Weighted
		return s, true
	}
	s.Median = median(kept)
	s.Value = (s.Weighted + s.Median) / 2
	return s, true
}

func median(xs []float64) float64 {
	sort.Float64s(xs)
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}

type cacheKey struct {
	menuItemID string
	vendorID   string
}

type cacheEntry struct {
	suggestion Suggestion
	computedAt time.Time
}

// SuggestionCache holds one suggestion per (menu item, vendor). Entries are
// never evicted explicitly; they simply stop being served after the TTL.
type SuggestionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[cacheKey]cacheEntry
}

func NewSuggestionCache(ttl time.Duration, now func() time.Time) *SuggestionCache {
	if now == nil {
		now = time.Now
	}
	return &SuggestionCache{ttl: ttl, now: now, entries: make(map[cacheKey]cacheEntry)}
}

func (c *SuggestionCache) Get(menuItemID, vendorID string) (Suggestion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cacheKey{menuItemID, vendorID}]
	if !ok || c.now().Sub(e.computedAt) >= c.ttl {
		return Suggestion{}, false
	}
	return e.suggestion, true
}

// Put overwrites any previous entry for the key.
func (c *SuggestionCache) Put(menuItemID, vendorID string, s Suggestion) {
	c.mu.Lock()
	c.entries[cacheKey{menuItemID, vendorID}] = cacheEntry{suggestion: s, computedAt: c.now()}
	c.mu.Unlock()
}
