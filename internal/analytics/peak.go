package analytics

import (
	"math"
	"sort"
	"time"

	"campus-fulfillment-service/internal/model"
)

const (
	// A bucket needs more samples than this to become a peak window.
	minPeakSamples = 5
	maxPeakFactor  = 2.0
)

// Bucket aggregates the analytics records of one (weekday, hour) slot.
type Bucket struct {
	Day            time.Weekday
	Hour           int
	Samples        int
	AvgActual      float64
	AvgConcurrency float64
}

// Buckets groups records by weekday and hour of completion and orders the
// result by average concurrency, busiest first.
func Buckets(recs []model.PrepTimeAnalyticsRecord) []Bucket {
	type acc struct {
		n           int
		actual, con float64
	}
	type slot struct {
		day  time.Weekday
		hour int
	}

	groups := make(map[slot]*acc)
	for _, r := range recs {
		k := slot{r.DayOfWeek, r.HourOfDay}
		a, ok := groups[k]
		if !ok {
			a = &acc{}
			groups[k] = a
		}
		a.n++
		a.actual += float64(r.ActualTime)
		a.con += float64(r.ConcurrentOrders)
	}

	out := make([]Bucket, 0, len(groups))
	for k, a := range groups {
		out = append(out, Bucket{
			Day:            k.day,
			Hour:           k.hour,
			Samples:        a.n,
			AvgActual:      a.actual / float64(a.n),
			AvgConcurrency: a.con / float64(a.n),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgConcurrency != out[j].AvgConcurrency {
			return out[i].AvgConcurrency > out[j].AvgConcurrency
		}
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Hour < out[j].Hour
	})
	return out
}

// PeakWindows turns every bucket with more than five samples into an
// hour-long window. The multiplier grows a tenth per concurrent order and
// tops out at 2.
func PeakWindows(buckets []Bucket) []model.PeakHourWindow {
	windows := make([]model.PeakHourWindow, 0, len(buckets))
	for _, b := range buckets {
		if b.Samples <= minPeakSamples {
			continue
		}
		windows = append(windows, model.PeakHourWindow{
			Day:         b.Day,
			StartMinute: b.Hour * 60,
			EndMinute:   b.Hour*60 + 59,
			Multiplier:  math.Min(maxPeakFactor, 1+b.AvgConcurrency/10),
		})
	}
	return windows
}

// TimeOfDay is the coarse bucket stored on analytics records.
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 11:
		return "morning"
	case h >= 11 && h < 16:
		return "afternoon"
	case h >= 16 && h < 21:
		return "evening"
	default:
		return "night"
	}
}
