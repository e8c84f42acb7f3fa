package analytics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.mongodb.org/mongo-driver/bson"

	"campus-fulfillment-service/internal/eta"
	"campus-fulfillment-service/internal/model"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeStore struct {
	mu sync.Mutex

	concurrent    int
	concurrentErr error
	countSince    time.Time

	inserted  []model.PrepTimeAnalyticsRecord
	insertErr error

	completed []*model.Order

	recent      map[string][]model.PrepTimeAnalyticsRecord
	recentErr   error
	recentCalls int

	since    []model.PrepTimeAnalyticsRecord
	sinceErr error

	prepUpdates map[string]int
	peakUpdates map[string][]model.PeakHourWindow
	peakCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		recent:      make(map[string][]model.PrepTimeAnalyticsRecord),
		prepUpdates: make(map[string]int),
		peakUpdates: make(map[string][]model.PeakHourWindow),
	}
}

func (f *fakeStore) CountConcurrent(ctx context.Context, vendorID, excludeOrderID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countSince = since
	if f.concurrentErr != nil {
		return 0, f.concurrentErr
	}
	return f.concurrent, nil
}

func (f *fakeStore) InsertRecords(ctx context.Context, recs []model.PrepTimeAnalyticsRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, recs...)
	return nil
}

func (f *fakeStore) CompletedOrdersSince(ctx context.Context, vendorID string, since time.Time) ([]*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed, nil
}

func (f *fakeStore) RecentRecords(ctx context.Context, menuItemID, vendorID string, limit int) ([]model.PrepTimeAnalyticsRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentCalls++
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	recs := f.recent[menuItemID]
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (f *fakeStore) RecordsSince(ctx context.Context, vendorID string, since time.Time) ([]model.PrepTimeAnalyticsRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.since, f.sinceErr
}

func (f *fakeStore) UpdateMenuItemPrepTime(ctx context.Context, menuItemID string, minutes int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepUpdates[menuItemID] = minutes
	return nil
}

func (f *fakeStore) ReplacePeakHours(ctx context.Context, vendorID string, windows []model.PeakHourWindow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peakCalls++
	f.peakUpdates[vendorID] = windows
	return nil
}

func actualRecords(actuals ...int) []model.PrepTimeAnalyticsRecord {
	recs := make([]model.PrepTimeAnalyticsRecord, len(actuals))
	for i, a := range actuals {
		recs[i] = model.PrepTimeAnalyticsRecord{ActualTime: a}
	}
	return recs
}

func TestSuggestOutlierExcludedFromMedianOnly(t *testing.T) {
	t.Parallel()

	// Newest record is a 100 minute outlier among ten 10 minute samples.
	actuals := []int{100, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10}
	s, ok := Suggest(actuals)
	if !ok {
		t.Fatal("Suggest returned ok=false")
	}
	if s.Kept != 10 {
		t.Errorf("kept = %d, want 10 (outlier rejected)", s.Kept)
	}
	if s.Median != 10 {
		t.Errorf("median = %v, want 10", s.Median)
	}

	var h float64
	for i := range actuals {
		h += 1 / float64(i+1)
	}
	wantWeighted := (100 + 10*(h-1)) / h
	if math.Abs(s.Weighted-wantWeighted) > 1e-9 {
		t.Errorf("weighted = %v, want %v (outlier still weighted)", s.Weighted, wantWeighted)
	}
	if math.Abs(s.Value-(wantWeighted+10)/2) > 1e-9 {
		t.Errorf("value = %v", s.Value)
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		actuals  []int
		wantOK   bool
		weighted float64
		median   float64
		value    float64
	}{
		{"empty", nil, false, 0, 0, 0},
		{"single", []int{12}, true, 12, 12, 12},
		{"uniform", []int{8, 8, 8, 8}, true, 8, 8, 8},
		// weights 1, 1/2: (10 + 20/2) / 1.5
		{"two_samples", []int{10, 20}, true, 20.0 / 1.5, 15, (20.0/1.5 + 15) / 2},
	}

	for _, tt := range tests {
		s, ok := Suggest(tt.actuals)
		if ok != tt.wantOK {
			t.Errorf("%s: ok = %v", tt.name, ok)
			continue
		}
		if !ok {
			continue
		}
		if math.Abs(s.Weighted-tt.weighted) > 1e-9 || math.Abs(s.Median-tt.median) > 1e-9 || math.Abs(s.Value-tt.value) > 1e-9 {
			t.Errorf("%s: got %+v, want weighted=%v median=%v value=%v", tt.name, s, tt.weighted, tt.median, tt.value)
		}
	}
}

func TestSuggestedPrepTimeCachedWithinTTL(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)}
	store := newFakeStore()
	store.recent["m1"] = actualRecords(10, 12, 14)
	agg := NewAggregator(store, Options{Now: clk.Now}, quietLogger())

	first, ok, err := agg.SuggestedPrepTime(context.Background(), "m1", "v1")
	if err != nil || !ok {
		t.Fatalf("first lookup: ok=%v err=%v", ok, err)
	}

	store.mu.Lock()
	store.recent["m1"] = actualRecords(50, 50, 50)
	store.mu.Unlock()

	clk.Advance(59 * time.Minute)
	second, _, _ := agg.SuggestedPrepTime(context.Background(), "m1", "v1")
	if second != first {
		t.Errorf("second lookup = %+v, want cached %+v", second, first)
	}
	if store.recentCalls != 1 {
		t.Errorf("store queried %d times within TTL, want 1", store.recentCalls)
	}

	clk.Advance(2 * time.Minute)
	third, _, _ := agg.SuggestedPrepTime(context.Background(), "m1", "v1")
	if store.recentCalls != 2 {
		t.Errorf("store queried %d times after TTL, want 2", store.recentCalls)
	}
	if third.Value != 50 {
		t.Errorf("recomputed value = %v, want 50", third.Value)
	}
}

func TestRecordCompletionWritesOneRecordPerItem(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 6, 12, 30, 0, 0, time.UTC) // Monday afternoon
	store := newFakeStore()
	store.concurrent = 6
	agg := NewAggregator(store, Options{Now: func() time.Time { return now }}, quietLogger())

	actual := 14
	order := &model.Order{
		OrderID:                  "o1",
		VendorID:                 "v1",
		EstimatedPreparationTime: 12,
		ActualPreparationTime:    &actual,
		Items: []model.LineItem{
			{MenuItemID: "m1", Quantity: 1},
			{MenuItemID: "m2", Quantity: 2},
		},
	}
	if err := agg.RecordCompletion(context.Background(), order); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}

	if len(store.inserted) != 2 {
		t.Fatalf("inserted %d records, want 2", len(store.inserted))
	}
	if !store.countSince.Equal(now.Add(-2 * time.Hour)) {
		t.Errorf("concurrency window start = %v", store.countSince)
	}
	for i, r := range store.inserted {
		if r.OrderID != "o1" || r.VendorID != "v1" || r.EstimatedTime != 12 || r.ActualTime != 14 {
			t.Errorf("record %d = %+v", i, r)
		}
		if r.ConcurrentOrders != 6 || !r.IsPeakHour {
			t.Errorf("record %d concurrency=%d peak=%v, want 6/true", i, r.ConcurrentOrders, r.IsPeakHour)
		}
		if r.TimeOfDay != "afternoon" || r.DayOfWeek != time.Monday || r.HourOfDay != 12 {
			t.Errorf("record %d bucket = %s/%v/%d", i, r.TimeOfDay, r.DayOfWeek, r.HourOfDay)
		}
	}
}

func TestRecordCompletionDegradesOnConcurrencyFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.concurrentErr = context.DeadlineExceeded
	agg := NewAggregator(store, Options{}, quietLogger())

	order := &model.Order{OrderID: "o1", VendorID: "v1", Items: []model.LineItem{{MenuItemID: "m1", Quantity: 1}}}
	if err := agg.RecordCompletion(context.Background(), order); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if len(store.inserted) != 1 || store.inserted[0].ConcurrentOrders != 0 || store.inserted[0].IsPeakHour {
		t.Errorf("records = %+v, want one record with zero concurrency", store.inserted)
	}
}

func TestRecordCompletionReportsInsertFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.insertErr = errors.New("write failed")
	agg := NewAggregator(store, Options{}, quietLogger())

	order := &model.Order{OrderID: "o1", VendorID: "v1", Items: []model.LineItem{{MenuItemID: "m1", Quantity: 1}}}
	if err := agg.RecordCompletion(context.Background(), order); !errors.Is(err, store.insertErr) {
		t.Errorf("err = %v, want insert failure", err)
	}
}

func TestRecomputeIsRateLimitedPerVendor(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)}
	store := newFakeStore()
	for i := 0; i < 10; i++ {
		store.completed = append(store.completed, &model.Order{Items: []model.LineItem{{MenuItemID: "popular"}}})
	}
	store.completed = append(store.completed, &model.Order{Items: []model.LineItem{{MenuItemID: "rare"}}})
	store.recent["popular"] = actualRecords(20, 20, 20)
	store.recent["rare"] = actualRecords(5)

	agg := NewAggregator(store, Options{Now: clk.Now}, quietLogger())
	order := &model.Order{OrderID: "o1", VendorID: "v1", Items: []model.LineItem{{MenuItemID: "popular", Quantity: 1}}}

	if err := agg.RecordCompletion(context.Background(), order); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if got, ok := store.prepUpdates["popular"]; !ok || got != 20 {
		t.Errorf("popular prep update = %d,%v want 20", got, ok)
	}
	if _, ok := store.prepUpdates["rare"]; ok {
		t.Error("item with fewer than 10 samples should not be recomputed")
	}
	if store.peakCalls != 1 {
		t.Errorf("peak recomputations = %d, want 1", store.peakCalls)
	}

	clk.Advance(30 * time.Minute)
	_ = agg.RecordCompletion(context.Background(), order)
	if store.peakCalls != 1 {
		t.Errorf("second pass within the hour ran (peak calls = %d)", store.peakCalls)
	}

	clk.Advance(31 * time.Minute)
	_ = agg.RecordCompletion(context.Background(), order)
	if store.peakCalls != 2 {
		t.Errorf("pass after an hour did not run (peak calls = %d)", store.peakCalls)
	}
}

func TestPeakWindows(t *testing.T) {
	t.Parallel()

	var recs []model.PrepTimeAnalyticsRecord
	for i := 0; i < 6; i++ {
		recs = append(recs, model.PrepTimeAnalyticsRecord{DayOfWeek: time.Monday, HourOfDay: 9, ActualTime: 10, ConcurrentOrders: 4})
	}
	for i := 0; i < 8; i++ {
		recs = append(recs, model.PrepTimeAnalyticsRecord{DayOfWeek: time.Tuesday, HourOfDay: 13, ActualTime: 20, ConcurrentOrders: 15})
	}
	// Exactly five samples is not enough.
	for i := 0; i < 5; i++ {
		recs = append(recs, model.PrepTimeAnalyticsRecord{DayOfWeek: time.Friday, HourOfDay: 9, ActualTime: 10, ConcurrentOrders: 30})
	}

	buckets := Buckets(recs)
	if len(buckets) != 3 || buckets[0].Day != time.Friday {
		t.Fatalf("buckets not ranked by concurrency: %+v", buckets)
	}

	got := PeakWindows(buckets)
	want := []model.PeakHourWindow{
		{Day: time.Tuesday, StartMinute: 780, EndMinute: 839, Multiplier: 2},
		{Day: time.Monday, StartMinute: 540, EndMinute: 599, Multiplier: 1.4},
	}
	if len(got) != len(want) {
		t.Fatalf("windows = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i].Day != want[i].Day || got[i].StartMinute != want[i].StartMinute ||
			got[i].EndMinute != want[i].EndMinute || math.Abs(got[i].Multiplier-want[i].Multiplier) > 1e-9 {
			t.Errorf("window %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRecomputePeakHoursKeepsConfigOnReadFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.sinceErr = context.DeadlineExceeded
	agg := NewAggregator(store, Options{}, quietLogger())

	if _, err := agg.RecomputePeakHours(context.Background(), "v1"); err == nil {
		t.Fatal("expected error")
	}
	if store.peakCalls != 0 {
		t.Error("peak hours replaced despite failed read")
	}
}

func TestLocalLimiter(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)}
	l := NewLocalLimiter(time.Hour, clk.Now)
	ctx := context.Background()

	if !l.Allow(ctx, "v1") || !l.Allow(ctx, "v2") {
		t.Fatal("first call per vendor should be allowed")
	}
	if l.Allow(ctx, "v1") {
		t.Error("second call within the hour allowed")
	}
	clk.Advance(time.Hour)
	if !l.Allow(ctx, "v1") {
		t.Error("call after the interval rejected")
	}
}

func TestTimeOfDay(t *testing.T) {
	t.Parallel()

	tests := map[int]string{0: "night", 4: "night", 5: "morning", 10: "morning", 11: "afternoon", 15: "afternoon", 16: "evening", 20: "evening", 21: "night"}
	for h, want := range tests {
		if got := TimeOfDay(time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC)); got != want {
			t.Errorf("TimeOfDay(%d:00) = %s, want %s", h, got, want)
		}
	}
}

func TestPeakWindowsMatchAfterStorageRoundTrip(t *testing.T) {
	t.Parallel()

	ist := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2024, 5, 6, 12, 30, 0, 0, ist) // Monday lunch, 07:00 UTC
	store := newFakeStore()
	store.concurrent = 8
	agg := NewAggregator(store, Options{Now: func() time.Time { return now }}, quietLogger())

	for i := 0; i < 6; i++ {
		order := &model.Order{
			OrderID:  fmt.Sprintf("o%d", i),
			VendorID: "v1",
			Items:    []model.LineItem{{MenuItemID: "m1", Quantity: 1}},
		}
		if err := agg.RecordCompletion(context.Background(), order); err != nil {
			t.Fatalf("RecordCompletion: %v", err)
		}
	}

	// Mongo hands times back in UTC.
	stored := make([]model.PrepTimeAnalyticsRecord, 0, len(store.inserted))
	for _, r := range store.inserted {
		raw, err := bson.Marshal(r)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back model.PrepTimeAnalyticsRecord
		if err := bson.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if back.CreatedAt.Location() != time.UTC {
			t.Fatalf("decoded CreatedAt in %v, want UTC", back.CreatedAt.Location())
		}
		stored = append(stored, back)
	}

	windows := PeakWindows(Buckets(stored))
	if len(windows) != 1 {
		t.Fatalf("windows = %+v, want one", windows)
	}
	w := windows[0]
	if w.Day != time.Monday || w.StartMinute != 720 || w.EndMinute != 779 {
		t.Errorf("window = %+v, want Monday 12:00-12:59", w)
	}
	if got := eta.PeakMultiplier(windows, now); math.Abs(got-1.8) > 1e-9 {
		t.Errorf("PeakMultiplier at the busy hour = %v, want 1.8", got)
	}
}

func TestRecordCompletionMergesRepeatedItems(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	agg := NewAggregator(store, Options{}, quietLogger())

	order := &model.Order{
		OrderID:  "o1",
		VendorID: "v1",
		Items: []model.LineItem{
			{MenuItemID: "m1", Quantity: 1},
			{MenuItemID: "m2", Quantity: 1},
			{MenuItemID: "m1", Quantity: 2},
		},
	}
	if err := agg.RecordCompletion(context.Background(), order); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}

	if len(store.inserted) != 2 {
		t.Fatalf("inserted %d records, want 2", len(store.inserted))
	}
	if store.inserted[0].MenuItemID != "m1" || store.inserted[1].MenuItemID != "m2" {
		t.Errorf("records = %s, %s; want m1, m2", store.inserted[0].MenuItemID, store.inserted[1].MenuItemID)
	}
}

func TestRecomputeCountsOrdersNotLines(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	// Five orders with two lines each for the same item: five samples.
	for i := 0; i < 5; i++ {
		store.completed = append(store.completed, &model.Order{Items: []model.LineItem{{MenuItemID: "m1"}, {MenuItemID: "m1"}}})
	}
	store.recent["m1"] = actualRecords(20, 20, 20)
	agg := NewAggregator(store, Options{}, quietLogger())

	agg.Recompute(context.Background(), "v1")

	if _, ok := store.prepUpdates["m1"]; ok {
		t.Error("item seen in five orders was recomputed")
	}
	if store.recentCalls != 0 {
		t.Errorf("recent records read %d times, want 0", store.recentCalls)
	}
}

func TestRecomputeLogsSuggestionFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	for i := 0; i < 10; i++ {
		store.completed = append(store.completed, &model.Order{Items: []model.LineItem{{MenuItemID: "m1"}}})
	}
	store.recentErr = errors.New("read timeout")

	logger, hook := logtest.NewNullLogger()
	agg := NewAggregator(store, Options{}, logger)
	agg.Recompute(context.Background(), "v1")

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["menuItemId"] == "m1" && e.Message == "suggested prep time failed" {
			found = true
		}
	}
	if !found {
		t.Errorf("no warning logged for failed suggestion; entries = %d", len(hook.AllEntries()))
	}
	if _, ok := store.prepUpdates["m1"]; ok {
		t.Error("prep time persisted despite failed suggestion")
	}
}
