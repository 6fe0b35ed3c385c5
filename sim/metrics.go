// Tracks per-tick demographic indicators sampled from the population.

package sim

import (
	"context"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// MetricsConfig controls how snapshots bucket the population.
type MetricsConfig struct {
	WorkingAgeMin        int `yaml:"working_age_min" json:"working_age_min"`
	WorkingAgeMax        int `yaml:"working_age_max" json:"working_age_max"`
	HistogramBucketWidth int `yaml:"histogram_bucket_width" json:"histogram_bucket_width"`
	HistogramMaxAge      int `yaml:"histogram_max_age" json:"histogram_max_age"`
}

// AgeBucket counts live agents with Start <= age < Start+width. The last
// bucket of a histogram is open-ended.
type AgeBucket struct {
	Start int `json:"bucket_start"`
	Count int `json:"count"`
}

// Snapshot is the immutable record of one committed tick. It is the data
// contract rendered by any visualization layer.
type Snapshot struct {
	Tick                  int            `json:"tick"`
	Population            int            `json:"population"`
	Births                int            `json:"births"`
	Deaths                int            `json:"deaths"`
	Immigrants            int            `json:"immigrants"`
	Emigrants             int            `json:"emigrants"`
	NetMigration          int            `json:"net_migration"`
	RegionMoves           int            `json:"region_moves"`
	NewPartnerships       int            `json:"new_partnerships"`
	DependencyRatio       float64        `json:"dependency_ratio"`
	EducationDistribution map[string]int `json:"education_distribution"`
	IncomeDistribution    map[string]int `json:"income_distribution"`
	RegionDistribution    map[string]int `json:"region_distribution"`
	AgeHistogram          []AgeBucket    `json:"age_histogram"`
	FertilityAges         []int          `json:"fertility_ages"`
	AverageEducation      float64        `json:"average_education"`
	MeanAge               float64        `json:"mean_age"`
	Exhausted             bool           `json:"exhausted,omitempty"`
}

// TickCounts accumulates the flow counters of one tick while phases run.
type TickCounts struct {
	Births          int
	Deaths          int
	Immigrants      int
	Emigrants       int
	RegionMoves     int
	NewPartnerships int
	FertilityAges   []int
}

// Sample builds the snapshot for a committed tick.
func (c MetricsConfig) Sample(tick int, pop *Population, counts TickCounts) Snapshot {
	snap := Snapshot{
		Tick:                  tick,
		Births:                counts.Births,
		Deaths:                counts.Deaths,
		Immigrants:            counts.Immigrants,
		Emigrants:             counts.Emigrants,
		NetMigration:          counts.Immigrants - counts.Emigrants,
		RegionMoves:           counts.RegionMoves,
		NewPartnerships:       counts.NewPartnerships,
		EducationDistribution: make(map[string]int, len(educationNames)),
		IncomeDistribution:    make(map[string]int, len(incomeNames)),
		RegionDistribution:    make(map[string]int, len(regionNames)),
		FertilityAges:         append([]int{}, counts.FertilityAges...),
	}
	for _, n := range educationNames {
		snap.EducationDistribution[n] = 0
	}
	for _, n := range incomeNames {
		snap.IncomeDistribution[n] = 0
	}
	for _, n := range regionNames {
		snap.RegionDistribution[n] = 0
	}

	width := max(c.HistogramBucketWidth, 1)
	nBuckets := c.HistogramMaxAge/width + 1
	snap.AgeHistogram = make([]AgeBucket, nBuckets)
	for i := range snap.AgeHistogram {
		snap.AgeHistogram[i].Start = i * width
	}

	live := pop.Live()
	ages := make([]float64, 0, len(live))
	eduScores := make([]float64, 0, len(live))
	young, old, working := 0, 0, 0
	for _, a := range live {
		snap.EducationDistribution[a.Education.String()]++
		snap.IncomeDistribution[a.Income.String()]++
		snap.RegionDistribution[a.Region.String()]++
		snap.AgeHistogram[min(a.Age/width, nBuckets-1)].Count++
		ages = append(ages, float64(a.Age))
		eduScores = append(eduScores, a.Education.Score())
		switch {
		case a.Age < c.WorkingAgeMin:
			young++
		case a.Age > c.WorkingAgeMax:
			old++
		default:
			working++
		}
	}
	snap.Population = len(live)
	if working > 0 {
		snap.DependencyRatio = float64(young+old) / float64(working)
	}
	if len(live) > 0 {
		snap.MeanAge = stat.Mean(ages, nil)
		snap.AverageEducation = stat.Mean(eduScores, nil)
	}
	return snap
}

// === Series ===

// Series is the append-only, tick-ordered sequence of snapshots produced by a
// run. One writer appends; any number of readers may read concurrently. A
// snapshot becomes visible only after its append completes.
type Series struct {
	mu      sync.RWMutex
	snaps   []Snapshot
	changed chan struct{}
	closed  bool
}

// NewSeries returns an empty series.
func NewSeries() *Series {
	return &Series{changed: make(chan struct{})}
}

// Append commits a snapshot and wakes waiting readers.
func (s *Series) Append(snap Snapshot) {
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	ch := s.changed
	s.changed = make(chan struct{})
	s.mu.Unlock()
	close(ch)
}

// Close marks the series complete; readers blocked in Next return.
func (s *Series) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ch := s.changed
	s.changed = make(chan struct{})
	s.mu.Unlock()
	close(ch)
}

// Len returns the number of committed snapshots.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}

// Snapshots returns a copy of the committed sequence.
func (s *Series) Snapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Snapshot(nil), s.snaps...)
}

// Next blocks until the snapshot at position i is committed and returns it.
// ok is false when the series was closed before reaching position i.
func (s *Series) Next(ctx context.Context, i int) (snap Snapshot, ok bool, err error) {
	for {
		s.mu.RLock()
		if i < len(s.snaps) {
			snap = s.snaps[i]
			s.mu.RUnlock()
			return snap, true, nil
		}
		closed, ch := s.closed, s.changed
		s.mu.RUnlock()
		if closed {
			return Snapshot{}, false, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return Snapshot{}, false, ctx.Err()
		}
	}
}
