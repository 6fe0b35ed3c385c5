package sim

import (
	"fmt"
	"math"
)

// AgeSampler draws initial ages.
type AgeSampler interface {
	Sample(s *Stream) int
}

type normalAges struct {
	mean, stdDev float64
	min, max     int
}

func (n normalAges) Sample(s *Stream) int {
	age := int(math.Round(s.Normal(n.mean, n.stdDev)))
	return max(n.min, min(age, n.max))
}

type uniformAges struct {
	min, max int
}

func (u uniformAges) Sample(s *Stream) int {
	return u.min + s.IntN(u.max-u.min+1)
}

type bucketAges struct {
	buckets []AgeBucketWeight
	weights []float64
}

func (b bucketAges) Sample(s *Stream) int {
	bk := b.buckets[s.Categorical(b.weights)]
	return bk.Start + s.IntN(bk.End-bk.Start+1)
}

func newAgeSampler(field string, c AgeDistributionConfig) (AgeSampler, error) {
	if !validAgeKinds[c.Kind] {
		return nil, configErrorf(field+".kind", "unknown kind %q; valid: normal, uniform, buckets", c.Kind)
	}
	if c.Kind != "buckets" && (c.Min < 0 || c.Max < c.Min) {
		return nil, configErrorf(field, "ages must satisfy 0 <= min <= max, got %d and %d", c.Min, c.Max)
	}
	switch c.Kind {
	case "normal":
		if err := validateFiniteNonNegative(field+".std_dev", c.StdDev); err != nil {
			return nil, err
		}
		if math.IsNaN(c.Mean) || math.IsInf(c.Mean, 0) {
			return nil, configErrorf(field+".mean", "must be a finite number")
		}
		return normalAges{mean: c.Mean, stdDev: c.StdDev, min: c.Min, max: c.Max}, nil
	case "uniform":
		return uniformAges{min: c.Min, max: c.Max}, nil
	}
	if len(c.Buckets) == 0 {
		return nil, configErrorf(field+".buckets", "required for kind buckets")
	}
	b := bucketAges{buckets: c.Buckets, weights: make([]float64, len(c.Buckets))}
	sum := 0.0
	for i, bk := range c.Buckets {
		bf := fmt.Sprintf("%s.buckets[%d]", field, i)
		if bk.Start < 0 || bk.End < bk.Start {
			return nil, configErrorf(bf, "ages must satisfy 0 <= start <= end, got %d and %d", bk.Start, bk.End)
		}
		if err := validateFiniteNonNegative(bf+".weight", bk.Weight); err != nil {
			return nil, err
		}
		b.weights[i] = bk.Weight
		sum += bk.Weight
	}
	if sum <= 0 {
		return nil, configErrorf(field+".buckets", "weights must sum to a positive value")
	}
	return b, nil
}
