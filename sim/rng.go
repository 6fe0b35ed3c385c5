package sim

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two runs with the same SimulationKey and identical scenario
// MUST produce bit-for-bit identical agent histories.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemInit is the sequential stream used to build the initial population.
	SubsystemInit = "init"

	// SubsystemImmigration is the sequential stream used to draw attributes of
	// agents injected by immigration events.
	SubsystemImmigration = "immigration"
)

// === Stream ===

// Stream is a single reproducible source of draws. Every stochastic decision in
// the engine goes through one.
type Stream struct {
	src *rand.PCG
	rng *rand.Rand
}

func newStream(seed1, seed2 uint64) *Stream {
	src := rand.NewPCG(seed1, seed2)
	return &Stream{src: src, rng: rand.New(src)}
}

// Uniform returns a float64 in [0, 1).
func (s *Stream) Uniform() float64 {
	return s.rng.Float64()
}

// Bernoulli returns true with probability p. p is clamped to [0, 1]; exactly
// one uniform is consumed regardless of p so the draw index stays fixed.
func (s *Stream) Bernoulli(p float64) bool {
	u := s.rng.Float64()
	return u < clamp01(p)
}

// Categorical returns an index drawn proportionally to weights.
// Panics if weights are empty, negative, or sum to zero; scenarios are
// validated so that never happens for configured weights.
func (s *Stream) Categorical(weights []float64) int {
	if len(weights) == 0 || floats.Sum(weights) <= 0 {
		panic(fmt.Sprintf("categorical draw over degenerate weights %v", weights))
	}
	return int(distuv.NewCategorical(weights, s.src).Rand())
}

// Normal returns a normally distributed value.
func (s *Stream) Normal(mean, stdDev float64) float64 {
	if stdDev <= 0 {
		return mean
	}
	return distuv.Normal{Mu: mean, Sigma: stdDev, Src: s.src}.Rand()
}

// IntN returns an int in [0, n).
func (s *Stream) IntN(n int) int {
	return s.rng.IntN(n)
}

// === RandomStream ===

// RandomStream provides deterministic, isolated streams for one run.
//
// Derivation:
//   - subsystem streams: PCG(masterSeed, fnv1a64(name)), cached and sequential
//   - agent streams: PCG(masterSeed XOR fnv1a64(phase), mix(tick, agentID)),
//     created fresh per (tick, phase, agent)
//
// Agent streams carry no state between calls, so per-agent evaluation can run
// on any number of goroutines and in any order with identical results.
//
// Thread-safety: ForAgent is safe for concurrent use. ForSubsystem, State and
// Restore must be called from a single goroutine.
type RandomStream struct {
	key        SimulationKey
	subsystems map[string]*Stream
}

// NewRandomStream creates a RandomStream from a SimulationKey.
func NewRandomStream(key SimulationKey) *RandomStream {
	return &RandomStream{
		key:        key,
		subsystems: make(map[string]*Stream),
	}
}

// Key returns the SimulationKey used to create this RandomStream.
func (r *RandomStream) Key() SimulationKey {
	return r.key
}

// ForSubsystem returns the sequential stream for the named subsystem.
// The same name always returns the same *Stream instance. Never returns nil.
func (r *RandomStream) ForSubsystem(name string) *Stream {
	if s, ok := r.subsystems[name]; ok {
		return s
	}
	s := newStream(uint64(r.key), fnv1a64(name))
	r.subsystems[name] = s
	return s
}

// ForAgent returns the stream owned by one agent for one phase of one tick.
func (r *RandomStream) ForAgent(tick int, phase Phase, id AgentID) *Stream {
	seed1 := uint64(r.key) ^ fnv1a64(phase.String())
	seed2 := splitmix64(splitmix64(uint64(tick)) ^ uint64(id))
	return newStream(seed1, seed2)
}

// State returns the binary cursor of every subsystem stream created so far.
func (r *RandomStream) State() (map[string][]byte, error) {
	out := make(map[string][]byte, len(r.subsystems))
	for _, name := range r.subsystemNames() {
		b, err := r.subsystems[name].src.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal %s stream: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}

// Restore replaces subsystem cursors with previously captured state.
func (r *RandomStream) Restore(state map[string][]byte) error {
	for name, b := range state {
		s := newStream(0, 0)
		if err := s.src.UnmarshalBinary(b); err != nil {
			return fmt.Errorf("restore %s stream: %w", name, err)
		}
		r.subsystems[name] = s
	}
	return nil
}

func (r *RandomStream) subsystemNames() []string {
	names := make([]string, 0, len(r.subsystems))
	for name := range r.subsystems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// splitmix64 is the SplitMix64 finalizer; it spreads adjacent ticks and ids
// across the seed space.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func clamp01(p float64) float64 {
	if math.IsNaN(p) || p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	return p
}
