package sim

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/popsim/popsim/sim/trace"
)

// Stepper advances one population through ticks. It is the single owner of
// the population while a run is in progress: no other goroutine may mutate
// it. Snapshots are published to a Series that may be read concurrently.
type Stepper struct {
	sc      *Scenario
	pop     *Population
	rng     *RandomStream
	series  *Series
	trace   *trace.SimulationTrace
	workers int

	checkpointEvery int
	onCheckpoint    func(*Checkpoint) error

	horizon   int // last tick the current run intends to reach
	exhausted bool
	err       error // sticky fatal error
}

// StepperOption configures a Stepper.
type StepperOption func(*Stepper)

// WithWorkers bounds the goroutines used for per-agent evaluation. Results are
// identical for every value.
func WithWorkers(n int) StepperOption {
	return func(s *Stepper) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithTrace records every lifecycle event into t.
func WithTrace(t *trace.SimulationTrace) StepperOption {
	return func(s *Stepper) { s.trace = t }
}

// WithSeries publishes snapshots into an existing series.
func WithSeries(series *Series) StepperOption {
	return func(s *Stepper) { s.series = series }
}

// WithCheckpoints hands a checkpoint to fn after every tick divisible by
// every. The stepper calls fn on its own goroutine between ticks.
func WithCheckpoints(every int, fn func(*Checkpoint) error) StepperOption {
	return func(s *Stepper) {
		if every > 0 && fn != nil {
			s.checkpointEvery, s.onCheckpoint = every, fn
		}
	}
}

// NewStepper prepares a population for stepping. The next tick is
// pop.Tick()+1.
func NewStepper(sc *Scenario, pop *Population, rs *RandomStream, opts ...StepperOption) *Stepper {
	s := &Stepper{
		sc:      sc,
		pop:     pop,
		rng:     rs,
		workers: runtime.GOMAXPROCS(0),
		horizon: sc.TickCount,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.series == nil {
		s.series = NewSeries()
	}
	return s
}

// Tick returns the last committed tick.
func (s *Stepper) Tick() int { return s.pop.Tick() }

// Population returns the population being stepped. Callers must not mutate it.
func (s *Stepper) Population() *Population { return s.pop }

// Series returns the snapshot series the stepper publishes to.
func (s *Stepper) Series() *Series { return s.series }

// Exhausted reports whether the live population died out with no further
// immigration scheduled.
func (s *Stepper) Exhausted() bool { return s.exhausted }

// Step runs one full tick: the five phases in order, invariant checks after
// each, then sampling. A phase never observes a partially applied earlier
// phase. After a fatal error the stepper refuses further steps.
func (s *Stepper) Step() (Snapshot, error) {
	if s.err != nil {
		return Snapshot{}, s.err
	}
	tick := s.pop.Tick() + 1
	ts := &tickState{
		tick:   tick,
		rates:  s.sc.Rates.At(tick),
		policy: ResolvePolicy(s.sc.Events, tick),
	}
	before := s.pop.LiveCount()

	for _, phase := range Phases {
		if err := s.runPhase(ts, phase); err != nil {
			s.err = err
			return Snapshot{}, err
		}
		if err := s.pop.Verify(tick, phase); err != nil {
			s.err = err
			return Snapshot{}, err
		}
	}

	c := &ts.counts
	if want := before - c.Deaths + c.Births + c.Immigrants - c.Emigrants; want != s.pop.LiveCount() {
		s.err = &InvariantViolation{
			Tick:      tick,
			Phase:     PhaseMigration,
			Invariant: InvariantConservation,
			Detail:    "live count does not match flows",
		}
		return Snapshot{}, s.err
	}

	s.pop.tick = tick
	snap := s.sc.Metrics.Sample(tick, s.pop, ts.counts)
	if before > 0 && snap.Population == 0 && !s.immigrationPending(tick) {
		snap.Exhausted = true
		s.exhausted = true
		logrus.Infof("population exhausted at tick %d", tick)
	}
	s.series.Append(snap)
	logrus.Debugf("tick %d: population=%d births=%d deaths=%d immigrants=%d emigrants=%d partnerships=%d",
		tick, snap.Population, snap.Births, snap.Deaths, snap.Immigrants, snap.Emigrants, snap.NewPartnerships)

	if s.checkpointEvery > 0 && tick%s.checkpointEvery == 0 {
		cp, err := s.Checkpoint()
		if err == nil {
			err = s.onCheckpoint(cp)
		}
		if err != nil {
			return snap, fmt.Errorf("checkpoint at tick %d: %w", tick, err)
		}
	}
	return snap, nil
}

// Run steps up to n ticks. It stops early on exhaustion and checks ctx
// between ticks only: a tick that has started always commits.
func (s *Stepper) Run(ctx context.Context, n int) error {
	start := s.pop.Tick()
	s.horizon = start + n
	logrus.Infof("running scenario %q: ticks %d..%d, %d live agents, %d workers",
		s.sc.Name, start+1, s.horizon, s.pop.LiveCount(), s.workers)
	for s.pop.Tick() < s.horizon && !s.exhausted {
		if err := ctx.Err(); err != nil {
			logrus.Warnf("run cancelled after tick %d", s.pop.Tick())
			return err
		}
		if _, err := s.Step(); err != nil {
			return err
		}
	}
	logrus.Infof("run finished at tick %d with %d live agents", s.pop.Tick(), s.pop.LiveCount())
	return nil
}

// immigrationPending reports whether an injecting event is active at any tick
// after t within the current run.
func (s *Stepper) immigrationPending(t int) bool {
	for i := range s.sc.Events {
		e := &s.sc.Events[i]
		if e.Kind == Inject && e.Magnitude > 0 && e.EndTick > t && e.StartTick <= s.horizon {
			return true
		}
	}
	return false
}
