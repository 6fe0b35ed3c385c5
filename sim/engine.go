package sim

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// BuildInitialPopulation creates the tick-0 population of a scenario. All
// draws come from the "init" subsystem stream, so the result depends only on
// the scenario and its seed.
func BuildInitialPopulation(sc *Scenario) (*Population, error) {
	if sc == nil {
		return nil, &ConfigurationError{Reason: "no scenario"}
	}
	rs := NewRandomStream(NewSimulationKey(sc.Seed))
	st := rs.ForSubsystem(SubsystemInit)
	life := &sc.Rates.Life
	pop := NewPopulation()
	for range sc.InitialSize {
		age := sc.Ages.Sample(st)
		sex := Sex(st.Categorical(sc.SexWeights))
		edu := educationForAge(Education(st.Categorical(sc.EducationWeights)), age, life)
		inc := Income(st.Categorical(sc.IncomeWeights))
		region := Rural
		if st.Bernoulli(sc.UrbanShare) {
			region = Urban
		}
		pop.Spawn(Agent{
			Age:       age,
			Sex:       sex,
			Education: edu,
			Income:    inc,
			Region:    region,
			Origin:    OriginInitial,
			BornTick:  -age,
		})
	}
	if err := pop.Verify(0, PhaseAging); err != nil {
		return nil, err
	}
	logrus.Infof("built initial population of %d agents for scenario %q", pop.LiveCount(), sc.Name)
	return pop, nil
}

// RunSimulation steps pop for tickCount ticks and returns one snapshot per
// committed tick, in tick order. On error the snapshots committed before the
// failing tick are returned alongside it. pop must be at tick 0; continue a
// checkpointed population with Resume, which restores the stream cursors.
func RunSimulation(ctx context.Context, pop *Population, sc *Scenario, tickCount int, opts ...StepperOption) ([]Snapshot, error) {
	if sc == nil || pop == nil {
		return nil, &ConfigurationError{Reason: "scenario and population are required"}
	}
	if tickCount <= 0 {
		return nil, configErrorf("tick_count", "must be positive, got %d", tickCount)
	}
	if pop.Tick() != 0 {
		return nil, configErrorf("", "population is at tick %d, use Resume to continue a checkpoint", pop.Tick())
	}
	s := NewStepper(sc, pop, NewRandomStream(NewSimulationKey(sc.Seed)), opts...)
	err := s.Run(ctx, tickCount)
	s.Series().Close()
	if err != nil {
		return s.Series().Snapshots(), fmt.Errorf("running scenario %q: %w", sc.Name, err)
	}
	return s.Series().Snapshots(), nil
}
