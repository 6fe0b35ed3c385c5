package sim

import (
	"context"
	"fmt"
	"math"

	"github.com/popsim/popsim/sim/trace"
)

// tickState carries what every phase of one tick shares.
type tickState struct {
	tick   int
	rates  TickRates
	policy *TickPolicy
	counts TickCounts
}

func (s *Stepper) runPhase(ts *tickState, phase Phase) error {
	switch phase {
	case PhaseAging:
		return s.runAging(ts)
	case PhaseMortality:
		return s.runMortality(ts)
	case PhasePartnering:
		return s.runPartnering(ts)
	case PhaseFertility:
		return s.runFertility(ts)
	case PhaseMigration:
		return s.runMigration(ts)
	}
	return fmt.Errorf("unknown phase %d", phase)
}

// lazyStream creates an agent's phase stream on first use; agents with
// nothing to draw never allocate one.
type lazyStream struct {
	rs    *RandomStream
	tick  int
	phase Phase
	id    AgentID
	s     *Stream
}

func (l *lazyStream) get() *Stream {
	if l.s == nil {
		l.s = l.rs.ForAgent(l.tick, l.phase, l.id)
	}
	return l.s
}

func (s *Stepper) stream(ts *tickState, phase Phase, id AgentID) *lazyStream {
	return &lazyStream{rs: s.rng, tick: ts.tick, phase: phase, id: id}
}

// === Aging ===

type attributeChange struct {
	changed bool
	edu     Education
	inc     Income
}

func (s *Stepper) runAging(ts *tickState) error {
	s.pop.ageAll()
	life := &s.sc.Rates.Life
	live := s.pop.Live()
	changes := make([]attributeChange, len(live))
	err := forEachAgent(context.Background(), len(live), s.workers, func(i int) error {
		a := live[i]
		st := s.stream(ts, PhaseAging, a.ID)
		mods := ts.policy.ModifiersFor(a)
		edu, inc := a.Education, a.Income

		if a.Age == life.PrimaryAge && edu == EducationNone &&
			st.get().Bernoulli(ts.rates.SchoolingProbability(EducationPrimary, mods)) {
			edu = EducationPrimary
		}
		if a.Age == life.SecondaryAge && edu == EducationPrimary &&
			st.get().Bernoulli(ts.rates.SchoolingProbability(EducationSecondary, mods)) {
			edu = EducationSecondary
		}
		if a.Age == life.TertiaryAge && edu == EducationSecondary &&
			st.get().Bernoulli(ts.rates.SchoolingProbability(EducationTertiary, mods)) {
			edu = EducationTertiary
		}

		if a.Age == life.WorkforceEntryAge {
			inc = Income(st.get().Categorical(s.sc.Rates.IncomeWeights(edu)))
		} else if p := ts.rates.IncomeMobilityProbability(a, mods); p > 0 && st.get().Bernoulli(p) {
			inc++
		}
		if edu != a.Education || inc != a.Income {
			changes[i] = attributeChange{changed: true, edu: edu, inc: inc}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, c := range changes {
		if c.changed {
			s.pop.setAttributes(live[i].ID, c.edu, c.inc)
		}
	}
	return nil
}

// === Mortality ===

func (s *Stepper) runMortality(ts *tickState) error {
	live := s.pop.Live()
	probs := make([]float64, len(live)) // drawn probability; NaN = survived
	err := forEachAgent(context.Background(), len(live), s.workers, func(i int) error {
		a := live[i]
		probs[i] = math.NaN()
		p := ts.rates.DeathProbability(a, ts.policy.ModifiersFor(a))
		if p > 0 && s.rng.ForAgent(ts.tick, PhaseMortality, a.ID).Bernoulli(p) {
			probs[i] = p
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, p := range probs {
		if math.IsNaN(p) {
			continue
		}
		a := live[i]
		if err := s.pop.Kill(a.ID, ts.tick); err != nil {
			return fmt.Errorf("tick %d: %w", ts.tick, err)
		}
		ts.counts.Deaths++
		if s.trace.Enabled() {
			s.trace.RecordDeath(trace.DeathRecord{Tick: ts.tick, AgentID: uint64(a.ID), Age: a.Age, Probability: p})
		}
	}
	return nil
}

// === Partnering ===

func (s *Stepper) runPartnering(ts *tickState) error {
	live := s.pop.Live()
	seek := make([]bool, len(live))
	err := forEachAgent(context.Background(), len(live), s.workers, func(i int) error {
		a := live[i]
		p := ts.rates.SeekProbability(a, ts.policy.ModifiersFor(a))
		seek[i] = p > 0 && s.rng.ForAgent(ts.tick, PhasePartnering, a.ID).Bernoulli(p)
		return nil
	})
	if err != nil {
		return err
	}
	var seekers []*Agent
	for i, ok := range seek {
		if ok {
			seekers = append(seekers, live[i])
		}
	}
	for _, pair := range MatchPartners(s.pop, ts.rates, seekers) {
		if err := s.pop.Partner(pair.A, pair.B); err != nil {
			return fmt.Errorf("tick %d: %w", ts.tick, err)
		}
		ts.counts.NewPartnerships++
		if s.trace.Enabled() {
			s.trace.RecordPartnership(trace.PartnershipRecord{
				Tick: ts.tick, AgentA: uint64(pair.A), AgentB: uint64(pair.B), Affinity: pair.Affinity,
			})
		}
	}
	return nil
}

// === Fertility ===

type conception struct {
	ok  bool
	sex Sex
}

func (s *Stepper) runFertility(ts *tickState) error {
	live := s.pop.Live()
	results := make([]conception, len(live))
	err := forEachAgent(context.Background(), len(live), s.workers, func(i int) error {
		mother := live[i]
		if mother.Sex != Female || !mother.HasPartner() {
			return nil
		}
		father, ok := s.pop.Get(mother.PartnerID)
		if !ok || !father.Live() {
			return nil
		}
		p := ts.rates.BirthProbability(mother, father.Age, ts.policy.ModifiersFor(mother))
		if p <= 0 {
			return nil
		}
		st := s.rng.ForAgent(ts.tick, PhaseFertility, mother.ID)
		if st.Bernoulli(p) {
			results[i] = conception{ok: true, sex: Sex(st.Categorical(s.sc.SexWeights))}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, c := range results {
		if !c.ok {
			continue
		}
		mother := live[i]
		child, err := s.pop.Birth(mother.ID, mother.PartnerID, Agent{
			Sex:       c.sex,
			Education: EducationNone,
			Income:    mother.Income,
			Region:    mother.Region,
			BornTick:  ts.tick,
		})
		if err != nil {
			return fmt.Errorf("tick %d: %w", ts.tick, err)
		}
		ts.counts.Births++
		ts.counts.FertilityAges = append(ts.counts.FertilityAges, mother.Age)
		if s.trace.Enabled() {
			s.trace.RecordBirth(trace.BirthRecord{
				Tick:      ts.tick,
				ChildID:   uint64(child.ID),
				MotherID:  uint64(mother.ID),
				FatherID:  uint64(mother.PartnerID),
				MotherAge: mother.Age,
			})
		}
	}
	return nil
}

// === Migration ===

type migrationDecision uint8

const (
	stay migrationDecision = iota
	emigrate
	relocate
)

func (s *Stepper) runMigration(ts *tickState) error {
	live := s.pop.Live()
	decisions := make([]migrationDecision, len(live))
	err := forEachAgent(context.Background(), len(live), s.workers, func(i int) error {
		a := live[i]
		st := s.stream(ts, PhaseMigration, a.ID)
		mods := ts.policy.ModifiersFor(a)
		if p := ts.rates.EmigrationProbability(a, mods); p > 0 && st.get().Bernoulli(p) {
			decisions[i] = emigrate
			return nil
		}
		if p := ts.rates.MigrationProbability(a, mods); p > 0 && st.get().Bernoulli(p) {
			decisions[i] = relocate
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, d := range decisions {
		a := live[i]
		switch d {
		case emigrate:
			if err := s.pop.Emigrate(a.ID, ts.tick); err != nil {
				return fmt.Errorf("tick %d: %w", ts.tick, err)
			}
			ts.counts.Emigrants++
			if s.trace.Enabled() {
				s.trace.RecordMigration(trace.MigrationRecord{
					Tick: ts.tick, AgentID: uint64(a.ID), Kind: trace.MigrationEmigrate, From: a.Region.String(),
				})
			}
		case relocate:
			from := a.Region
			if err := s.pop.Move(a.ID); err != nil {
				return fmt.Errorf("tick %d: %w", ts.tick, err)
			}
			ts.counts.RegionMoves++
			if s.trace.Enabled() {
				s.trace.RecordMigration(trace.MigrationRecord{
					Tick: ts.tick, AgentID: uint64(a.ID), Kind: trace.MigrationMove,
					From: from.String(), To: a.Region.String(),
				})
			}
		}
	}
	s.injectImmigrants(ts)
	return nil
}

// injectImmigrants adds the agents of every active immigration event, in
// declaration order, drawing attributes from the sequential immigration
// stream.
func (s *Stepper) injectImmigrants(ts *tickState) {
	events := ts.policy.Immigration()
	if len(events) == 0 {
		return
	}
	st := s.rng.ForSubsystem(SubsystemImmigration)
	for _, e := range events {
		for range int(e.Magnitude) {
			a := s.pop.Spawn(newImmigrant(st, e.Immigrants, &s.sc.Rates.Life, ts.tick))
			ts.counts.Immigrants++
			if s.trace.Enabled() {
				s.trace.RecordMigration(trace.MigrationRecord{
					Tick: ts.tick, AgentID: uint64(a.ID), Kind: trace.MigrationImmigrate,
					To: a.Region.String(), Event: e.Name,
				})
			}
		}
	}
}

func newImmigrant(st *Stream, p *ImmigrantProfile, life *Lifecycle, tick int) Agent {
	age := p.Age
	if p.AgeStdDev > 0 {
		age = int(math.Round(st.Normal(float64(p.Age), p.AgeStdDev)))
	}
	age = max(age, p.MinAge, 0)
	sex := Sex(st.Categorical(p.SexWeights))
	edu := educationForAge(Education(st.Categorical(p.EducationWeights)), age, life)
	inc := Income(st.Categorical(p.IncomeWeights))
	return Agent{
		Age:       age,
		Sex:       sex,
		Education: edu,
		Income:    inc,
		Region:    p.Region,
		Origin:    OriginImmigrant,
		BornTick:  tick - age,
	}
}

// educationForAge caps a drawn education level at what the agent's age allows.
func educationForAge(edu Education, age int, life *Lifecycle) Education {
	switch {
	case age < life.PrimaryAge:
		return EducationNone
	case age < life.SecondaryAge:
		return min(edu, EducationPrimary)
	case age < life.TertiaryAge:
		return min(edu, EducationSecondary)
	}
	return edu
}
