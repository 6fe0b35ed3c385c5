package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdjustment_Apply_BlendOrder(t *testing.T) {
	tests := []struct {
		name string
		adj  Adjustment
		base float64
		want float64
	}{
		{"identity", identityAdjustment, 0.3, 0.3},
		{"additive", Adjustment{Delta: 0.1, Scale: 1}, 0.3, 0.4},
		{"multiplicative", Adjustment{Scale: 3}, 0.02, 0.06},
		{"add then multiply", Adjustment{Delta: 0.1, Scale: 2}, 0.1, 0.4},
		{"override replaces baseline", Adjustment{Override: 0.2, HasOverride: true, Scale: 1}, 0.9, 0.2},
		{"override then add then multiply", Adjustment{Override: 0.2, HasOverride: true, Delta: 0.1, Scale: 2}, 0.9, 0.6},
		{"clamped high", Adjustment{Scale: 10}, 0.5, 1},
		{"clamped low", Adjustment{Delta: -0.5, Scale: 1}, 0.2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.adj.apply(tt.base), 1e-12)
		})
	}
}

func TestTickRates_ProbabilitiesInUnitInterval(t *testing.T) {
	// GIVEN extreme but valid rates
	sc := testScenario(t, func(c *ScenarioConfig) {
		c.BaseRates = BaseRates{Mortality: 1, Fertility: 1, Partnering: 1, Migration: 1, Emigration: 1}
		c.Parameters = Parameters{ChildSupport: 1, EducationImpact: 1, HealthcareQuality: 0, IncomeMobility: 1}
	})
	rates := sc.Rates.At(1)
	boost := NewModifiers()
	for i := range boost {
		boost[i] = Adjustment{Delta: 0.5, Scale: 4}
	}

	// WHEN evaluated over every age and attribute combination
	for age := 0; age <= 120; age++ {
		for _, edu := range []Education{EducationNone, EducationTertiary} {
			for _, inc := range []Income{IncomeLow, IncomeHigh} {
				for _, region := range []Region{Urban, Rural} {
					a := &Agent{ID: 1, Sex: Female, Age: age, Alive: true, Education: edu, Income: inc, Region: region}
					for _, mods := range []*Modifiers{nil, &boost} {
						// THEN every probability lies in [0, 1]
						for name, p := range map[string]float64{
							"death":     rates.DeathProbability(a, mods),
							"birth":     rates.BirthProbability(a, 30, mods),
							"seek":      rates.SeekProbability(a, mods),
							"migration": rates.MigrationProbability(a, mods),
							"emigrate":  rates.EmigrationProbability(a, mods),
							"income":    rates.IncomeMobilityProbability(a, mods),
							"tertiary":  rates.SchoolingProbability(EducationTertiary, mods),
						} {
							if p < 0 || p > 1 {
								t.Fatalf("%s probability %v out of range for %+v", name, p, a)
							}
						}
					}
				}
			}
		}
	}
}

func TestTickRates_DeathProbability_RisesInOldAge(t *testing.T) {
	rates := testScenario(t, nil).Rates.At(1)
	young := rates.DeathProbability(testAgent(1, Male, 30), nil)
	old := rates.DeathProbability(testAgent(2, Male, 85), nil)
	infant := rates.DeathProbability(testAgent(3, Male, 0), nil)
	assert.Greater(t, old, young)
	assert.Greater(t, infant, young)
}

func TestTickRates_DeathProbability_HealthcareLowersHazard(t *testing.T) {
	a := testAgent(1, Female, 70)
	poor := testScenario(t, func(c *ScenarioConfig) { c.Parameters.HealthcareQuality = 0 }).Rates.At(1)
	good := testScenario(t, func(c *ScenarioConfig) { c.Parameters.HealthcareQuality = 1 }).Rates.At(1)
	assert.Less(t, good.DeathProbability(a, nil), poor.DeathProbability(a, nil))
}

func TestTickRates_BirthProbability_FertileWindow(t *testing.T) {
	rates := testScenario(t, nil).Rates.At(1)
	tests := []struct {
		name     string
		agent    *Agent
		positive bool
	}{
		{"prime-age female", testAgent(1, Female, 25), true},
		{"window start", testAgent(2, Female, 15), true},
		{"window end", testAgent(3, Female, 49), true},
		{"too young", testAgent(4, Female, 14), false},
		{"too old", testAgent(5, Female, 50), false},
		{"male", testAgent(6, Male, 25), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := rates.BirthProbability(tt.agent, 30, nil)
			if tt.positive {
				assert.Greater(t, p, 0.0)
			} else {
				assert.Zero(t, p)
			}
		})
	}
}

func TestTickRates_BirthProbability_ParityAndChildSupport(t *testing.T) {
	rates := testScenario(t, nil).Rates.At(1)
	first := testAgent(1, Female, 28)
	third := testAgent(2, Female, 28)
	third.ChildIDs = []AgentID{10, 11}
	assert.Less(t, rates.BirthProbability(third, 28, nil), rates.BirthProbability(first, 28, nil))

	// GIVEN a child-support policy raising the parameter
	mods := NewModifiers()
	mods[TargetChildSupport] = Adjustment{Delta: 0.5, Scale: 1}

	// THEN fertility rises through the parameter blend
	assert.Greater(t, rates.BirthProbability(first, 28, &mods), rates.BirthProbability(first, 28, nil))
}

func TestTickRates_BirthProbability_MultiplicativePolicy(t *testing.T) {
	rates := testScenario(t, func(c *ScenarioConfig) { c.BaseRates.Fertility = 0.02 }).Rates.At(1)
	a := testAgent(1, Female, 25)
	base := rates.BirthProbability(a, 25, nil)

	mods := NewModifiers()
	mods[TargetFertility] = Adjustment{Scale: 3}
	assert.InDelta(t, 3*base, rates.BirthProbability(a, 25, &mods), 1e-12)
}

func TestTickRates_PartnerAffinity(t *testing.T) {
	rates := testScenario(t, nil).Rates.At(1)
	f := testAgent(1, Female, 30)
	m := testAgent(2, Male, 30)

	t.Run("symmetric", func(t *testing.T) {
		assert.Equal(t, rates.PartnerAffinity(f, m), rates.PartnerAffinity(m, f))
	})
	t.Run("identical attributes score one", func(t *testing.T) {
		assert.InDelta(t, 1.0, rates.PartnerAffinity(f, m), 1e-12)
	})
	t.Run("same sex scores zero", func(t *testing.T) {
		assert.Zero(t, rates.PartnerAffinity(f, testAgent(3, Female, 30)))
	})
	t.Run("age gap lowers affinity", func(t *testing.T) {
		assert.Less(t, rates.PartnerAffinity(f, testAgent(4, Male, 45)), rates.PartnerAffinity(f, m))
	})
	t.Run("cross region lowers affinity", func(t *testing.T) {
		rural := testAgent(5, Male, 30)
		rural.Region = Rural
		assert.Less(t, rates.PartnerAffinity(f, rural), rates.PartnerAffinity(f, m))
	})
	t.Run("partnered scores zero", func(t *testing.T) {
		taken := testAgent(6, Male, 30)
		taken.PartnerID = 99
		assert.Zero(t, rates.PartnerAffinity(f, taken))
	})
	t.Run("minor scores zero", func(t *testing.T) {
		assert.Zero(t, rates.PartnerAffinity(f, testAgent(7, Male, 16)))
	})
}

func TestTickRates_MigrationDirectionWeights(t *testing.T) {
	rates := testScenario(t, nil).Rates.At(1)
	urban := testAgent(1, Male, 25)
	rural := testAgent(2, Male, 25)
	rural.Region = Rural
	assert.Greater(t, rates.MigrationProbability(rural, nil), rates.MigrationProbability(urban, nil))
}

func TestRateModel_EducationImpactSchedule_Interpolates(t *testing.T) {
	sc := testScenario(t, func(c *ScenarioConfig) {
		c.EducationImpactSchedule = []SchedulePoint{{Tick: 10, Value: 0.2}, {Tick: 20, Value: 0.6}}
	})
	tests := []struct {
		tick int
		want float64
	}{
		{10, 0.2},
		{15, 0.4},
		{20, 0.6},
		{25, 0.8}, // extrapolated
		{5, 0.0},  // extrapolated
		{0, 0.0},  // clamped
		{40, 1.0}, // clamped
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, sc.Rates.At(tt.tick).Params().EducationImpact, 1e-12, "tick %d", tt.tick)
	}
}

func TestRateModel_EconomicEras(t *testing.T) {
	sc := testScenario(t, func(c *ScenarioConfig) {
		c.Parameters.IncomeMobility = 0.1
		c.EconomicEras = []EconomicEra{{StartTick: 10, Index: 2}, {StartTick: 20, Index: 0}}
	})
	worker := testAgent(1, Male, 30)
	worker.Income = IncomeLow
	before := sc.Rates.At(5).IncomeMobilityProbability(worker, nil)
	boom := sc.Rates.At(15).IncomeMobilityProbability(worker, nil)
	bust := sc.Rates.At(25).IncomeMobilityProbability(worker, nil)
	assert.InDelta(t, 2*before, boom, 1e-12)
	assert.Zero(t, bust)
}

func TestTickRates_IncomeMobility_WorkingAgeOnly(t *testing.T) {
	rates := testScenario(t, func(c *ScenarioConfig) { c.Parameters.IncomeMobility = 0.5 }).Rates.At(1)
	child := testAgent(1, Male, 10)
	retired := testAgent(2, Male, 70)
	rich := testAgent(3, Male, 30)
	rich.Income = IncomeHigh
	assert.Zero(t, rates.IncomeMobilityProbability(child, nil))
	assert.Zero(t, rates.IncomeMobilityProbability(retired, nil))
	assert.Zero(t, rates.IncomeMobilityProbability(rich, nil))
	assert.Greater(t, rates.IncomeMobilityProbability(testAgent(4, Male, 30), nil), 0.0)
}
