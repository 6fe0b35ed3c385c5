package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testScenario compiles the default scenario after applying mutate.
func testScenario(t *testing.T, mutate func(c *ScenarioConfig)) *Scenario {
	t.Helper()
	cfg := DefaultScenarioConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	sc, err := cfg.Compile()
	require.NoError(t, err)
	return sc
}

// quietScenario zeroes every stochastic rate so tests can switch on only the
// process under test.
func quietScenario(t *testing.T, mutate func(c *ScenarioConfig)) *Scenario {
	t.Helper()
	return testScenario(t, func(c *ScenarioConfig) {
		c.InitialSize = 0
		c.BaseRates = BaseRates{}
		c.Parameters.IncomeMobility = 0
		c.Lifecycle.SecondaryCompletion = 0
		c.Lifecycle.TertiaryCompletion = 0
		if mutate != nil {
			mutate(c)
		}
	})
}

func testAgent(id AgentID, sex Sex, age int) *Agent {
	return &Agent{ID: id, Sex: sex, Age: age, Alive: true, Education: EducationSecondary, Income: IncomeMiddle}
}

// spawnCouples adds n partnered female/male pairs of the given age.
func spawnCouples(t *testing.T, pop *Population, n, age int) {
	t.Helper()
	for i := 0; i < n; i++ {
		f := pop.Spawn(Agent{Sex: Female, Age: age, Education: EducationSecondary, Income: IncomeMiddle})
		m := pop.Spawn(Agent{Sex: Male, Age: age, Education: EducationSecondary, Income: IncomeMiddle})
		require.NoError(t, pop.Partner(f.ID, m.ID))
	}
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }
