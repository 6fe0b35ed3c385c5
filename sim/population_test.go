package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPopulation_Spawn_AssignsMonotonicIDs(t *testing.T) {
	pop := NewPopulation()
	a := pop.Spawn(Agent{Sex: Female, Age: 20})
	b := pop.Spawn(Agent{Sex: Male, Age: 21, ID: 999, PartnerID: 5})

	assert.Equal(t, AgentID(1), a.ID)
	assert.Equal(t, AgentID(2), b.ID, "caller-supplied id is ignored")
	assert.Equal(t, NoAgent, b.PartnerID, "caller-supplied partner is cleared")
	assert.True(t, b.Live())
	assert.Equal(t, 2, pop.LiveCount())
}

func TestPopulation_Partner_Symmetric(t *testing.T) {
	pop := NewPopulation()
	f := pop.Spawn(Agent{Sex: Female, Age: 25})
	m := pop.Spawn(Agent{Sex: Male, Age: 27})

	require.NoError(t, pop.Partner(f.ID, m.ID))
	assert.Equal(t, m.ID, f.PartnerID)
	assert.Equal(t, f.ID, m.PartnerID)
	assert.NoError(t, pop.Verify(1, PhasePartnering))
}

func TestPopulation_Partner_Rejects(t *testing.T) {
	pop := NewPopulation()
	f := pop.Spawn(Agent{Sex: Female, Age: 45})
	m := pop.Spawn(Agent{Sex: Male, Age: 47})
	require.NoError(t, pop.Partner(f.ID, m.ID))
	child, err := pop.Birth(f.ID, m.ID, Agent{Sex: Male})
	require.NoError(t, err)
	sibling, err := pop.Birth(f.ID, m.ID, Agent{Sex: Female})
	require.NoError(t, err)
	other := pop.Spawn(Agent{Sex: Female, Age: 30})
	dead := pop.Spawn(Agent{Sex: Male, Age: 30})
	require.NoError(t, pop.Kill(dead.ID, 1))

	tests := []struct {
		name string
		a, b AgentID
	}{
		{"self", other.ID, other.ID},
		{"already partnered", f.ID, child.ID},
		{"missing agent", other.ID, 999},
		{"siblings", child.ID, sibling.ID},
		{"dead agent", other.ID, dead.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, pop.Partner(tt.a, tt.b))
		})
	}

	// GIVEN the mother is widowed
	require.NoError(t, pop.Kill(m.ID, 2))
	// THEN she still cannot partner her son
	assert.Error(t, pop.Partner(f.ID, child.ID))
}

func TestPopulation_Kill_ClearsBothLinks(t *testing.T) {
	pop := NewPopulation()
	f := pop.Spawn(Agent{Sex: Female, Age: 60})
	m := pop.Spawn(Agent{Sex: Male, Age: 62})
	require.NoError(t, pop.Partner(f.ID, m.ID))

	require.NoError(t, pop.Kill(m.ID, 4))

	assert.False(t, m.Alive)
	assert.Equal(t, 4, m.EndTick)
	assert.Equal(t, NoAgent, m.PartnerID)
	assert.Equal(t, NoAgent, f.PartnerID)
	assert.Equal(t, 1, pop.LiveCount())
	assert.Equal(t, 2, pop.TotalCount())
	assert.Error(t, pop.Kill(m.ID, 5), "dead agents cannot die twice")
	assert.NoError(t, pop.Verify(4, PhaseMortality))
}

func TestPopulation_Emigrate_RetainsHistory(t *testing.T) {
	pop := NewPopulation()
	f := pop.Spawn(Agent{Sex: Female, Age: 30})
	m := pop.Spawn(Agent{Sex: Male, Age: 30})
	require.NoError(t, pop.Partner(f.ID, m.ID))

	require.NoError(t, pop.Emigrate(f.ID, 3))

	got, ok := pop.Get(f.ID)
	require.True(t, ok)
	assert.True(t, got.Alive)
	assert.True(t, got.Emigrated)
	assert.False(t, got.Live())
	assert.Equal(t, NoAgent, m.PartnerID)
	assert.Len(t, pop.Live(), 1)
}

func TestPopulation_Birth_RecordsLineage(t *testing.T) {
	pop := NewPopulation()
	f := pop.Spawn(Agent{Sex: Female, Age: 28, Region: Rural})
	m := pop.Spawn(Agent{Sex: Male, Age: 30})
	require.NoError(t, pop.Partner(f.ID, m.ID))

	child, err := pop.Birth(f.ID, m.ID, Agent{Sex: Female, Age: 12, Region: Rural})
	require.NoError(t, err)

	assert.Equal(t, 0, child.Age, "newborns start at age 0")
	assert.Equal(t, OriginNative, child.Origin)
	assert.Equal(t, []AgentID{f.ID, m.ID}, child.ParentIDs)
	assert.Equal(t, []AgentID{child.ID}, f.ChildIDs)
	assert.Equal(t, []AgentID{child.ID}, m.ChildIDs)
	assert.True(t, pop.Related(child, f))
	assert.True(t, pop.Related(m, child))
}

func TestPopulation_Related_Grandparent(t *testing.T) {
	pop := NewPopulation()
	g1 := pop.Spawn(Agent{Sex: Female, Age: 60})
	g2 := pop.Spawn(Agent{Sex: Male, Age: 60})
	require.NoError(t, pop.Partner(g1.ID, g2.ID))
	parent, err := pop.Birth(g1.ID, g2.ID, Agent{Sex: Male})
	require.NoError(t, err)
	spouse := pop.Spawn(Agent{Sex: Female, Age: 0})
	require.NoError(t, pop.Partner(parent.ID, spouse.ID))
	grandchild, err := pop.Birth(spouse.ID, parent.ID, Agent{Sex: Female})
	require.NoError(t, err)
	stranger := pop.Spawn(Agent{Sex: Male})

	assert.True(t, pop.Related(grandchild, g1))
	assert.True(t, pop.Related(g2, grandchild))
	assert.False(t, pop.Related(grandchild, stranger))
	assert.False(t, pop.Related(g1, spouse))
}

func TestPopulation_Verify_DetectsViolations(t *testing.T) {
	tests := []struct {
		name      string
		corrupt   func(pop *Population, a, b *Agent)
		invariant string
	}{
		{"negative age", func(_ *Population, a, _ *Agent) { a.Age = -1 }, InvariantNegativeAge},
		{"self partner", func(_ *Population, a, _ *Agent) { a.PartnerID = a.ID }, InvariantSelfPartner},
		{"asymmetric partner", func(_ *Population, a, b *Agent) { a.PartnerID = b.ID }, InvariantAsymmetricPartner},
		{"dangling partner", func(_ *Population, a, _ *Agent) { a.PartnerID = 999 }, InvariantDanglingPartner},
		{"stale live index", func(pop *Population, a, _ *Agent) { a.Alive = false }, InvariantLiveIndex},
		{"duplicate id", func(pop *Population, a, b *Agent) { b.ID = a.ID }, InvariantDuplicateID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN a valid population
			pop := NewPopulation()
			a := pop.Spawn(Agent{Sex: Female, Age: 30})
			b := pop.Spawn(Agent{Sex: Male, Age: 30})
			require.NoError(t, pop.Verify(1, PhaseAging))

			// WHEN it is corrupted
			tt.corrupt(pop, a, b)

			// THEN Verify reports the specific invariant
			err := pop.Verify(3, PhaseFertility)
			var iv *InvariantViolation
			require.True(t, errors.As(err, &iv), "got %v", err)
			assert.Equal(t, tt.invariant, iv.Invariant)
			assert.Equal(t, 3, iv.Tick)
			assert.Equal(t, PhaseFertility, iv.Phase)
		})
	}
}
