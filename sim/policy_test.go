package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyEvent_ActiveAt_InclusiveWindow(t *testing.T) {
	e := PolicyEvent{StartTick: 5, EndTick: 10}
	for tick, want := range map[int]bool{4: false, 5: true, 7: true, 10: true, 11: false} {
		assert.Equal(t, want, e.ActiveAt(tick), "tick %d", tick)
	}
	open := PolicyEvent{StartTick: 3, EndTick: OpenEnded}
	assert.True(t, open.ActiveAt(1_000_000))
}

func TestEligibility_Matches(t *testing.T) {
	a := testAgent(1, Female, 30)
	a.Region = Rural
	a.ChildIDs = []AgentID{7}
	a.PartnerID = 2

	tests := []struct {
		name string
		el   Eligibility
		want bool
	}{
		{"any agent", AnyAgent, true},
		{"zero value bounds age to 0", Eligibility{}, false},
		{"age inside", Eligibility{MinAge: 20, MaxAge: 40}, true},
		{"age below", Eligibility{MinAge: 31, MaxAge: OpenEnded}, false},
		{"age above", Eligibility{MaxAge: 29}, false},
		{"sex match", Eligibility{MaxAge: OpenEnded, SexMask: 1 << uint(Female)}, true},
		{"sex mismatch", Eligibility{MaxAge: OpenEnded, SexMask: 1 << uint(Male)}, false},
		{"region mismatch", Eligibility{MaxAge: OpenEnded, RegionMask: 1 << uint(Urban)}, false},
		{"education set", Eligibility{MaxAge: OpenEnded, EducationMask: 1<<uint(EducationSecondary) | 1<<uint(EducationTertiary)}, true},
		{"income mismatch", Eligibility{MaxAge: OpenEnded, IncomeMask: 1 << uint(IncomeHigh)}, false},
		{"partnered", Eligibility{MaxAge: OpenEnded, Partnered: boolPtr(true)}, true},
		{"single only", Eligibility{MaxAge: OpenEnded, Partnered: boolPtr(false)}, false},
		{"min children met", Eligibility{MaxAge: OpenEnded, MinChildren: 1}, true},
		{"min children unmet", Eligibility{MaxAge: OpenEnded, MinChildren: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.el.Matches(a))
		})
	}
}

func TestEligibility_Disjoint(t *testing.T) {
	young := Eligibility{MaxAge: 17}
	adult := Eligibility{MinAge: 18, MaxAge: OpenEnded}
	women := Eligibility{MaxAge: OpenEnded, SexMask: 1 << uint(Female)}
	men := Eligibility{MaxAge: OpenEnded, SexMask: 1 << uint(Male)}
	single := Eligibility{MaxAge: OpenEnded, Partnered: boolPtr(false)}
	partnered := Eligibility{MaxAge: OpenEnded, Partnered: boolPtr(true)}

	assert.True(t, young.Disjoint(&adult))
	assert.True(t, women.Disjoint(&men))
	assert.True(t, single.Disjoint(&partnered))
	assert.False(t, women.Disjoint(&adult))
	assert.False(t, AnyAgent.Disjoint(&men))
}

func TestModifiers_Fold_DeclarationOrderAndPrecedence(t *testing.T) {
	// GIVEN additive, multiplicative and two override events on fertility
	events := []PolicyEvent{
		{Name: "bonus", StartTick: 1, EndTick: OpenEnded, Target: TargetFertility, Kind: Additive, Magnitude: 0.05, Eligibility: AnyAgent},
		{Name: "boom", StartTick: 1, EndTick: OpenEnded, Target: TargetFertility, Kind: Multiplicative, Magnitude: 2, Eligibility: AnyAgent},
		{Name: "boom2", StartTick: 1, EndTick: OpenEnded, Target: TargetFertility, Kind: Multiplicative, Magnitude: 1.5, Eligibility: AnyAgent},
		{Name: "low", StartTick: 1, EndTick: OpenEnded, Target: TargetFertility, Kind: Override, Magnitude: 0.1, Priority: 1, Eligibility: AnyAgent},
		{Name: "high", StartTick: 1, EndTick: OpenEnded, Target: TargetFertility, Kind: Override, Magnitude: 0.2, Priority: 5, Eligibility: AnyAgent},
	}

	// WHEN folded for one agent
	mods := ResolvePolicy(events, 1).ModifiersFor(testAgent(1, Female, 25))
	require.NotNil(t, mods)
	adj := mods[TargetFertility]

	// THEN deltas sum, scalars multiply and the higher priority override wins
	assert.InDelta(t, 0.05, adj.Delta, 1e-12)
	assert.InDelta(t, 3.0, adj.Scale, 1e-12)
	assert.True(t, adj.HasOverride)
	assert.Equal(t, 0.2, adj.Override)
	assert.InDelta(t, (0.2+0.05)*3, adj.apply(0.9), 1e-12)

	// AND untouched targets stay identity
	assert.Equal(t, identityAdjustment, mods[TargetMortality])
}

func TestTickPolicy_EligibilityFiltersAgents(t *testing.T) {
	events := []PolicyEvent{{
		StartTick: 1, EndTick: OpenEnded, Target: TargetMortality, Kind: Multiplicative, Magnitude: 0,
		Eligibility: Eligibility{MinAge: 60, MaxAge: OpenEnded},
	}}
	tp := ResolvePolicy(events, 1)
	assert.Equal(t, 0.0, tp.ModifiersFor(testAgent(1, Male, 70))[TargetMortality].Scale)
	assert.Equal(t, 1.0, tp.ModifiersFor(testAgent(2, Male, 30))[TargetMortality].Scale)
}

func TestResolvePolicy_SeparatesImmigration(t *testing.T) {
	events := []PolicyEvent{
		{Name: "wave", StartTick: 3, EndTick: 3, Target: TargetImmigration, Kind: Inject, Magnitude: 50},
		{Name: "boom", StartTick: 3, EndTick: 5, Target: TargetFertility, Kind: Multiplicative, Magnitude: 3, Eligibility: AnyAgent},
		{Name: "later", StartTick: 9, EndTick: 9, Target: TargetFertility, Kind: Additive, Magnitude: 0.1, Eligibility: AnyAgent},
	}

	tp := ResolvePolicy(events, 3)
	require.Len(t, tp.Immigration(), 1)
	assert.Equal(t, "wave", tp.Immigration()[0].Name)
	assert.False(t, tp.Empty())

	idle := ResolvePolicy(events, 7)
	assert.True(t, idle.Empty())
	assert.Empty(t, idle.Immigration())
	assert.Nil(t, idle.ModifiersFor(testAgent(1, Male, 30)))
}

func TestModifiers_NilMeansIdentity(t *testing.T) {
	var mods *Modifiers
	assert.Equal(t, identityAdjustment, mods.get(TargetMigration))
}

func TestParseTargetAndKind(t *testing.T) {
	target, err := ParseTarget("child_support")
	require.NoError(t, err)
	assert.Equal(t, TargetChildSupport, target)

	kind, err := ParseAdjustmentKind("override")
	require.NoError(t, err)
	assert.Equal(t, Override, kind)

	_, err = ParseTarget("happiness")
	assert.Error(t, err)
	_, err = ParseAdjustmentKind("exponential")
	assert.Error(t, err)
}
