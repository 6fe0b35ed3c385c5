package sim

import (
	"math"
)

// Target names the rate or parameter a policy event adjusts.
type Target uint8

const (
	TargetMortality Target = iota
	TargetFertility
	TargetPartnering
	TargetMigration
	TargetEmigration
	TargetChildSupport
	TargetEducationImpact
	TargetHealthcareQuality
	TargetIncomeMobility
	// TargetImmigration is not a rate: events on it inject agents.
	TargetImmigration

	numAdjustableTargets = TargetImmigration
)

var targetNames = []string{
	"mortality", "fertility", "partnering", "migration", "emigration",
	"child_support", "education_impact", "healthcare_quality", "income_mobility",
	"immigration",
}

func (t Target) String() string { return enumName(targetNames, int(t)) }

// ParseTarget maps a scenario target_rate name to a Target.
func ParseTarget(name string) (Target, error) {
	v, err := parseEnum(targetNames, "target_rate", name)
	return Target(v), err
}

// AdjustmentKind is how an event changes its target.
type AdjustmentKind uint8

const (
	Additive AdjustmentKind = iota
	Multiplicative
	Override
	// Inject adds Magnitude new agents per active tick (immigration only).
	Inject
)

var adjustmentKindNames = []string{"additive", "multiplicative", "override", "inject"}

func (k AdjustmentKind) String() string { return enumName(adjustmentKindNames, int(k)) }

// ParseAdjustmentKind maps a scenario adjustment_kind name.
func ParseAdjustmentKind(name string) (AdjustmentKind, error) {
	v, err := parseEnum(adjustmentKindNames, "adjustment_kind", name)
	return AdjustmentKind(v), err
}

// OpenEnded marks a policy event without an end tick.
const OpenEnded = math.MaxInt

// PolicyEvent is a compiled, read-only scheduled modifier.
type PolicyEvent struct {
	Name        string
	StartTick   int
	EndTick     int // inclusive; OpenEnded if unbounded
	Target      Target
	Kind        AdjustmentKind
	Magnitude   float64
	Priority    int
	Eligibility Eligibility
	Immigrants  *ImmigrantProfile
}

// ActiveAt reports whether the event applies at tick t.
func (e *PolicyEvent) ActiveAt(t int) bool {
	return e.StartTick <= t && t <= e.EndTick
}

// overlaps reports whether two event windows share a tick.
func (e *PolicyEvent) overlaps(o *PolicyEvent) bool {
	return e.StartTick <= o.EndTick && o.StartTick <= e.EndTick
}

// ImmigrantProfile describes agents injected by an immigration event.
type ImmigrantProfile struct {
	Region           Region
	Age              int
	AgeStdDev        float64
	MinAge           int
	SexWeights       []float64
	EducationWeights []float64
	IncomeWeights    []float64
}

// === Eligibility ===

// Eligibility is a closed-schema predicate over an agent. The zero value
// bounds age to [0, 0]; use AnyAgent to match everyone. Masks are bitsets
// over enum values; 0 means "any".
type Eligibility struct {
	MinAge        int
	MaxAge        int // inclusive; OpenEnded if unbounded
	SexMask       uint8
	RegionMask    uint8
	EducationMask uint8
	IncomeMask    uint8
	Partnered     *bool
	MinChildren   int
}

// AnyAgent matches every agent.
var AnyAgent = Eligibility{MaxAge: OpenEnded}

// Matches applies the predicate.
func (el *Eligibility) Matches(a *Agent) bool {
	if a.Age < el.MinAge || a.Age > el.MaxAge {
		return false
	}
	if !maskHas(el.SexMask, uint8(a.Sex)) || !maskHas(el.RegionMask, uint8(a.Region)) ||
		!maskHas(el.EducationMask, uint8(a.Education)) || !maskHas(el.IncomeMask, uint8(a.Income)) {
		return false
	}
	if el.Partnered != nil && *el.Partnered != a.HasPartner() {
		return false
	}
	return a.NumChildren() >= el.MinChildren
}

// Disjoint reports whether no agent can satisfy both predicates. It is
// conservative: false means "may overlap".
func (el *Eligibility) Disjoint(o *Eligibility) bool {
	if el.MaxAge < o.MinAge || o.MaxAge < el.MinAge {
		return true
	}
	if masksDisjoint(el.SexMask, o.SexMask) || masksDisjoint(el.RegionMask, o.RegionMask) ||
		masksDisjoint(el.EducationMask, o.EducationMask) || masksDisjoint(el.IncomeMask, o.IncomeMask) {
		return true
	}
	return el.Partnered != nil && o.Partnered != nil && *el.Partnered != *o.Partnered
}

func maskHas(mask, v uint8) bool {
	return mask == 0 || mask&(1<<v) != 0
}

func masksDisjoint(a, b uint8) bool {
	return a != 0 && b != 0 && a&b == 0
}

// === Modifiers ===

// Adjustment is the folded effect of every matching event on one target.
type Adjustment struct {
	Delta       float64
	Scale       float64
	Override    float64
	HasOverride bool
	priority    int
}

var identityAdjustment = Adjustment{Scale: 1}

// apply runs the blend: override (replaces the baseline) -> + deltas ->
// x scalars -> clamp to [0, 1].
func (adj Adjustment) apply(base float64) float64 {
	v := base
	if adj.HasOverride {
		v = adj.Override
	}
	return clamp01((v + adj.Delta) * adj.Scale)
}

// Modifiers holds one Adjustment per adjustable target for one agent and tick.
type Modifiers [numAdjustableTargets]Adjustment

// NewModifiers returns identity modifiers.
func NewModifiers() Modifiers {
	var m Modifiers
	for i := range m {
		m[i] = identityAdjustment
	}
	return m
}

// get tolerates a nil receiver, which means "no policy".
func (m *Modifiers) get(t Target) Adjustment {
	if m == nil {
		return identityAdjustment
	}
	return m[t]
}

// fold adds one event's effect. Events must be folded in declaration order.
func (m *Modifiers) fold(e *PolicyEvent) {
	adj := &m[e.Target]
	switch e.Kind {
	case Additive:
		adj.Delta += e.Magnitude
	case Multiplicative:
		adj.Scale *= e.Magnitude
	case Override:
		if !adj.HasOverride || e.Priority > adj.priority {
			adj.Override = e.Magnitude
			adj.HasOverride = true
			adj.priority = e.Priority
		}
	}
}

// === TickPolicy ===

// TickPolicy is the set of events active at one tick, resolved once per tick.
type TickPolicy struct {
	Tick        int
	adjustments []*PolicyEvent
	immigration []*PolicyEvent
}

// ResolvePolicy collects the events active at tick in declaration order.
func ResolvePolicy(events []PolicyEvent, tick int) *TickPolicy {
	tp := &TickPolicy{Tick: tick}
	for i := range events {
		e := &events[i]
		if !e.ActiveAt(tick) {
			continue
		}
		if e.Kind == Inject {
			tp.immigration = append(tp.immigration, e)
		} else {
			tp.adjustments = append(tp.adjustments, e)
		}
	}
	return tp
}

// Empty reports whether no rate adjustment is active.
func (tp *TickPolicy) Empty() bool {
	return len(tp.adjustments) == 0
}

// Immigration returns the active injection events in declaration order.
func (tp *TickPolicy) Immigration() []*PolicyEvent {
	return tp.immigration
}

// ModifiersFor folds every active event whose eligibility matches a. Returns
// nil when no adjustment is active, which rate functions read as identity.
func (tp *TickPolicy) ModifiersFor(a *Agent) *Modifiers {
	if tp.Empty() {
		return nil
	}
	m := NewModifiers()
	for _, e := range tp.adjustments {
		if e.Eligibility.Matches(a) {
			m.fold(e)
		}
	}
	return &m
}
