package sim

import (
	"math"
	"sort"
)

// BaseRates are the per-tick baseline rates, each in [0, 1].
type BaseRates struct {
	// Mortality is the age-independent hazard floor; the age curve is
	// normalized so that Mortality equals the hazard once the infant term has
	// vanished and before senescence grows.
	Mortality float64 `yaml:"mortality" json:"mortality"`
	// Fertility is the conception probability of a prime-age couple.
	Fertility float64 `yaml:"fertility" json:"fertility"`
	// Partnering is the probability an eligible single enters the partner
	// market in a tick.
	Partnering float64 `yaml:"partnering" json:"partnering"`
	// Migration is the probability of an urban/rural move.
	Migration float64 `yaml:"migration" json:"migration"`
	// Emigration is the probability of leaving the population.
	Emigration float64 `yaml:"emigration" json:"emigration"`
}

// Parameters are the policy levers that feed the baselines.
type Parameters struct {
	ChildSupport      float64 `yaml:"child_support" json:"child_support"`
	EducationImpact   float64 `yaml:"education_impact" json:"education_impact"`
	HealthcareQuality float64 `yaml:"healthcare_quality" json:"healthcare_quality"`
	IncomeMobility    float64 `yaml:"income_mobility" json:"income_mobility"`
}

// MortalityCurve is a Gompertz-Makeham hazard a*e^(-b*age) + c + d*e^(e*age).
type MortalityCurve struct {
	A float64 `yaml:"a" json:"a"`
	B float64 `yaml:"b" json:"b"`
	C float64 `yaml:"c" json:"c"`
	D float64 `yaml:"d" json:"d"`
	E float64 `yaml:"e" json:"e"`
}

// Shape returns the curve relative to its age-independent floor c+d.
func (m MortalityCurve) Shape(age int) float64 {
	x := float64(age)
	return (m.A*math.Exp(-m.B*x) + m.C + m.D*math.Exp(m.E*x)) / (m.C + m.D)
}

// Lifecycle holds the age thresholds and attribute effects of the model.
type Lifecycle struct {
	PrimaryAge          int     `yaml:"primary_age" json:"primary_age"`
	SecondaryAge        int     `yaml:"secondary_age" json:"secondary_age"`
	TertiaryAge         int     `yaml:"tertiary_age" json:"tertiary_age"`
	SecondaryCompletion float64 `yaml:"secondary_completion" json:"secondary_completion"`
	TertiaryCompletion  float64 `yaml:"tertiary_completion" json:"tertiary_completion"`
	WorkforceEntryAge   int     `yaml:"workforce_entry_age" json:"workforce_entry_age"`
	RetirementAge       int     `yaml:"retirement_age" json:"retirement_age"`

	PartnerMinAge      int     `yaml:"partner_min_age" json:"partner_min_age"`
	PartnerMaxAge      int     `yaml:"partner_max_age" json:"partner_max_age"`
	CandidatesPerAgent int     `yaml:"candidates_per_agent" json:"candidates_per_agent"`
	MinAffinity        float64 `yaml:"min_affinity" json:"min_affinity"`
	AgeGapScale        float64 `yaml:"age_gap_scale" json:"age_gap_scale"`
	CrossRegionFactor  float64 `yaml:"cross_region_factor" json:"cross_region_factor"`
	EducationGapFactor float64 `yaml:"education_gap_factor" json:"education_gap_factor"`

	FertileMinAge         int     `yaml:"fertile_min_age" json:"fertile_min_age"`
	FertileMaxAge         int     `yaml:"fertile_max_age" json:"fertile_max_age"`
	ParityDecay           float64 `yaml:"parity_decay" json:"parity_decay"`
	IncomeFertilityBoost  float64 `yaml:"income_fertility_boost" json:"income_fertility_boost"`
	RuralEducationDamping float64 `yaml:"rural_education_damping" json:"rural_education_damping"`

	HealthcareEffect float64 `yaml:"healthcare_effect" json:"healthcare_effect"`
	SocioEffect      float64 `yaml:"socio_effect" json:"socio_effect"`

	RuralToUrbanWeight float64 `yaml:"rural_to_urban_weight" json:"rural_to_urban_weight"`
	UrbanToRuralWeight float64 `yaml:"urban_to_rural_weight" json:"urban_to_rural_weight"`
}

// SchedulePoint anchors a parameter value at a tick.
type SchedulePoint struct {
	Tick  int     `yaml:"tick" json:"tick"`
	Value float64 `yaml:"value" json:"value"`
}

// EconomicEra scales income mobility from StartTick until the next era.
type EconomicEra struct {
	StartTick int     `yaml:"start_tick" json:"start_tick"`
	Index     float64 `yaml:"index" json:"index"`
}

// RateModel is the immutable, compiled rate configuration.
type RateModel struct {
	Base      BaseRates
	Params    Parameters
	Curve     MortalityCurve
	Life      Lifecycle
	Schedule  []SchedulePoint // education impact anchors, sorted by tick
	Eras      []EconomicEra   // sorted by start tick
	IncomeFor [][]float64     // income weights indexed by Education
}

// TickRates is a RateModel resolved for one tick. All of its methods are pure.
type TickRates struct {
	model  *RateModel
	tick   int
	params Parameters
	econ   float64
}

// At resolves the time-varying inputs of the model for a tick.
func (m *RateModel) At(tick int) TickRates {
	p := m.Params
	if len(m.Schedule) > 0 {
		p.EducationImpact = clamp01(interpolate(m.Schedule, tick))
	}
	return TickRates{model: m, tick: tick, params: p, econ: m.economicIndex(tick)}
}

// Tick returns the tick these rates were resolved for.
func (r TickRates) Tick() int { return r.tick }

// Params returns the parameters before any per-agent policy adjustment.
func (r TickRates) Params() Parameters { return r.params }

// paramsFor folds parameter-targeting adjustments into the tick parameters.
func (r TickRates) paramsFor(mods *Modifiers) Parameters {
	p := r.params
	if mods == nil {
		return p
	}
	p.ChildSupport = mods[TargetChildSupport].apply(p.ChildSupport)
	p.EducationImpact = mods[TargetEducationImpact].apply(p.EducationImpact)
	p.HealthcareQuality = mods[TargetHealthcareQuality].apply(p.HealthcareQuality)
	p.IncomeMobility = mods[TargetIncomeMobility].apply(p.IncomeMobility)
	return p
}

// DeathProbability is the chance a live agent dies this tick.
func (r TickRates) DeathProbability(a *Agent, mods *Modifiers) float64 {
	m := r.model
	p := r.paramsFor(mods)
	base := m.Base.Mortality * m.Curve.Shape(a.Age)
	base *= 1 - p.HealthcareQuality*m.Life.HealthcareEffect
	base *= 1 - (a.Income.Score()+a.Education.Score())*m.Life.SocioEffect
	return mods.get(TargetMortality).apply(base)
}

// BirthProbability is the chance a partnered mother conceives this tick.
// Zero outside the fertile window.
func (r TickRates) BirthProbability(mother *Agent, fatherAge int, mods *Modifiers) float64 {
	m := r.model
	if mother.Sex != Female || mother.Age < m.Life.FertileMinAge || mother.Age > m.Life.FertileMaxAge {
		return 0
	}
	p := r.paramsFor(mods)
	children := float64(mother.NumChildren())

	base := m.Base.Fertility * femaleFertility(mother.Age) * maleFertility(fatherAge)
	base /= 1 + m.Life.ParityDecay*children

	damping := 1.0
	if mother.Region == Rural {
		damping = m.Life.RuralEducationDamping
	}
	base *= math.Max(0, 1-mother.Education.Score()*p.EducationImpact*damping)
	base *= 1 + mother.Income.Score()*m.Life.IncomeFertilityBoost + p.ChildSupport*(children+1)
	return mods.get(TargetFertility).apply(base)
}

// SeekProbability is the chance a single enters the partner market this tick.
func (r TickRates) SeekProbability(a *Agent, mods *Modifiers) float64 {
	m := r.model
	if a.HasPartner() || a.Age < m.Life.PartnerMinAge || a.Age > m.Life.PartnerMaxAge {
		return 0
	}
	return mods.get(TargetPartnering).apply(m.Base.Partnering)
}

// PartnerAffinity scores how well two agents match, in [0, 1]. It does not
// know about lineage; the matcher excludes related pairs before scoring.
func (r TickRates) PartnerAffinity(a, b *Agent) float64 {
	m := r.model
	if a.ID == b.ID || a.Sex == b.Sex || a.HasPartner() || b.HasPartner() {
		return 0
	}
	for _, x := range []*Agent{a, b} {
		if x.Age < m.Life.PartnerMinAge || x.Age > m.Life.PartnerMaxAge {
			return 0
		}
	}
	gap := math.Abs(float64(a.Age - b.Age))
	score := math.Exp(-gap / m.Life.AgeGapScale)
	if a.Region != b.Region {
		score *= m.Life.CrossRegionFactor
	}
	if a.Education != b.Education {
		score *= m.Life.EducationGapFactor
	}
	return clamp01(score)
}

// MigrationProbability is the chance of moving to the other region.
func (r TickRates) MigrationProbability(a *Agent, mods *Modifiers) float64 {
	m := r.model
	weight := m.Life.UrbanToRuralWeight
	if a.Region == Rural {
		weight = m.Life.RuralToUrbanWeight
	}
	return mods.get(TargetMigration).apply(m.Base.Migration * migrationShape(a.Age) * weight)
}

// EmigrationProbability is the chance of leaving the population.
func (r TickRates) EmigrationProbability(a *Agent, mods *Modifiers) float64 {
	return mods.get(TargetEmigration).apply(r.model.Base.Emigration * migrationShape(a.Age))
}

// SchoolingProbability is the chance of completing the given level on
// reaching its threshold age.
func (r TickRates) SchoolingProbability(level Education, mods *Modifiers) float64 {
	m := r.model
	switch level {
	case EducationPrimary:
		return 1
	case EducationSecondary:
		return clamp01(m.Life.SecondaryCompletion)
	case EducationTertiary:
		p := r.paramsFor(mods)
		return clamp01(m.Life.TertiaryCompletion * (1 + p.EducationImpact))
	}
	return 0
}

// IncomeMobilityProbability is the chance a working-age agent moves up one
// income band this tick.
func (r TickRates) IncomeMobilityProbability(a *Agent, mods *Modifiers) float64 {
	m := r.model
	if a.Income == IncomeHigh || a.Age < m.Life.WorkforceEntryAge || a.Age >= m.Life.RetirementAge {
		return 0
	}
	p := r.paramsFor(mods)
	return clamp01(p.IncomeMobility * r.econ * (0.5 + a.Education.Score()))
}

// IncomeWeights returns the income band weights for a given education.
func (m *RateModel) IncomeWeights(e Education) []float64 {
	return m.IncomeFor[e]
}

func (m *RateModel) economicIndex(tick int) float64 {
	idx := 1.0
	for _, era := range m.Eras {
		if era.StartTick > tick {
			break
		}
		idx = era.Index
	}
	return idx
}

// femaleFertility is the relative fecundity of a mother by age.
func femaleFertility(age int) float64 {
	switch {
	case age < 20:
		return 0.8
	case age <= 30:
		return 1.0
	case age <= 35:
		return 0.8
	case age <= 40:
		return 0.5
	case age <= 45:
		return 0.2
	default:
		return 0.01
	}
}

// maleFertility is the relative fecundity of a father by age.
func maleFertility(age int) float64 {
	switch {
	case age < 20:
		return 0.9
	case age <= 35:
		return 1.0
	case age <= 50:
		return 0.8
	case age <= 65:
		return 0.3
	default:
		return 0.1
	}
}

// migrationShape peaks for young adults.
func migrationShape(age int) float64 {
	switch {
	case age < 18:
		return 0.5
	case age <= 35:
		return 1.0
	case age <= 60:
		return 0.5
	default:
		return 0.2
	}
}

// interpolate evaluates a piecewise-linear schedule, extrapolating linearly
// beyond the first and last anchors.
func interpolate(points []SchedulePoint, tick int) float64 {
	if len(points) == 1 {
		return points[0].Value
	}
	i := sort.Search(len(points), func(i int) bool { return points[i].Tick >= tick })
	switch {
	case i == 0:
		i = 1
	case i == len(points):
		i = len(points) - 1
	}
	lo, hi := points[i-1], points[i]
	frac := float64(tick-lo.Tick) / float64(hi.Tick-lo.Tick)
	return lo.Value + frac*(hi.Value-lo.Value)
}
