package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ScenarioConfig is the closed-schema scenario document. Loaded from YAML via
// LoadScenario; every recognized option is listed here and unknown keys are
// rejected. Compile turns it into an immutable Scenario.
type ScenarioConfig struct {
	Name                    string                        `yaml:"name" json:"name"`
	Seed                    int64                         `yaml:"seed" json:"seed"`
	TickCount               int                           `yaml:"tick_count" json:"tick_count"`
	InitialSize             int                           `yaml:"initial_size" json:"initial_size"`
	UrbanShare              float64                       `yaml:"urban_share" json:"urban_share"`
	SexRatio                map[string]float64            `yaml:"sex_ratio,omitempty" json:"sex_ratio,omitempty"`
	AgeDistribution         AgeDistributionConfig         `yaml:"age_distribution" json:"age_distribution"`
	EducationWeights        map[string]float64            `yaml:"education_weights,omitempty" json:"education_weights,omitempty"`
	IncomeWeights           map[string]float64            `yaml:"income_weights,omitempty" json:"income_weights,omitempty"`
	BaseRates               BaseRates                     `yaml:"base_rates" json:"base_rates"`
	Parameters              Parameters                    `yaml:"parameters" json:"parameters"`
	EducationImpactSchedule []SchedulePoint               `yaml:"education_impact_schedule,omitempty" json:"education_impact_schedule,omitempty"`
	EconomicEras            []EconomicEra                 `yaml:"economic_eras,omitempty" json:"economic_eras,omitempty"`
	MortalityCurve          MortalityCurve                `yaml:"mortality_curve" json:"mortality_curve"`
	Lifecycle               Lifecycle                     `yaml:"lifecycle" json:"lifecycle"`
	IncomeByEducation       map[string]map[string]float64 `yaml:"income_by_education,omitempty" json:"income_by_education,omitempty"`
	Metrics                 MetricsConfig                 `yaml:"metrics" json:"metrics"`
	PolicyEvents            []PolicyEventConfig           `yaml:"policy_events,omitempty" json:"policy_events,omitempty"`
}

// AgeDistributionConfig parameterizes initial ages.
type AgeDistributionConfig struct {
	Kind    string            `yaml:"kind" json:"kind"` // normal, uniform, buckets
	Mean    float64           `yaml:"mean,omitempty" json:"mean,omitempty"`
	StdDev  float64           `yaml:"std_dev,omitempty" json:"std_dev,omitempty"`
	Min     int               `yaml:"min" json:"min"`
	Max     int               `yaml:"max" json:"max"`
	Buckets []AgeBucketWeight `yaml:"buckets,omitempty" json:"buckets,omitempty"`
}

// AgeBucketWeight is one bucket of a "buckets" age distribution.
type AgeBucketWeight struct {
	Start  int     `yaml:"start" json:"start"`
	End    int     `yaml:"end" json:"end"` // inclusive
	Weight float64 `yaml:"weight" json:"weight"`
}

// PolicyEventConfig is one scheduled event as written in a scenario.
type PolicyEventConfig struct {
	Name           string             `yaml:"name" json:"name"`
	StartTick      int                `yaml:"start_tick" json:"start_tick"`
	EndTick        *int               `yaml:"end_tick,omitempty" json:"end_tick,omitempty"` // nil = open-ended
	TargetRate     string             `yaml:"target_rate" json:"target_rate"`
	AdjustmentKind string             `yaml:"adjustment_kind" json:"adjustment_kind"`
	Magnitude      float64            `yaml:"magnitude" json:"magnitude"`
	Priority       int                `yaml:"priority,omitempty" json:"priority,omitempty"`
	Eligibility    *EligibilityConfig `yaml:"eligibility,omitempty" json:"eligibility,omitempty"`
	Immigrants     *ImmigrantsConfig  `yaml:"immigrants,omitempty" json:"immigrants,omitempty"`
}

// EligibilityConfig selects the agents an event applies to.
type EligibilityConfig struct {
	MinAge      *int     `yaml:"min_age,omitempty" json:"min_age,omitempty"`
	MaxAge      *int     `yaml:"max_age,omitempty" json:"max_age,omitempty"`
	Sex         []string `yaml:"sex,omitempty" json:"sex,omitempty"`
	Regions     []string `yaml:"regions,omitempty" json:"regions,omitempty"`
	Education   []string `yaml:"education,omitempty" json:"education,omitempty"`
	Income      []string `yaml:"income,omitempty" json:"income,omitempty"`
	Partnered   *bool    `yaml:"partnered,omitempty" json:"partnered,omitempty"`
	MinChildren int      `yaml:"min_children,omitempty" json:"min_children,omitempty"`
}

// ImmigrantsConfig describes agents injected by an immigration event.
type ImmigrantsConfig struct {
	Region           string             `yaml:"region" json:"region"`
	Age              int                `yaml:"age" json:"age"`
	AgeStdDev        float64            `yaml:"age_std_dev,omitempty" json:"age_std_dev,omitempty"`
	MinAge           int                `yaml:"min_age,omitempty" json:"min_age,omitempty"`
	SexRatio         map[string]float64 `yaml:"sex_ratio,omitempty" json:"sex_ratio,omitempty"`
	EducationWeights map[string]float64 `yaml:"education_weights,omitempty" json:"education_weights,omitempty"`
	IncomeWeights    map[string]float64 `yaml:"income_weights,omitempty" json:"income_weights,omitempty"`
}

// Valid value registries.
var validAgeKinds = map[string]bool{"normal": true, "uniform": true, "buckets": true}

var (
	defaultSexWeights       = []float64{0.5, 0.5}
	defaultEducationWeights = []float64{0.1, 0.3, 0.4, 0.2}
	defaultIncomeWeights    = []float64{0.4, 0.45, 0.15}
	defaultIncomeFor        = [][]float64{
		{0.70, 0.25, 0.05},
		{0.55, 0.35, 0.10},
		{0.35, 0.45, 0.20},
		{0.15, 0.45, 0.40},
	}
)

// DefaultLifecycle returns the lifecycle thresholds used when a scenario does
// not override them.
func DefaultLifecycle() Lifecycle {
	return Lifecycle{
		PrimaryAge:            12,
		SecondaryAge:          18,
		TertiaryAge:           22,
		SecondaryCompletion:   0.7,
		TertiaryCompletion:    0.3,
		WorkforceEntryAge:     18,
		RetirementAge:         65,
		PartnerMinAge:         18,
		PartnerMaxAge:         70,
		CandidatesPerAgent:    8,
		MinAffinity:           0.1,
		AgeGapScale:           10,
		CrossRegionFactor:     0.5,
		EducationGapFactor:    0.8,
		FertileMinAge:         15,
		FertileMaxAge:         49,
		ParityDecay:           1,
		IncomeFertilityBoost:  0.1,
		RuralEducationDamping: 0.5,
		HealthcareEffect:      0.5,
		SocioEffect:           0.25,
		RuralToUrbanWeight:    1.5,
		UrbanToRuralWeight:    0.5,
	}
}

// DefaultScenarioConfig returns a complete scenario. LoadScenario decodes over
// it, so a document only needs the keys it changes.
func DefaultScenarioConfig() ScenarioConfig {
	return ScenarioConfig{
		Name:        "baseline",
		Seed:        42,
		TickCount:   100,
		InitialSize: 1000,
		UrbanShare:  0.6,
		AgeDistribution: AgeDistributionConfig{
			Kind: "normal", Mean: 30, StdDev: 20, Min: 0, Max: 100,
		},
		BaseRates: BaseRates{
			Mortality:  0.0002,
			Fertility:  0.25,
			Partnering: 0.3,
			Migration:  0.02,
			Emigration: 0,
		},
		Parameters: Parameters{
			ChildSupport:      0,
			EducationImpact:   0.5,
			HealthcareQuality: 0.8,
			IncomeMobility:    0.02,
		},
		MortalityCurve: MortalityCurve{A: 0.005, B: 1, C: 0.0001, D: 0.0001, E: 0.077},
		Lifecycle:      DefaultLifecycle(),
		Metrics: MetricsConfig{
			WorkingAgeMin:        15,
			WorkingAgeMax:        64,
			HistogramBucketWidth: 5,
			HistogramMaxAge:      100,
		},
	}
}

// LoadScenario reads, schema-checks and strictly decodes a YAML scenario.
// Unrecognized keys (typos) are rejected. The result is not yet validated;
// call Compile.
func LoadScenario(path string) (*ScenarioConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario is LoadScenario over in-memory YAML.
func ParseScenario(data []byte) (*ScenarioConfig, error) {
	if err := checkSchema(data); err != nil {
		return nil, err
	}
	cfg := DefaultScenarioConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("parsing scenario: %v", err)}
	}
	return &cfg, nil
}

// Scenario is a validated, compiled, immutable ScenarioConfig.
type Scenario struct {
	Config           ScenarioConfig
	Name             string
	Seed             int64
	TickCount        int
	InitialSize      int
	UrbanShare       float64
	SexWeights       []float64
	Ages             AgeSampler
	EducationWeights []float64
	IncomeWeights    []float64
	Rates            *RateModel
	Events           []PolicyEvent
	Metrics          MetricsConfig
}

// Validate checks every field. It fails fast on the first problem.
func (c *ScenarioConfig) Validate() error {
	_, err := c.Compile()
	return err
}

// Compile validates the configuration and builds the immutable Scenario.
// Every failure is a *ConfigurationError.
func (c *ScenarioConfig) Compile() (*Scenario, error) {
	if c.TickCount <= 0 {
		return nil, configErrorf("tick_count", "must be positive, got %d", c.TickCount)
	}
	if c.InitialSize < 0 {
		return nil, configErrorf("initial_size", "must be non-negative, got %d", c.InitialSize)
	}
	if err := validateProbability("urban_share", c.UrbanShare); err != nil {
		return nil, err
	}
	if err := validateBaseRates(&c.BaseRates); err != nil {
		return nil, err
	}
	if err := validateParameters(&c.Parameters); err != nil {
		return nil, err
	}
	if err := validateCurve(&c.MortalityCurve); err != nil {
		return nil, err
	}
	if err := validateLifecycle(&c.Lifecycle); err != nil {
		return nil, err
	}
	if err := validateMetrics(&c.Metrics); err != nil {
		return nil, err
	}
	if err := validateSchedule(c.EducationImpactSchedule, c.EconomicEras); err != nil {
		return nil, err
	}
	ages, err := newAgeSampler("age_distribution", c.AgeDistribution)
	if err != nil {
		return nil, err
	}
	sexW, err := weightsFrom("sex_ratio", c.SexRatio, sexNames, defaultSexWeights)
	if err != nil {
		return nil, err
	}
	eduW, err := weightsFrom("education_weights", c.EducationWeights, educationNames, defaultEducationWeights)
	if err != nil {
		return nil, err
	}
	incW, err := weightsFrom("income_weights", c.IncomeWeights, incomeNames, defaultIncomeWeights)
	if err != nil {
		return nil, err
	}
	incomeFor, err := compileIncomeByEducation(c.IncomeByEducation)
	if err != nil {
		return nil, err
	}
	events, err := compileEvents(c.PolicyEvents)
	if err != nil {
		return nil, err
	}

	rates := &RateModel{
		Base:      c.BaseRates,
		Params:    c.Parameters,
		Curve:     c.MortalityCurve,
		Life:      c.Lifecycle,
		Schedule:  append([]SchedulePoint(nil), c.EducationImpactSchedule...),
		Eras:      append([]EconomicEra(nil), c.EconomicEras...),
		IncomeFor: incomeFor,
	}
	if c.Name == "" {
		logrus.Warn("scenario has no name; using \"unnamed\"")
	}
	name := c.Name
	if name == "" {
		name = "unnamed"
	}
	return &Scenario{
		Config:           *c,
		Name:             name,
		Seed:             c.Seed,
		TickCount:        c.TickCount,
		InitialSize:      c.InitialSize,
		UrbanShare:       c.UrbanShare,
		SexWeights:       sexW,
		Ages:             ages,
		EducationWeights: eduW,
		IncomeWeights:    incW,
		Rates:            rates,
		Events:           events,
		Metrics:          c.Metrics,
	}, nil
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func validateBaseRates(r *BaseRates) error {
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"base_rates.mortality", r.Mortality},
		{"base_rates.fertility", r.Fertility},
		{"base_rates.partnering", r.Partnering},
		{"base_rates.migration", r.Migration},
		{"base_rates.emigration", r.Emigration},
	} {
		if err := validateProbability(f.name, f.val); err != nil {
			return err
		}
	}
	return nil
}

func validateParameters(p *Parameters) error {
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"parameters.child_support", p.ChildSupport},
		{"parameters.education_impact", p.EducationImpact},
		{"parameters.healthcare_quality", p.HealthcareQuality},
		{"parameters.income_mobility", p.IncomeMobility},
	} {
		if err := validateProbability(f.name, f.val); err != nil {
			return err
		}
	}
	return nil
}

func validateCurve(m *MortalityCurve) error {
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"mortality_curve.a", m.A}, {"mortality_curve.b", m.B}, {"mortality_curve.c", m.C},
		{"mortality_curve.d", m.D}, {"mortality_curve.e", m.E},
	} {
		if err := validateFiniteNonNegative(f.name, f.val); err != nil {
			return err
		}
	}
	if m.C+m.D <= 0 {
		return configErrorf("mortality_curve", "c + d must be positive")
	}
	return nil
}

func validateLifecycle(l *Lifecycle) error {
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"lifecycle.secondary_completion", l.SecondaryCompletion},
		{"lifecycle.tertiary_completion", l.TertiaryCompletion},
		{"lifecycle.min_affinity", l.MinAffinity},
		{"lifecycle.cross_region_factor", l.CrossRegionFactor},
		{"lifecycle.education_gap_factor", l.EducationGapFactor},
		{"lifecycle.rural_education_damping", l.RuralEducationDamping},
		{"lifecycle.healthcare_effect", l.HealthcareEffect},
		{"lifecycle.socio_effect", l.SocioEffect},
	} {
		if err := validateProbability(f.name, f.val); err != nil {
			return err
		}
	}
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"lifecycle.parity_decay", l.ParityDecay},
		{"lifecycle.income_fertility_boost", l.IncomeFertilityBoost},
		{"lifecycle.rural_to_urban_weight", l.RuralToUrbanWeight},
		{"lifecycle.urban_to_rural_weight", l.UrbanToRuralWeight},
	} {
		if err := validateFiniteNonNegative(f.name, f.val); err != nil {
			return err
		}
	}
	if l.SocioEffect > 0.5 {
		// income and education scores each reach 1, so the factor would go negative
		return configErrorf("lifecycle.socio_effect", "must be at most 0.5, got %f", l.SocioEffect)
	}
	if err := validateFinitePositive("lifecycle.age_gap_scale", l.AgeGapScale); err != nil {
		return err
	}
	if l.CandidatesPerAgent < 1 {
		return configErrorf("lifecycle.candidates_per_agent", "must be at least 1, got %d", l.CandidatesPerAgent)
	}
	if l.PrimaryAge < 0 || l.PrimaryAge > l.SecondaryAge || l.SecondaryAge > l.TertiaryAge {
		return configErrorf("lifecycle", "schooling ages must satisfy 0 <= primary <= secondary <= tertiary, got %d, %d, %d",
			l.PrimaryAge, l.SecondaryAge, l.TertiaryAge)
	}
	if l.WorkforceEntryAge < 0 || l.WorkforceEntryAge >= l.RetirementAge {
		return configErrorf("lifecycle", "workforce_entry_age must be non-negative and below retirement_age, got %d and %d",
			l.WorkforceEntryAge, l.RetirementAge)
	}
	if l.PartnerMinAge < 0 || l.PartnerMinAge > l.PartnerMaxAge {
		return configErrorf("lifecycle", "partner ages must satisfy 0 <= partner_min_age <= partner_max_age")
	}
	if l.FertileMinAge < 0 || l.FertileMinAge > l.FertileMaxAge {
		return configErrorf("lifecycle", "fertile ages must satisfy 0 <= fertile_min_age <= fertile_max_age")
	}
	return nil
}

func validateMetrics(m *MetricsConfig) error {
	if m.WorkingAgeMin < 0 || m.WorkingAgeMin > m.WorkingAgeMax {
		return configErrorf("metrics", "working ages must satisfy 0 <= working_age_min <= working_age_max")
	}
	if m.HistogramBucketWidth < 1 {
		return configErrorf("metrics.histogram_bucket_width", "must be at least 1, got %d", m.HistogramBucketWidth)
	}
	if m.HistogramMaxAge < 0 {
		return configErrorf("metrics.histogram_max_age", "must be non-negative, got %d", m.HistogramMaxAge)
	}
	return nil
}

func validateSchedule(points []SchedulePoint, eras []EconomicEra) error {
	for i, p := range points {
		field := fmt.Sprintf("education_impact_schedule[%d]", i)
		if i > 0 && p.Tick <= points[i-1].Tick {
			return configErrorf(field, "ticks must be strictly increasing")
		}
		if err := validateProbability(field+".value", p.Value); err != nil {
			return err
		}
	}
	for i, e := range eras {
		field := fmt.Sprintf("economic_eras[%d]", i)
		if i > 0 && e.StartTick <= eras[i-1].StartTick {
			return configErrorf(field, "start ticks must be strictly increasing")
		}
		if err := validateFiniteNonNegative(field+".index", e.Index); err != nil {
			return err
		}
	}
	return nil
}

func compileIncomeByEducation(m map[string]map[string]float64) ([][]float64, error) {
	out := make([][]float64, len(educationNames))
	for i := range out {
		out[i] = append([]float64(nil), defaultIncomeFor[i]...)
	}
	for name, weights := range m {
		edu, err := ParseEducation(name)
		if err != nil {
			return nil, configErrorf("income_by_education", "%v", err)
		}
		w, err := weightsFrom("income_by_education."+name, weights, incomeNames, defaultIncomeFor[edu])
		if err != nil {
			return nil, err
		}
		out[edu] = w
	}
	return out, nil
}

// weightsFrom turns a name->weight map into a slice ordered like names.
// An empty map yields def.
func weightsFrom(field string, m map[string]float64, names []string, def []float64) ([]float64, error) {
	if len(m) == 0 {
		return append([]float64(nil), def...), nil
	}
	out := make([]float64, len(names))
	sum := 0.0
	for k, v := range m {
		idx, err := parseEnum(names, field, k)
		if err != nil {
			return nil, configErrorf(field, "%v", err)
		}
		if err := validateFiniteNonNegative(field+"."+k, v); err != nil {
			return nil, err
		}
		out[idx] = v
		sum += v
	}
	if sum <= 0 {
		return nil, configErrorf(field, "weights must sum to a positive value")
	}
	return out, nil
}

func validateProbability(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return configErrorf(name, "must be a finite number, got %f", val)
	}
	if val < 0 || val > 1 {
		return configErrorf(name, "must be in [0, 1], got %g", val)
	}
	return nil
}

func validateFiniteNonNegative(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return configErrorf(name, "must be a finite number, got %f", val)
	}
	if val < 0 {
		return configErrorf(name, "must be non-negative, got %g", val)
	}
	return nil
}

func validateFinitePositive(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return configErrorf(name, "must be a finite number, got %f", val)
	}
	if val <= 0 {
		return configErrorf(name, "must be positive, got %g", val)
	}
	return nil
}
