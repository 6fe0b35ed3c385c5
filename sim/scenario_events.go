package sim

import (
	"fmt"
	"math"
)

func compileEvents(cfgs []PolicyEventConfig) ([]PolicyEvent, error) {
	events := make([]PolicyEvent, 0, len(cfgs))
	for i := range cfgs {
		e, err := compileEvent(fmt.Sprintf("policy_events[%d]", i), &cfgs[i])
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := checkOverrideConflicts(events); err != nil {
		return nil, err
	}
	return events, nil
}

func compileEvent(field string, c *PolicyEventConfig) (PolicyEvent, error) {
	e := PolicyEvent{
		Name:        c.Name,
		StartTick:   c.StartTick,
		EndTick:     OpenEnded,
		Magnitude:   c.Magnitude,
		Priority:    c.Priority,
		Eligibility: AnyAgent,
	}
	if e.Name == "" {
		e.Name = field
	}
	target, err := ParseTarget(c.TargetRate)
	if err != nil {
		return e, configErrorf(field+".target_rate", "%v", err)
	}
	kind, err := ParseAdjustmentKind(c.AdjustmentKind)
	if err != nil {
		return e, configErrorf(field+".adjustment_kind", "%v", err)
	}
	e.Target, e.Kind = target, kind

	if c.StartTick < 1 {
		return e, configErrorf(field+".start_tick", "must be at least 1, got %d", c.StartTick)
	}
	if c.EndTick != nil {
		if *c.EndTick < c.StartTick {
			return e, configErrorf(field+".end_tick", "must not precede start_tick (%d < %d)", *c.EndTick, c.StartTick)
		}
		e.EndTick = *c.EndTick
	}

	mag := c.Magnitude
	if math.IsNaN(mag) || math.IsInf(mag, 0) {
		return e, configErrorf(field+".magnitude", "must be a finite number")
	}
	if (kind == Inject) != (target == TargetImmigration) {
		return e, configErrorf(field+".adjustment_kind", "%q only combines with target_rate %q",
			Inject, TargetImmigration)
	}
	switch kind {
	case Multiplicative:
		if mag < 0 {
			return e, configErrorf(field+".magnitude", "multiplicative magnitude must be non-negative, got %g", mag)
		}
	case Override:
		if mag < 0 || mag > 1 {
			return e, configErrorf(field+".magnitude", "override magnitude must be in [0, 1], got %g", mag)
		}
	case Inject:
		if mag < 0 || mag != math.Trunc(mag) {
			return e, configErrorf(field+".magnitude", "inject magnitude must be a non-negative whole number, got %g", mag)
		}
		if c.Eligibility != nil {
			return e, configErrorf(field+".eligibility", "not supported for immigration events")
		}
		if c.Immigrants == nil {
			return e, configErrorf(field+".immigrants", "required for immigration events")
		}
		profile, err := compileImmigrants(field+".immigrants", c.Immigrants)
		if err != nil {
			return e, err
		}
		e.Immigrants = profile
		return e, nil
	}
	if c.Immigrants != nil {
		return e, configErrorf(field+".immigrants", "only valid for immigration events")
	}
	if c.Eligibility != nil {
		el, err := compileEligibility(field+".eligibility", c.Eligibility)
		if err != nil {
			return e, err
		}
		e.Eligibility = el
	}
	return e, nil
}

func compileEligibility(field string, c *EligibilityConfig) (Eligibility, error) {
	el := AnyAgent
	if c.MinAge != nil {
		if *c.MinAge < 0 {
			return el, configErrorf(field+".min_age", "must be non-negative, got %d", *c.MinAge)
		}
		el.MinAge = *c.MinAge
	}
	if c.MaxAge != nil {
		if *c.MaxAge < el.MinAge {
			return el, configErrorf(field+".max_age", "must be at least min_age, got %d", *c.MaxAge)
		}
		el.MaxAge = *c.MaxAge
	}
	if c.MinChildren < 0 {
		return el, configErrorf(field+".min_children", "must be non-negative, got %d", c.MinChildren)
	}
	el.MinChildren = c.MinChildren
	el.Partnered = c.Partnered

	var err error
	if el.SexMask, err = maskFrom(field+".sex", c.Sex, sexNames); err != nil {
		return el, err
	}
	if el.RegionMask, err = maskFrom(field+".regions", c.Regions, regionNames); err != nil {
		return el, err
	}
	if el.EducationMask, err = maskFrom(field+".education", c.Education, educationNames); err != nil {
		return el, err
	}
	if el.IncomeMask, err = maskFrom(field+".income", c.Income, incomeNames); err != nil {
		return el, err
	}
	return el, nil
}

func maskFrom(field string, values, names []string) (uint8, error) {
	var mask uint8
	for _, v := range values {
		idx, err := parseEnum(names, field, v)
		if err != nil {
			return 0, configErrorf(field, "%v", err)
		}
		mask |= 1 << uint(idx)
	}
	return mask, nil
}

func compileImmigrants(field string, c *ImmigrantsConfig) (*ImmigrantProfile, error) {
	region, err := ParseRegion(c.Region)
	if err != nil {
		return nil, configErrorf(field+".region", "%v", err)
	}
	if c.Age < 0 {
		return nil, configErrorf(field+".age", "must be non-negative, got %d", c.Age)
	}
	if c.MinAge < 0 {
		return nil, configErrorf(field+".min_age", "must be non-negative, got %d", c.MinAge)
	}
	if err := validateFiniteNonNegative(field+".age_std_dev", c.AgeStdDev); err != nil {
		return nil, err
	}
	p := &ImmigrantProfile{Region: region, Age: c.Age, AgeStdDev: c.AgeStdDev, MinAge: c.MinAge}
	if p.SexWeights, err = weightsFrom(field+".sex_ratio", c.SexRatio, sexNames, defaultSexWeights); err != nil {
		return nil, err
	}
	if p.EducationWeights, err = weightsFrom(field+".education_weights", c.EducationWeights, educationNames, defaultEducationWeights); err != nil {
		return nil, err
	}
	if p.IncomeWeights, err = weightsFrom(field+".income_weights", c.IncomeWeights, incomeNames, defaultIncomeWeights); err != nil {
		return nil, err
	}
	return p, nil
}

// checkOverrideConflicts rejects two overrides of one target that could apply
// to the same agent at the same tick with equal priority: neither would win.
func checkOverrideConflicts(events []PolicyEvent) error {
	for i := range events {
		a := &events[i]
		if a.Kind != Override {
			continue
		}
		for j := i + 1; j < len(events); j++ {
			b := &events[j]
			if b.Kind != Override || b.Target != a.Target || b.Priority != a.Priority {
				continue
			}
			if !a.overlaps(b) || a.Eligibility.Disjoint(&b.Eligibility) {
				continue
			}
			return configErrorf(fmt.Sprintf("policy_events[%d]", j),
				"override of %s conflicts with %q: overlapping windows and eligibility at equal priority %d",
				a.Target, a.Name, a.Priority)
		}
	}
	return nil
}
