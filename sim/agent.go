package sim

import "fmt"

// AgentID identifies an agent for the lifetime of a run. IDs start at 1 and are
// never reused; NoAgent marks an absent reference.
type AgentID uint64

// NoAgent is the zero AgentID, used for "no partner".
const NoAgent AgentID = 0

// Sex is fixed at creation.
type Sex uint8

const (
	Female Sex = iota
	Male
)

// Education is an ordered attainment level.
type Education uint8

const (
	EducationNone Education = iota
	EducationPrimary
	EducationSecondary
	EducationTertiary
)

// Income is an ordered income band.
type Income uint8

const (
	IncomeLow Income = iota
	IncomeMiddle
	IncomeHigh
)

// Region is where an agent lives; changed only by migration.
type Region uint8

const (
	Urban Region = iota
	Rural
)

// Origin records how an agent entered the population.
type Origin uint8

const (
	OriginInitial Origin = iota
	OriginNative
	OriginImmigrant
)

var (
	sexNames       = []string{"female", "male"}
	educationNames = []string{"none", "primary", "secondary", "tertiary"}
	incomeNames    = []string{"low", "middle", "high"}
	regionNames    = []string{"urban", "rural"}
	originNames    = []string{"initial", "native", "immigrant"}
)

func (s Sex) String() string       { return enumName(sexNames, int(s)) }
func (e Education) String() string { return enumName(educationNames, int(e)) }
func (i Income) String() string    { return enumName(incomeNames, int(i)) }
func (r Region) String() string    { return enumName(regionNames, int(r)) }
func (o Origin) String() string    { return enumName(originNames, int(o)) }

// Score maps the education level onto [0, 1].
func (e Education) Score() float64 {
	return float64(e) / float64(EducationTertiary)
}

// Score maps the income band onto [0, 1].
func (i Income) Score() float64 {
	return float64(i) / float64(IncomeHigh)
}

// Other returns the opposite region.
func (r Region) Other() Region {
	if r == Urban {
		return Rural
	}
	return Urban
}

func (s Sex) MarshalText() ([]byte, error)       { return []byte(s.String()), nil }
func (e Education) MarshalText() ([]byte, error) { return []byte(e.String()), nil }
func (i Income) MarshalText() ([]byte, error)    { return []byte(i.String()), nil }
func (r Region) MarshalText() ([]byte, error)    { return []byte(r.String()), nil }
func (o Origin) MarshalText() ([]byte, error)    { return []byte(o.String()), nil }

func (s *Sex) UnmarshalText(b []byte) error {
	v, err := parseEnum(sexNames, "sex", string(b))
	*s = Sex(v)
	return err
}

func (e *Education) UnmarshalText(b []byte) error {
	v, err := parseEnum(educationNames, "education", string(b))
	*e = Education(v)
	return err
}

func (i *Income) UnmarshalText(b []byte) error {
	v, err := parseEnum(incomeNames, "income", string(b))
	*i = Income(v)
	return err
}

func (r *Region) UnmarshalText(b []byte) error {
	v, err := parseEnum(regionNames, "region", string(b))
	*r = Region(v)
	return err
}

func (o *Origin) UnmarshalText(b []byte) error {
	v, err := parseEnum(originNames, "origin", string(b))
	*o = Origin(v)
	return err
}

// ParseSex, ParseEducation, ParseIncome and ParseRegion map scenario names to
// enum values.
func ParseSex(name string) (Sex, error) {
	v, err := parseEnum(sexNames, "sex", name)
	return Sex(v), err
}

func ParseEducation(name string) (Education, error) {
	v, err := parseEnum(educationNames, "education", name)
	return Education(v), err
}

func ParseIncome(name string) (Income, error) {
	v, err := parseEnum(incomeNames, "income", name)
	return Income(v), err
}

func ParseRegion(name string) (Region, error) {
	v, err := parseEnum(regionNames, "region", name)
	return Region(v), err
}

func enumName(names []string, v int) string {
	if v < 0 || v >= len(names) {
		return fmt.Sprintf("unknown(%d)", v)
	}
	return names[v]
}

func parseEnum(names []string, kind, s string) (int, error) {
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q; valid: %v", kind, s, names)
}

// Agent is one person. Agents are owned by a Population; code outside
// Population and Stepper reads them but never writes.
type Agent struct {
	ID        AgentID   `json:"id"`
	Age       int       `json:"age"`
	Sex       Sex       `json:"sex"`
	Alive     bool      `json:"alive"`
	Emigrated bool      `json:"emigrated,omitempty"`
	Education Education `json:"education"`
	Income    Income    `json:"income"`
	Region    Region    `json:"region"`
	Origin    Origin    `json:"origin"`
	PartnerID AgentID   `json:"partner_id,omitempty"`
	ChildIDs  []AgentID `json:"child_ids,omitempty"`
	ParentIDs []AgentID `json:"parent_ids,omitempty"`
	BornTick  int       `json:"born_tick"`
	EndTick   int       `json:"end_tick,omitempty"` // tick of death or emigration
}

// Live reports whether the agent takes part in active-population logic.
func (a *Agent) Live() bool {
	return a.Alive && !a.Emigrated
}

// HasPartner reports whether a partner link is set.
func (a *Agent) HasPartner() bool {
	return a.PartnerID != NoAgent
}

// NumChildren returns the number of recorded children.
func (a *Agent) NumChildren() int {
	return len(a.ChildIDs)
}

// clone returns a deep copy, used by checkpoints.
func (a *Agent) clone() *Agent {
	c := *a
	c.ChildIDs = append([]AgentID(nil), a.ChildIDs...)
	c.ParentIDs = append([]AgentID(nil), a.ParentIDs...)
	return &c
}

// String is a compact description for log lines.
func (a *Agent) String() string {
	return fmt.Sprintf("agent %d (%s, age %d)", a.ID, a.Sex, a.Age)
}
