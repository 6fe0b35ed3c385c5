package sim

import (
	"fmt"
	"strings"
)

// Phase names one stage of a tick. Phases run in declaration order.
type Phase uint8

const (
	PhaseAging Phase = iota
	PhaseMortality
	PhasePartnering
	PhaseFertility
	PhaseMigration
)

var phaseNames = []string{"aging", "mortality", "partnering", "fertility", "migration"}

func (p Phase) String() string { return enumName(phaseNames, int(p)) }

// Phases lists every phase in execution order.
var Phases = []Phase{PhaseAging, PhaseMortality, PhasePartnering, PhaseFertility, PhaseMigration}

// ConfigurationError reports an invalid scenario. The run never starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid scenario: " + e.Reason
	}
	return fmt.Sprintf("invalid scenario: %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Invariant names checked at phase boundaries.
const (
	InvariantNegativeAge       = "negative-age"
	InvariantDanglingPartner   = "dangling-partner"
	InvariantAsymmetricPartner = "asymmetric-partner"
	InvariantSelfPartner       = "self-partner"
	InvariantDuplicateID       = "duplicate-id"
	InvariantLiveIndex         = "live-index"
	InvariantConservation      = "population-conservation"
)

// InvariantViolation is fatal: the run aborts and the partial snapshot of the
// offending tick is discarded.
type InvariantViolation struct {
	Tick      int
	Phase     Phase
	Invariant string
	AgentIDs  []AgentID
	Detail    string
}

func (e *InvariantViolation) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invariant %s violated at tick %d (%s phase)", e.Invariant, e.Tick, e.Phase)
	if len(e.AgentIDs) > 0 {
		fmt.Fprintf(&b, " agents %v", e.AgentIDs)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}
