package trace

// TraceLevel controls the verbosity of lifecycle tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelEvents captures every birth, death, partnership and migration.
	TraceLevelEvents TraceLevel = "events"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelEvents: true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects lifecycle records during a run. Records are
// appended by the single goroutine that commits each phase, in commit order.
type SimulationTrace struct {
	Config       TraceConfig
	Births       []BirthRecord
	Deaths       []DeathRecord
	Partnerships []PartnershipRecord
	Migrations   []MigrationRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:       config,
		Births:       make([]BirthRecord, 0),
		Deaths:       make([]DeathRecord, 0),
		Partnerships: make([]PartnershipRecord, 0),
		Migrations:   make([]MigrationRecord, 0),
	}
}

// Enabled reports whether records should be collected. Safe on nil.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelEvents
}

// RecordBirth appends a birth record.
func (st *SimulationTrace) RecordBirth(record BirthRecord) {
	st.Births = append(st.Births, record)
}

// RecordDeath appends a death record.
func (st *SimulationTrace) RecordDeath(record DeathRecord) {
	st.Deaths = append(st.Deaths, record)
}

// RecordPartnership appends a partnership record.
func (st *SimulationTrace) RecordPartnership(record PartnershipRecord) {
	st.Partnerships = append(st.Partnerships, record)
}

// RecordMigration appends a migration record.
func (st *SimulationTrace) RecordMigration(record MigrationRecord) {
	st.Migrations = append(st.Migrations, record)
}
