// Package trace records individual lifecycle events for post-run analysis.
// This package has no dependencies on sim/ and stores pure data types only.
package trace

// BirthRecord captures one birth.
type BirthRecord struct {
	Tick      int
	ChildID   uint64
	MotherID  uint64
	FatherID  uint64
	MotherAge int
}

// DeathRecord captures one death and the probability that was drawn against.
type DeathRecord struct {
	Tick        int
	AgentID     uint64
	Age         int
	Probability float64
}

// PartnershipRecord captures one accepted pairing.
type PartnershipRecord struct {
	Tick     int
	AgentA   uint64
	AgentB   uint64
	Affinity float64
}

// MigrationKind distinguishes the three migration flows.
type MigrationKind string

const (
	MigrationMove      MigrationKind = "move"
	MigrationEmigrate  MigrationKind = "emigrate"
	MigrationImmigrate MigrationKind = "immigrate"
)

// MigrationRecord captures one region move, emigration or immigration.
type MigrationRecord struct {
	Tick    int
	AgentID uint64
	Kind    MigrationKind
	From    string // empty for immigration
	To      string // empty for emigration
	Event   string // injecting policy event; immigration only
}
