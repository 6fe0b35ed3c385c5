package trace

import "testing"

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	// GIVEN a nil trace
	// WHEN summarized
	summary := Summarize(nil)

	// THEN all counts are zero and maps are usable
	if summary.Births != 0 || summary.Deaths != 0 || summary.Partnerships != 0 {
		t.Error("expected zero counts")
	}
	if summary.FlowsByRoute == nil || summary.ImmigrantsByEvt == nil {
		t.Error("expected non-nil maps")
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with every record kind
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelEvents})
	st.RecordBirth(BirthRecord{Tick: 1, ChildID: 10, MotherAge: 24})
	st.RecordBirth(BirthRecord{Tick: 2, ChildID: 11, MotherAge: 30})
	st.RecordDeath(DeathRecord{Tick: 2, AgentID: 3, Age: 70})
	st.RecordPartnership(PartnershipRecord{Tick: 1, AgentA: 1, AgentB: 2, Affinity: 0.5})
	st.RecordPartnership(PartnershipRecord{Tick: 1, AgentA: 4, AgentB: 5, Affinity: 1.0})
	st.RecordMigration(MigrationRecord{Kind: MigrationMove, From: "rural", To: "urban"})
	st.RecordMigration(MigrationRecord{Kind: MigrationMove, From: "rural", To: "urban"})
	st.RecordMigration(MigrationRecord{Kind: MigrationEmigrate, From: "urban"})
	st.RecordMigration(MigrationRecord{Kind: MigrationImmigrate, To: "urban", Event: "wave"})

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts and means match
	if summary.Births != 2 || summary.MeanMotherAge != 27 {
		t.Errorf("births: got %d mean %f", summary.Births, summary.MeanMotherAge)
	}
	if summary.Deaths != 1 || summary.MeanDeathAge != 70 {
		t.Errorf("deaths: got %d mean %f", summary.Deaths, summary.MeanDeathAge)
	}
	if summary.MeanAffinity != 0.75 {
		t.Errorf("expected mean affinity 0.75, got %f", summary.MeanAffinity)
	}
	if summary.Moves != 2 || summary.FlowsByRoute["rural->urban"] != 2 {
		t.Errorf("moves: got %d, flows %v", summary.Moves, summary.FlowsByRoute)
	}
	if summary.Emigrations != 1 || summary.Immigrations != 1 || summary.ImmigrantsByEvt["wave"] != 1 {
		t.Errorf("unexpected migration summary %+v", summary)
	}
}
