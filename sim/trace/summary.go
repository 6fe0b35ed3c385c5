package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	Births          int
	Deaths          int
	Partnerships    int
	Moves           int
	Emigrations     int
	Immigrations    int
	MeanDeathAge    float64
	MeanMotherAge   float64
	MeanAffinity    float64
	FlowsByRoute    map[string]int // "urban->rural" etc. for region moves
	ImmigrantsByEvt map[string]int // policy event name → agents injected
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		FlowsByRoute:    make(map[string]int),
		ImmigrantsByEvt: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.Births = len(st.Births)
	if len(st.Births) > 0 {
		total := 0
		for _, b := range st.Births {
			total += b.MotherAge
		}
		summary.MeanMotherAge = float64(total) / float64(len(st.Births))
	}

	summary.Deaths = len(st.Deaths)
	if len(st.Deaths) > 0 {
		total := 0
		for _, d := range st.Deaths {
			total += d.Age
		}
		summary.MeanDeathAge = float64(total) / float64(len(st.Deaths))
	}

	summary.Partnerships = len(st.Partnerships)
	if len(st.Partnerships) > 0 {
		total := 0.0
		for _, p := range st.Partnerships {
			total += p.Affinity
		}
		summary.MeanAffinity = total / float64(len(st.Partnerships))
	}

	for _, m := range st.Migrations {
		switch m.Kind {
		case MigrationMove:
			summary.Moves++
			summary.FlowsByRoute[m.From+"->"+m.To]++
		case MigrationEmigrate:
			summary.Emigrations++
		case MigrationImmigrate:
			summary.Immigrations++
			summary.ImmigrantsByEvt[m.Event]++
		}
	}

	return summary
}
