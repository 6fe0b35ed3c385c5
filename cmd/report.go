package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/popsim/popsim/sim"
	"github.com/popsim/popsim/sim/trace"
)

// printReport writes a human-readable summary of a run to w.
func printReport(w io.Writer, name string, snaps []sim.Snapshot, summary *trace.TraceSummary, elapsed time.Duration) {
	fmt.Fprintln(w, "=== Simulation Report ===")
	fmt.Fprintf(w, "Scenario:          %s\n", name)
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No ticks committed.")
		return
	}
	first, last := snaps[0], snaps[len(snaps)-1]
	start := first.Population - first.Births + first.Deaths - first.NetMigration

	var births, deaths, immigrants, emigrants, moves, partnerships int
	for _, s := range snaps {
		births += s.Births
		deaths += s.Deaths
		immigrants += s.Immigrants
		emigrants += s.Emigrants
		moves += s.RegionMoves
		partnerships += s.NewPartnerships
	}

	fmt.Fprintf(w, "Ticks:             %d..%d\n", first.Tick, last.Tick)
	fmt.Fprintf(w, "Population:        %s -> %s\n", humanize.Comma(int64(start)), humanize.Comma(int64(last.Population)))
	fmt.Fprintf(w, "Births:            %s\n", humanize.Comma(int64(births)))
	fmt.Fprintf(w, "Deaths:            %s\n", humanize.Comma(int64(deaths)))
	fmt.Fprintf(w, "Immigrants:        %s\n", humanize.Comma(int64(immigrants)))
	fmt.Fprintf(w, "Emigrants:         %s\n", humanize.Comma(int64(emigrants)))
	fmt.Fprintf(w, "Region moves:      %s\n", humanize.Comma(int64(moves)))
	fmt.Fprintf(w, "Partnerships:      %s\n", humanize.Comma(int64(partnerships)))
	fmt.Fprintf(w, "Mean age:          %.2f\n", last.MeanAge)
	fmt.Fprintf(w, "Dependency ratio:  %.3f\n", last.DependencyRatio)
	fmt.Fprintf(w, "Avg education:     %.3f\n", last.AverageEducation)
	fmt.Fprintf(w, "Urban / rural:     %s / %s\n",
		humanize.Comma(int64(last.RegionDistribution["urban"])), humanize.Comma(int64(last.RegionDistribution["rural"])))
	if last.Exhausted {
		fmt.Fprintf(w, "Population exhausted at tick %d\n", last.Tick)
	}
	fmt.Fprintf(w, "Wall time:         %s\n", elapsed.Round(time.Millisecond))

	if summary == nil {
		return
	}
	fmt.Fprintln(w, "=== Lifecycle Trace ===")
	fmt.Fprintf(w, "Mean age at death:   %.2f\n", summary.MeanDeathAge)
	fmt.Fprintf(w, "Mean age of mothers: %.2f\n", summary.MeanMotherAge)
	fmt.Fprintf(w, "Mean affinity:       %.3f\n", summary.MeanAffinity)
	routes := make([]string, 0, len(summary.FlowsByRoute))
	for r := range summary.FlowsByRoute {
		routes = append(routes, r)
	}
	sort.Strings(routes)
	for _, r := range routes {
		fmt.Fprintf(w, "  %-16s %s\n", r, humanize.Comma(int64(summary.FlowsByRoute[r])))
	}
}

// writeResults saves the snapshot series as indented JSON.
func writeResults(path string, snaps []sim.Snapshot) error {
	if snaps == nil {
		snaps = []sim.Snapshot{}
	}
	data, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

// writeCheckpoint saves cp to path, replacing any previous file atomically.
func writeCheckpoint(path string, cp *sim.Checkpoint) error {
	data, err := cp.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	logrus.Infof("checkpoint at tick %d written to %s (%s)", cp.Tick, path, humanize.Bytes(uint64(len(data))))
	return nil
}

// readCheckpoint loads a checkpoint file.
func readCheckpoint(path string) (*sim.Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cp, err := sim.DecodeCheckpoint(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cp, nil
}
