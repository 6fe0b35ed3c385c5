package sim

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

// CheckpointVersion is the current checkpoint format.
const CheckpointVersion = 1

// Checkpoint is everything needed to resume a run deterministically: every
// agent (live and historical), the RandomStream cursors and the tick reached.
type Checkpoint struct {
	Version      int               `json:"version"`
	ScenarioName string            `json:"scenario_name"`
	Seed         int64             `json:"seed"`
	Tick         int               `json:"tick"`
	NextID       AgentID           `json:"next_id"`
	Exhausted    bool              `json:"exhausted,omitempty"`
	Agents       []*Agent          `json:"agents"`
	RNG          map[string][]byte `json:"rng"`
}

// Checkpoint captures the stepper's state after its last committed tick.
func (s *Stepper) Checkpoint() (*Checkpoint, error) {
	if s.err != nil {
		return nil, fmt.Errorf("checkpoint after failed tick: %w", s.err)
	}
	state, err := s.rng.State()
	if err != nil {
		return nil, err
	}
	agents := make([]*Agent, len(s.pop.agents))
	for i, a := range s.pop.agents {
		agents[i] = a.clone()
	}
	return &Checkpoint{
		Version:      CheckpointVersion,
		ScenarioName: s.sc.Name,
		Seed:         s.sc.Seed,
		Tick:         s.pop.Tick(),
		NextID:       s.pop.nextID,
		Exhausted:    s.exhausted,
		Agents:       agents,
		RNG:          state,
	}, nil
}

// Encode writes the checkpoint as zstd-compressed JSON.
func (cp *Checkpoint) Encode(w io.Writer) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	if err := json.NewEncoder(bw).Encode(cp); err != nil {
		_ = enc.Close()
		return fmt.Errorf("json encode checkpoint: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// MarshalBinary is Encode into a byte slice.
func (cp *Checkpoint) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := cp.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCheckpoint reads a checkpoint written by Encode.
func DecodeCheckpoint(r io.Reader) (*Checkpoint, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	var cp Checkpoint
	if err := json.NewDecoder(bufio.NewReaderSize(dec, 256*1024)).Decode(&cp); err != nil {
		return nil, fmt.Errorf("json decode checkpoint: %w", err)
	}
	if cp.Version != CheckpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d (want %d)", cp.Version, CheckpointVersion)
	}
	return &cp, nil
}

// UnmarshalCheckpoint is DecodeCheckpoint over a byte slice.
func UnmarshalCheckpoint(data []byte) (*Checkpoint, error) {
	return DecodeCheckpoint(bytes.NewReader(data))
}

// Population rebuilds the population recorded in the checkpoint and checks
// its invariants.
func (cp *Checkpoint) Population() (*Population, error) {
	pop := NewPopulation()
	for _, a := range cp.Agents {
		c := a.clone()
		pop.agents = append(pop.agents, c)
		pop.byID[c.ID] = c
		if c.Live() {
			pop.live[c.ID] = c
		}
	}
	pop.nextID = cp.NextID
	pop.tick = cp.Tick
	if n := len(pop.agents); n > 0 && pop.agents[n-1].ID >= pop.nextID {
		return nil, fmt.Errorf("checkpoint next_id %d does not exceed last agent id %d", pop.nextID, pop.agents[n-1].ID)
	}
	if err := pop.Verify(cp.Tick, PhaseMigration); err != nil {
		return nil, fmt.Errorf("checkpoint population: %w", err)
	}
	return pop, nil
}

// Resume rebuilds a stepper from a checkpoint. The scenario must be the one
// the checkpoint was taken from; resuming then reproduces the uninterrupted
// run exactly.
func Resume(sc *Scenario, cp *Checkpoint, opts ...StepperOption) (*Stepper, error) {
	if sc == nil || cp == nil {
		return nil, &ConfigurationError{Reason: "scenario and checkpoint are required"}
	}
	if cp.Seed != sc.Seed {
		return nil, configErrorf("seed", "checkpoint was taken with seed %d, scenario has %d", cp.Seed, sc.Seed)
	}
	if cp.ScenarioName != sc.Name {
		logrus.Warnf("resuming checkpoint of scenario %q under scenario %q", cp.ScenarioName, sc.Name)
	}
	pop, err := cp.Population()
	if err != nil {
		return nil, err
	}
	rs := NewRandomStream(NewSimulationKey(sc.Seed))
	if err := rs.Restore(cp.RNG); err != nil {
		return nil, err
	}
	s := NewStepper(sc, pop, rs, opts...)
	s.exhausted = cp.Exhausted
	logrus.Infof("resumed scenario %q at tick %d with %d live agents", sc.Name, cp.Tick, pop.LiveCount())
	return s, nil
}
