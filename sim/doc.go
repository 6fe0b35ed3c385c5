// Package sim provides the agent-based demographic simulation engine.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - agent.go: Agent identity and demographic state
//   - population.go: the agent store, its live index and its invariants
//   - stepper.go / phases.go: the five-phase tick (aging, mortality,
//     partnering, fertility, migration)
//
// # Architecture
//
// A Scenario (compiled from a YAML ScenarioConfig) is immutable for the whole
// run. BuildInitialPopulation creates tick 0; a Stepper advances the
// Population one tick at a time and appends one Snapshot per committed tick to
// a Series. Probabilities come from the RateModel, perturbed per agent by the
// active PolicyEvents, and every draw comes from a RandomStream:
//   - rng.go: subsystem and per-agent streams, checkpointable cursors
//   - rates.go: baseline rates and the blend order
//   - policy.go: event activation, eligibility and folding
//   - matching.go: greedy partner matching
//   - checkpoint.go: resumable state
//
// Supporting sub-packages:
//   - sim/trace/: lifecycle event recording
//   - sim/store/: SQLite run store
//   - sim/stream/: WebSocket snapshot feed
//
// # Determinism
//
// Same scenario and seed produce identical snapshots regardless of worker
// count. Per-agent draws use a stream derived from (seed, tick, phase, agent
// id); sequential subsystems (initial population, immigration) own cached
// streams whose cursors are persisted in checkpoints.
package sim
