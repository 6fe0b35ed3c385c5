package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/popsim/popsim/sim"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "popsim.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func smallConfig() *sim.ScenarioConfig {
	cfg := sim.DefaultScenarioConfig()
	cfg.Name = "store-test"
	cfg.InitialSize = 120
	cfg.TickCount = 6
	return &cfg
}

func TestCreateRun_RoundTripsConfig(t *testing.T) {
	db := openTestDB(t)
	cfg := smallConfig()

	run, err := db.CreateRun(cfg)
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, StatusRunning, run.Status)

	got, err := db.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "store-test", got.Scenario)
	assert.Equal(t, cfg.Seed, got.Seed)

	loaded, err := db.RunConfig(run.ID)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestGetRun_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetRun("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.SetStatus("missing", StatusFailed), ErrNotFound)
	_, err = db.LatestCheckpoint("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendSnapshots_OrderedAndIdempotent(t *testing.T) {
	// GIVEN a run with snapshots appended out of order
	db := openTestDB(t)
	run, err := db.CreateRun(smallConfig())
	require.NoError(t, err)
	require.NoError(t, db.AppendSnapshots(run.ID, []sim.Snapshot{{Tick: 2, Population: 9}, {Tick: 1, Population: 10}}))

	// WHEN tick 2 is appended again
	require.NoError(t, db.AppendSnapshots(run.ID, []sim.Snapshot{{Tick: 2, Population: 8}, {Tick: 3, Population: 7}}))

	// THEN reads are tick-ordered and the later write wins
	snaps, err := db.Snapshots(run.ID, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{snaps[0].Tick, snaps[1].Tick, snaps[2].Tick})
	assert.Equal(t, 8, snaps[1].Population)

	tail, err := db.Snapshots(run.ID, 3)
	require.NoError(t, err)
	assert.Len(t, tail, 1)

	got, err := db.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.LastTick)
}

func TestSetStatus(t *testing.T) {
	db := openTestDB(t)
	run, err := db.CreateRun(smallConfig())
	require.NoError(t, err)

	require.NoError(t, db.SetStatus(run.ID, StatusCompleted))

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusCompleted, runs[0].Status)
}

func TestCheckpoint_SaveAndResume(t *testing.T) {
	// GIVEN a run stepped to tick 3 and checkpointed
	db := openTestDB(t)
	cfg := smallConfig()
	run, err := db.CreateRun(cfg)
	require.NoError(t, err)
	sc, err := cfg.Compile()
	require.NoError(t, err)
	pop, err := sim.BuildInitialPopulation(sc)
	require.NoError(t, err)
	stepper := sim.NewStepper(sc, pop, sim.NewRandomStream(sim.NewSimulationKey(sc.Seed)), sim.WithWorkers(1))
	require.NoError(t, stepper.Run(context.Background(), 3))
	cp, err := stepper.Checkpoint()
	require.NoError(t, err)
	require.NoError(t, db.SaveCheckpoint(run.ID, cp))

	// WHEN the latest checkpoint is loaded and resumed
	loaded, err := db.LatestCheckpoint(run.ID)
	require.NoError(t, err)
	resumed, err := sim.Resume(sc, loaded, sim.WithWorkers(1))
	require.NoError(t, err)

	// THEN it continues from the checkpointed tick with the same population
	assert.Equal(t, 3, resumed.Tick())
	assert.Equal(t, pop.LiveCount(), resumed.Population().LiveCount())
	snap, err := resumed.Step()
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Tick)
}
