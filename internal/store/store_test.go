// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Becca-90/SLSA-beach-analysis/internal/geo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/incidents"
	"github.com/Becca-90/SLSA-beach-analysis/internal/observations"
	"github.com/Becca-90/SLSA-beach-analysis/internal/waves"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	started := time.Date(2020, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertRun(ctx, "run-1", started, 25))
	require.NoError(t, db.CompleteRun(ctx, "run-1", started.Add(3*time.Minute), 23, 2, nil))
	require.NoError(t, db.InsertRun(ctx, "run-2", started.Add(time.Hour), 25))
	require.NoError(t, db.CompleteRun(ctx, "run-2", started.Add(time.Hour+time.Minute), 0, 25,
		errors.New("silo: request rejected")))

	runs, err := db.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "silo")

	assert.Equal(t, "run-1", runs[1].ID)
	assert.Equal(t, RunCompleted, runs[1].Status)
	assert.Equal(t, 23, runs[1].Enriched)
	assert.Equal(t, started, runs[1].StartedAt)
	assert.Equal(t, started.Add(3*time.Minute), runs[1].FinishedAt)
}

func TestInsertObservations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertRun(ctx, "run-1", time.Now(), 2))

	recs := []observations.Record{
		{
			Incident: incidents.Incident{Row: 1, Location: geo.Point{Lat: -33, Lon: 151}, Time: time.Now().UTC()},
			Wave:     &waves.Observation{Source: "aodn"},
		},
		{
			Incident: incidents.Incident{Row: 2, Location: geo.Point{Lat: -34, Lon: 152}, Time: time.Now().UTC()},
			WaveErr:  "waves: all providers failed",
		},
	}
	require.NoError(t, db.InsertObservations(ctx, "run-1", recs))

	// Re-inserting the same rows replaces instead of failing.
	require.NoError(t, db.InsertObservations(ctx, "run-1", recs))
}

func TestLastIncompleteRun(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	started := time.Date(2020, 6, 1, 10, 0, 0, 0, time.UTC)

	id, found, err := db.LastIncompleteRun(ctx)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, id)

	require.NoError(t, db.InsertRun(ctx, "run-1", started, 25))
	require.NoError(t, db.CompleteRun(ctx, "run-1", started.Add(time.Minute), 25, 0, nil))
	require.NoError(t, db.InsertRun(ctx, "run-2", started.Add(time.Hour), 25))
	require.NoError(t, db.InsertRun(ctx, "run-3", started.Add(2*time.Hour), 25))

	// Two runs left running; the newest wins.
	id, found, err = db.LastIncompleteRun(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "run-3", id)

	require.NoError(t, db.CompleteRun(ctx, "run-3", started.Add(3*time.Hour), 25, 0, nil))
	require.NoError(t, db.CompleteRun(ctx, "run-2", started.Add(3*time.Hour), 25, 0, nil))

	_, found, err = db.LastIncompleteRun(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCheckpointStore(t *testing.T) {
	cps, err := OpenCheckpoints(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cps.Close() })

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, cps.Mark(Checkpoint{RunID: "run-1", Batch: 1, Records: 10, FinishedAt: now}))
	require.NoError(t, cps.Mark(Checkpoint{RunID: "run-1", Batch: 3, Records: 10, FinishedAt: now}))
	require.NoError(t, cps.Mark(Checkpoint{RunID: "run-2", Batch: 1, Records: 4, FinishedAt: now}))

	cp, ok, err := cps.Get("run-1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10, cp.Records)
	assert.Equal(t, now, cp.FinishedAt)

	_, ok, err = cps.Get("run-1", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	done, err := cps.Completed("run-1")
	require.NoError(t, err)
	assert.Len(t, done, 2)
	assert.Contains(t, done, 1)
	assert.Contains(t, done, 3)

	require.NoError(t, cps.Clear("run-1"))
	done, err = cps.Completed("run-1")
	require.NoError(t, err)
	assert.Empty(t, done)

	// Other runs are untouched.
	done, err = cps.Completed("run-2")
	require.NoError(t, err)
	assert.Len(t, done, 1)
}

func TestCheckpointExpiry(t *testing.T) {
	cps, err := OpenCheckpoints(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cps.Close() })

	// A past-dated TTL makes the entry expire immediately.
	cps.ttl = -time.Second
	require.NoError(t, cps.Mark(Checkpoint{RunID: "run-1", Batch: 1, Records: 10, FinishedAt: time.Now()}))

	_, ok, err := cps.Get("run-1", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	done, err := cps.Completed("run-1")
	require.NoError(t, err)
	assert.Empty(t, done)

	cps.ttl = checkpointTTL
	require.NoError(t, cps.Mark(Checkpoint{RunID: "run-1", Batch: 2, Records: 10, FinishedAt: time.Now()}))
	_, ok, err = cps.Get("run-1", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}
