package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

// TestPostgresStore runs against a real database when TEST_DATABASE_URL is set
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		db, err := NewDB(url)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return NewPostgresStore(db)
	})
}

// unique keeps names distinct when the suite shares one database
func unique(t *testing.T, base string) string {
	return fmt.Sprintf("%s-%s-%d", base, t.Name(), time.Now().UnixNano())
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("Experiments", func(t *testing.T) {
		s := newStore(t)
		name := unique(t, "exp")

		exp, err := s.CreateExperiment(ctx, name, "")
		require.NoError(t, err)
		assert.Equal(t, name, exp.Name)
		assert.Equal(t, ExperimentArtifactLocation(exp.ID), exp.ArtifactLocation)

		byName, err := s.GetExperimentByName(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, exp.ID, byName.ID)

		byID, err := s.GetExperiment(ctx, exp.ID)
		require.NoError(t, err)
		assert.Equal(t, name, byID.Name)

		_, err = s.CreateExperiment(ctx, name, "")
		assert.True(t, apperr.IsAlreadyExists(err))

		_, err = s.GetExperimentByName(ctx, unique(t, "missing"))
		assert.True(t, apperr.IsNotFound(err))

		_, err = s.GetExperiment(ctx, "not-a-number")
		assert.True(t, apperr.IsNotFound(err))
	})

	t.Run("RunLifecycle", func(t *testing.T) {
		s := newStore(t)
		exp, err := s.CreateExperiment(ctx, unique(t, "exp"), "")
		require.NoError(t, err)

		run, err := s.CreateRun(ctx, exp.ID, "train", time.Now(), map[string]string{"stage": "train"})
		require.NoError(t, err)
		assert.Len(t, run.ID, 32)
		assert.Equal(t, models.RunStatusRunning, run.Status)
		assert.Equal(t, RunArtifactURI(exp.ArtifactLocation, run.ID), run.ArtifactURI)

		require.NoError(t, s.LogParam(ctx, run.ID, models.Param{Key: "max_depth", Value: "5"}))
		require.NoError(t, s.LogParam(ctx, run.ID, models.Param{Key: "max_depth", Value: "5"}))
		err = s.LogParam(ctx, run.ID, models.Param{Key: "max_depth", Value: "6"})
		assert.ErrorIs(t, err, apperr.ErrInvalid)

		require.NoError(t, s.LogMetric(ctx, run.ID, models.Metric{Key: "accuracy", Value: 0.9, Timestamp: 1}))
		require.NoError(t, s.LogMetric(ctx, run.ID, models.Metric{Key: "accuracy", Value: 0.95, Timestamp: 2, Step: 1}))
		require.NoError(t, s.SetTag(ctx, run.ID, "note", "a"))
		require.NoError(t, s.SetTag(ctx, run.ID, "note", "b"))

		end := time.Now()
		updated, err := s.UpdateRunStatus(ctx, run.ID, models.RunStatusFinished, &end, "")
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusFinished, updated.Status)
		require.NotNil(t, updated.EndTime)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, []models.Param{{Key: "max_depth", Value: "5"}}, got.Params)
		require.Len(t, got.Metrics, 2)
		assert.Equal(t, 0.95, got.Metrics[1].Value)
		assert.Equal(t, "b", got.Tags["note"])
		assert.Equal(t, "train", got.Tags["stage"])

		events, err := s.GetRunEvents(ctx, run.ID, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, models.RunStatusFinished, events[0].ToStatus)
		require.NotNil(t, events[0].FromStatus)
		assert.Equal(t, models.RunStatusRunning, *events[0].FromStatus)
		assert.Equal(t, ReasonRunUpdated, events[0].Reason)
		assert.Nil(t, events[1].FromStatus)
		assert.Equal(t, ReasonRunCreated, events[1].Reason)

		limited, err := s.GetRunEvents(ctx, run.ID, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("UnknownRun", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetRun(ctx, "missing")
		assert.True(t, apperr.IsNotFound(err))
		_, err = s.UpdateRunStatus(ctx, "missing", models.RunStatusFailed, nil, "")
		assert.True(t, apperr.IsNotFound(err))
		assert.True(t, apperr.IsNotFound(s.LogParam(ctx, "missing", models.Param{Key: "k", Value: "v"})))
		assert.True(t, apperr.IsNotFound(s.LogMetric(ctx, "missing", models.Metric{Key: "k"})))
		_, err = s.GetRunEvents(ctx, "missing", 0)
		assert.True(t, apperr.IsNotFound(err))
		_, err = s.CreateRun(ctx, "424242", "x", time.Now(), nil)
		assert.True(t, apperr.IsNotFound(err))
	})

	t.Run("ModelVersionsIncrease", func(t *testing.T) {
		s := newStore(t)
		name := unique(t, "model")

		_, err := s.CreateRegisteredModel(ctx, name, "")
		require.NoError(t, err)
		_, err = s.CreateRegisteredModel(ctx, name, "")
		assert.True(t, apperr.IsAlreadyExists(err))

		v1, err := s.CreateModelVersion(ctx, name, "runs:/a/random_forest_model", "a")
		require.NoError(t, err)
		v2, err := s.CreateModelVersion(ctx, name, "runs:/b/random_forest_model", "b")
		require.NoError(t, err)
		assert.Equal(t, 1, v1.Version)
		assert.Equal(t, 2, v2.Version)
		assert.Equal(t, models.ModelVersionReady, v2.Status)

		got, err := s.GetModelVersion(ctx, name, 2)
		require.NoError(t, err)
		assert.Equal(t, "runs:/b/random_forest_model", got.Source)
		assert.Equal(t, "b", got.RunID)

		_, err = s.GetModelVersion(ctx, name, 3)
		assert.True(t, apperr.IsNotFound(err))
		_, err = s.CreateModelVersion(ctx, unique(t, "unregistered"), "src", "")
		assert.True(t, apperr.IsNotFound(err))
	})

	t.Run("ConcurrentVersionsAreDistinct", func(t *testing.T) {
		s := newStore(t)
		name := unique(t, "model")
		_, err := s.CreateRegisteredModel(ctx, name, "")
		require.NoError(t, err)

		const n = 8
		versions := make([]int, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				mv, err := s.CreateModelVersion(ctx, name, "src", "")
				if assert.NoError(t, err) {
					versions[i] = mv.Version
				}
			}(i)
		}
		wg.Wait()

		seen := make(map[int]bool)
		for _, v := range versions {
			assert.False(t, seen[v], "version %d assigned twice", v)
			seen[v] = true
		}
		for v := 1; v <= n; v++ {
			assert.True(t, seen[v])
		}
	})
}
