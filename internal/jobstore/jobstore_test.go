package jobstore

import (
	"path/filepath"
	"testing"

	"jobtree/internal/config"
	"jobtree/internal/jobrecord"
	"jobtree/internal/logging"
	"jobtree/internal/tempdir"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, cfg *config.Config) *Store {
	t.Helper()
	root := t.TempDir()
	jobDir, err := tempdir.NewLocalService(filepath.Join(root, "jobs"))
	require.NoError(t, err)
	logDir, err := tempdir.NewLocalService(filepath.Join(root, "logs"))
	require.NoError(t, err)
	slaveDir, err := tempdir.NewLocalService(filepath.Join(root, "slave-logs"))
	require.NoError(t, err)
	tempDir, err := tempdir.NewLocalService(filepath.Join(root, "scratch"))
	require.NoError(t, err)

	return &Store{
		Config:      cfg,
		JobFileDir:  jobDir,
		LogFileDir:  logDir,
		SlaveLogDir: slaveDir,
		TempDirDir:  tempDir,
		Log:         logging.New(logrus.ErrorLevel),
	}
}

func TestCreateAllocatesDistinctPaths(t *testing.T) {
	cfg := &config.Config{RetryCount: 2, JobTime: 10, DefaultMemory: 512, DefaultCPU: 1}
	store := newStore(t, cfg)

	first := jobrecord.FollowOn{Command: "run", Memory: 256, CPU: 1, Time: 5}
	r, err := store.Create("", first, "debug")
	require.NoError(t, err)

	assert.NotEmpty(t, r.File)
	assert.NotEmpty(t, r.LogFile)
	assert.NotEmpty(t, r.SlaveLogFile)
	assert.NotEmpty(t, r.GlobalTempDir)
	assert.Equal(t, jobrecord.White, r.Colour)
	assert.Equal(t, 2, r.RemainingRetryCount)
	assert.Equal(t, []jobrecord.FollowOn{first}, r.FollowOns)
	assert.Empty(t, r.Children)
	assert.Equal(t, "debug", r.LogLevel)
	assert.Equal(t, first.Time, r.TotalTime)
	assert.Empty(t, r.Stats, "stats file only allocated when Config.Stats is set")
}

func TestCreateAllocatesStatsFileWhenEnabled(t *testing.T) {
	cfg := &config.Config{RetryCount: 1, JobTime: 10, Stats: filepath.Join(t.TempDir(), "stats.jsonl")}
	store := newStore(t, cfg)

	r, err := store.Create("", jobrecord.FollowOn{Command: "run"}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, r.Stats)
}

func TestCreateSetsParent(t *testing.T) {
	cfg := &config.Config{RetryCount: 1, JobTime: 10}
	store := newStore(t, cfg)

	r, err := store.Create("/jobs/parent.job", jobrecord.FollowOn{Command: "run"}, "")
	require.NoError(t, err)
	assert.Equal(t, "/jobs/parent.job", r.Parent)
}

func TestDeleteReclaimsAllSidePaths(t *testing.T) {
	cfg := &config.Config{RetryCount: 1, JobTime: 10, Stats: filepath.Join(t.TempDir(), "stats.jsonl")}
	store := newStore(t, cfg)

	r, err := store.Create("", jobrecord.FollowOn{Command: "run"}, "")
	require.NoError(t, err)
	require.NoError(t, jobrecord.WriteFile(r.File, r))

	require.NoError(t, store.Delete(r))

	assert.NoFileExists(t, r.File)
	assert.NoFileExists(t, r.LogFile)
	assert.NoFileExists(t, r.SlaveLogFile)
	assert.NoFileExists(t, r.Stats)
	assert.NoDirExists(t, r.GlobalTempDir)
}
