package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobtree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validYAML = `
retry_count: 3
job_time: 30
max_job_duration: 86400
max_jobs: 10
wait_duration: 1s
rescue_jobs_frequency: 5m
default_memory: 1073741824
default_cpu: 1
job_file_dir: /tmp/jobtree/jobs
log_file_dir: /tmp/jobtree/logs
slave_log_file_dir: /tmp/jobtree/slave-logs
temp_dir_dir: /tmp/jobtree/scratch
environment_file: /tmp/jobtree/env
max_log_file_size: 1048576
worker_binary_path: /usr/local/bin/jobtree-worker
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RetryCount)
	assert.Equal(t, time.Second, cfg.WaitDuration)
	assert.Equal(t, 5*time.Minute, cfg.RescueJobsFrequency)
	assert.Equal(t, DefaultKillAfterNTimesMissing, cfg.KillAfterNTimesMissing)
	assert.False(t, cfg.HasStats())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, validYAML)
	t.Setenv("JOBTREE_JOB_FILE_DIR", "/override/jobs")
	t.Setenv("JOBTREE_WORKER_BINARY_PATH", "/override/worker")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/override/jobs", cfg.JobFileDir)
	assert.Equal(t, "/override/worker", cfg.WorkerBinaryPath)
}

func TestLoadRejectsMissingDirectories(t *testing.T) {
	path := writeConfig(t, `
retry_count: 1
job_time: 1
max_jobs: 1
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsZeroJobTime(t *testing.T) {
	path := writeConfig(t, `
retry_count: 1
job_time: 0
max_jobs: 1
job_file_dir: /tmp/a
log_file_dir: /tmp/b
slave_log_file_dir: /tmp/c
temp_dir_dir: /tmp/d
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "no-such.yaml"))
	require.Error(t, err)
}
