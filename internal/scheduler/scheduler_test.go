package scheduler

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"jobtree/internal/batch"
	"jobtree/internal/checkpoint"
	"jobtree/internal/config"
	"jobtree/internal/jobrecord"
	"jobtree/internal/jobstore"
	"jobtree/internal/logging"
	"jobtree/internal/tempdir"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeBatch stands in for both the real batch backend and the worker
// process it would launch: IssueJobs synchronously invokes onIssue,
// which mutates the job record file exactly as the worker contract
// requires, and queues the requested exit status for the next
// GetUpdatedJobs call.
type fakeBatch struct {
	mu      sync.Mutex
	nextID  batch.ID
	pending map[batch.ID]int
	onIssue func(jobFile, command string) int
}

func newFakeBatch(onIssue func(jobFile, command string) int) *fakeBatch {
	return &fakeBatch{pending: make(map[batch.ID]int), onIssue: onIssue}
}

func jobFileFromCommand(command string) string {
	const marker = " --job "
	i := strings.Index(command, marker)
	return command[i+len(marker):]
}

func (f *fakeBatch) IssueJobs(jobs []batch.Submission) (map[batch.ID]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[batch.ID]string, len(jobs))
	for _, sub := range jobs {
		f.nextID++
		id := f.nextID
		status := f.onIssue(jobFileFromCommand(sub.Command), sub.Command)
		f.pending[id] = status
		result[id] = sub.Command
	}
	return result, nil
}

func (f *fakeBatch) GetUpdatedJobs() (map[batch.ID]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = make(map[batch.ID]int)
	return out, nil
}

func (f *fakeBatch) GetRunningJobIDs() (map[batch.ID]time.Duration, error) {
	return map[batch.ID]time.Duration{}, nil
}

func (f *fakeBatch) GetIssuedJobIDs() ([]batch.ID, error) { return nil, nil }

func (f *fakeBatch) KillJobs(ids []batch.ID) error { return nil }

func testHarness(t *testing.T) (*config.Config, *jobstore.Store, tempdir.Service) {
	t.Helper()
	root := t.TempDir()
	jobDir, err := tempdir.NewLocalService(filepath.Join(root, "jobs"))
	require.NoError(t, err)
	logDir, err := tempdir.NewLocalService(filepath.Join(root, "logs"))
	require.NoError(t, err)
	slaveDir, err := tempdir.NewLocalService(filepath.Join(root, "slave-logs"))
	require.NoError(t, err)
	scratchDir, err := tempdir.NewLocalService(filepath.Join(root, "scratch"))
	require.NoError(t, err)

	cfg := &config.Config{
		RetryCount:          2,
		JobTime:             1,
		MaxJobDuration:      config.NeverRescueThreshold,
		MaxJobs:             10,
		WaitDuration:        time.Millisecond,
		RescueJobsFrequency: time.Hour,
		WorkerBinaryPath:    "/usr/local/bin/jobtree-worker",
	}
	log := logging.New(logrus.ErrorLevel)
	store := &jobstore.Store{
		Config:      cfg,
		JobFileDir:  jobDir,
		LogFileDir:  logDir,
		SlaveLogDir: slaveDir,
		TempDirDir:  scratchDir,
		Log:         log,
	}
	return cfg, store, jobDir
}

// succeedWorker mutates jobFile to look exactly like a worker that ran
// its last follow-on successfully with no new children or follow-ons.
func succeedWorker(jobFile, _ string) int {
	r, err := jobrecord.ReadFile(jobFile)
	if err != nil {
		panic(err)
	}
	r.FollowOns = r.FollowOns[:len(r.FollowOns)-1]
	r.Colour = jobrecord.Black
	if err := checkpoint.Write([]*jobrecord.Record{r}); err != nil {
		panic(err)
	}
	return 0
}

func TestMainLoopRunsRootJobToCompletion(t *testing.T) {
	cfg, store, jobDir := testHarness(t)

	root, err := store.Create("", jobrecord.FollowOn{Command: "echo hi"}, "")
	require.NoError(t, err)
	require.NoError(t, checkpoint.Write([]*jobrecord.Record{root}))

	log := logging.New(logrus.ErrorLevel)
	system := newFakeBatch(succeedWorker)
	loop, err := New(cfg, store, system, jobDir, log)
	require.NoError(t, err)

	residual, err := loop.Run()
	require.NoError(t, err)
	require.Equal(t, 0, residual)

	files, err := jobDir.ListFiles()
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestMainLoopGivesBirthAndCreditsParent(t *testing.T) {
	cfg, store, jobDir := testHarness(t)

	root, err := store.Create("", jobrecord.FollowOn{Command: "spawn-one-child"}, "")
	require.NoError(t, err)
	require.NoError(t, checkpoint.Write([]*jobrecord.Record{root}))

	log := logging.New(logrus.ErrorLevel)
	system := newFakeBatch(func(jobFile, command string) int {
		r, err := jobrecord.ReadFile(jobFile)
		require.NoError(t, err)
		r.FollowOns = r.FollowOns[:len(r.FollowOns)-1]
		if strings.Contains(command, root.File) {
			r.Children = []jobrecord.ChildDescriptor{{Command: "echo child", Memory: 64, CPU: 1, Time: 0.1}}
		}
		r.Colour = jobrecord.Black
		require.NoError(t, checkpoint.Write([]*jobrecord.Record{r}))
		return 0
	})

	loop, err := New(cfg, store, system, jobDir, log)
	require.NoError(t, err)

	residual, err := loop.Run()
	require.NoError(t, err)
	require.Equal(t, 0, residual, "both parent and child records must be reclaimed")
}

func TestMainLoopRetriesAfterFailureThenSucceeds(t *testing.T) {
	cfg, store, jobDir := testHarness(t)

	root, err := store.Create("", jobrecord.FollowOn{Command: "flaky"}, "")
	require.NoError(t, err)
	require.NoError(t, checkpoint.Write([]*jobrecord.Record{root}))

	var attempts int
	var mu sync.Mutex
	log := logging.New(logrus.ErrorLevel)
	system := newFakeBatch(func(jobFile, _ string) int {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			// Simulate a worker crash: exit non-zero, record left
			// exactly as the master issued it (grey, untouched).
			return 1
		}
		return succeedWorker(jobFile, "")
	})

	loop, err := New(cfg, store, system, jobDir, log)
	require.NoError(t, err)

	residual, err := loop.Run()
	require.NoError(t, err)
	require.Equal(t, 0, residual)
	require.Equal(t, 2, attempts, "first attempt fails, job is retried and succeeds on the second")
}

func TestNewRejectsDirtyBatchSystem(t *testing.T) {
	cfg, store, jobDir := testHarness(t)
	log := logging.New(logrus.ErrorLevel)

	dirtySystem := &alwaysIssuedBatch{fakeBatch: newFakeBatch(succeedWorker)}

	_, err := New(cfg, store, dirtySystem, jobDir, log)
	require.Error(t, err)
}

type alwaysIssuedBatch struct {
	*fakeBatch
}

func (a *alwaysIssuedBatch) GetIssuedJobIDs() ([]batch.ID, error) {
	return []batch.ID{1}, nil
}

func TestInvariantErrorIsDistinguishable(t *testing.T) {
	err := invariantf("job %s is broken", "x.job")
	var invErr *InvariantError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &invErr)
}
