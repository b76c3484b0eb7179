/*
Nombre del archivo: scheduler.go
Descripcion: StateMachine + MainLoop: drena jobs actualizados, aplica
             transiciones de color, emite trabajo al
             backend de batch, consume finalizaciones y termina cuando el
             conjunto activo esta vacio. Adaptado linea por linea de
             mainLoop/processFinishedJob en
             original_source/workflow/jobTree/lib/master.py.
*/

package scheduler

import (
	"fmt"
	"os"
	"time"

	"jobtree/internal/batch"
	"jobtree/internal/checkpoint"
	"jobtree/internal/config"
	"jobtree/internal/dispatcher"
	"jobtree/internal/jobrecord"
	"jobtree/internal/jobstore"
	"jobtree/internal/logging"
	"jobtree/internal/recovery"
	"jobtree/internal/rescue"
	"jobtree/internal/tempdir"

	"github.com/sirupsen/logrus"
)

// InvariantError marks a violation of the on-disk record invariants
// (e.g. a colour appearing where it cannot, parent/child counters out of
// sync). It is always fatal: the caller should abort the master.
type InvariantError struct {
	msg string
}

func (e *InvariantError) Error() string { return e.msg }

func invariantf(format string, args ...interface{}) error {
	return &InvariantError{msg: fmt.Sprintf(format, args...)}
}

// MainLoop is the single-threaded cooperative master loop.
type MainLoop struct {
	Config     *config.Config
	Store      *jobstore.Store
	Dispatcher *dispatcher.Dispatcher
	System     batch.System
	Rescue     *rescue.Loop
	JobFileDir tempdir.Service
	Log        *logrus.Logger

	updated       map[string]bool
	totalJobFiles int
	lastRescue    time.Time
}

// New runs Recovery, asserts the batch system starts clean, and seeds the
// updated set from every non-grey/blue job record, returning a MainLoop
// ready for Run.
func New(cfg *config.Config, store *jobstore.Store, system batch.System, jobFileDir tempdir.Service, log *logrus.Logger) (*MainLoop, error) {
	issued, err := system.GetIssuedJobIDs()
	if err != nil {
		return nil, fmt.Errorf("scheduler: get issued job ids: %w", err)
	}
	if len(issued) != 0 {
		return nil, invariantf("batch system must start with no active jobs, found %d", len(issued))
	}

	files, err := recovery.Run(jobFileDir, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("scheduler: recovery: %w", err)
	}

	d := dispatcher.New(system, log)
	l := &MainLoop{
		Config:        cfg,
		Store:         store,
		Dispatcher:    d,
		System:        system,
		JobFileDir:    jobFileDir,
		Log:           log,
		updated:       make(map[string]bool),
		totalJobFiles: len(files),
	}
	l.Rescue = rescue.New(system, cfg, log, l.forceFinish, d.LookupJobFile)

	for _, f := range files {
		r, err := jobrecord.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("scheduler: read %s: %w", f, err)
		}
		if r.Colour != jobrecord.Grey && r.Colour != jobrecord.Blue {
			l.updated[f] = true
		}
	}

	l.lastRescue = time.Now().Add(cfg.RescueJobsFrequency - 100*time.Second)
	return l, nil
}

// forceFinish is rescue.FinishFunc: it synthesises a failed completion
// exactly as if the batch backend itself had reported it.
func (l *MainLoop) forceFinish(id batch.ID, exitStatus int) {
	if err := l.processFinished(id, exitStatus); err != nil {
		l.Log.WithFields(logrus.Fields{"batch_id": id, "error": err}).Error("rescue: processFinished failed")
	}
}

// Run drives the master loop to completion, returning the number of
// record files still on disk at termination (zero is full success).
func (l *MainLoop) Run() (int, error) {
	for {
		if len(l.updated) > 0 {
			l.Log.WithFields(logrus.Fields{
				"total_job_files": l.totalJobFiles,
				"updated":         len(l.updated),
				"issued":          l.Dispatcher.LiveCount(),
			}).Debug("main loop iteration")
		}

		snapshot := make([]string, 0, len(l.updated))
		for f := range l.updated {
			snapshot = append(snapshot, f)
		}
		for _, path := range snapshot {
			if err := l.processOne(path); err != nil {
				return l.totalJobFiles, err
			}
		}

		if l.Dispatcher.LiveCount() == 0 && len(l.updated) == 0 {
			l.Log.WithFields(logrus.Fields{"residual": l.totalJobFiles}).Info("active set empty, exiting")
			return l.totalJobFiles, nil
		}

		var updates map[batch.ID]int
		var err error
		if len(l.updated) > 0 {
			updates, err = l.System.GetUpdatedJobs()
		} else {
			updates, err = pauseForUpdated(l.System.GetUpdatedJobs, 100, 100*time.Millisecond)
		}
		if err != nil {
			return l.totalJobFiles, fmt.Errorf("scheduler: get updated jobs: %w", err)
		}
		for id, status := range updates {
			if _, ok := l.Dispatcher.LookupJobFile(id); ok {
				if err := l.processFinished(id, status); err != nil {
					return l.totalJobFiles, err
				}
			} else {
				l.Log.WithFields(logrus.Fields{"batch_id": id}).Info("completion for unknown id already processed, dropping")
			}
		}

		if time.Since(l.lastRescue) >= l.Config.RescueJobsFrequency {
			if err := l.Rescue.OverLong(); err != nil {
				return l.totalJobFiles, fmt.Errorf("scheduler: rescue over-long: %w", err)
			}
			if err := l.Rescue.Missing(l.Dispatcher.LiveIDs); err != nil {
				return l.totalJobFiles, fmt.Errorf("scheduler: rescue missing: %w", err)
			}
			l.lastRescue = time.Now()
		}

		time.Sleep(l.Config.WaitDuration)
	}
}

// pauseForUpdated polls fn at sleepFor intervals until it returns a
// non-empty map, sleeping at most sleepNumber times and polling once more
// after the last sleep (up to sleepNumber+1 calls), used when the main loop has nothing
// updated locally and so must wait on the batch backend instead.
func pauseForUpdated(fn func() (map[batch.ID]int, error), sleepNumber int, sleepFor time.Duration) (map[batch.ID]int, error) {
	for i := 0; i < sleepNumber; i++ {
		updates, err := fn()
		if err != nil {
			return nil, err
		}
		if len(updates) != 0 {
			return updates, nil
		}
		time.Sleep(sleepFor)
	}
	return fn()
}

// processOne dispatches a single updated job record on its colour.
func (l *MainLoop) processOne(path string) error {
	r, err := jobrecord.ReadFile(path)
	if err != nil {
		return fmt.Errorf("scheduler: read %s: %w", path, err)
	}
	if r.Colour == jobrecord.Grey || r.Colour == jobrecord.Blue {
		return invariantf("job %s in updated set has colour %s", path, r.Colour)
	}

	switch r.Colour {
	case jobrecord.White:
		return l.handleWhite(r)
	case jobrecord.Black:
		return l.handleBlack(r)
	case jobrecord.Red:
		return l.handleRed(r)
	case jobrecord.Dead:
		return l.handleDead(r)
	default:
		return invariantf("job %s has unknown colour %q", path, r.Colour)
	}
}

func (l *MainLoop) handleWhite(r *jobrecord.Record) error {
	if l.Dispatcher.LiveCount() >= l.Config.MaxJobs {
		l.Log.WithFields(logrus.Fields{"job_file": r.File}).Debug("white job deferred, at max_jobs")
		return nil
	}

	delete(l.updated, r.File)

	if err := truncateFile(r.SlaveLogFile); err != nil {
		return fmt.Errorf("scheduler: reset slave log %s: %w", r.SlaveLogFile, err)
	}
	if err := truncateFile(r.LogFile); err != nil {
		return fmt.Errorf("scheduler: reset log %s: %w", r.LogFile, err)
	}

	r.Colour = jobrecord.Grey
	if err := checkpoint.Write([]*jobrecord.Record{r}); err != nil {
		return fmt.Errorf("scheduler: checkpoint white->grey %s: %w", r.File, err)
	}

	if err := l.Dispatcher.Issue(l.Config.WorkerBinaryPath, []*jobrecord.Record{r}); err != nil {
		return fmt.Errorf("scheduler: issue %s: %w", r.File, err)
	}
	return nil
}

func (l *MainLoop) handleBlack(r *jobrecord.Record) error {
	l.Log.WithFields(logrus.Fields{"job_file": r.File}).Debug("job finished okay")

	if l.Config.HasStats() {
		if err := appendAndTruncate(r.Stats, l.Config.Stats); err != nil {
			return fmt.Errorf("scheduler: aggregate stats for %s: %w", r.File, err)
		}
	}

	if r.ChildCount != r.BlackChildCount {
		return invariantf("job %s has unfinished children (child_count=%d black_child_count=%d) while black", r.File, r.ChildCount, r.BlackChildCount)
	}

	if len(r.Children) > 0 {
		return l.giveBirth(r)
	}

	if len(r.FollowOns) != 0 {
		l.Log.WithFields(logrus.Fields{"job_file": r.File}).Debug("job has a new command to run")
		r.RemainingRetryCount = l.Config.RetryCount
		r.Colour = jobrecord.White
		if err := checkpoint.Write([]*jobrecord.Record{r}); err != nil {
			return fmt.Errorf("scheduler: checkpoint black->white %s: %w", r.File, err)
		}
		return nil
	}

	return l.finishJob(r)
}

// giveBirth drains Children into freshly created job records, marks the
// parent blue, and checkpoints parent + all new children together.
func (l *MainLoop) giveBirth(r *jobrecord.Record) error {
	newChildren := make([]*jobrecord.Record, 0, len(r.Children))
	var cumulativeChildTime float64
	for _, child := range r.Children {
		followOn := jobrecord.FollowOn{Command: child.Command, Memory: child.Memory, CPU: child.CPU, Time: child.Time}
		newJob, err := l.Store.Create(r.File, followOn, r.LogLevel)
		if err != nil {
			return fmt.Errorf("scheduler: create child of %s: %w", r.File, err)
		}
		l.totalJobFiles++
		l.updated[newJob.File] = true
		newChildren = append(newChildren, newJob)
		cumulativeChildTime += child.Time
	}

	// cumulativeChildTime is logged for operator visibility only; it is
	// never folded back into a merged follow-on stack (each child keeps
	// its own TotalTime, seeded from its own FollowOn.Time above).
	l.Log.WithFields(logrus.Fields{"job_file": r.File, "cumulative_child_time": cumulativeChildTime}).Debug("gave birth to children")

	delete(l.updated, r.File)
	r.ChildCount += len(newChildren)
	r.Children = []jobrecord.ChildDescriptor{}
	r.Colour = jobrecord.Blue

	batchToWrite := append([]*jobrecord.Record{r}, newChildren...)
	if err := checkpoint.Write(batchToWrite); err != nil {
		return fmt.Errorf("scheduler: checkpoint birth of children for %s: %w", r.File, err)
	}
	return nil
}

// finishJob handles a black job with no unborn children and no further
// follow-ons: it goes dead and, if it has a parent, credits the parent.
func (l *MainLoop) finishJob(r *jobrecord.Record) error {
	l.Log.WithFields(logrus.Fields{"job_file": r.File}).Debug("job is now dead")
	r.Colour = jobrecord.Dead

	if r.Parent == "" {
		return checkpoint.Write([]*jobrecord.Record{r})
	}

	parent, err := jobrecord.ReadFile(r.Parent)
	if err != nil {
		return fmt.Errorf("scheduler: read parent %s: %w", r.Parent, err)
	}
	if parent.Colour != jobrecord.Blue {
		return invariantf("parent %s of finishing job %s has colour %s, expected blue", r.Parent, r.File, parent.Colour)
	}
	if parent.BlackChildCount >= parent.ChildCount {
		return invariantf("parent %s black_child_count (%d) >= child_count (%d)", r.Parent, parent.BlackChildCount, parent.ChildCount)
	}
	parent.BlackChildCount++
	if parent.ChildCount == parent.BlackChildCount {
		parent.Colour = jobrecord.Black
		if l.updated[parent.File] {
			return invariantf("parent %s unexpectedly already in updated set", parent.File)
		}
		l.updated[parent.File] = true
	}

	return checkpoint.Write([]*jobrecord.Record{r, parent})
}

func (l *MainLoop) handleRed(r *jobrecord.Record) error {
	logContents, _ := os.ReadFile(r.LogFile)
	slaveLogContents, _ := os.ReadFile(r.SlaveLogFile)
	logging.Critical(l.Log, "job failed", r.File, string(logContents), string(slaveLogContents))

	if len(r.Children) != 0 {
		return invariantf("failed job %s has unborn children", r.File)
	}
	if r.ChildCount != r.BlackChildCount {
		return invariantf("failed job %s has unfinished children", r.File)
	}

	if r.RemainingRetryCount > 0 {
		r.RemainingRetryCount--
		r.Colour = jobrecord.White
		l.Log.WithFields(logrus.Fields{"job_file": r.File, "retries_left": r.RemainingRetryCount}).Error("job will be restarted")
		return checkpoint.Write([]*jobrecord.Record{r})
	}

	delete(l.updated, r.File)
	l.Log.WithFields(logrus.Fields{"job_file": r.File}).Error("job permanently failed")
	return nil
}

func (l *MainLoop) handleDead(r *jobrecord.Record) error {
	delete(l.updated, r.File)
	l.totalJobFiles--
	return l.Store.Delete(r)
}

// processFinished is the StateMachine entry point for a single batch
// completion.
func (l *MainLoop) processFinished(id batch.ID, exitStatus int) error {
	path, ok := l.Dispatcher.LookupJobFile(id)
	if !ok {
		return invariantf("processFinished called for unknown batch id %v", id)
	}
	l.Dispatcher.Forget(id)

	var r *jobrecord.Record
	var err error

	if exitStatus != 0 {
		r, err = l.recoverFailedJob(path)
	} else {
		r, err = jobrecord.ReadFile(path)
	}
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(r.LogFile); os.IsNotExist(statErr) {
		if err := touchFile(r.LogFile); err != nil {
			return fmt.Errorf("scheduler: recreate missing log file: %w", err)
		}
		l.Log.WithFields(logrus.Fields{"job_file": path}).Error("log file had disappeared, recreated")
	}
	if _, statErr := os.Stat(r.SlaveLogFile); os.IsNotExist(statErr) {
		if err := touchFile(r.SlaveLogFile); err != nil {
			return fmt.Errorf("scheduler: recreate missing slave log file: %w", err)
		}
		l.Log.WithFields(logrus.Fields{"job_file": path}).Error("slave log file had disappeared, recreated")
	}

	if l.updated[path] {
		return invariantf("job %s already in updated set in processFinished", path)
	}
	l.updated[path] = true
	return nil
}

// recoverFailedJob implements the non-zero-exit branch of processFinished:
// reconciling a checkpoint that may have been interrupted mid-write by the
// worker crashing.
func (l *MainLoop) recoverFailedJob(path string) (*jobrecord.Record, error) {
	updatingPath := path + ".updating"
	newPath := path + ".new"

	if fileExists(updatingPath) {
		l.Log.WithFields(logrus.Fields{"job_file": path}).Error("worker crashed mid-checkpoint")
		if fileExists(newPath) {
			if err := os.Remove(newPath); err != nil {
				return nil, fmt.Errorf("scheduler: remove stray %s: %w", newPath, err)
			}
		}
		if err := os.Remove(updatingPath); err != nil {
			return nil, fmt.Errorf("scheduler: remove manifest %s: %w", updatingPath, err)
		}
		if !fileExists(path) {
			return nil, invariantf("original record %s must still exist after aborting its checkpoint", path)
		}
		r, err := jobrecord.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("scheduler: read %s: %w", path, err)
		}
		if len(r.Children) != 0 {
			return nil, invariantf("record %s has unborn children but can't reflect worker end state", path)
		}
		if r.ChildCount != r.BlackChildCount {
			return nil, invariantf("record %s child_count != black_child_count after aborted checkpoint", path)
		}
		r.Colour = jobrecord.Red
		if err := checkpoint.Write([]*jobrecord.Record{r}); err != nil {
			return nil, fmt.Errorf("scheduler: checkpoint reverted %s: %w", path, err)
		}
		l.Log.WithFields(logrus.Fields{"job_file": path}).Error("reverted to original record and marked failed")
		return r, nil
	}

	if fileExists(newPath) {
		l.Log.WithFields(logrus.Fields{"job_file": path}).Error("worker wrote a replacement record then died, committing it")
		if err := os.Rename(newPath, path); err != nil {
			return nil, fmt.Errorf("scheduler: commit %s: %w", path, err)
		}
		r, err := jobrecord.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("scheduler: read %s: %w", path, err)
		}
		if r.Colour != jobrecord.Black && r.Colour != jobrecord.Red {
			return nil, invariantf("committed record %s has colour %s, expected black or red", path, r.Colour)
		}
		return r, nil
	}

	r, err := jobrecord.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scheduler: read %s: %w", path, err)
	}
	if r.Colour == jobrecord.Black {
		l.Log.WithFields(logrus.Fields{"job_file": path}).Info("batch system reported failure but the job completed okay")
		return r, nil
	}
	if r.Colour != jobrecord.Grey && r.Colour != jobrecord.Red {
		return nil, invariantf("record %s has colour %s, expected grey, red or black", path, r.Colour)
	}
	if len(r.Children) != 0 {
		return nil, invariantf("record %s has unborn children while not black", path)
	}
	if r.ChildCount != r.BlackChildCount {
		return nil, invariantf("record %s child_count != black_child_count while not black", path)
	}
	if r.Colour == jobrecord.Grey {
		r.Colour = jobrecord.Red
		if err := checkpoint.Write([]*jobrecord.Record{r}); err != nil {
			return nil, fmt.Errorf("scheduler: checkpoint grey->red %s: %w", path, err)
		}
	}
	l.Log.WithFields(logrus.Fields{"job_file": path}).Error("reverted to original record and marked failed")
	return r, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func truncateFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func touchFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func appendAndTruncate(srcStats, aggregateStats string) error {
	data, err := os.ReadFile(srcStats)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	f, err := os.OpenFile(aggregateStats, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return truncateFile(srcStats)
}
