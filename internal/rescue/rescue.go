/*
Nombre del archivo: rescue.go
Descripcion: RescueLoop: deteccion periodica de jobs que llevan
             demasiado tiempo corriendo o que desaparecieron del
             backend de batch, forzando su finalizacion como fallo.
             Adaptado de reissueOverLongJobs/reissueMissingJobs en
             original_source/workflow/jobTree/lib/master.py. El contador
             de jobs perdidos vive en el struct, no en una variable de
             modulo global como en el original.
*/

package rescue

import (
	"fmt"
	"os"
	"time"

	"jobtree/internal/batch"
	"jobtree/internal/config"
	"jobtree/internal/jobrecord"
	"jobtree/internal/logging"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FinishFunc reports a batch completion to the main loop's processFinished
// logic, exactly as if the batch system itself had reported it.
type FinishFunc func(id batch.ID, exitStatus int)

// JobFileFunc looks up the job record file backing a live batch id, the
// same live map Dispatcher owns.
type JobFileFunc func(id batch.ID) (string, bool)

// Loop holds the per-master missing-job hysteresis state.
type Loop struct {
	System  batch.System
	Config  *config.Config
	Log     *logrus.Logger
	Finish  FinishFunc
	JobFile JobFileFunc

	// MissingPollInterval is the sleep between hysteresis passes in
	// Missing, 60s in production. Tests shrink it to converge quickly.
	MissingPollInterval time.Duration

	missCounts map[batch.ID]int
}

// New returns a Loop with empty hysteresis state and the production
// 60-second poll interval.
func New(system batch.System, cfg *config.Config, log *logrus.Logger, finish FinishFunc, jobFile JobFileFunc) *Loop {
	return &Loop{
		System:              system,
		Config:              cfg,
		Log:                 log,
		Finish:              finish,
		JobFile:             jobFile,
		MissingPollInterval: 60 * time.Second,
		missCounts:          make(map[batch.ID]int),
	}
}

// logKill writes the critical-log entry for a job the rescue loop is
// about to force-fail: the job record path (if still known) and the
// contents of both its log files, matching the critical log handleRed
// writes for an ordinary failure.
func (l *Loop) logKill(id batch.ID, reason string) {
	jobFile, ok := l.JobFile(id)
	if !ok {
		logging.Critical(l.Log, reason, fmt.Sprintf("batch id %v", id), "", "")
		return
	}
	var logContents, slaveLogContents []byte
	if r, err := jobrecord.ReadFile(jobFile); err == nil {
		logContents, _ = os.ReadFile(r.LogFile)
		slaveLogContents, _ = os.ReadFile(r.SlaveLogFile)
	}
	logging.Critical(l.Log, reason, jobFile, string(logContents), string(slaveLogContents))
}

// OverLong kills and fails any job whose wall time exceeds
// Config.MaxJobDuration, unless that duration is at or above the "never"
// sentinel.
func (l *Loop) OverLong() error {
	if l.Config.MaxJobDuration >= config.NeverRescueThreshold {
		return nil
	}
	running, err := l.System.GetRunningJobIDs()
	if err != nil {
		return fmt.Errorf("rescue: get running job ids: %w", err)
	}

	var toKill []batch.ID
	for id, wall := range running {
		if wall.Seconds() > l.Config.MaxJobDuration {
			l.logKill(id, fmt.Sprintf("job exceeded max duration (%.0fs > %.0fs), killing", wall.Seconds(), l.Config.MaxJobDuration))
			toKill = append(toKill, id)
		}
	}
	if len(toKill) == 0 {
		return nil
	}
	if err := l.System.KillJobs(toKill); err != nil {
		return fmt.Errorf("rescue: kill over-long jobs: %w", err)
	}
	for _, id := range toKill {
		l.Finish(id, 1)
	}
	return nil
}

// Missing detects ids the live map believes are in flight but that the
// backend no longer reports, applying hysteresis
// (Config.KillAfterNTimesMissing consecutive observations) before
// treating a loss as final. It repeats, sleeping MissingPollInterval
// (60s as set by New) between passes,
// until no misses remain. liveIDsFunc is re-invoked on every pass since
// Finish (called for ids killed on an earlier pass) shrinks the live set.
func (l *Loop) Missing(liveIDsFunc func() []batch.ID) error {
	for {
		issued, err := l.System.GetIssuedJobIDs()
		if err != nil {
			return fmt.Errorf("rescue: get issued job ids: %w", err)
		}
		issuedSet := make(map[batch.ID]bool, len(issued))
		for _, id := range issued {
			issuedSet[id] = true
		}

		liveIDs := liveIDsFunc()
		liveSet := make(map[batch.ID]bool, len(liveIDs))
		for _, id := range liveIDs {
			liveSet[id] = true
		}
		for id := range issuedSet {
			if !liveSet[id] {
				return fmt.Errorf("rescue: invariant violation: backend reports unknown issued id %v", id)
			}
		}

		var missing []batch.ID
		for _, id := range liveIDs {
			if !issuedSet[id] {
				missing = append(missing, id)
				continue
			}
			// id is present again: clear any hysteresis it had
			// accumulated from an earlier, non-consecutive miss.
			delete(l.missCounts, id)
		}

		var toKill []batch.ID
		for _, id := range missing {
			l.missCounts[id]++
			times := l.missCounts[id]
			l.Log.WithFields(logrus.Fields{"batch_id": id, "times_missing": times}).Warn("job missing from batch backend")
			if times >= l.Config.KillAfterNTimesMissing {
				delete(l.missCounts, id)
				l.logKill(id, fmt.Sprintf("job missing from batch backend %d consecutive times, killing", times))
				toKill = append(toKill, id)
			}
		}

		if len(toKill) > 0 {
			var g errgroup.Group
			g.SetLimit(8)
			for _, id := range toKill {
				id := id
				g.Go(func() error {
					return backoff.Retry(func() error {
						return l.System.KillJobs([]batch.ID{id})
					}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2))
				})
			}
			if err := g.Wait(); err != nil {
				return fmt.Errorf("rescue: kill missing jobs: %w", err)
			}
			for _, id := range toKill {
				l.Finish(id, 1)
			}
		}

		if len(l.missCounts) == 0 {
			return nil
		}
		time.Sleep(l.MissingPollInterval)
	}
}
