/*
Nombre del archivo: recovery.go
Descripcion: Recovery: repara checkpoints parcialmente escritos y
             reinicia jobs en vuelo a un estado re-ejecutable.
             Adaptado de fixJobsList/restartFailedJobs en
             original_source/workflow/jobTree/lib/master.py.
*/

package recovery

import (
	"fmt"
	"os"
	"strings"

	"jobtree/internal/checkpoint"
	"jobtree/internal/config"
	"jobtree/internal/jobrecord"
	"jobtree/internal/logging"
	"jobtree/internal/tempdir"

	"github.com/sirupsen/logrus"
)

// logCritical writes the critical-log entry for a job record recovery is
// about to mutate, attaching the job's own log contents where the record
// can still be read (the point of calling this is that the master just
// crashed, so reads are best-effort).
func logCritical(log *logrus.Logger, msg, jobFile string) {
	var logContents, slaveLogContents []byte
	if r, err := jobrecord.ReadFile(jobFile); err == nil {
		logContents, _ = os.ReadFile(r.LogFile)
		slaveLogContents, _ = os.ReadFile(r.SlaveLogFile)
	}
	logging.Critical(log, msg, jobFile, string(logContents), string(slaveLogContents))
}

// Run executes the three recovery phases over the directory of job record
// files named by jobFileDir.ListFiles, returning the resulting set of
// live record paths. After Run, invariants I1-I7 hold.
func Run(jobFileDir tempdir.Service, cfg *config.Config, log *logrus.Logger) ([]string, error) {
	files, err := jobFileDir.ListFiles()
	if err != nil {
		return nil, fmt.Errorf("recovery: list job files: %w", err)
	}

	files, err = abortInProgressCheckpoints(files, jobFileDir, log)
	if err != nil {
		return nil, err
	}

	files, err = commitCompletedCheckpoints(files, log)
	if err != nil {
		return nil, err
	}

	if err := resetInFlightJobs(files, cfg, log); err != nil {
		return nil, err
	}

	return files, nil
}

// Phase 1 — abort in-progress checkpoints. For each *.updating file, read
// the manifest and delete every listed .new file that exists, then
// delete the .updating file itself. The base records are unchanged and
// therefore valid.
func abortInProgressCheckpoints(files []string, jobFileDir tempdir.Service, log *logrus.Logger) ([]string, error) {
	var updating []string
	for _, f := range files {
		if strings.HasSuffix(f, ".updating") {
			updating = append(updating, f)
		}
	}

	remaining := make([]string, 0, len(files))
	toDrop := make(map[string]bool, len(updating)*2)
	for _, u := range updating {
		toDrop[u] = true
		data, err := os.ReadFile(u)
		if err != nil {
			return nil, fmt.Errorf("recovery: read manifest %s: %w", u, err)
		}
		for _, newName := range strings.Fields(string(data)) {
			if _, err := os.Stat(newName); err == nil {
				if err := jobFileDir.DestroyTempFile(newName); err != nil {
					return nil, fmt.Errorf("recovery: discard %s: %w", newName, err)
				}
			}
			toDrop[newName] = true
		}
		if err := jobFileDir.DestroyTempFile(u); err != nil {
			return nil, fmt.Errorf("recovery: remove manifest %s: %w", u, err)
		}
		base := strings.TrimSuffix(u, ".updating")
		logCritical(log, "aborted in-progress checkpoint, worker crashed mid-write", base)
	}

	for _, f := range files {
		if !toDrop[f] {
			remaining = append(remaining, f)
		}
	}
	return remaining, nil
}

// Phase 2 — commit completed checkpoints. Any surviving *.new file is
// renamed over its base path; the base path is added to the job set if
// missing. A failed rename leaves the directory in a state none of the
// later phases can reason about, so it aborts recovery rather than
// continuing past a job record of unknown colour.
func commitCompletedCheckpoints(files []string, log *logrus.Logger) ([]string, error) {
	seen := make(map[string]bool, len(files))
	result := make([]string, 0, len(files))
	for _, f := range files {
		if !strings.HasSuffix(f, ".new") {
			result = append(result, f)
			seen[f] = true
		}
	}
	for _, f := range files {
		if !strings.HasSuffix(f, ".new") {
			continue
		}
		base := strings.TrimSuffix(f, ".new")
		if err := os.Rename(f, base); err != nil {
			return nil, fmt.Errorf("recovery: commit checkpoint %s: %w", f, err)
		}
		logCritical(log, "committed completed checkpoint left by a crashed master", base)
		if !seen[base] {
			result = append(result, base)
			seen[base] = true
		}
	}
	return result, nil
}

// Phase 3 — reset in-flight jobs. Every surviving record has its retry
// budget restored; grey (believed running, untrue after a restart) and
// red (retried from scratch) jobs go back to white.
func resetInFlightJobs(files []string, cfg *config.Config, log *logrus.Logger) error {
	for _, f := range files {
		r, err := jobrecord.ReadFile(f)
		if err != nil {
			return fmt.Errorf("recovery: read %s: %w", f, err)
		}
		r.RemainingRetryCount = cfg.RetryCount
		if r.Colour == jobrecord.Red || r.Colour == jobrecord.Grey {
			log.WithFields(logrus.Fields{"job_file": f, "from_colour": r.Colour}).Info("resetting in-flight job to white")
			r.Colour = jobrecord.White
		}
		if err := checkpoint.Write([]*jobrecord.Record{r}); err != nil {
			return fmt.Errorf("recovery: checkpoint %s: %w", f, err)
		}
	}
	return nil
}
