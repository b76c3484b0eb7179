/*
Nombre del archivo: dispatcher.go
Descripcion: Dispatcher: convierte jobs blancos ya marcados "grey" en
             envios al backend de batch y mantiene el
             mapa id->job. Adaptado de issueJobs en
             original_source/workflow/jobTree/lib/master.py. El envio en
             bloque se reintenta con backoff ante fallos transitorios del
             backend, algo que el original asumia siempre disponible.
*/

package dispatcher

import (
	"fmt"
	"sync"

	"jobtree/internal/batch"
	"jobtree/internal/jobrecord"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Dispatcher owns the live id->job-file map (the in-flight set of batch
// ids the master believes it has submitted) and issues grey jobs to a
// batch.System.
type Dispatcher struct {
	System batch.System
	Log    *logrus.Logger

	mu      sync.Mutex
	liveMap map[batch.ID]string // batch id -> job record file
}

// New returns a Dispatcher with an empty live map.
func New(system batch.System, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{System: system, Log: log, liveMap: make(map[batch.ID]string)}
}

// LiveCount returns the number of jobs currently believed in-flight.
func (d *Dispatcher) LiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.liveMap)
}

// LookupJobFile returns the job record file for a live batch id.
func (d *Dispatcher) LookupJobFile(id batch.ID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.liveMap[id]
	return f, ok
}

// Forget removes id from the live map, e.g. once its completion has been
// processed.
func (d *Dispatcher) Forget(id batch.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.liveMap, id)
}

// LiveIDs returns a snapshot of every id currently tracked.
func (d *Dispatcher) LiveIDs() []batch.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]batch.ID, 0, len(d.liveMap))
	for id := range d.liveMap {
		ids = append(ids, id)
	}
	return ids
}

// Issue forms one batch.Submission per job, using the last FollowOn for
// resource requirements, submits them as a single bulk call, and records
// the returned ids in the live map. Commands within a
// batch must be distinct; distinct job record paths embedded in each
// command guarantee this.
func (d *Dispatcher) Issue(workerBinaryPath string, jobs []*jobrecord.Record) error {
	if len(jobs) == 0 {
		return nil
	}

	byCommand := make(map[string]*jobrecord.Record, len(jobs))
	submissions := make([]batch.Submission, 0, len(jobs))
	for _, j := range jobs {
		followOn := j.LastFollowOn()
		command := fmt.Sprintf("%s --job %s", workerBinaryPath, j.File)
		if _, dup := byCommand[command]; dup {
			return fmt.Errorf("dispatcher: duplicate command for job %s", j.File)
		}
		byCommand[command] = j
		submissions = append(submissions, batch.Submission{
			Command:      command,
			Memory:       followOn.Memory,
			CPU:          followOn.CPU,
			SlaveLogPath: j.SlaveLogFile,
		})
	}

	var issued map[batch.ID]string
	op := func() error {
		var err error
		issued, err = d.System.IssueJobs(submissions)
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("dispatcher: bulk submit: %w", err)
	}

	if len(issued) != len(submissions) {
		return fmt.Errorf("dispatcher: invariant violation: issued %d jobs, backend acknowledged %d", len(submissions), len(issued))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, command := range issued {
		job, ok := byCommand[command]
		if !ok {
			return fmt.Errorf("dispatcher: invariant violation: backend returned unknown command %q", command)
		}
		if _, exists := d.liveMap[id]; exists {
			return fmt.Errorf("dispatcher: invariant violation: batch id %v already live", id)
		}
		d.liveMap[id] = job.File
		d.Log.WithFields(logrus.Fields{"job_file": job.File, "batch_id": id}).Debug("issued job")
	}
	return nil
}
