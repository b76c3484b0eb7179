/*
Nombre del archivo: batch.go
Descripcion: Contrato del backend de ejecucion por lotes, consumido por
             Dispatcher y RescueLoop. Es un colaborador
             externo: el cluster real (Slurm, un backend de Jobs de
             Kubernetes, una cola gRPC, ...) provee su propia
             implementacion. batch.go solo define la interfaz.
*/

package batch

import "time"

// ID identifies a submitted job within the batch backend's own id space.
type ID int64

// Submission is the (command, resources, slave log path) tuple Dispatcher
// forms from the last FollowOn of a job record.
type Submission struct {
	Command      string
	Memory       int64
	CPU          int
	SlaveLogPath string
}

// System is the external batch backend contract. Every method must be
// safe to call from the single-threaded main loop; no method may block
// indefinitely except where documented.
type System interface {
	// IssueJobs submits a batch of commands in one call, returning the
	// id the backend assigned to each submitted command.
	IssueJobs(jobs []Submission) (map[ID]string, error)

	// GetUpdatedJobs drains and returns every completion observed since
	// the last call: id -> process exit status (0 == success).
	GetUpdatedJobs() (map[ID]int, error)

	// GetRunningJobIDs returns currently running ids with their wall
	// clock running time.
	GetRunningJobIDs() (map[ID]time.Duration, error)

	// GetIssuedJobIDs returns every id the backend currently knows
	// about, a superset of GetRunningJobIDs' keys.
	GetIssuedJobIDs() ([]ID, error)

	// KillJobs best-effort kills the given ids synchronously.
	KillJobs(ids []ID) error
}
