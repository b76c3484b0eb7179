/*
Nombre del archivo: record.go
Descripcion: Definiciones de tipos para el registro de un job del
             arbol de jobs: color de estado, descriptores de hijos y
             follow-ons, y el documento estructurado que se persiste
             en disco por CheckpointWriter.
*/

package jobrecord

// Colour is the state-machine label on a job record.
type Colour string

const (
	White Colour = "white"
	Grey  Colour = "grey"
	Black Colour = "black"
	Blue  Colour = "blue"
	Red   Colour = "red"
	Dead  Colour = "dead"
)

// ChildDescriptor is an attribute bag for a child the worker asked to be
// born, queued in Record.Children until the scheduler gives birth to it.
type ChildDescriptor struct {
	Command string            `json:"command"`
	Memory  int64             `json:"memory"`
	CPU     int               `json:"cpu"`
	Time    float64           `json:"time"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// FollowOn is a successor command in the same logical job chain. The last
// element of Record.FollowOns is always the next command to run.
type FollowOn struct {
	Command string  `json:"command"`
	Memory  int64   `json:"memory"`
	CPU     int     `json:"cpu"`
	Time    float64 `json:"time"`
}

// Record is the structured document persisted for one job. File is its
// own absolute path and the stable identity of the job.
type Record struct {
	File                string            `json:"file"`
	Parent              string            `json:"parent,omitempty"`
	Colour              Colour            `json:"colour"`
	RemainingRetryCount int               `json:"remaining_retry_count"`
	ChildCount          int               `json:"child_count"`
	BlackChildCount     int               `json:"black_child_count"`
	Children            []ChildDescriptor `json:"children"`
	FollowOns           []FollowOn        `json:"follow_ons"`
	LogFile             string            `json:"log_file"`
	SlaveLogFile        string            `json:"slave_log_file"`
	GlobalTempDir       string            `json:"global_temp_dir"`
	Stats               string            `json:"stats,omitempty"`
	JobCreationTime     float64           `json:"job_creation_time"`
	TotalTime           float64           `json:"total_time"`
	JobTime             float64           `json:"job_time"`
	MaxLogFileSize      int64             `json:"max_log_file_size"`
	DefaultMemory       int64             `json:"default_memory"`
	DefaultCPU          int               `json:"default_cpu"`
	EnvironmentFile     string            `json:"environment_file"`
	LogLevel            string            `json:"log_level,omitempty"`
}

// LastFollowOn returns the follow-on the worker is (or will be) executing,
// the last element of FollowOns. Callers must not invoke this on a record
// whose FollowOns is empty, as a black record is once its worker has
// popped the last follow-on.
func (r *Record) LastFollowOn() FollowOn {
	return r.FollowOns[len(r.FollowOns)-1]
}

// Clone returns a deep copy so callers may mutate without aliasing the
// original in maps shared across goroutine-free but reentrant call paths.
func (r *Record) Clone() *Record {
	c := *r
	c.Children = append([]ChildDescriptor(nil), r.Children...)
	c.FollowOns = append([]FollowOn(nil), r.FollowOns...)
	return &c
}
