/*
Nombre del archivo: config.go
Descripcion: Configuracion tipada del sistema. Se carga desde un
             archivo YAML, con overrides por
             variable de entorno para los valores que el proceso puede
             necesitar variar sin tocar el archivo (siguiendo el patron
             utils.GetEnv del maestro original, generalizado a YAML).
*/

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master's full set of tunables. Stats is optional and
// enables stats aggregation; KillAfterNTimesMissing is optional and
// defaults to DefaultKillAfterNTimesMissing. Load rejects only a bad
// wait_duration, job_time, max_jobs or max_job_duration and a missing
// directory root; any other key left out of the file keeps its zero value.
type Config struct {
	RetryCount            int           `yaml:"retry_count"`
	JobTime               float64       `yaml:"job_time"`
	MaxJobDuration        float64       `yaml:"max_job_duration"`
	MaxJobs               int           `yaml:"max_jobs"`
	WaitDuration          time.Duration `yaml:"wait_duration"`
	RescueJobsFrequency   time.Duration `yaml:"rescue_jobs_frequency"`
	DefaultMemory         int64         `yaml:"default_memory"`
	DefaultCPU            int           `yaml:"default_cpu"`
	JobFileDir            string        `yaml:"job_file_dir"`
	LogFileDir            string        `yaml:"log_file_dir"`
	SlaveLogFileDir       string        `yaml:"slave_log_file_dir"`
	TempDirDir            string        `yaml:"temp_dir_dir"`
	EnvironmentFile       string        `yaml:"environment_file"`
	MaxLogFileSize        int64         `yaml:"max_log_file_size"`
	Stats                 string        `yaml:"stats,omitempty"`
	WorkerBinaryPath      string        `yaml:"worker_binary_path"`
	KillAfterNTimesMissing int          `yaml:"kill_after_n_times_missing,omitempty"`
}

// NeverRescueThreshold is the "never" sentinel for MaxJobDuration: at or
// above this, over-long job rescue is disabled entirely.
const NeverRescueThreshold = 1e7

// DefaultKillAfterNTimesMissing is used when the config omits the value.
const DefaultKillAfterNTimesMissing = 3

// HasStats reports whether stats aggregation is enabled.
func (c *Config) HasStats() bool {
	return c.Stats != ""
}

// Load reads and validates a Config from a YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if c.KillAfterNTimesMissing <= 0 {
		c.KillAfterNTimesMissing = DefaultKillAfterNTimesMissing
	}

	if env := os.Getenv("JOBTREE_JOB_FILE_DIR"); env != "" {
		c.JobFileDir = env
	}
	if env := os.Getenv("JOBTREE_WORKER_BINARY_PATH"); env != "" {
		c.WorkerBinaryPath = env
	}

	return &c, c.validate()
}

func (c *Config) validate() error {
	if c.WaitDuration < 0 {
		return fmt.Errorf("config: wait_duration must be >= 0, got %s", c.WaitDuration)
	}
	if c.JobTime <= 0 {
		return fmt.Errorf("config: job_time must be > 0, got %v", c.JobTime)
	}
	if c.MaxJobs < 1 {
		return fmt.Errorf("config: max_jobs must be >= 1, got %d", c.MaxJobs)
	}
	if c.MaxJobDuration < 0 {
		return fmt.Errorf("config: max_job_duration must be >= 0, got %v", c.MaxJobDuration)
	}
	if c.JobFileDir == "" || c.LogFileDir == "" || c.SlaveLogFileDir == "" || c.TempDirDir == "" {
		return fmt.Errorf("config: job_file_dir, log_file_dir, slave_log_file_dir and temp_dir_dir are required")
	}
	return nil
}
