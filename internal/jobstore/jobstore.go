/*
Nombre del archivo: jobstore.go
Descripcion: Creacion y eliminacion de registros de job. Asigna rutas
             frescas para el registro, los logs y el
             directorio de scratch, puebla atributos desde la
             configuracion global, y deja la durabilidad a cargo de
             CheckpointWriter. Adaptado de createJob/deleteJob en
             original_source/workflow/jobTree/lib/master.py.
*/

package jobstore

import (
	"fmt"
	"time"

	"jobtree/internal/config"
	"jobtree/internal/jobrecord"
	"jobtree/internal/tempdir"

	"github.com/sirupsen/logrus"
)

// Store creates and deletes job records against a Config and a set of
// TempDirService roots (one per kind of side file: job records, logs,
// slave logs, and scratch directories each get their own configured
// root).
type Store struct {
	Config      *config.Config
	JobFileDir  tempdir.Service
	LogFileDir  tempdir.Service
	SlaveLogDir tempdir.Service
	TempDirDir  tempdir.Service
	Log         *logrus.Logger
}

// Create allocates fresh paths for a new job record, seeds it from cfg,
// and seeds FollowOns with the supplied first command. parent is empty
// for a root job. The record is returned in-memory only: durability is
// the caller's responsibility via checkpoint.Write.
func (s *Store) Create(parent string, first jobrecord.FollowOn, logLevel string) (*jobrecord.Record, error) {
	file, err := s.JobFileDir.GetTempFile(".job")
	if err != nil {
		return nil, fmt.Errorf("jobstore: allocate record file: %w", err)
	}
	logFile, err := s.LogFileDir.GetTempFile(".log")
	if err != nil {
		return nil, fmt.Errorf("jobstore: allocate log file: %w", err)
	}
	slaveLogFile, err := s.SlaveLogDir.GetTempFile(".log")
	if err != nil {
		return nil, fmt.Errorf("jobstore: allocate slave log file: %w", err)
	}
	tempDir, err := s.TempDirDir.GetTempDirectory()
	if err != nil {
		return nil, fmt.Errorf("jobstore: allocate scratch dir: %w", err)
	}

	r := &jobrecord.Record{
		File:                file,
		Parent:              parent,
		Colour:              jobrecord.White,
		RemainingRetryCount: s.Config.RetryCount,
		ChildCount:          0,
		BlackChildCount:     0,
		Children:            []jobrecord.ChildDescriptor{},
		FollowOns:           []jobrecord.FollowOn{first},
		LogFile:             logFile,
		SlaveLogFile:        slaveLogFile,
		GlobalTempDir:       tempDir,
		JobCreationTime:     float64(time.Now().UnixNano()) / 1e9,
		TotalTime:           first.Time,
		JobTime:             s.Config.JobTime,
		MaxLogFileSize:      s.Config.MaxLogFileSize,
		DefaultMemory:       s.Config.DefaultMemory,
		DefaultCPU:          s.Config.DefaultCPU,
		EnvironmentFile:     s.Config.EnvironmentFile,
		LogLevel:            logLevel,
	}
	if s.Config.HasStats() {
		statsFile, err := s.LogFileDir.GetTempFile(".stats")
		if err != nil {
			return nil, fmt.Errorf("jobstore: allocate stats file: %w", err)
		}
		r.Stats = statsFile
	}

	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{"job_file": file, "parent": parent}).Debug("created job record")
	}
	return r, nil
}

// Delete reclaims every side path of r through the configured
// TempDirServices. Called exactly once per job, at the dead transition.
func (s *Store) Delete(r *jobrecord.Record) error {
	if err := s.LogFileDir.DestroyTempFile(r.LogFile); err != nil {
		return err
	}
	if err := s.SlaveLogDir.DestroyTempFile(r.SlaveLogFile); err != nil {
		return err
	}
	if err := s.TempDirDir.DestroyTempDir(r.GlobalTempDir); err != nil {
		return err
	}
	if r.Stats != "" {
		if err := s.LogFileDir.DestroyTempFile(r.Stats); err != nil {
			return err
		}
	}
	if err := s.JobFileDir.DestroyTempFile(r.File); err != nil {
		return err
	}
	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{"job_file": r.File}).Debug("deleted job record")
	}
	return nil
}
