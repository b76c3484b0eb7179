/*
Nombre del archivo: main.go (master)
Descripcion: Punto de entrada del proceso master. Carga la
             configuracion, corre Recovery, y ejecuta el MainLoop hasta
             que el conjunto activo quede vacio, reportando el conteo
             residual de registros de job.
*/

package main

import (
	"flag"
	"fmt"
	"os"

	"jobtree/internal/batch"
	"jobtree/internal/config"
	"jobtree/internal/jobstore"
	"jobtree/internal/logging"
	"jobtree/internal/scheduler"
	"jobtree/internal/tempdir"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "jobtree.yaml", "path to the master configuration file")
	logLevel := flag.String("log-level", "info", "logrus level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "master: %v\n", err)
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "master: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(level)

	jobFileDir, err := tempdir.NewLocalService(cfg.JobFileDir)
	if err != nil {
		log.WithError(err).Fatal("master: job_file_dir")
	}
	logFileDir, err := tempdir.NewLocalService(cfg.LogFileDir)
	if err != nil {
		log.WithError(err).Fatal("master: log_file_dir")
	}
	slaveLogDir, err := tempdir.NewLocalService(cfg.SlaveLogFileDir)
	if err != nil {
		log.WithError(err).Fatal("master: slave_log_file_dir")
	}
	tempDirDir, err := tempdir.NewLocalService(cfg.TempDirDir)
	if err != nil {
		log.WithError(err).Fatal("master: temp_dir_dir")
	}

	store := &jobstore.Store{
		Config:      cfg,
		JobFileDir:  jobFileDir,
		LogFileDir:  logFileDir,
		SlaveLogDir: slaveLogDir,
		TempDirDir:  tempDirDir,
		Log:         log,
	}

	system := batch.NewLocalSystem()

	loop, err := scheduler.New(cfg, store, system, jobFileDir, log)
	if err != nil {
		log.WithError(err).Fatal("master: startup failed")
	}

	residual, err := loop.Run()
	if err != nil {
		log.WithFields(logrus.Fields{"residual": residual, "error": err}).Fatal("master: main loop aborted")
	}

	log.WithFields(logrus.Fields{"residual": residual}).Info("master: finished")
	if residual != 0 {
		os.Exit(1)
	}
}
