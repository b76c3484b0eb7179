/*
Nombre del archivo: main.go (client)
Descripcion: CLI para enviar un job raiz al arbol (crea su registro via
             JobStore y lo persiste via CheckpointWriter, quedando
             blanco y listo para que el master lo recoja) y para
             inspeccionar el estado de un registro existente.
*/

package main

import (
	"flag"
	"fmt"
	"os"

	"jobtree/internal/checkpoint"
	"jobtree/internal/config"
	"jobtree/internal/jobrecord"
	"jobtree/internal/jobstore"
	"jobtree/internal/logging"
	"jobtree/internal/tempdir"

	"github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "submit":
		submit(os.Args[2:])
	case "status":
		status(os.Args[2:])
	default:
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("Usage:")
	fmt.Println("  jobtree-client submit --config <file.yaml> --command <shell command> [--memory N] [--cpu N] [--time T]")
	fmt.Println("  jobtree-client status <job record path>")
}

func submit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	configPath := fs.String("config", "jobtree.yaml", "path to the master configuration file")
	command := fs.String("command", "", "shell command the root job runs")
	memory := fs.Int64("memory", 0, "memory requirement in bytes")
	cpu := fs.Int("cpu", 1, "cpu requirement")
	jobTime := fs.Float64("time", 0, "expected run time in seconds")
	logLevel := fs.String("log-level", "info", "log_level attribute stamped on the new record")
	fs.Parse(args)

	if *command == "" {
		fmt.Fprintln(os.Stderr, "client: --command is required")
		os.Exit(2)
	}

	store, err := openStore(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}

	first := jobrecord.FollowOn{Command: *command, Memory: *memory, CPU: *cpu, Time: *jobTime}
	record, err := store.Create("", first, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: create root job: %v\n", err)
		os.Exit(1)
	}
	if err := checkpoint.Write([]*jobrecord.Record{record}); err != nil {
		fmt.Fprintf(os.Stderr, "client: checkpoint root job: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(record.File)
}

func status(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "client: status requires a job record path")
		os.Exit(2)
	}

	record, err := jobrecord.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("file:                  %s\n", record.File)
	fmt.Printf("colour:                %s\n", record.Colour)
	fmt.Printf("parent:                %s\n", record.Parent)
	fmt.Printf("remaining_retry_count: %d\n", record.RemainingRetryCount)
	fmt.Printf("child_count:           %d\n", record.ChildCount)
	fmt.Printf("black_child_count:     %d\n", record.BlackChildCount)
	fmt.Printf("follow_ons:            %d\n", len(record.FollowOns))
	fmt.Printf("unborn children:       %d\n", len(record.Children))
}

func openStore(configPath string) (*jobstore.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	jobFileDir, err := tempdir.NewLocalService(cfg.JobFileDir)
	if err != nil {
		return nil, err
	}
	logFileDir, err := tempdir.NewLocalService(cfg.LogFileDir)
	if err != nil {
		return nil, err
	}
	slaveLogDir, err := tempdir.NewLocalService(cfg.SlaveLogFileDir)
	if err != nil {
		return nil, err
	}
	tempDirDir, err := tempdir.NewLocalService(cfg.TempDirDir)
	if err != nil {
		return nil, err
	}

	log := logging.New(logrus.WarnLevel)
	return &jobstore.Store{
		Config:      cfg,
		JobFileDir:  jobFileDir,
		LogFileDir:  logFileDir,
		SlaveLogDir: slaveLogDir,
		TempDirDir:  tempDirDir,
		Log:         log,
	}, nil
}
