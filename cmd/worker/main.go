/*
Nombre del archivo: main.go (worker)
Descripcion: Implementacion de referencia del Worker Contract: ejecuta
             el ultimo follow-on de un registro de job como un comando
             de shell, recoge hijos y follow-ons adicionales que el
             comando haya declarado, y aplica el checkpoint de exito
             (colour=black) exactamente como exige el contrato. Si el
             comando falla, termina sin escribir nada: la recuperacion
             del registro es responsabilidad del master.
*/

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"

	"jobtree/internal/checkpoint"
	"jobtree/internal/jobrecord"
)

func main() {
	jobFile := flag.String("job", "", "path to the job record file")
	flag.Parse()

	if *jobFile == "" {
		fmt.Fprintln(os.Stderr, "worker: -job is required")
		os.Exit(2)
	}

	if err := run(*jobFile); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(jobFile string) error {
	record, err := jobrecord.ReadFile(jobFile)
	if err != nil {
		return fmt.Errorf("read job record: %w", err)
	}
	if record.Colour != jobrecord.Grey {
		return fmt.Errorf("precondition violated: colour is %q, expected grey", record.Colour)
	}
	if len(record.FollowOns) == 0 {
		return fmt.Errorf("precondition violated: follow_ons is empty")
	}

	current := record.LastFollowOn()

	logFile, err := os.OpenFile(record.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command("sh", "-c", current.Command)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(),
		"JOBTREE_JOB_FILE="+record.File,
		"JOBTREE_TEMP_DIR="+record.GlobalTempDir,
		"JOBTREE_ENV_FILE="+record.EnvironmentFile,
	)

	if err := cmd.Run(); err != nil {
		// The contract permits the record to be left in any
		// mid-checkpoint state on failure; recovery belongs to the
		// master, not to us.
		return fmt.Errorf("job command failed: %w", err)
	}

	directives, err := jobrecord.ReadDirectives(jobFile)
	if err != nil {
		return fmt.Errorf("read directives: %w", err)
	}
	if err := jobrecord.RemoveDirectives(jobFile); err != nil {
		return fmt.Errorf("remove directives: %w", err)
	}

	record.FollowOns = record.FollowOns[:len(record.FollowOns)-1]
	record.FollowOns = append(record.FollowOns, directives.FollowOns...)
	record.Children = append(record.Children, directives.Children...)
	record.Colour = jobrecord.Black

	if err := checkpoint.Write([]*jobrecord.Record{record}); err != nil {
		return fmt.Errorf("checkpoint success: %w", err)
	}
	return nil
}
