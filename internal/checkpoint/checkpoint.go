/*
Nombre del archivo: checkpoint.go
Descripcion: CheckpointWriter: reemplaza atomicamente el contenido en
             disco de un conjunto de registros de job como grupo.
             Adaptado linea por linea de writeJobs en
             original_source/workflow/jobTree/lib/master.py, generalizado
             de ElementTree a jobrecord.Record via goccy/go-json.
*/

package checkpoint

import (
	"fmt"
	"os"
	"strings"

	"jobtree/internal/jobrecord"
)

// Write replaces the on-disk contents of every jobs[i].File atomically as
// a group: after it returns nil, either all records reflect the new
// contents, or a subsequent recovery.Run will make them so. jobs must be
// non-empty.
//
// Protocol:
//  1. Precondition: <jobs[0].File>.updating does not exist, nor does any
//     <jobs[i].File>.new.
//  2. Write the manifest at <jobs[0].File>.updating: the space-separated
//     list of <jobs[i].File>.new paths.
//  3. Serialise each record to <jobs[i].File>.new.
//  4. Remove <jobs[0].File>.updating — the linearisation point.
//  5. Rename each <jobs[i].File>.new over jobs[i].File.
func Write(jobs []*jobrecord.Record) error {
	if len(jobs) == 0 {
		return fmt.Errorf("checkpoint: Write called with no jobs")
	}

	updatingFile := jobs[0].File + ".updating"
	if _, err := os.Stat(updatingFile); err == nil {
		return fmt.Errorf("checkpoint: %s already exists; a checkpoint is already in progress", updatingFile)
	}

	newNames := make([]string, len(jobs))
	for i, j := range jobs {
		newName := j.File + ".new"
		if _, err := os.Stat(newName); err == nil {
			return fmt.Errorf("checkpoint: %s already exists", newName)
		}
		newNames[i] = newName
	}

	manifest, err := os.Create(updatingFile)
	if err != nil {
		return fmt.Errorf("checkpoint: write manifest %s: %w", updatingFile, err)
	}
	if _, err := manifest.WriteString(strings.Join(newNames, " ")); err != nil {
		manifest.Close()
		return fmt.Errorf("checkpoint: write manifest contents: %w", err)
	}
	if err := manifest.Sync(); err != nil {
		manifest.Close()
		return fmt.Errorf("checkpoint: fsync manifest: %w", err)
	}
	if err := manifest.Close(); err != nil {
		return fmt.Errorf("checkpoint: close manifest: %w", err)
	}

	for i, j := range jobs {
		if err := jobrecord.WriteFile(newNames[i], j); err != nil {
			return fmt.Errorf("checkpoint: serialise %s: %w", newNames[i], err)
		}
	}

	// Linearisation point: once this succeeds, recovery.Run commits
	// forward (renames every .new over its base) rather than aborting.
	if err := os.Remove(updatingFile); err != nil {
		return fmt.Errorf("checkpoint: remove manifest %s: %w", updatingFile, err)
	}

	for i, j := range jobs {
		if err := os.Rename(newNames[i], j.File); err != nil {
			return fmt.Errorf("checkpoint: commit %s: %w", j.File, err)
		}
	}
	return nil
}
