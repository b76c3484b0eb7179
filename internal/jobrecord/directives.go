/*
Nombre del archivo: directives.go
Descripcion: Formato del archivo sidecar "<job file>.directives" que un
             comando de job ejecutado por cmd/worker usa para declarar
             hijos nuevos y follow-ons adicionales, ya que este
             repositorio no incluye un runtime de funciones de job
             embebido (el cuerpo del job queda fuera de alcance).
*/

package jobrecord

import (
	"os"

	gojson "github.com/goccy/go-json"
)

// Directives is what a job body command may request on successful exit:
// new children to be born and further follow-ons to run before the
// job goes dead. The job goes black as soon as the command succeeds.
type Directives struct {
	Children  []ChildDescriptor `json:"children,omitempty"`
	FollowOns []FollowOn        `json:"follow_ons,omitempty"`
}

// DirectivesPath returns the sidecar path for a job record file.
func DirectivesPath(jobFile string) string {
	return jobFile + ".directives"
}

// ReadDirectives loads the sidecar for jobFile, returning a zero value
// (no error) if it does not exist.
func ReadDirectives(jobFile string) (Directives, error) {
	data, err := os.ReadFile(DirectivesPath(jobFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Directives{}, nil
		}
		return Directives{}, err
	}
	var d Directives
	if err := gojson.Unmarshal(data, &d); err != nil {
		return Directives{}, err
	}
	return d, nil
}

// WriteDirectives is a convenience for job body commands written in Go.
func WriteDirectives(jobFile string, d Directives) error {
	data, err := gojson.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(DirectivesPath(jobFile), data, 0o644)
}

// RemoveDirectives deletes the sidecar once consumed, ignoring a
// not-exist error.
func RemoveDirectives(jobFile string) error {
	err := os.Remove(DirectivesPath(jobFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
