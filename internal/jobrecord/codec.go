/*
Nombre del archivo: codec.go
Descripcion: Serializacion/deserializacion de Record a disco. Usa
             goccy/go-json como reemplazo directo de encoding/json,
             manteniendo la misma forma de documento indentado que el
             maestro original usaba con encoding/json.
*/

package jobrecord

import (
	"fmt"
	"os"

	gojson "github.com/goccy/go-json"
)

// WriteFile serialises r to path, truncating or creating it. Callers are
// responsible for the temp-name-then-rename dance; this just encodes.
func WriteFile(path string, r *Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("jobrecord: create %s: %w", path, err)
	}
	defer f.Close()

	enc := gojson.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("jobrecord: encode %s: %w", path, err)
	}
	return f.Sync()
}

// ReadFile deserialises the record at path.
func ReadFile(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("jobrecord: open %s: %w", path, err)
	}
	defer f.Close()

	var r Record
	if err := gojson.NewDecoder(f).Decode(&r); err != nil {
		return nil, fmt.Errorf("jobrecord: decode %s: %w", path, err)
	}
	return &r, nil
}
