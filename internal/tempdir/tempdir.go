/*
Nombre del archivo: tempdir.go
Descripcion: TempDirService (contrato externo para el manejo de
             archivos temporales) y una implementacion local de
             referencia sobre el sistema de archivos, usada por
             JobStore, Recovery, los binarios y las pruebas.
             Generaliza la convencion de directorios raiz
             (job_file_dir, log_file_dir, ...) del maestro original.
*/

package tempdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Service issues and reclaims unique file/directory paths under a root.
// It is an external collaborator in production (a shared path service);
// LocalService below is a filesystem-backed reference implementation
// used by this repository's own binaries and tests.
type Service interface {
	GetTempFile(suffix string) (string, error)
	GetTempDirectory() (string, error)
	DestroyTempFile(path string) error
	DestroyTempDir(path string) error
	ListFiles() ([]string, error)
}

// LocalService roots every allocation under Root, naming each path with a
// fresh UUID so concurrent allocators never collide.
type LocalService struct {
	Root string
}

// NewLocalService creates root if missing and returns a Service over it.
func NewLocalService(root string) (*LocalService, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("tempdir: mkdir %s: %w", root, err)
	}
	return &LocalService{Root: root}, nil
}

func (s *LocalService) GetTempFile(suffix string) (string, error) {
	path := filepath.Join(s.Root, uuid.New().String()+suffix)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("tempdir: create %s: %w", path, err)
	}
	return path, f.Close()
}

func (s *LocalService) GetTempDirectory() (string, error) {
	path := filepath.Join(s.Root, uuid.New().String())
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("tempdir: mkdir %s: %w", path, err)
	}
	return path, nil
}

func (s *LocalService) DestroyTempFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tempdir: remove %s: %w", path, err)
	}
	return nil
}

func (s *LocalService) DestroyTempDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("tempdir: removeAll %s: %w", path, err)
	}
	return nil
}

func (s *LocalService) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("tempdir: readdir %s: %w", s.Root, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, filepath.Join(s.Root, e.Name()))
	}
	return files, nil
}
