/*
Nombre del archivo: local.go
Descripcion: Implementacion local de referencia de batch.System: lanza
             el binario worker como un proceso del sistema operativo por
             cada job emitido y recolecta su codigo de salida. No es
             parte del contrato externo, que deliberadamente deja el
             backend de batch real fuera del repositorio; existe para
             que el repositorio sea ejecutable y probable de punta a
             punta sin un cluster real. Adaptado del patron de
             lanzamiento de tareas del worker del maestro original
             (internal/worker/agent.go), sustituyendo el transporte HTTP
             por exec.Cmd directo.
*/

package batch

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// process tracks one launched worker.
type process struct {
	cmd       *exec.Cmd
	command   string
	startedAt time.Time
	done      chan int // exit status, buffered 1
}

// LocalSystem launches jobs as local OS processes. LaunchRetries bounds
// how many times a single submission is retried (e.g. the worker binary
// being momentarily absent during test setup) before IssueJobs gives up
// on it.
type LocalSystem struct {
	mu        sync.Mutex
	nextID    ID
	processes map[ID]*process

	LaunchRetries int
}

// NewLocalSystem returns an empty LocalSystem.
func NewLocalSystem() *LocalSystem {
	return &LocalSystem{
		processes:     make(map[ID]*process),
		LaunchRetries: 3,
	}
}

// IssueJobs launches every submission in order. Dispatcher.Issue wraps the
// whole call in a retry, so a partial failure here must not leave any
// already-started process behind for the retry to launch a second time:
// on error, every id launched earlier in this call is killed and dropped
// before returning, making the batch all-or-nothing from the caller's
// point of view.
func (s *LocalSystem) IssueJobs(jobs []Submission) (map[ID]string, error) {
	result := make(map[ID]string, len(jobs))
	launched := make([]ID, 0, len(jobs))
	for _, sub := range jobs {
		id, err := s.launch(sub)
		if err != nil {
			s.rollback(launched)
			return nil, fmt.Errorf("batch: launch %q: %w", sub.Command, err)
		}
		launched = append(launched, id)
		result[id] = sub.Command
	}
	return result, nil
}

// rollback kills and forgets every id in ids, undoing a partially
// launched batch.
func (s *LocalSystem) rollback(ids []ID) {
	if len(ids) == 0 {
		return
	}
	_ = s.KillJobs(ids)
	s.mu.Lock()
	for _, id := range ids {
		delete(s.processes, id)
	}
	s.mu.Unlock()
}

func (s *LocalSystem) launch(sub Submission) (ID, error) {
	var cmd *exec.Cmd
	var slaveLog *os.File
	op := func() error {
		fields := strings.Fields(sub.Command)
		if len(fields) == 0 {
			return backoff.Permanent(fmt.Errorf("batch: empty command"))
		}
		cmd = exec.Command(fields[0], fields[1:]...)
		if sub.SlaveLogPath != "" {
			f, err := os.OpenFile(sub.SlaveLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("batch: open slave log %s: %w", sub.SlaveLogPath, err))
			}
			slaveLog = f
			cmd.Stdout = f
			cmd.Stderr = f
		}
		return cmd.Start()
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.LaunchRetries))
	if err := backoff.Retry(op, policy); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	p := &process{cmd: cmd, command: sub.Command, startedAt: time.Now(), done: make(chan int, 1)}
	s.processes[id] = p
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		if slaveLog != nil {
			slaveLog.Close()
		}
		status := 0
		if err != nil {
			status = 1
			if exitErr, ok := err.(*exec.ExitError); ok {
				if exitErr.ExitCode() >= 0 {
					status = exitErr.ExitCode()
					if status == 0 {
						status = 1
					}
				}
			}
		}
		p.done <- status
	}()

	return id, nil
}

func (s *LocalSystem) GetUpdatedJobs() (map[ID]int, error) {
	s.mu.Lock()
	ids := make([]ID, 0, len(s.processes))
	for id := range s.processes {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var mu sync.Mutex
	updates := make(map[ID]int)
	var g errgroup.Group
	g.SetLimit(8)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			s.mu.Lock()
			p, ok := s.processes[id]
			s.mu.Unlock()
			if !ok {
				return nil
			}
			select {
			case status := <-p.done:
				mu.Lock()
				updates[id] = status
				mu.Unlock()
				s.mu.Lock()
				delete(s.processes, id)
				s.mu.Unlock()
			default:
			}
			return nil
		})
	}
	_ = g.Wait()
	return updates, nil
}

func (s *LocalSystem) GetRunningJobIDs() (map[ID]time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	running := make(map[ID]time.Duration, len(s.processes))
	for id, p := range s.processes {
		running[id] = time.Since(p.startedAt)
	}
	return running, nil
}

func (s *LocalSystem) GetIssuedJobIDs() ([]ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]ID, 0, len(s.processes))
	for id := range s.processes {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *LocalSystem) KillJobs(ids []ID) error {
	var g errgroup.Group
	g.SetLimit(8)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			s.mu.Lock()
			p, ok := s.processes[id]
			s.mu.Unlock()
			if !ok {
				return nil
			}
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
			return nil
		})
	}
	return g.Wait()
}
