package jobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store persists job records and artifacts under <data_dir>/jobs/<job_id>/.
// Every job directory is guarded by its own mutex rather than one
// process-wide lock, matching the no-cross-job-contention concurrency
// model: independent jobs never wait on each other.
type Store struct {
	dataDir string

	mu    sync.Mutex // guards the locks map itself, not job content
	locks map[string]*sync.Mutex
}

// NewStore opens a store rooted at dataDir, creating the jobs directory if needed.
func NewStore(dataDir string) (*Store, error) {
	jobsDir := filepath.Join(dataDir, "jobs")
	if err := os.MkdirAll(jobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("jobstore: create jobs dir: %w", err)
	}
	return &Store{dataDir: dataDir, locks: map[string]*sync.Mutex{}}, nil
}

// Dir returns the on-disk directory path for a job id; it does not create
// the directory.
func (s *Store) Dir(jobID string) string {
	return filepath.Join(s.dataDir, "jobs", jobID)
}

func (s *Store) lockFor(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[jobID] = l
	}
	return l
}

// Create makes the job directory and writes the initial state.
func (s *Store) Create(job *Job) error {
	dir := s.Dir(job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("jobstore: create job dir: %w", err)
	}
	lock := s.lockFor(job.ID)
	lock.Lock()
	defer lock.Unlock()
	return s.writeState(dir, job)
}

// Load reads the current state record for a job id.
func (s *Store) Load(jobID string) (*Job, error) {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()
	return s.readState(s.Dir(jobID))
}

// Mutate loads the job, applies fn, and atomically persists the result.
// fn may mutate job in place; a returned error aborts the mutation without
// writing, leaving the on-disk record untouched.
func (s *Store) Mutate(jobID string, fn func(job *Job) error) (*Job, error) {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.Dir(jobID)
	job, err := s.readState(dir)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.writeState(dir, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) statePath(dir string) string { return filepath.Join(dir, "job.json") }

func (s *Store) readState(dir string) (*Job, error) {
	b, err := os.ReadFile(s.statePath(dir))
	if err != nil {
		return nil, fmt.Errorf("jobstore: read state: %w", err)
	}
	var job Job
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, fmt.Errorf("jobstore: decode state: %w", err)
	}
	if job.Usage.Tool.PerTool == nil {
		job.Usage.Tool.PerTool = map[string]int{}
	}
	if job.Metadata == nil {
		job.Metadata = map[string]any{}
	}
	return &job, nil
}

func (s *Store) writeState(dir string, job *Job) error {
	b, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("jobstore: encode state: %w", err)
	}
	return AtomicWriteFile(s.statePath(dir), b)
}

// AtomicWriteFile writes data to a sibling temp file, fsyncs it, then
// renames it over path. The temp file is removed on every exit path that
// does not complete the rename.
func AtomicWriteFile(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("atomic write: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("atomic write: write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("atomic write: fsync temp: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("atomic write: close temp: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic write: rename: %w", err)
	}
	return nil
}

// ArtifactPath returns the absolute path for a named artifact file within a job directory.
func (s *Store) ArtifactPath(jobID, name string) string {
	return filepath.Join(s.Dir(jobID), name)
}
